package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeshift-radio/models"
	"timeshift-radio/playlistclient"
)

func playlistHandler(sequence *int64, mu *sync.Mutex) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seq := *sequence
		mu.Unlock()
		w.Write([]byte(
			"#EXTM3U\n#EXT-X-TARGETDURATION:6\n#EXT-X-MEDIA-SEQUENCE:" +
				itoa(seq) + "\n#EXTINF:6.0,\nsegA.ts\n#EXTINF:6.0,\nsegB.ts\n",
		))
	}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestPollPublishesDiscoveriesInOrder(t *testing.T) {
	var seq int64 = 10
	var mu sync.Mutex
	srv := httptest.NewServer(playlistHandler(&seq, &mu))
	defer srv.Close()

	var mu2 sync.Mutex
	var discovered []models.DiscoveryRecord

	m := New(srv.URL, time.Hour, 5, time.Second,
		WithOnDiscovery(func(r models.DiscoveryRecord) {
			mu2.Lock()
			discovered = append(discovered, r)
			mu2.Unlock()
		}),
	)

	m.poll(context.Background())

	require.Len(t, discovered, 2)
	assert.Equal(t, int64(10), discovered[0].SequenceNumber)
	assert.Equal(t, int64(11), discovered[1].SequenceNumber)
}

func TestPollSkipsAlreadyKnownURLs(t *testing.T) {
	var seq int64 = 10
	var mu sync.Mutex
	srv := httptest.NewServer(playlistHandler(&seq, &mu))
	defer srv.Close()

	count := 0
	m := New(srv.URL, time.Hour, 5, time.Second,
		WithOnDiscovery(func(r models.DiscoveryRecord) { count++ }),
	)

	m.poll(context.Background())
	m.poll(context.Background())

	assert.Equal(t, 2, count)
}

func TestDiscontinuityDetected(t *testing.T) {
	var seq int64 = 10
	var mu sync.Mutex
	srv := httptest.NewServer(playlistHandler(&seq, &mu))
	defer srv.Close()

	var got []Discontinuity
	m := New(srv.URL, time.Hour, 5, time.Second,
		WithOnDiscontinuity(func(d Discontinuity) { got = append(got, d) }),
	)

	m.poll(context.Background())

	mu.Lock()
	seq = 50
	mu.Unlock()
	m.poll(context.Background())

	require.Len(t, got, 1)
	assert.Equal(t, int64(12), got[0].Expected)
	assert.Equal(t, int64(50), got[0].Actual)
	assert.Equal(t, int64(38), got[0].Skipped)
}

func TestMaxConsecutiveErrorsTriggersCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var triggered bool
	m := New(srv.URL, time.Hour, 2, 5*time.Millisecond,
		WithClient(playlistclient.New(playlistclient.WithRetries(0, 0))),
		WithOnMaxErrors(func() { triggered = true }),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	m.poll(ctx)
	m.poll(ctx)

	assert.True(t, triggered)
}

func TestStartIsIdempotentAndStopWaits(t *testing.T) {
	var seq int64 = 1
	var mu sync.Mutex
	srv := httptest.NewServer(playlistHandler(&seq, &mu))
	defer srv.Close()

	m := New(srv.URL, 10*time.Millisecond, 5, time.Second)

	ctx := context.Background()
	m.Start(ctx, false)
	m.Start(ctx, false) // no-op, must not panic or double-start

	time.Sleep(30 * time.Millisecond)
	m.Stop()

	status := m.Status()
	assert.False(t, status.Running)
}
