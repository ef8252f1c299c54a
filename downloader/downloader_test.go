package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(n int64) *int64 { return &n }

func recordingAdd(t *testing.T) (AddFunc, func() [][]byte) {
	var mu sync.Mutex
	var calls [][]byte
	return func(data []byte, _ *int64, _ string, _ float64, _ time.Time) error {
			mu.Lock()
			calls = append(calls, data)
			mu.Unlock()
			return nil
		}, func() [][]byte {
			mu.Lock()
			defer mu.Unlock()
			return calls
		}
}

func TestDownloadSuccessCallsAdd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("segment-bytes"))
	}))
	defer srv.Close()

	add, calls := recordingAdd(t)
	d := New(2, add)

	result := d.Download(context.Background(), srv.URL, Meta{SequenceNumber: seq(1)}, DownloadOptions{})
	require.NoError(t, result.Err)
	assert.Equal(t, int64(len("segment-bytes")), result.Size)
	assert.Len(t, calls(), 1)
}

func TestDownloadDedupReturnsCachedResult(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	add, _ := recordingAdd(t)
	d := New(2, add)

	first := d.Download(context.Background(), srv.URL, Meta{}, DownloadOptions{})
	require.NoError(t, first.Err)

	second := d.Download(context.Background(), srv.URL, Meta{}, DownloadOptions{})
	assert.True(t, second.FromCache)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestDownloadForceBypassesDedup(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	add, _ := recordingAdd(t)
	d := New(2, add)

	d.Download(context.Background(), srv.URL, Meta{}, DownloadOptions{})
	second := d.Download(context.Background(), srv.URL, Meta{}, DownloadOptions{Force: true})

	assert.False(t, second.FromCache)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestDownloadRetriesOnServerErrorThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	add, _ := recordingAdd(t)
	d := New(1, add, WithMaxRetries(3), WithRetryDelays(time.Millisecond, 10*time.Millisecond))

	result := d.Download(context.Background(), srv.URL, Meta{}, DownloadOptions{})
	require.NoError(t, result.Err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestDownloadTerminalClientErrorDoesNotRetry(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	var failure Result
	add, _ := recordingAdd(t)
	d := New(1, add,
		WithMaxRetries(3),
		WithRetryDelays(time.Millisecond, 10*time.Millisecond),
		WithOnFailure(func(r Result) { failure = r }),
	)

	result := d.Download(context.Background(), srv.URL, Meta{}, DownloadOptions{})
	assert.Error(t, result.Err)
	assert.Equal(t, CategoryClient, result.Category)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	assert.Equal(t, CategoryClient, failure.Category)
}

func TestDownloadManyRespectsConcurrencyCap(t *testing.T) {
	var active int32
	var maxActive int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&active, 1)
		for {
			old := atomic.LoadInt32(&maxActive)
			if n <= old || atomic.CompareAndSwapInt32(&maxActive, old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	add, _ := recordingAdd(t)
	d := New(2, add)

	urls := make([]string, 6)
	for i := range urls {
		urls[i] = srv.URL
	}

	results := d.DownloadMany(context.Background(), urls, nil, DownloadOptions{Force: true})
	require.Len(t, results, 6)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxActive), int32(2))
}

func TestFinishPendingWaitsForInFlight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(30 * time.Millisecond)
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	add, _ := recordingAdd(t)
	d := New(1, add)

	go d.Download(context.Background(), srv.URL, Meta{}, DownloadOptions{})
	time.Sleep(5 * time.Millisecond)

	ok := d.FinishPending(200 * time.Millisecond)
	assert.True(t, ok)
}

func TestStatsTracksFailuresByCategory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	add, _ := recordingAdd(t)
	d := New(1, add, WithMaxRetries(0))

	d.Download(context.Background(), srv.URL, Meta{}, DownloadOptions{})

	stats := d.Stats()
	assert.Equal(t, int64(1), stats.TotalFailures)
	assert.Equal(t, int64(1), stats.FailuresByCategory["client"])
}
