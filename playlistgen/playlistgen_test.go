package playlistgen

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeshift-radio/models"
)

// fakeSource is an in-memory SegmentSource for testing the windowing
// algorithm without standing up a real segcache.Cache.
type fakeSource struct {
	bySeq map[int64]models.Segment
	atSeq int64 // what GetAt should resolve to
}

func newFakeSource() *fakeSource {
	return &fakeSource{bySeq: make(map[int64]models.Segment)}
}

func (f *fakeSource) add(seq int64, duration float64) {
	f.bySeq[seq] = models.Segment{SequenceNumber: seq, Duration: duration, DiscoveredAt: time.Now()}
}

func (f *fakeSource) GetAt(time.Time) (*models.Segment, []byte, error) {
	seg, ok := f.bySeq[f.atSeq]
	if !ok {
		return nil, nil, nil
	}
	return &seg, []byte("x"), nil
}

func (f *fakeSource) GetBySequence(seq int64) (*models.Segment, []byte, error) {
	seg, ok := f.bySeq[seq]
	if !ok {
		return nil, nil, nil
	}
	return &seg, []byte("x"), nil
}

func TestRenderEmptyCacheReturnsPlaceholder(t *testing.T) {
	src := newFakeSource()
	g := New(src)

	p := g.Render(Request{WindowCount: 5, BaseURL: "http://host"})

	assert.Contains(t, p.M3U8Content, "#EXT-X-DISCONTINUITY")
	assert.Contains(t, p.M3U8Content, "http://host/stream/unavailable.ts")
}

func TestRenderCentersWindowOnAnchor(t *testing.T) {
	src := newFakeSource()
	for i := int64(95); i <= 105; i++ {
		src.add(i, 6.0)
	}
	src.atSeq = 100

	g := New(src)
	p := g.Render(Request{WindowCount: 5, BaseURL: "http://host"})

	require.Len(t, p.Segments, 5)
	assert.Equal(t, int64(98), p.Segments[0].SequenceNumber)
	assert.Equal(t, int64(102), p.Segments[4].SequenceNumber)
	assert.Equal(t, int64(98), p.MediaSequence)
}

func TestRenderExpandsForwardWhenPrecedingMissing(t *testing.T) {
	src := newFakeSource()
	for i := int64(100); i <= 110; i++ {
		src.add(i, 6.0)
	}
	src.atSeq = 100 // nothing before 100 exists

	g := New(src)
	p := g.Render(Request{WindowCount: 5, BaseURL: "http://host"})

	require.Len(t, p.Segments, 5)
	assert.Equal(t, int64(100), p.Segments[0].SequenceNumber)
	assert.Equal(t, int64(104), p.Segments[4].SequenceNumber)
}

func TestRenderSegmentsAreSequenceContiguous(t *testing.T) {
	src := newFakeSource()
	for i := int64(0); i <= 20; i++ {
		src.add(i, 6.0)
	}
	src.atSeq = 10

	g := New(src)
	p := g.Render(Request{WindowCount: 5, BaseURL: "http://host"})

	for i := 1; i < len(p.Segments); i++ {
		assert.Equal(t, p.Segments[i-1].SequenceNumber+1, p.Segments[i].SequenceNumber)
	}
}

func TestRenderStopsAtInternalGapInsteadOfSkippingIt(t *testing.T) {
	src := newFakeSource()
	src.add(100, 6.0)
	src.add(101, 6.0)
	// 102 deliberately absent: an internal gap within the requested window.
	src.add(103, 6.0)
	src.add(104, 6.0)
	src.atSeq = 101

	g := New(src)
	p := g.Render(Request{WindowCount: 5, BaseURL: "http://host"})

	require.Len(t, p.Segments, 2)
	assert.Equal(t, int64(100), p.Segments[0].SequenceNumber)
	assert.Equal(t, int64(101), p.Segments[1].SequenceNumber)
	for _, s := range p.Segments {
		assert.NotEqual(t, int64(103), s.SequenceNumber)
		assert.NotEqual(t, int64(104), s.SequenceNumber)
	}
}

func TestRenderTargetDurationIsCeilOfMax(t *testing.T) {
	src := newFakeSource()
	src.add(10, 5.2)
	src.add(11, 6.8)
	src.add(12, 5.9)
	src.atSeq = 11

	g := New(src)
	p := g.Render(Request{WindowCount: 3, BaseURL: "http://host"})

	assert.Equal(t, 7, p.TargetDuration)
}

func TestRenderM3U8ContentFormatsDurationToThreeDecimals(t *testing.T) {
	src := newFakeSource()
	src.add(1, 6.006)
	src.atSeq = 1

	g := New(src)
	p := g.Render(Request{WindowCount: 1, BaseURL: "http://host"})

	assert.True(t, strings.Contains(p.M3U8Content, "#EXTINF:6.006,"))
}

func TestMarshalJSONIncludesM3U8Content(t *testing.T) {
	src := newFakeSource()
	src.add(1, 6)
	src.atSeq = 1

	g := New(src)
	p := g.Render(Request{WindowCount: 1, BaseURL: "http://host"})

	data, err := p.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), "m3u8Content")
	assert.Contains(t, string(data), "#EXTM3U")
}
