// Package playlistgen synthesizes a short HLS media playlist from cached
// segments on each listener request: window centering around a target
// timestamp, bidirectional expansion when one side runs out of segments,
// and an empty-playlist fallback while the cache holds no segment at all.
//
// Grounded on the teacher's store/cache.go formatStreamEntry/
// generateM3UContent (strings.Builder-based playlist assembly, #EXTM3U
// header emission), generalized from M3U channel entries to #EXTINF
// media-segment entries, and on source_processor/sorted_cache.go's
// sorted-entry emission discipline. The placeholder served for
// /stream/unavailable.ts mirrors the teacher's stream/exhausted_image.go
// fallback-content idea, generalized from a static image to a minimal
// valid MPEG-TS packet.
package playlistgen

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"timeshift-radio/models"
)

// SegmentSource is the subset of segcache.Cache the generator depends on.
type SegmentSource interface {
	GetAt(targetTime time.Time) (*models.Segment, []byte, error)
	GetBySequence(seq int64) (*models.Segment, []byte, error)
}

// Request parameterizes one playlist render.
type Request struct {
	WindowCount  int
	TimeShift    time.Duration
	BaseURL      string
}

// RenderedSegment is one segment entry in the structured view.
type RenderedSegment struct {
	Duration       float64 `json:"duration"`
	URI            string  `json:"uri"`
	SequenceNumber int64   `json:"sequenceNumber"`
}

// Playlist is the dual m3u8/structured output of a render.
type Playlist struct {
	M3U8Content    string            `json:"-"`
	Segments       []RenderedSegment `json:"segments"`
	MediaSequence  int64             `json:"mediaSequence"`
	TargetDuration int               `json:"targetDuration"`
}

// MarshalJSON renders the structured view: segments, mediaSequence,
// targetDuration, plus the rendered playlist text as m3u8Content (the
// field's own json:"-" tag only keeps it from being emitted twice).
func (p Playlist) MarshalJSON() ([]byte, error) {
	type alias Playlist
	return json.Marshal(struct {
		alias
		M3U8Content string `json:"m3u8Content"`
	}{alias: alias(p), M3U8Content: p.M3U8Content})
}

const defaultTargetDurationFallback = 6

// Generator renders playlists against a segment source.
type Generator struct {
	source                 SegmentSource
	targetDurationFallback int
}

// Option configures a Generator.
type Option func(*Generator)

// WithTargetDurationFallback sets the #EXT-X-TARGETDURATION used when the
// collected window is empty.
func WithTargetDurationFallback(seconds float64) Option {
	return func(g *Generator) { g.targetDurationFallback = int(math.Ceil(seconds)) }
}

// New builds a Generator over source.
func New(source SegmentSource, opts ...Option) *Generator {
	g := &Generator{source: source, targetDurationFallback: defaultTargetDurationFallback}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Render synthesizes a playlist for req, or the empty-playlist template if
// the cache holds no segment. GetAt clamps to the cache's extent, so a
// target time older than the oldest cached segment (a buffer that has not
// yet filled to the delay) is served from the oldest segments, not with
// the empty-playlist template.
func (g *Generator) Render(req Request) Playlist {
	windowCount := req.WindowCount
	if windowCount <= 0 {
		windowCount = 5
	}

	targetTime := time.Now().Add(-req.TimeShift)
	anchor, _, err := g.source.GetAt(targetTime)
	if err != nil || anchor == nil {
		return g.emptyPlaylist(req.BaseURL)
	}

	window := g.collectWindow(anchor.SequenceNumber, windowCount)
	return g.render(window, req.BaseURL)
}

// collectWindow implements the center-then-expand algorithm: start with a
// window centered on anchorSeq, then grow whichever side is short until
// windowCount segments are collected or the cache is exhausted on both
// sides.
func (g *Generator) collectWindow(anchorSeq int64, windowCount int) []models.Segment {
	lowOffset := windowCount / 2
	low := anchorSeq - int64(lowOffset)
	high := low + int64(windowCount) - 1

	// Bound the number of expansion rounds: each round grows the window by
	// one sequence, so windowCount*4+8 rounds is far more than a
	// well-behaved cache (no gaps wider than the window itself) ever
	// needs, and guarantees termination against a pathologically sparse
	// cache.
	maxRounds := windowCount*4 + 8

	var segments []models.Segment
	var missingLow, missingHigh bool
	for round := 0; round < maxRounds; round++ {
		segments, missingLow, missingHigh = g.collectRange(anchorSeq, low, high)
		if len(segments) >= windowCount || (!missingLow && !missingHigh) {
			return segments
		}

		switch {
		case missingLow && !missingHigh:
			high++
		case missingHigh && !missingLow:
			low--
		default:
			// both edges missing, or neither but still short: nothing
			// further to expand into.
			return segments
		}
	}
	return segments
}

// collectRange walks outward from anchorSeq toward low and toward high,
// stopping the FIRST time a sequence is missing on each side rather than
// skipping over it — per §4.6 the returned window must be strictly
// sequence-contiguous, never hopping an internal gap to pad the count.
// missingLow/missingHigh report whether that side's walk stopped on a
// gap (true) or ran out of range to probe without finding one (false),
// which is what the caller uses to decide which direction is still worth
// expanding.
func (g *Generator) collectRange(anchorSeq, low, high int64) (segments []models.Segment, missingLow, missingHigh bool) {
	anchor, _, err := g.source.GetBySequence(anchorSeq)
	if err != nil || anchor == nil {
		return nil, true, true
	}
	segments = append(segments, *anchor)

	for s := anchorSeq - 1; s >= low; s-- {
		meta, _, err := g.source.GetBySequence(s)
		if err != nil || meta == nil {
			missingLow = true
			break
		}
		segments = append([]models.Segment{*meta}, segments...)
	}

	for s := anchorSeq + 1; s <= high; s++ {
		meta, _, err := g.source.GetBySequence(s)
		if err != nil || meta == nil {
			missingHigh = true
			break
		}
		segments = append(segments, *meta)
	}

	return segments, missingLow, missingHigh
}

func (g *Generator) render(segments []models.Segment, baseURL string) Playlist {
	if len(segments) == 0 {
		return g.emptyPlaylist(baseURL)
	}

	sortSegmentsBySequence(segments)

	targetDuration := 0
	for _, s := range segments {
		if d := int(math.Ceil(s.Duration)); d > targetDuration {
			targetDuration = d
		}
	}
	if targetDuration == 0 {
		targetDuration = g.targetDurationFallback
	}

	mediaSequence := segments[0].SequenceNumber

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", targetDuration)
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", mediaSequence)

	rendered := make([]RenderedSegment, 0, len(segments))
	for _, s := range segments {
		uri := fmt.Sprintf("%s/stream/segment/%d.ts", baseURL, s.SequenceNumber)
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n%s\n", s.Duration, uri)
		rendered = append(rendered, RenderedSegment{
			Duration:       s.Duration,
			URI:            uri,
			SequenceNumber: s.SequenceNumber,
		})
	}

	return Playlist{
		M3U8Content:    b.String(),
		Segments:       rendered,
		MediaSequence:  mediaSequence,
		TargetDuration: targetDuration,
	}
}

// emptyPlaylist is served while the buffer is warming: a single
// discontinuity-tagged reference to the unavailable-segment placeholder.
func (g *Generator) emptyPlaylist(baseURL string) Playlist {
	uri := fmt.Sprintf("%s/stream/unavailable.ts", baseURL)

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", g.targetDurationFallback)
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	b.WriteString("#EXT-X-DISCONTINUITY\n")
	fmt.Fprintf(&b, "#EXTINF:%d.000,\n%s\n", g.targetDurationFallback, uri)

	return Playlist{
		M3U8Content: b.String(),
		Segments: []RenderedSegment{
			{Duration: float64(g.targetDurationFallback), URI: uri, SequenceNumber: 0},
		},
		MediaSequence:  0,
		TargetDuration: g.targetDurationFallback,
	}
}

func sortSegmentsBySequence(segments []models.Segment) {
	for i := 1; i < len(segments); i++ {
		for j := i; j > 0 && segments[j].SequenceNumber < segments[j-1].SequenceNumber; j-- {
			segments[j], segments[j-1] = segments[j-1], segments[j]
		}
	}
}

// UnavailableSegment is the minimal valid empty MPEG-TS payload served at
// /stream/unavailable.ts: one 188-byte packet, sync byte 0x47 followed by
// zeros, so players see a well-formed (silent) transport stream packet
// instead of a broken one while the cache warms.
func UnavailableSegment() []byte {
	packet := make([]byte, 188)
	packet[0] = 0x47
	return packet
}
