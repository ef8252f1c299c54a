// Package models holds the closed data structures shared across the
// pipeline: Segment, Manifest, DiscoveryRecord, and PlaylistWindow. They
// are plain structs with fixed fields, in the style of the teacher's
// database/types.go and store/types.go — no free-form metadata maps.
package models

import "time"

// BytesLocation records where a segment's payload currently lives.
type BytesLocation int

const (
	// BytesOnDisk means the payload is at diskstore's id=sequenceNumber path.
	BytesOnDisk BytesLocation = iota
	// BytesInMemory means disk write failed or was skipped and the payload
	// is held only in the segment cache's in-memory fallback tier.
	BytesInMemory
)

func (l BytesLocation) String() string {
	if l == BytesOnDisk {
		return "on-disk"
	}
	return "in-memory"
}

// Segment is one media fragment of the upstream live stream. SequenceNumber
// is its primary identity; two segments with the same SequenceNumber must
// be identical.
type Segment struct {
	SequenceNumber int64         `json:"sequenceNumber"`
	DiscoveredAt   time.Time     `json:"discoveredAt"`
	Duration       float64       `json:"duration"`
	UpstreamURL    string        `json:"upstreamURL"`
	Size           int64         `json:"size"`
	BytesLocation  BytesLocation `json:"bytesLocation"`
}

// SegmentMetadata is the nested descriptive block inside a manifest entry:
// everything about the segment except where/when it landed in the cache.
type SegmentMetadata struct {
	URL            string  `json:"url"`
	SequenceNumber int64   `json:"sequenceNumber"`
	Duration       float64 `json:"duration"`
	SegmentID      string  `json:"segmentId"`
	AddedAt        string  `json:"addedAt"`
}

// SegmentSummary is the per-segment record persisted in a Manifest. Field
// names and nesting mirror the on-disk contract exactly (timestamp in
// epoch ms, a nested metadata block, storedOnDisk/filePath) rather than
// the in-process Segment shape, so the manifest stays readable by anything
// that only understands that contract.
type SegmentSummary struct {
	Timestamp    int64           `json:"timestamp"`
	Metadata     SegmentMetadata `json:"metadata"`
	Size         int64           `json:"size"`
	StoredOnDisk bool            `json:"storedOnDisk"`
	FilePath     string          `json:"filePath"`
}

// DiscoveredAt converts the persisted epoch-ms timestamp back to a
// time.Time for recovery.
func (s SegmentSummary) DiscoveredAt() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// ManifestStats summarizes the cache at manifest-write time.
type ManifestStats struct {
	TotalSegments  int     `json:"totalSegments"`
	TotalSize      int64   `json:"totalSize"`
	TotalDuration  float64 `json:"totalDuration"`
	BufferDuration int64   `json:"bufferDuration"`
}

// Manifest is the persistent index of the segment cache, rewritten after
// any mutation batch via diskstore's atomic-rename write path.
type Manifest struct {
	Timestamp int64            `json:"timestamp"`
	Segments  []SegmentSummary `json:"segments"`
	Stats     ManifestStats    `json:"stats"`
}

// DiscoveryRecord is the transient message the Monitor publishes for each
// newly-seen playlist entry and the Downloader consumes.
type DiscoveryRecord struct {
	SequenceNumber int64
	UpstreamURL    string
	Duration       float64
}

// PlaylistWindow is the transient value the Playlist Generator produces: an
// ordered, contiguous slice of segments ready to render as a response.
type PlaylistWindow struct {
	Segments        []Segment
	FirstSequence   int64
	MaxSegDuration  float64
	TargetTimestamp time.Time
}
