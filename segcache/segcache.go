// Package segcache is the hybrid rolling buffer at the heart of the
// pipeline: a bounded-age window of segments indexed for O(1) sequence
// lookup and ordered discoveredAt scans, with disk-backed bytes and an
// in-memory fallback tier.
//
// Grounded on the teacher's sync.RWMutex-guarded Cache in store/cache.go
// and sessionStore in store/sessions.go for the single-writer/many-reader
// shape, and directly on database/memdb.go's use of
// github.com/hashicorp/go-memdb for the authoritative metadata index.
package segcache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto"
	memdb "github.com/hashicorp/go-memdb"

	"timeshift-radio/diskstore"
	"timeshift-radio/logger"
	"timeshift-radio/models"
)

// AddMeta describes a segment being ingested. SequenceNumber is a pointer
// so callers can omit it and let Add synthesize one from the URL and wall
// clock, per spec.
type AddMeta struct {
	SequenceNumber *int64
	UpstreamURL    string
	Duration       float64
	DiscoveredAt   time.Time
}

// SegmentRef identifies a segment that was just added or already present.
type SegmentRef struct {
	SequenceNumber int64
	Duplicate      bool
}

// BufferStats summarizes the cache's current contents.
type BufferStats struct {
	SegmentCount   int
	TotalBytes     int64
	TotalSeconds   float64
	OldestSequence int64
	NewestSequence int64
	SequenceGaps   int
}

// Cache is the hybrid rolling buffer. The zero value is not usable; build
// one with New.
type Cache struct {
	mu sync.RWMutex // single-writer/many-reader, mirroring store/cache.go's Cache

	db   *memdb.MemDB
	disk *diskstore.Store
	mem  *ristretto.Cache

	diskEnabled            bool
	bufferDuration          time.Duration
	targetDurationFallback float64

	log logger.Logger

	onSegmentAdded   func(models.Segment)
	onSegmentExpired func(models.Segment)
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger overrides the default logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Cache) { c.log = l }
}

// WithDiskEnabled toggles whether Add attempts a disk write before falling
// back to the in-memory tier.
func WithDiskEnabled(enabled bool) Option {
	return func(c *Cache) { c.diskEnabled = enabled }
}

// WithTargetDurationFallback sets the segment duration assumed for
// orphan-adoption during recovery when the real value is unknown.
func WithTargetDurationFallback(seconds float64) Option {
	return func(c *Cache) { c.targetDurationFallback = seconds }
}

// WithOnSegmentAdded registers an observer invoked after a segment is
// durably indexed. Matches spec.md's "observer callbacks instead of event
// emitters" design note.
func WithOnSegmentAdded(fn func(models.Segment)) Option {
	return func(c *Cache) { c.onSegmentAdded = fn }
}

// WithOnSegmentExpired registers an observer invoked once per evicted
// segment.
func WithOnSegmentExpired(fn func(models.Segment)) Option {
	return func(c *Cache) { c.onSegmentExpired = fn }
}

// New builds a Cache backed by disk store d with the given retention
// horizon. Call Recover before serving traffic to replay any
// previously-persisted state.
func New(d *diskstore.Store, bufferDuration time.Duration, opts ...Option) (*Cache, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("segcache: schema: %w", err)
	}

	memTier, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 28, // 256MiB in-memory fallback ceiling
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("segcache: memory tier: %w", err)
	}

	c := &Cache{
		db:                     db,
		disk:                   d,
		mem:                    memTier,
		diskEnabled:            true,
		bufferDuration:         bufferDuration,
		targetDurationFallback: 6.4,
		log:                    logger.Named("segcache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func synthesizeID(urlBasename string, t time.Time) int64 {
	h := xxhash.Sum64String(fmt.Sprintf("%s|%d", urlBasename, t.UnixNano()))
	id := int64(h >> 1) // clear the sign bit so the id stays non-negative
	return id
}

// Add ingests bytes for the segment described by meta. Duplicate sequence
// numbers are idempotent: the new bytes are dropped and the existing ref
// returned.
func (c *Cache) Add(data []byte, meta AddMeta) (SegmentRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var seq int64
	if meta.SequenceNumber != nil {
		seq = *meta.SequenceNumber
	} else {
		seq = synthesizeID(meta.UpstreamURL, time.Now())
	}

	txn := c.db.Txn(false)
	existing, err := txn.First(tableSegment, idxSequence, seq)
	txn.Abort()
	if err != nil {
		return SegmentRef{}, fmt.Errorf("segcache: lookup: %w", err)
	}
	if existing != nil {
		return SegmentRef{SequenceNumber: seq, Duplicate: true}, nil
	}

	discoveredAt := meta.DiscoveredAt
	if discoveredAt.IsZero() {
		discoveredAt = time.Now()
	}

	rec := entry{
		SequenceNumber:   seq,
		DiscoveredAtNano: discoveredAt.UnixNano(),
		Duration:         meta.Duration,
		UpstreamURL:      meta.UpstreamURL,
		Size:             int64(len(data)),
	}

	if c.diskEnabled {
		if _, werr := c.disk.WriteSegment(seq, data); werr == nil {
			rec.OnDisk = true
		} else {
			c.log.Warnf("disk write failed for segment %d, retaining in memory: %v", seq, werr)
			rec.OnDisk = false
			c.mem.Set(seq, data, int64(len(data)))
			c.mem.Wait()
		}
	} else {
		c.mem.Set(seq, data, int64(len(data)))
		c.mem.Wait()
	}

	wtxn := c.db.Txn(true)
	if err := wtxn.Insert(tableSegment, &rec); err != nil {
		wtxn.Abort()
		return SegmentRef{}, fmt.Errorf("segcache: insert: %w", err)
	}
	wtxn.Commit()

	if c.onSegmentAdded != nil {
		c.onSegmentAdded(toSegment(rec))
	}

	c.evictLocked(time.Now())
	c.writeManifestLocked()

	return SegmentRef{SequenceNumber: seq}, nil
}

func toSegment(e entry) models.Segment {
	loc := models.BytesInMemory
	if e.OnDisk {
		loc = models.BytesOnDisk
	}
	return models.Segment{
		SequenceNumber: e.SequenceNumber,
		DiscoveredAt:   time.Unix(0, e.DiscoveredAtNano),
		Duration:       e.Duration,
		UpstreamURL:    e.UpstreamURL,
		Size:           e.Size,
		BytesLocation:  loc,
	}
}

// evictLocked removes entries older than bufferDuration. Caller must hold
// c.mu for writing.
func (c *Cache) evictLocked(now time.Time) int {
	cutoff := now.Add(-c.bufferDuration).UnixNano()

	txn := c.db.Txn(false)
	it, err := txn.Get(tableSegment, idxDiscoveredAt)
	if err != nil {
		txn.Abort()
		c.log.Errorf("eviction scan failed: %v", err)
		return 0
	}

	var stale []entry
	for raw := it.Next(); raw != nil; raw = it.Next() {
		e := raw.(*entry)
		if e.DiscoveredAtNano >= cutoff {
			break
		}
		stale = append(stale, *e)
	}
	txn.Abort()

	if len(stale) == 0 {
		return 0
	}

	wtxn := c.db.Txn(true)
	for _, e := range stale {
		if err := wtxn.Delete(tableSegment, &e); err != nil {
			c.log.Errorf("eviction delete failed for segment %d: %v", e.SequenceNumber, err)
		}
	}
	wtxn.Commit()

	for _, e := range stale {
		if e.OnDisk {
			if err := c.disk.DeleteSegment(e.SequenceNumber); err != nil {
				c.log.Warnf("failed to delete evicted segment %d from disk: %v", e.SequenceNumber, err)
			}
		} else {
			c.mem.Del(e.SequenceNumber)
		}
		if c.onSegmentExpired != nil {
			c.onSegmentExpired(toSegment(e))
		}
	}

	return len(stale)
}

// Prune evicts everything older than bufferDuration and reports how many
// segments were removed.
func (c *Cache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.evictLocked(time.Now())
	if n > 0 {
		c.writeManifestLocked()
	}
	return n
}

// Clear wipes the index, deletes every disk blob, and writes an empty
// manifest.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	txn := c.db.Txn(false)
	it, err := txn.Get(tableSegment, idxSequence)
	if err != nil {
		txn.Abort()
		return fmt.Errorf("segcache: clear scan: %w", err)
	}
	var all []entry
	for raw := it.Next(); raw != nil; raw = it.Next() {
		all = append(all, *raw.(*entry))
	}
	txn.Abort()

	wtxn := c.db.Txn(true)
	if _, err := wtxn.DeleteAll(tableSegment, idxSequence); err != nil {
		wtxn.Abort()
		return fmt.Errorf("segcache: clear: %w", err)
	}
	wtxn.Commit()

	for _, e := range all {
		if e.OnDisk {
			_ = c.disk.DeleteSegment(e.SequenceNumber)
		} else {
			c.mem.Del(e.SequenceNumber)
		}
	}

	c.writeManifestLocked()
	return nil
}

// OldestTime returns the discoveredAt of the oldest indexed segment.
func (c *Cache) OldestTime() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	txn := c.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableSegment, idxDiscoveredAt)
	if err != nil || raw == nil {
		return time.Time{}, false
	}
	return time.Unix(0, raw.(*entry).DiscoveredAtNano), true
}

// NewestTime returns the discoveredAt of the newest indexed segment.
func (c *Cache) NewestTime() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	txn := c.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.Last(tableSegment, idxDiscoveredAt)
	if err != nil || raw == nil {
		return time.Time{}, false
	}
	return time.Unix(0, raw.(*entry).DiscoveredAtNano), true
}

// Stats reports cache-wide aggregates, including the count of
// sequence-number gaps detected in sorted order.
func (c *Cache) Stats() BufferStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	txn := c.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableSegment, idxSequence)
	if err != nil {
		return BufferStats{}
	}

	var stats BufferStats
	var prevSeq int64
	first := true
	for raw := it.Next(); raw != nil; raw = it.Next() {
		e := raw.(*entry)
		stats.SegmentCount++
		stats.TotalBytes += e.Size
		stats.TotalSeconds += e.Duration
		if first {
			stats.OldestSequence = e.SequenceNumber
			first = false
		} else if e.SequenceNumber-prevSeq > 1 {
			stats.SequenceGaps++
		}
		stats.NewestSequence = e.SequenceNumber
		prevSeq = e.SequenceNumber
	}
	return stats
}

// writeManifestLocked rebuilds the manifest from the current index and
// persists it. Failures are logged and non-fatal: the manifest is
// best-effort and always reconstructible from ListSegments.
func (c *Cache) writeManifestLocked() {
	txn := c.db.Txn(false)
	it, err := txn.Get(tableSegment, idxSequence)
	if err != nil {
		txn.Abort()
		c.log.Errorf("manifest scan failed: %v", err)
		return
	}

	m := models.Manifest{Timestamp: time.Now().UnixMilli()}
	var total int64
	var totalDuration float64
	for raw := it.Next(); raw != nil; raw = it.Next() {
		e := raw.(*entry)
		discoveredAt := time.Unix(0, e.DiscoveredAtNano)
		seqID := strconv.FormatInt(e.SequenceNumber, 10)

		filePath := ""
		if e.OnDisk {
			filePath = c.disk.SegmentPath(e.SequenceNumber)
		}

		m.Segments = append(m.Segments, models.SegmentSummary{
			Timestamp: discoveredAt.UnixMilli(),
			Metadata: models.SegmentMetadata{
				URL:            e.UpstreamURL,
				SequenceNumber: e.SequenceNumber,
				Duration:       e.Duration,
				SegmentID:      seqID,
				AddedAt:        discoveredAt.UTC().Format(time.RFC3339),
			},
			Size:         e.Size,
			StoredOnDisk: e.OnDisk,
			FilePath:     filePath,
		})
		total += e.Size
		totalDuration += e.Duration
	}
	txn.Abort()

	sort.Slice(m.Segments, func(i, j int) bool {
		return m.Segments[i].Metadata.SequenceNumber < m.Segments[j].Metadata.SequenceNumber
	})

	m.Stats = models.ManifestStats{
		TotalSegments:  len(m.Segments),
		TotalSize:      total,
		TotalDuration:  totalDuration,
		BufferDuration: c.bufferDuration.Milliseconds(),
	}

	data, err := json.Marshal(m)
	if err != nil {
		c.log.Errorf("manifest marshal failed: %v", err)
		return
	}
	if err := c.disk.WriteManifest(data); err != nil {
		c.log.Errorf("manifest write failed: %v", err)
	}
}
