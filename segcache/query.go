package segcache

import (
	"time"

	"timeshift-radio/diskstore"
	"timeshift-radio/models"
)

// GetBySequence returns the segment's metadata and bytes, fetching the
// payload from disk (or the memory tier) on demand. A present meta with
// nil data and a nil error means the bytes could not be read — callers
// must treat that as a transient failure, not an eviction.
func (c *Cache) GetBySequence(seq int64) (*models.Segment, []byte, error) {
	c.mu.RLock()
	e, ok := c.lookupLocked(seq)
	c.mu.RUnlock()

	if !ok {
		return nil, nil, nil
	}

	seg := toSegment(e)
	data, err := c.fetchBytes(e)
	if err != nil {
		c.log.Errorf("failed to read bytes for segment %d: %v", seq, err)
		return &seg, nil, nil
	}
	return &seg, data, nil
}

func (c *Cache) lookupLocked(seq int64) (entry, bool) {
	txn := c.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableSegment, idxSequence, seq)
	if err != nil || raw == nil {
		return entry{}, false
	}
	return *raw.(*entry), true
}

func (c *Cache) fetchBytes(e entry) ([]byte, error) {
	if e.OnDisk {
		data, err := c.disk.ReadSegment(e.SequenceNumber)
		if err == diskstore.ErrNotFound {
			return nil, nil
		}
		return data, err
	}
	if v, ok := c.mem.Get(e.SequenceNumber); ok {
		return v.([]byte), nil
	}
	return nil, nil
}

// GetAt returns the segment whose discoveredAt is closest to targetTime,
// clamped to the oldest/newest extent, ties favoring the earlier segment.
// Returns nil on an empty cache.
func (c *Cache) GetAt(targetTime time.Time) (*models.Segment, []byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	targetNano := targetTime.UnixNano()

	txn := c.db.Txn(false)
	defer txn.Abort()

	var after, before *entry

	afterIt, err := txn.LowerBound(tableSegment, idxDiscoveredAt, targetNano)
	if err == nil {
		if raw := afterIt.Next(); raw != nil {
			after = raw.(*entry)
		}
	}

	beforeIt, err := txn.ReverseLowerBound(tableSegment, idxDiscoveredAt, targetNano)
	if err == nil {
		if raw := beforeIt.Next(); raw != nil {
			before = raw.(*entry)
		}
	}

	var chosen *entry
	switch {
	case after == nil && before == nil:
		return nil, nil, nil
	case after == nil:
		chosen = before
	case before == nil:
		chosen = after
	case after.DiscoveredAtNano == targetNano:
		chosen = after
	default:
		afterDelta := after.DiscoveredAtNano - targetNano
		beforeDelta := targetNano - before.DiscoveredAtNano
		if beforeDelta <= afterDelta {
			chosen = before
		} else {
			chosen = after
		}
	}

	seg := toSegment(*chosen)
	data, ferr := c.fetchBytes(*chosen)
	if ferr != nil {
		c.log.Errorf("failed to read bytes for segment %d: %v", chosen.SequenceNumber, ferr)
		return &seg, nil, nil
	}
	return &seg, data, nil
}

// GetRange returns all segments with start <= discoveredAt <= end, sorted
// ascending. The range is implicitly clamped to the cache's extent:
// bounds outside any indexed segment simply yield nothing on that side.
func (c *Cache) GetRange(start, end time.Time) []models.Segment {
	c.mu.RLock()
	defer c.mu.RUnlock()

	startNano := start.UnixNano()
	endNano := end.UnixNano()

	txn := c.db.Txn(false)
	defer txn.Abort()

	it, err := txn.LowerBound(tableSegment, idxDiscoveredAt, startNano)
	if err != nil {
		return nil
	}

	var results []models.Segment
	for raw := it.Next(); raw != nil; raw = it.Next() {
		e := raw.(*entry)
		if e.DiscoveredAtNano > endNano {
			break
		}
		results = append(results, toSegment(*e))
	}
	return results
}
