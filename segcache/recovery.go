package segcache

import (
	"encoding/json"
	"strconv"
	"time"

	"timeshift-radio/diskstore"
	"timeshift-radio/models"
)

// Recover replays persisted state on startup: read the manifest, drop
// entries whose blob went missing, adopt on-disk files the manifest never
// recorded, then immediately prune anything already outside the buffer
// window. Call this once before serving traffic.
func (c *Cache) Recover() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	manifestEntries, err := c.readManifestEntries()
	if err != nil {
		return err
	}

	known := make(map[int64]bool, len(manifestEntries))
	var recovered []entry

	for _, se := range manifestEntries {
		if !c.disk.SegmentExists(se.Metadata.SequenceNumber) {
			c.log.Warnf("dropping manifest entry %d: blob missing on disk", se.Metadata.SequenceNumber)
			continue
		}
		known[se.Metadata.SequenceNumber] = true
		recovered = append(recovered, entry{
			SequenceNumber:   se.Metadata.SequenceNumber,
			DiscoveredAtNano: se.DiscoveredAt().UnixNano(),
			Duration:         se.Metadata.Duration,
			UpstreamURL:      se.Metadata.URL,
			Size:             se.Size,
			OnDisk:           se.StoredOnDisk,
		})
	}

	onDiskIDs, err := c.disk.ListSegments()
	if err != nil {
		return err
	}

	orphanSeqs := make([]int64, 0, len(onDiskIDs))
	for _, idStr := range onDiskIDs {
		seq, perr := strconv.ParseInt(idStr, 10, 64)
		if perr != nil {
			c.log.Warnf("orphan blob %q does not parse as a sequence number, ignoring", idStr)
			continue
		}
		if known[seq] {
			continue
		}
		orphanSeqs = append(orphanSeqs, seq)
	}

	// newestSeq anchors the backward extrapolation below, so it must
	// account for every sequence we're about to index — manifest-recovered
	// entries AND orphan blobs alike — not just the former. Otherwise an
	// empty/missing manifest (Scenario F) leaves newestSeq at 0 and every
	// orphan's fabricated discoveredAt lands in the future instead of
	// behind it.
	var newestSeq int64
	for _, e := range recovered {
		if e.SequenceNumber > newestSeq {
			newestSeq = e.SequenceNumber
		}
	}
	for _, seq := range orphanSeqs {
		if seq > newestSeq {
			newestSeq = seq
		}
	}

	for _, seq := range orphanSeqs {
		discoveredAt := time.Now().Add(-time.Duration(float64(newestSeq-seq)*c.targetDurationFallback*1000) * time.Millisecond)
		c.log.Debugf("adopting orphan segment %d: fabricated discoveredAt=%s, source=manifest-missing", seq, discoveredAt)

		recovered = append(recovered, entry{
			SequenceNumber:   seq,
			DiscoveredAtNano: discoveredAt.UnixNano(),
			Duration:         c.targetDurationFallback,
			OnDisk:           true,
		})
	}

	wtxn := c.db.Txn(true)
	for i := range recovered {
		if err := wtxn.Insert(tableSegment, &recovered[i]); err != nil {
			wtxn.Abort()
			return err
		}
	}
	wtxn.Commit()

	c.evictLocked(time.Now())
	c.writeManifestLocked()

	return nil
}

func (c *Cache) readManifestEntries() ([]models.SegmentSummary, error) {
	raw, err := c.disk.ReadManifest()
	if err == diskstore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var m models.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		c.log.Warnf("manifest is corrupt, ignoring and rebuilding from disk listing: %v", err)
		return nil, nil
	}
	return m.Segments, nil
}
