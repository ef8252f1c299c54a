package segcache

import (
	memdb "github.com/hashicorp/go-memdb"
)

// entry is the authoritative metadata record held in the memdb table. It
// mirrors models.Segment but keeps DiscoveredAt as an int64 nanosecond
// timestamp so hashicorp/go-memdb's IntFieldIndex can order and
// range-query on it directly — memdb's field indexers work over plain
// integer/string struct fields, not time.Time.
type entry struct {
	SequenceNumber   int64
	DiscoveredAtNano int64
	Duration         float64
	UpstreamURL      string
	Size             int64
	OnDisk           bool
}

const tableSegment = "segment"
const (
	idxSequence     = "id"
	idxDiscoveredAt = "discoveredAt"
)

// schema stands up one memdb table with two indexes over the same
// authoritative records: a unique index on SequenceNumber for
// GetBySequence's exact lookups, and a non-unique index on
// DiscoveredAtNano for GetAt/GetRange's ordered scans. memdb disambiguates
// the non-unique index internally by appending the primary key, so
// duplicate timestamps (recovered segments sharing a fabricated
// discoveredAt) never collide.
func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableSegment: {
				Name: tableSegment,
				Indexes: map[string]*memdb.IndexSchema{
					idxSequence: {
						Name:    idxSequence,
						Unique:  true,
						Indexer: &memdb.IntFieldIndex{Field: "SequenceNumber"},
					},
					idxDiscoveredAt: {
						Name:    idxDiscoveredAt,
						Unique:  false,
						Indexer: &memdb.IntFieldIndex{Field: "DiscoveredAtNano"},
					},
				},
			},
		},
	}
}
