package safemap

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Bounded is a concurrency-safe, fixed-capacity key set backed by an LRU
// eviction policy: once the set reaches its cap, the least recently
// touched entry is evicted to make room, so it never grows past its size.
type Bounded[K comparable] struct {
	cache *lru.Cache[K, struct{}]
}

// NewBounded creates a Bounded set holding at most size entries. size must
// be positive.
func NewBounded[K comparable](size int) *Bounded[K] {
	cache, err := lru.New[K, struct{}](size)
	if err != nil {
		// Only returned for a non-positive size, which is a caller bug.
		panic(err)
	}
	return &Bounded[K]{cache: cache}
}

// Seen reports whether key was already recorded, and records it if not.
func (b *Bounded[K]) Seen(key K) bool {
	if _, ok := b.cache.Get(key); ok {
		return true
	}
	b.cache.Add(key, struct{}{})
	return false
}

// Remove drops key from the set, if present.
func (b *Bounded[K]) Remove(key K) {
	b.cache.Remove(key)
}

// Len returns the current number of tracked entries.
func (b *Bounded[K]) Len() int {
	return b.cache.Len()
}

// BoundedMap is a concurrency-safe, fixed-capacity key-value store backed
// by an LRU eviction policy. The downloader uses one of these for its
// dedup history: URL -> last-download stats, pruned to the most recently
// touched 1000 entries so the history never grows for the life of a
// long-running stream.
type BoundedMap[K comparable, V any] struct {
	cache *lru.Cache[K, V]
}

// NewBoundedMap creates a BoundedMap holding at most size entries. size
// must be positive.
func NewBoundedMap[K comparable, V any](size int) *BoundedMap[K, V] {
	cache, err := lru.New[K, V](size)
	if err != nil {
		panic(err)
	}
	return &BoundedMap[K, V]{cache: cache}
}

// Get retrieves the value for key, if present.
func (b *BoundedMap[K, V]) Get(key K) (V, bool) {
	return b.cache.Get(key)
}

// Set records value for key, evicting the least recently touched entry if
// the map is at capacity.
func (b *BoundedMap[K, V]) Set(key K, value V) {
	b.cache.Add(key, value)
}

// Len returns the current number of tracked entries.
func (b *BoundedMap[K, V]) Len() int {
	return b.cache.Len()
}
