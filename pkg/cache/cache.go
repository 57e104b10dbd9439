// Package cache provides the bundler's caches: bounded LRU caches with hit
// statistics, a sharded variant for concurrent access, a generation-scoped
// memo with single-flight writes for resolution results, and a persisted
// store for analysis results.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxSize is used when a cache is created without a size limit.
const DefaultMaxSize = 4096

// Options configures an LRU cache.
type Options[K comparable, V any] struct {
	// MaxSize is the maximum number of entries.
	// 0 means DefaultMaxSize.
	MaxSize int

	// OnEvict is called when an entry is evicted.
	OnEvict func(key K, value V)
}

// Stats holds cache statistics.
type Stats struct {
	Length    int   `json:"length"`
	HitCount  int64 `json:"hit_count"`
	MissCount int64 `json:"miss_count"`
}

// HitRate returns the cache hit rate.
func (s Stats) HitRate() float64 {
	total := s.HitCount + s.MissCount
	if total == 0 {
		return 0
	}
	return float64(s.HitCount) / float64(total)
}

// LRU is an in-memory LRU cache that tracks hits and misses.
// It is safe for concurrent use.
type LRU[K comparable, V any] struct {
	items *lru.Cache[K, V]

	mu        sync.Mutex
	hitCount  int64
	missCount int64
}

// New creates a new LRU cache with the given options.
func New[K comparable, V any](opts Options[K, V]) *LRU[K, V] {
	size := opts.MaxSize
	if size <= 0 {
		size = DefaultMaxSize
	}
	var items *lru.Cache[K, V]
	if opts.OnEvict != nil {
		items, _ = lru.NewWithEvict(size, opts.OnEvict)
	} else {
		items, _ = lru.New[K, V](size)
	}
	return &LRU[K, V]{items: items}
}

// Get retrieves a value and updates statistics.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	val, found := c.items.Get(key)
	c.mu.Lock()
	if found {
		c.hitCount++
	} else {
		c.missCount++
	}
	c.mu.Unlock()
	return val, found
}

// Peek retrieves a value without touching recency or statistics.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	return c.items.Peek(key)
}

// Set stores a value, evicting the least recently used entry when full.
func (c *LRU[K, V]) Set(key K, value V) {
	c.items.Add(key, value)
}

// Delete removes a key from the cache.
func (c *LRU[K, V]) Delete(key K) {
	c.items.Remove(key)
}

// Clear removes all entries from the cache.
func (c *LRU[K, V]) Clear() {
	c.items.Purge()
}

// Len returns the number of entries in the cache.
func (c *LRU[K, V]) Len() int {
	return c.items.Len()
}

// Keys returns the keys from oldest to newest.
func (c *LRU[K, V]) Keys() []K {
	return c.items.Keys()
}

// Stats returns the current cache statistics.
func (c *LRU[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Length:    c.items.Len(),
		HitCount:  c.hitCount,
		MissCount: c.missCount,
	}
}

// ResetStats resets the statistics counters.
func (c *LRU[K, V]) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hitCount = 0
	c.missCount = 0
}

// Sharded is a string keyed LRU split into shards to reduce lock contention.
type Sharded[V any] struct {
	shards []*LRU[string, V]
}

// NewSharded creates a cache with numShards shards of maxPerShard entries each.
func NewSharded[V any](numShards, maxPerShard int) *Sharded[V] {
	if numShards <= 0 {
		numShards = 1
	}
	shards := make([]*LRU[string, V], numShards)
	for i := range shards {
		shards[i] = New(Options[string, V]{MaxSize: maxPerShard})
	}
	return &Sharded[V]{shards: shards}
}

// shardIndex returns the shard index for a key.
func (s *Sharded[V]) shardIndex(key string) uint32 {
	var hash uint32
	for _, c := range key {
		hash = hash*31 + uint32(c)
	}
	return hash % uint32(len(s.shards))
}

// Get retrieves a value from the appropriate shard.
func (s *Sharded[V]) Get(key string) (V, bool) {
	return s.shards[s.shardIndex(key)].Get(key)
}

// Peek retrieves a value without updating recency or statistics.
func (s *Sharded[V]) Peek(key string) (V, bool) {
	return s.shards[s.shardIndex(key)].Peek(key)
}

// Set sets a value in the appropriate shard.
func (s *Sharded[V]) Set(key string, value V) {
	s.shards[s.shardIndex(key)].Set(key, value)
}

// Delete deletes a key from the appropriate shard.
func (s *Sharded[V]) Delete(key string) {
	s.shards[s.shardIndex(key)].Delete(key)
}

// Clear clears all shards.
func (s *Sharded[V]) Clear() {
	for _, shard := range s.shards {
		shard.Clear()
	}
}

// Len returns the total number of entries across all shards.
func (s *Sharded[V]) Len() int {
	total := 0
	for _, shard := range s.shards {
		total += shard.Len()
	}
	return total
}

// Stats sums the statistics of every shard.
func (s *Sharded[V]) Stats() Stats {
	var total Stats
	for _, shard := range s.shards {
		st := shard.Stats()
		total.Length += st.Length
		total.HitCount += st.HitCount
		total.MissCount += st.MissCount
	}
	return total
}
