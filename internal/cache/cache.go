// Package cache implements the process-local TTL cache that sits in front of
// the durable price store.
//
// All buckets share one table keyed by (bucket, key). The table is split
// into shards, each guarded by its own RWMutex, so that orchestrator workers
// touching different tickers do not contend on a single lock.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/folio/market-engine/internal/metrics"
)

// Bucket names a cache partition with its own expiry policy.
type Bucket string

const (
	Current    Bucket = "current"
	Historical Bucket = "historical"
	Intraday   Bucket = "intraday"
	Name       Bucket = "name"
	Benchmark  Bucket = "benchmark"
)

// NoExpiry disables expiry for a bucket.
const NoExpiry time.Duration = 0

// DefaultTTLs are the expiry policies of the built-in buckets. Asset names
// are treated as immutable and never expire.
var DefaultTTLs = map[Bucket]time.Duration{
	Current:    15 * time.Minute,
	Historical: 7 * 24 * time.Hour,
	Intraday:   time.Minute,
	Name:       NoExpiry,
	Benchmark:  time.Hour,
}

const defaultShards = 16

type entryKey struct {
	bucket Bucket
	key    string
}

type entry struct {
	value     any
	fetchedAt time.Time
}

type shard struct {
	mu      sync.RWMutex
	entries map[entryKey]entry
	counts  map[Bucket]int
}

// set and remove keep counts in step with entries; callers hold mu.
func (s *shard) set(k entryKey, e entry) {
	if _, ok := s.entries[k]; !ok {
		s.counts[k.bucket]++
	}
	s.entries[k] = e
}

func (s *shard) remove(k entryKey) bool {
	if _, ok := s.entries[k]; !ok {
		return false
	}
	delete(s.entries, k)
	s.counts[k.bucket]--
	return true
}

// Cache is a sharded, multi-bucket TTL cache. Construct one per process and
// pass it to every component that needs it.
type Cache struct {
	shards     []*shard
	ttl        map[Bucket]time.Duration
	maxEntries map[Bucket]int
	now        func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithShards sets the number of lock shards. Values below 1 are ignored.
func WithShards(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.shards = newShards(n)
		}
	}
}

// WithTTL sets or overrides the TTL of a bucket.
func WithTTL(b Bucket, ttl time.Duration) Option {
	return func(c *Cache) { c.ttl[b] = ttl }
}

// WithMaxEntries bounds the number of entries a bucket may hold. When the
// bound is hit, the oldest entry of that bucket in the same shard is evicted.
func WithMaxEntries(b Bucket, n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries[b] = n
		}
	}
}

// New creates a cache with the default bucket TTLs.
func New(opts ...Option) *Cache {
	c := &Cache{
		shards:     newShards(defaultShards),
		ttl:        make(map[Bucket]time.Duration, len(DefaultTTLs)),
		maxEntries: make(map[Bucket]int),
		now:        time.Now,
	}
	for b, ttl := range DefaultTTLs {
		c.ttl[b] = ttl
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newShards(n int) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{entries: make(map[entryKey]entry), counts: make(map[Bucket]int)}
	}
	return shards
}

func (c *Cache) shardFor(k entryKey) *shard {
	h := xxhash.Sum64String(string(k.bucket) + "\x00" + k.key)
	return c.shards[h%uint64(len(c.shards))]
}

// expired reports whether e is past its bucket's TTL at now.
func (c *Cache) expired(b Bucket, e entry, now time.Time) bool {
	ttl := c.ttl[b]
	if ttl == NoExpiry {
		return false
	}
	return now.Sub(e.fetchedAt) >= ttl
}

// Get returns the cached value for (bucket, key). Expired entries read as
// absent and are evicted. A value of a different type also reads as absent.
func Get[T any](c *Cache, b Bucket, key string) (T, bool) {
	var zero T
	v, ok := c.get(b, key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

func (c *Cache) get(b Bucket, key string) (any, bool) {
	k := entryKey{bucket: b, key: key}
	s := c.shardFor(k)
	now := c.now()

	s.mu.RLock()
	e, ok := s.entries[k]
	s.mu.RUnlock()

	if !ok {
		metrics.CacheRequests.WithLabelValues(string(b), "miss").Inc()
		return nil, false
	}
	if c.expired(b, e, now) {
		s.mu.Lock()
		if cur, ok := s.entries[k]; ok && c.expired(b, cur, now) {
			s.remove(k)
		}
		s.mu.Unlock()
		metrics.CacheRequests.WithLabelValues(string(b), "expired").Inc()
		return nil, false
	}
	metrics.CacheRequests.WithLabelValues(string(b), "hit").Inc()
	return e.value, true
}

// Put stores value under (bucket, key) and resets its fetch time. When a
// bounded bucket is full in the touched shard, its expired entries are
// dropped first and otherwise its oldest entry is evicted.
func (c *Cache) Put(b Bucket, key string, value any) {
	k := entryKey{bucket: b, key: key}
	s := c.shardFor(k)
	now := c.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[k]; !exists {
		if bound, ok := c.maxEntries[b]; ok && s.counts[b] >= c.perShardLimit(bound) {
			c.makeRoom(s, b, now)
		}
	}
	s.set(k, entry{value: value, fetchedAt: now})
}

// makeRoom frees at least one slot of bucket b in s. Callers hold s.mu.
func (c *Cache) makeRoom(s *shard, b Bucket, now time.Time) {
	var oldest entryKey
	var oldestAt time.Time
	swept := false
	for ek, e := range s.entries {
		if ek.bucket != b {
			continue
		}
		if c.expired(b, e, now) {
			s.remove(ek)
			swept = true
			continue
		}
		if oldestAt.IsZero() || e.fetchedAt.Before(oldestAt) {
			oldest, oldestAt = ek, e.fetchedAt
		}
	}
	if swept || oldestAt.IsZero() {
		return
	}
	s.remove(oldest)
	metrics.CacheEvictions.WithLabelValues(string(b)).Inc()
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			if c.expired(k.bucket, e, now) && s.remove(k) {
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}

// Run sweeps expired entries every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// perShardLimit spreads a bucket bound across shards, rounding up.
func (c *Cache) perShardLimit(bound int) int {
	n := len(c.shards)
	return (bound + n - 1) / n
}

// Delete removes (bucket, key).
func (c *Cache) Delete(b Bucket, key string) {
	k := entryKey{bucket: b, key: key}
	s := c.shardFor(k)
	s.mu.Lock()
	s.remove(k)
	s.mu.Unlock()
}

// DeleteFunc removes every entry of bucket whose key matches and returns how
// many were removed.
func (c *Cache) DeleteFunc(b Bucket, match func(key string) bool) int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for k := range s.entries {
			if k.bucket == b && match(k.key) && s.remove(k) {
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}

// Clear invalidates every entry in every bucket.
func (c *Cache) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.entries = make(map[entryKey]entry)
		s.counts = make(map[Bucket]int)
		s.mu.Unlock()
	}
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}
