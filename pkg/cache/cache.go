// pkg/cache/cache.go
// Generic TTL cache with access-count eviction
//
// LEARN: This cache demonstrates:
// 1. Multiple type parameters (K for key, V for value)
// 2. Identity keys: a pointer type as K compares by address, so two
//    distinct objects with equal contents are distinct keys
// 3. Lazy expiry on read plus an optional background sweep
//
// A miss is never an error. Callers treat it as "recompute".

package cache

import (
	"context"
	"sync"
	"time"

	"github.com/khaaliswooden-max/resmem/pkg/errors"
)

// entry is a cached value with its bookkeeping.
type entry[V any] struct {
	value       V
	timestamp   time.Time
	accessCount int64
}

// Config holds cache configuration.
type Config[K comparable, V any] struct {
	TTL     time.Duration // Entry lifetime (default: 5m)
	MaxSize int           // Maximum entries (default: 1000)

	// OnEvict is called for entries removed by capacity eviction,
	// expiry or Delete. It runs with the cache lock released.
	OnEvict func(key K, value V)

	// Now overrides the clock (tests).
	Now func() time.Time
}

// Defaults used when Config fields are zero.
const (
	DefaultTTL     = 5 * time.Minute
	DefaultMaxSize = 1000
)

// Stats is a read-only snapshot of cache counters.
type Stats struct {
	Size      int     `json:"size"`
	MaxSize   int     `json:"maxSize"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Expired   int64   `json:"expired"`
	HitRate   float64 `json:"hitRate"`
}

// Cache is a thread-safe key/value store with per-entry TTL.
//
// LEARN: Type constraints in action:
// - K comparable: Keys must support == for map operations
// - V any: Values can be any type
type Cache[K comparable, V any] struct {
	name    string
	mu      sync.Mutex
	items   map[K]*entry[V]
	ttl     time.Duration
	maxSize int
	onEvict func(K, V)
	now     func() time.Time
	closed  bool

	hits, misses, evictions, expired int64

	sweepCancel context.CancelFunc
	sweepWG     sync.WaitGroup
}

// New creates a cache.
func New[K comparable, V any](name string, cfg Config[K, V]) *Cache[K, V] {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache[K, V]{
		name:    name,
		items:   make(map[K]*entry[V], cfg.MaxSize),
		ttl:     cfg.TTL,
		maxSize: cfg.MaxSize,
		onEvict: cfg.OnEvict,
		now:     cfg.Now,
	}
}

// Name returns the cache name used in stats and metrics.
func (c *Cache[K, V]) Name() string {
	return c.name
}

type evicted[K comparable, V any] struct {
	key   K
	value V
}

// Set inserts or overwrites a value. When the cache is full the entry
// with the lowest access count is evicted first (expired entries go
// before any live one).
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	c.mustOpen("set")

	now := c.now()
	if e, ok := c.items[key]; ok {
		e.value = value
		e.timestamp = now
		c.mu.Unlock()
		return
	}

	var dropped []evicted[K, V]
	if len(c.items) >= c.maxSize {
		dropped = c.purgeExpiredLocked(now)
	}
	if len(c.items) >= c.maxSize {
		if k, v, ok := c.evictLeastUsedLocked(); ok {
			dropped = append(dropped, evicted[K, V]{k, v})
		}
	}

	c.items[key] = &entry[V]{value: value, timestamp: now}
	c.mu.Unlock()

	c.notify(dropped)
}

// Get returns the value for key if it is present and unexpired. A stale
// entry is removed as part of the lookup.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	var zero V

	c.mu.Lock()
	c.mustOpen("get")

	e, ok := c.items[key]
	if !ok {
		c.misses++
		c.mu.Unlock()
		return zero, false
	}
	if c.now().Sub(e.timestamp) > c.ttl {
		delete(c.items, key)
		c.misses++
		c.expired++
		c.mu.Unlock()
		c.notify([]evicted[K, V]{{key, e.value}})
		return zero, false
	}

	e.accessCount++
	c.hits++
	v := e.value
	c.mu.Unlock()
	return v, true
}

// Delete removes a key. It reports whether the key was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	c.mustOpen("delete")
	e, ok := c.items[key]
	if ok {
		delete(c.items, key)
	}
	c.mu.Unlock()

	if ok {
		c.notify([]evicted[K, V]{{key, e.value}})
	}
	return ok
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Clear removes all entries without invoking OnEvict.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	c.mustOpen("clear")
	c.items = make(map[K]*entry[V], c.maxSize)
	c.mu.Unlock()
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *Cache[K, V]) Sweep() int {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	dropped := c.purgeExpiredLocked(c.now())
	c.mu.Unlock()

	c.notify(dropped)
	return len(dropped)
}

// StartSweep runs Sweep every interval until Stop or Close.
// Calling it again replaces the previous sweeper.
func (c *Cache[K, V]) StartSweep(interval time.Duration) {
	if interval <= 0 {
		return
	}
	c.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.sweepCancel = cancel
	c.mu.Unlock()

	c.sweepWG.Add(1)
	go func() {
		defer c.sweepWG.Done()
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
	}()
}

// Stop halts the background sweeper, if any.
func (c *Cache[K, V]) Stop() {
	c.mu.Lock()
	cancel := c.sweepCancel
	c.sweepCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		c.sweepWG.Wait()
	}
}

// Close stops the sweeper and tears the cache down. Later Set/Get/Delete/
// Clear calls panic.
func (c *Cache[K, V]) Close() {
	c.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.items = nil
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:      len(c.items),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// === Helper Methods ===

func (c *Cache[K, V]) mustOpen(op string) {
	if c.closed {
		c.mu.Unlock()
		panic(errors.WrapMisuse("cache "+c.name, op))
	}
}

// purgeExpiredLocked removes expired entries. Caller holds c.mu.
func (c *Cache[K, V]) purgeExpiredLocked(now time.Time) []evicted[K, V] {
	var dropped []evicted[K, V]
	for k, e := range c.items {
		if now.Sub(e.timestamp) > c.ttl {
			delete(c.items, k)
			c.expired++
			dropped = append(dropped, evicted[K, V]{k, e.value})
		}
	}
	return dropped
}

// evictLeastUsedLocked removes the entry with the lowest access count,
// breaking ties by age. Caller holds c.mu.
func (c *Cache[K, V]) evictLeastUsedLocked() (K, V, bool) {
	var (
		victim K
		oldest *entry[V]
	)
	for k, e := range c.items {
		if oldest == nil ||
			e.accessCount < oldest.accessCount ||
			(e.accessCount == oldest.accessCount && e.timestamp.Before(oldest.timestamp)) {
			victim, oldest = k, e
		}
	}
	if oldest == nil {
		var zero V
		return victim, zero, false
	}
	delete(c.items, victim)
	c.evictions++
	return victim, oldest.value, true
}

func (c *Cache[K, V]) notify(dropped []evicted[K, V]) {
	if c.onEvict == nil {
		return
	}
	for _, d := range dropped {
		c.onEvict(d.key, d.value)
	}
}
