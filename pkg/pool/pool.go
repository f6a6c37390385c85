// pkg/pool/pool.go
// Bounded object pool for expensive, reusable rendering resources
//
// LEARN: sync.Pool is the usual tool for reducing allocations, but it
// hides its contents from us: objects can vanish on any GC cycle and we
// cannot count them. Rendering resources need exact accounting (how many
// are handed out, how many wait for reuse) and a destructor when the
// pool overflows, so this pool keeps its own free list.
//
// Key rules:
// 1. Acquire never blocks and never fails: an empty pool allocates.
// 2. Release resets the resource, then pools it or destroys it.
// 3. A resource is either available (in the free list) or active (held).

package pool

import (
	"fmt"
	"sync"

	"github.com/khaaliswooden-max/resmem/pkg/errors"
)

// Config describes how a pool creates, resets and destroys resources.
type Config[T any] struct {
	// MaxSize bounds the available set. Releases beyond it destroy the
	// resource instead of pooling it. Default: 16.
	MaxSize int

	// New constructs a fresh resource. Required.
	New func() T

	// Reset clears resource-specific state before the resource is pooled.
	Reset func(T)

	// Destroy is called for resources dropped on overflow or on Close.
	Destroy func(T)

	// Same reports whether two values are the same resource. When set,
	// releasing a resource that is already available panics instead of
	// pooling it twice.
	Same func(a, b T) bool
}

// Stats is a read-only snapshot of pool counters.
type Stats struct {
	Active    int   `json:"active"`
	Available int   `json:"available"`
	MaxSize   int   `json:"maxSize"`
	Created   int64 `json:"created"`
	Destroyed int64 `json:"destroyed"`
	Reused    int64 `json:"reused"`
	Acquired  int64 `json:"acquired"`
	Released  int64 `json:"released"`
}

// ReuseRate returns the percentage of acquisitions served from the free list.
//
// LEARN: High reuse rate (>80%) indicates the pool is effective.
// A low rate usually means MaxSize is too small for the working set.
func (s Stats) ReuseRate() float64 {
	if s.Acquired == 0 {
		return 0
	}
	return float64(s.Reused) / float64(s.Acquired) * 100
}

// Pool is a generic acquire/release container.
//
// LEARN: A mutex rather than channels: the hot path is a slice push/pop,
// and matching acquisitions (AcquireFunc) need to scan the free list,
// which a channel cannot do.
type Pool[T any] struct {
	name    string
	mu      sync.Mutex
	free    []T
	active  int
	maxSize int
	factory func() T
	reset   func(T)
	destroy func(T)
	same    func(a, b T) bool
	closed  bool
	stats   Stats
}

// DefaultMaxSize is used when Config.MaxSize is not positive.
const DefaultMaxSize = 16

// New creates a pool. It panics if cfg.New is nil since a pool that cannot
// allocate would break the never-fail contract of Acquire.
func New[T any](name string, cfg Config[T]) *Pool[T] {
	if cfg.New == nil {
		panic("pool: " + name + ": nil factory")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	return &Pool[T]{
		name:    name,
		free:    make([]T, 0, cfg.MaxSize),
		maxSize: cfg.MaxSize,
		factory: cfg.New,
		reset:   cfg.Reset,
		destroy: cfg.Destroy,
		same:    cfg.Same,
	}
}

// Name returns the pool's name as used in stats and metrics.
func (p *Pool[T]) Name() string {
	return p.name
}

// Acquire returns a pooled resource, or a new one if none is available.
func (p *Pool[T]) Acquire() T {
	return p.AcquireFunc(nil, nil)
}

// AcquireFunc returns the most recently released resource for which match
// reports true. When nothing matches, create (or the pool factory when
// create is nil) builds a fresh resource.
//
// LEARN: Scanning from the end keeps the common "no predicate" case O(1)
// and hands out the warmest resource first.
func (p *Pool[T]) AcquireFunc(match func(T) bool, create func() T) T {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		panic(errors.WrapMisuse("pool "+p.name, "acquire"))
	}

	p.stats.Acquired++
	for i := len(p.free) - 1; i >= 0; i-- {
		item := p.free[i]
		if match != nil && !match(item) {
			continue
		}
		last := len(p.free) - 1
		p.free[i] = p.free[last]
		var zero T
		p.free[last] = zero
		p.free = p.free[:last]
		p.active++
		p.stats.Reused++
		p.mu.Unlock()
		return item
	}

	p.active++
	p.stats.Created++
	p.mu.Unlock()

	// Allocate outside the lock: factories may be slow.
	if create != nil {
		return create()
	}
	return p.factory()
}

// Release returns a resource to the pool. The resource is reset first; if
// the available set is already full it is destroyed instead.
//
// Releasing more resources than are active, or (with Config.Same) a
// resource that is already available, panics with a misuse error: pooling
// it again would hand one resource to two owners.
//
// WARNING: Using a resource after Release is a data race, the next
// Acquire may hand it to someone else.
func (p *Pool[T]) Release(item T) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		panic(errors.WrapMisuse("pool "+p.name, "release"))
	}
	if p.active == 0 || p.availableLocked(item) {
		p.mu.Unlock()
		panic(fmt.Errorf("%w: resource was not acquired", errors.WrapMisuse("pool "+p.name, "release")))
	}
	p.stats.Released++
	p.active--

	// LEARN: Reset runs under the lock so a concurrent double release
	// cannot slip the same resource into the free list between the
	// check above and the append below.
	if p.reset != nil {
		p.reset(item)
	}
	p.keepLocked(item)
}

// availableLocked reports whether item is already in the free list.
func (p *Pool[T]) availableLocked(item T) bool {
	if p.same == nil {
		return false
	}
	for _, f := range p.free {
		if p.same(f, item) {
			return true
		}
	}
	return false
}

// keepLocked pools item, or destroys it when the pool is full or closed.
// It releases the lock and reports whether item was pooled.
func (p *Pool[T]) keepLocked(item T) bool {
	if p.closed || len(p.free) >= p.maxSize {
		p.stats.Destroyed++
		p.mu.Unlock()
		if p.destroy != nil {
			p.destroy(item)
		}
		return false
	}
	p.free = append(p.free, item)
	p.mu.Unlock()
	return true
}

// Preload fills the available set with up to n fresh resources. The
// factory runs without the lock, so capacity and teardown are checked
// again before each resource is pooled.
func (p *Pool[T]) Preload(n int) {
	for i := 0; i < n; i++ {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			panic(errors.WrapMisuse("pool "+p.name, "preload"))
		}
		if len(p.free) >= p.maxSize {
			p.mu.Unlock()
			return
		}
		p.stats.Created++
		p.mu.Unlock()

		item := p.factory()

		p.mu.Lock()
		if !p.keepLocked(item) {
			return
		}
	}
}

// Drain destroys every available resource but keeps the pool usable.
func (p *Pool[T]) Drain() int {
	p.mu.Lock()
	items := p.free
	p.free = make([]T, 0, p.maxSize)
	p.stats.Destroyed += int64(len(items))
	p.mu.Unlock()

	if p.destroy != nil {
		for _, item := range items {
			p.destroy(item)
		}
	}
	return len(items)
}

// Close drains the pool and marks it torn down. Later Acquire or Release
// calls panic. Close is idempotent.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.Drain()
}

// Stats returns a copy of current statistics.
//
// LEARN: Returning a copy prevents race conditions if caller
// reads stats while pool is in use.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Active = p.active
	s.Available = len(p.free)
	s.MaxSize = p.maxSize
	return s
}
