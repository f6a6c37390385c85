// pkg/pool/buffers.go
// Numeric buffer pool for chart series data
//
// LEARN: Series buffers are []float64 slices. Pooling the slice header
// directly is fine here because the pool stores and returns the same
// header, so the backing array identity is preserved.

package pool

// DefaultBufferLength is the capacity allocated when no size is requested.
const DefaultBufferLength = 1024

// Float64Pool pools []float64 buffers.
//
// Acquire(0) hands out a buffer of DefaultBufferLength (or the configured
// default). Acquire(n) reuses any pooled buffer with capacity >= n and
// otherwise allocates exactly n elements.
type Float64Pool struct {
	pool          *Pool[[]float64]
	defaultLength int
}

// NewFloat64Pool creates a numeric buffer pool. defaultLength <= 0 selects
// DefaultBufferLength.
func NewFloat64Pool(name string, maxSize, defaultLength int) *Float64Pool {
	if defaultLength <= 0 {
		defaultLength = DefaultBufferLength
	}
	return &Float64Pool{
		pool: New(name, Config[[]float64]{
			MaxSize: maxSize,
			New: func() []float64 {
				return make([]float64, defaultLength)
			},
			Reset: func(b []float64) {
				clear(b[:cap(b)])
			},
			Same: sameBacking,
		}),
		defaultLength: defaultLength,
	}
}

// Acquire returns a zeroed buffer of length size (or the default length
// when size <= 0).
func (p *Float64Pool) Acquire(size int) []float64 {
	if size <= 0 {
		size = p.defaultLength
	}
	buf := p.pool.AcquireFunc(
		func(b []float64) bool { return cap(b) >= size },
		func() []float64 { return make([]float64, size) },
	)
	return buf[:size]
}

// Release returns a buffer to the pool. Zero-capacity buffers are ignored.
func (p *Float64Pool) Release(buf []float64) {
	if cap(buf) == 0 {
		return
	}
	p.pool.Release(buf[:cap(buf)])
}

// sameBacking reports whether two buffers share a backing array. Release
// never pools zero-capacity buffers, so both have a first element.
func sameBacking(a, b []float64) bool {
	return &a[:1][0] == &b[:1][0]
}

// Preload allocates n default-length buffers ahead of time.
func (p *Float64Pool) Preload(n int) {
	p.pool.Preload(n)
}

// Close tears the pool down.
func (p *Float64Pool) Close() {
	p.pool.Close()
}

// Stats returns pool counters.
func (p *Float64Pool) Stats() Stats {
	return p.pool.Stats()
}

// Name returns the pool name.
func (p *Float64Pool) Name() string {
	return p.pool.Name()
}
