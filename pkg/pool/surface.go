// pkg/pool/surface.go
// Drawing-surface pool for offscreen rendering contexts

package pool

// Surface is a drawing-context-like handle: a pixel buffer plus the
// mutable state a renderer leaves behind (transform, alpha, clip).
type Surface struct {
	Width     int
	Height    int
	Pixels    []uint32
	Transform [6]float64
	Alpha     float64
	Clip      [4]int
}

// NewSurface allocates a cleared surface.
func NewSurface(width, height int) *Surface {
	s := &Surface{
		Width:  width,
		Height: height,
		Pixels: make([]uint32, width*height),
	}
	s.Reset()
	return s
}

// Reset clears pixels and restores default drawing state.
func (s *Surface) Reset() {
	clear(s.Pixels)
	s.Transform = [6]float64{1, 0, 0, 1, 0, 0}
	s.Alpha = 1
	s.Clip = [4]int{0, 0, s.Width, s.Height}
}

// Bytes reports the pixel memory held by the surface.
func (s *Surface) Bytes() int64 {
	return int64(len(s.Pixels)) * 4
}

// SurfacePool pools *Surface handles keyed by dimensions.
type SurfacePool struct {
	pool          *Pool[*Surface]
	defaultWidth  int
	defaultHeight int
}

// NewSurfacePool creates a surface pool. Acquire with no size hands out
// surfaces of the default dimensions.
func NewSurfacePool(name string, maxSize, defaultWidth, defaultHeight int) *SurfacePool {
	if defaultWidth <= 0 {
		defaultWidth = 300
	}
	if defaultHeight <= 0 {
		defaultHeight = 150
	}
	return &SurfacePool{
		pool: New(name, Config[*Surface]{
			MaxSize: maxSize,
			New: func() *Surface {
				return NewSurface(defaultWidth, defaultHeight)
			},
			Reset: (*Surface).Reset,
			Destroy: func(s *Surface) {
				s.Pixels = nil
			},
			Same: func(a, b *Surface) bool { return a == b },
		}),
		defaultWidth:  defaultWidth,
		defaultHeight: defaultHeight,
	}
}

// Acquire returns a default-sized surface.
func (p *SurfacePool) Acquire() *Surface {
	return p.AcquireSize(p.defaultWidth, p.defaultHeight)
}

// AcquireSize returns a pooled surface with exactly these dimensions, or
// allocates one.
func (p *SurfacePool) AcquireSize(width, height int) *Surface {
	if width <= 0 || height <= 0 {
		width, height = p.defaultWidth, p.defaultHeight
	}
	return p.pool.AcquireFunc(
		func(s *Surface) bool { return s.Width == width && s.Height == height },
		func() *Surface { return NewSurface(width, height) },
	)
}

// Release resets the surface and returns it to the pool.
func (p *SurfacePool) Release(s *Surface) {
	if s == nil {
		return
	}
	p.pool.Release(s)
}

// Preload allocates n default-sized surfaces.
func (p *SurfacePool) Preload(n int) {
	p.pool.Preload(n)
}

// Close tears the pool down.
func (p *SurfacePool) Close() {
	p.pool.Close()
}

// Stats returns pool counters.
func (p *SurfacePool) Stats() Stats {
	return p.pool.Stats()
}

// Name returns the pool name.
func (p *SurfacePool) Name() string {
	return p.pool.Name()
}
