// pkg/ring/manager.go
// Keyed registry of transport buffers

package ring

import (
	"sort"
	"sync"

	"github.com/khaaliswooden-max/resmem/pkg/errors"
)

// ManagerStats summarizes every managed buffer.
type ManagerStats struct {
	BufferCount int              `json:"bufferCount"`
	TotalMemory int64            `json:"totalMemory"`
	Buffers     map[string]Stats `json:"buffers"`
}

// Manager owns buffers keyed by a string identifier. Lookup misses are
// reported with ok=false, never as errors.
type Manager struct {
	mu      sync.RWMutex
	buffers map[string]*Buffer
	closed  bool
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{buffers: make(map[string]*Buffer)}
}

// CreateBuffer allocates a heap-backed buffer under key.
func (m *Manager) CreateBuffer(key string, size int) (*Buffer, error) {
	return m.add(key, func() (*Buffer, error) { return New(size) })
}

// CreateShared creates a shared-segment buffer at path under key.
func (m *Manager) CreateShared(key, path string, size int) (*Buffer, error) {
	return m.add(key, func() (*Buffer, error) { return CreateSegment(path, size) })
}

// AttachShared maps an existing segment at path under key.
func (m *Manager) AttachShared(key, path string) (*Buffer, error) {
	return m.add(key, func() (*Buffer, error) { return AttachSegment(path) })
}

func (m *Manager) add(key string, build func() (*Buffer, error)) (*Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		panic(errors.WrapMisuse("ring manager", "create"))
	}
	if _, ok := m.buffers[key]; ok {
		return nil, errors.WrapBufferError(key, errors.ErrBufferExists)
	}
	b, err := build()
	if err != nil {
		return nil, errors.WrapBufferError(key, err)
	}
	m.buffers[key] = b
	return b, nil
}

// Get returns the buffer registered under key.
func (m *Manager) Get(key string) (*Buffer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buffers[key]
	return b, ok
}

// DeleteBuffer closes and forgets the buffer under key. It reports
// whether a buffer was found. The error comes from releasing a shared
// segment (munmap, closing the backing file); the buffer is forgotten
// either way.
func (m *Manager) DeleteBuffer(key string) (bool, error) {
	m.mu.Lock()
	b, ok := m.buffers[key]
	delete(m.buffers, key)
	m.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := b.Close(); err != nil {
		return true, errors.WrapBufferError(key, err)
	}
	return true, nil
}

// Keys returns the registered keys in sorted order.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.buffers))
	for k := range m.buffers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Stats reports buffer count and total backing memory.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := ManagerStats{
		BufferCount: len(m.buffers),
		Buffers:     make(map[string]Stats, len(m.buffers)),
	}
	for k, b := range m.buffers {
		bs := b.Stats()
		s.TotalMemory += int64(bs.Capacity)
		s.Buffers[k] = bs
	}
	return s
}

// Close releases every buffer. Later creates panic; Close is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	buffers := m.buffers
	m.buffers = make(map[string]*Buffer)
	m.closed = true
	m.mu.Unlock()

	var errs []error
	for key, b := range buffers {
		if err := b.Close(); err != nil {
			errs = append(errs, errors.WrapBufferError(key, err))
		}
	}
	return errors.Join(errs...)
}
