// pkg/ring/buffer.go
// Single-producer/single-consumer byte ring with atomic cursors
//
// LEARN: The ring needs no lock because each cursor has exactly one
// writer:
// - the producer owns the write cursor, the consumer owns the read cursor
// - each side loads the other's cursor atomically to compute space
// - data is copied BEFORE the owning cursor is published with Store,
//   so the other side never observes a cursor ahead of its bytes
//
// Cursors are free-running 64-bit counters; positions in the backing
// region are cursor % capacity. used = write - read is therefore always
// in [0, capacity] and a completely full ring is distinguishable from an
// empty one without sacrificing a slot.

package ring

import (
	"runtime"
	"sync/atomic"

	"github.com/khaaliswooden-max/resmem/pkg/errors"
)

// Stats is a read-only snapshot of one buffer.
type Stats struct {
	Capacity       int    `json:"capacity"`
	Used           int    `json:"used"`
	BytesWritten   uint64 `json:"bytesWritten"`
	BytesRead      uint64 `json:"bytesRead"`
	RejectedWrites uint64 `json:"rejectedWrites"`
	Shared         bool   `json:"shared"`
}

// Buffer is a fixed-capacity circular byte store.
//
// It supports exactly one concurrent writer and one concurrent reader.
// Multiple writers or readers need an external mutex.
type Buffer struct {
	capacity uint64
	data     []byte
	mapping  []byte // whole shared mapping, nil for heap buffers

	// Cursors point either at the local fields below (heap buffers) or
	// into the header of a shared mapping.
	write *atomic.Uint64
	read  *atomic.Uint64

	localWrite atomic.Uint64
	_          [56]byte // keep the cursors on separate cache lines
	localRead  atomic.Uint64

	rejected atomic.Uint64
	closed   atomic.Bool
	inflight atomic.Int64 // operations between enter and leave
	release  func() error
}

// New creates a heap-backed buffer.
func New(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, errors.ErrInvalidCapacity
	}
	b := &Buffer{
		capacity: uint64(capacity),
		data:     make([]byte, capacity),
	}
	b.write = &b.localWrite
	b.read = &b.localRead
	return b, nil
}

// Capacity returns the fixed size of the buffer in bytes.
func (b *Buffer) Capacity() int {
	return int(b.capacity)
}

// Used returns the number of unread bytes.
func (b *Buffer) Used() int {
	b.enter("used")
	defer b.leave()
	return int(b.write.Load() - b.read.Load())
}

// Free returns the number of bytes a write can currently accept.
func (b *Buffer) Free() int {
	b.enter("free")
	defer b.leave()
	return int(b.capacity - (b.write.Load() - b.read.Load()))
}

// Write copies p into the buffer if it fits entirely. A write that would
// overflow is rejected without any mutation (backpressure): the caller
// decides whether to retry or drop.
func (b *Buffer) Write(p []byte) bool {
	b.enter("write")
	defer b.leave()

	w := b.write.Load()
	r := b.read.Load()
	if uint64(len(p)) > b.capacity-(w-r) {
		b.rejected.Add(1)
		return false
	}
	if len(p) == 0 {
		return true
	}

	pos := w % b.capacity
	n := copy(b.data[pos:], p)
	copy(b.data, p[n:])

	b.write.Store(w + uint64(len(p)))
	return true
}

// Read returns up to maxLen unread bytes and advances the read cursor.
// It returns nil when no data is available.
func (b *Buffer) Read(maxLen int) []byte {
	b.enter("read")
	defer b.leave()

	n := b.available(maxLen)
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	r := b.read.Load()
	b.copyOut(out, r)
	b.read.Store(r + uint64(n))
	return out
}

// ReadInto fills dst with up to len(dst) unread bytes and returns the
// count. It is the allocation-free form of Read.
func (b *Buffer) ReadInto(dst []byte) int {
	b.enter("read")
	defer b.leave()

	n := b.available(len(dst))
	if n == 0 {
		return 0
	}
	r := b.read.Load()
	b.copyOut(dst[:n], r)
	b.read.Store(r + uint64(n))
	return n
}

// Peek returns up to n unread bytes without consuming them.
func (b *Buffer) Peek(n int) []byte {
	b.enter("peek")
	defer b.leave()

	n = b.available(n)
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	b.copyOut(out, b.read.Load())
	return out
}

// Discard drops up to n unread bytes and returns how many were dropped.
func (b *Buffer) Discard(n int) int {
	b.enter("discard")
	defer b.leave()

	n = b.available(n)
	if n > 0 {
		b.read.Store(b.read.Load() + uint64(n))
	}
	return n
}

// Reset empties the buffer. It must not race with Read or Write.
func (b *Buffer) Reset() {
	b.enter("reset")
	defer b.leave()
	b.read.Store(b.write.Load())
}

// Shared reports whether the buffer lives in a shared memory segment.
func (b *Buffer) Shared() bool {
	return b.release != nil
}

// Close releases the backing region. Any later use panics. Close waits
// for operations already inside the buffer to finish before unmapping a
// shared region.
//
// LEARN: A shared region is unmapped memory after Close, and touching it
// is a SIGSEGV that no recover can catch. Every operation announces
// itself on the inflight counter before checking closed; Close sets
// closed before reading the counter. With sequentially consistent
// atomics one side always sees the other, so nothing can still be
// reading the mapping when it goes away. Operations never wait on each
// other, only Close waits.
func (b *Buffer) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	for b.inflight.Load() != 0 {
		runtime.Gosched()
	}

	// Keep the last cursor values in local memory so nothing points into
	// the mapping once it is gone.
	b.localWrite.Store(b.write.Load())
	b.localRead.Store(b.read.Load())
	b.write = &b.localWrite
	b.read = &b.localRead
	b.data = nil

	if b.release != nil {
		return b.release()
	}
	return nil
}

// Stats returns a snapshot of the buffer counters. A closed buffer
// reports only its capacity.
func (b *Buffer) Stats() Stats {
	if !b.tryEnter() {
		return Stats{Capacity: int(b.capacity), Shared: b.Shared()}
	}
	defer b.leave()

	w := b.write.Load()
	r := b.read.Load()
	return Stats{
		Capacity:       int(b.capacity),
		Used:           int(w - r),
		BytesWritten:   w,
		BytesRead:      r,
		RejectedWrites: b.rejected.Load(),
		Shared:         b.Shared(),
	}
}

// available returns min(limit, unread bytes), treating limit <= 0 as zero.
func (b *Buffer) available(limit int) int {
	if limit <= 0 {
		return 0
	}
	used := b.write.Load() - b.read.Load()
	if used == 0 {
		return 0
	}
	if uint64(limit) < used {
		return limit
	}
	return int(used)
}

// copyOut copies len(dst) bytes starting at cursor r, wrapping at the end.
func (b *Buffer) copyOut(dst []byte, r uint64) {
	pos := r % b.capacity
	n := copy(dst, b.data[pos:])
	copy(dst[n:], b.data)
}

// enter marks an operation in flight and panics with a misuse error if
// the buffer is closed. Every enter is paired with a leave.
func (b *Buffer) enter(op string) {
	if !b.tryEnter() {
		panic(errors.WrapMisuse("ring buffer", op))
	}
}

func (b *Buffer) tryEnter() bool {
	b.inflight.Add(1)
	if b.closed.Load() {
		b.inflight.Add(-1)
		return false
	}
	return true
}

func (b *Buffer) leave() {
	b.inflight.Add(-1)
}
