//go:build unix

// pkg/ring/segment_unix.go
// Ring buffers in a shared memory segment using mmap(2)
//
// LEARN: MAP_SHARED mappings of the same file are backed by the same
// physical pages, so two processes (or two mappings in one process) see
// each other's writes. The cursors live in the first bytes of the
// segment and are accessed with the same atomic loads/stores used by
// heap buffers, which is what makes the ring safe across processes.
//
// Segment layout:
//
//	[0:8)     write cursor
//	[64:72)   read cursor
//	[128:136) capacity (validated on attach)
//	[192:...) data

package ring

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/khaaliswooden-max/resmem/pkg/errors"
)

const (
	writeOffset    = 0
	readOffset     = 64
	capacityOffset = 128
	headerSize     = 192
)

// CreateSegment creates (or truncates) the file at path, sizes it for
// capacity data bytes, maps it shared and returns an empty buffer over it.
//
// Use a tmpfs path such as /dev/shm/<name> so the pages never hit disk.
func CreateSegment(path string, capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, errors.ErrInvalidCapacity
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(headerSize + capacity)); err != nil {
		f.Close()
		return nil, err
	}

	b, err := mapSegment(f, headerSize+capacity)
	if err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint64(b.header[capacityOffset:], uint64(capacity))
	b.Buffer.capacity = uint64(capacity)
	return b.Buffer, nil
}

// AttachSegment maps an existing segment created by CreateSegment,
// typically from the other side of a producer/consumer pair.
func AttachSegment(path string) (*Buffer, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := int(info.Size())
	if size <= headerSize {
		f.Close()
		return nil, fmt.Errorf("segment %s: %w", path, errors.ErrInvalidCapacity)
	}

	b, err := mapSegment(f, size)
	if err != nil {
		return nil, err
	}
	capacity := binary.LittleEndian.Uint64(b.header[capacityOffset:])
	if capacity == 0 || capacity != uint64(size-headerSize) {
		b.Buffer.Close()
		return nil, fmt.Errorf("segment %s: header capacity %d: %w", path, capacity, errors.ErrInvalidCapacity)
	}
	b.Buffer.capacity = capacity
	return b.Buffer, nil
}

type mappedBuffer struct {
	*Buffer
	header []byte
}

// mapSegment maps size bytes of f and wires the buffer cursors into the
// header. Ownership of f passes to the returned buffer.
func mapSegment(f *os.File, size int) (*mappedBuffer, error) {
	region, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}

	// mmap returns page-aligned memory, so the 8-byte cursor slots are
	// correctly aligned for 64-bit atomics on every platform.
	b := &Buffer{
		data:    region[headerSize:],
		mapping: region,
		write:   (*atomic.Uint64)(unsafe.Pointer(&region[writeOffset])),
		read:    (*atomic.Uint64)(unsafe.Pointer(&region[readOffset])),
	}
	b.release = func() error {
		err := unix.Munmap(region)
		if ferr := f.Close(); err == nil {
			err = ferr
		}
		return err
	}
	return &mappedBuffer{Buffer: b, header: region[:headerSize]}, nil
}

// SyncSegment flushes a shared buffer's pages to its backing file. It is
// only needed when the segment lives on a real filesystem.
func SyncSegment(b *Buffer) error {
	if !b.Shared() {
		return nil
	}
	b.enter("sync")
	defer b.leave()
	return unix.Msync(b.mapping, unix.MS_SYNC)
}
