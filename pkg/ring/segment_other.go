//go:build !unix

// pkg/ring/segment_other.go
// Shared segments are only implemented on Unix

package ring

import "github.com/khaaliswooden-max/resmem/pkg/errors"

// CreateSegment is unsupported on this platform; use New for an
// in-process buffer.
func CreateSegment(path string, capacity int) (*Buffer, error) {
	return nil, errors.ErrSharedUnsupported
}

// AttachSegment is unsupported on this platform.
func AttachSegment(path string) (*Buffer, error) {
	return nil, errors.ErrSharedUnsupported
}

// SyncSegment is a no-op on this platform.
func SyncSegment(b *Buffer) error {
	return nil
}
