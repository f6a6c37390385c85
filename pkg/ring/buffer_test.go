// pkg/ring/buffer_test.go
// Tests for the SPSC ring buffer

package ring

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaaliswooden-max/resmem/pkg/errors"
)

func pattern(n int, seed byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = seed + byte(i)
	}
	return p
}

func TestNewRejectsBadCapacity(t *testing.T) {
	_, err := New(0)
	assert.ErrorIs(t, err, errors.ErrInvalidCapacity)
}

func TestBufferRoundTrip(t *testing.T) {
	t.Run("simple write then read", func(t *testing.T) {
		b, err := New(16)
		require.NoError(t, err)

		require.True(t, b.Write([]byte("hello")))
		assert.Equal(t, 5, b.Used())
		assert.Equal(t, []byte("hello"), b.Read(16))
		assert.Equal(t, 0, b.Used())
	})

	t.Run("read on empty returns nil", func(t *testing.T) {
		b, _ := New(8)
		assert.Nil(t, b.Read(8))
		assert.Zero(t, b.ReadInto(make([]byte, 4)))
	})

	t.Run("full capacity write", func(t *testing.T) {
		b, _ := New(8)
		data := pattern(8, 1)
		require.True(t, b.Write(data))
		assert.Zero(t, b.Free())
		assert.Equal(t, data, b.Read(8))
	})

	// Every length at every starting offset, so each write that crosses
	// the end of the backing region is exercised.
	t.Run("wraparound at every offset", func(t *testing.T) {
		const capacity = 13
		for offset := 0; offset < capacity; offset++ {
			for length := 1; length <= capacity; length++ {
				b, _ := New(capacity)
				if offset > 0 {
					require.True(t, b.Write(make([]byte, offset)))
					require.Len(t, b.Read(offset), offset)
				}

				data := pattern(length, byte(offset))
				require.True(t, b.Write(data), "offset=%d length=%d", offset, length)
				got := b.Read(length)
				require.True(t, bytes.Equal(data, got), "offset=%d length=%d", offset, length)
				require.Zero(t, b.Used())
			}
		}
	})

	t.Run("partial reads preserve order", func(t *testing.T) {
		b, _ := New(10)
		require.True(t, b.Write(pattern(7, 0)))
		assert.Equal(t, pattern(3, 0), b.Read(3))
		require.True(t, b.Write(pattern(5, 7)))
		assert.Equal(t, pattern(9, 3), b.Read(100))
	})
}

func TestBufferBackpressure(t *testing.T) {
	b, _ := New(8)
	require.True(t, b.Write(pattern(6, 0)))

	used := b.Used()
	assert.False(t, b.Write(pattern(3, 0)), "write larger than free space must be rejected")
	assert.Equal(t, used, b.Used(), "rejected write must not mutate state")
	assert.EqualValues(t, 1, b.Stats().RejectedWrites)

	assert.True(t, b.Write(pattern(2, 0)), "exact fit is accepted")
	assert.False(t, b.Write([]byte{1}))
}

func TestBufferPeekDiscard(t *testing.T) {
	b, _ := New(8)
	b.Write([]byte("abcdef"))

	assert.Equal(t, []byte("abc"), b.Peek(3))
	assert.Equal(t, 6, b.Used())
	assert.Equal(t, 2, b.Discard(2))
	assert.Equal(t, []byte("cdef"), b.Read(8))
	assert.Zero(t, b.Discard(1))
}

func TestBufferReset(t *testing.T) {
	b, _ := New(8)
	b.Write([]byte("abc"))
	b.Reset()
	assert.Zero(t, b.Used())
	assert.Equal(t, 8, b.Free())
}

func TestBufferClose(t *testing.T) {
	b, _ := New(8)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.Panics(t, func() { b.Write([]byte("x")) })
	assert.Panics(t, func() { b.Read(1) })
	assert.Equal(t, 8, b.Stats().Capacity)
}

func TestBufferConcurrentSPSC(t *testing.T) {
	const total = 1 << 18
	b, _ := New(1024)
	src := pattern(total, 7)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for off := 0; off < total; {
			n := 1 + off%97
			if off+n > total {
				n = total - off
			}
			if b.Write(src[off : off+n]) {
				off += n
			}
		}
	}()

	got := make([]byte, 0, total)
	chunk := make([]byte, 61)
	for len(got) < total {
		n := b.ReadInto(chunk)
		got = append(got, chunk[:n]...)
	}
	wg.Wait()

	assert.True(t, bytes.Equal(src, got), "FIFO order must be preserved")
}

func BenchmarkBufferWriteRead(b *testing.B) {
	buf, _ := New(64 * 1024)
	msg := pattern(256, 0)
	dst := make([]byte, 256)
	b.SetBytes(int64(len(msg)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Write(msg)
		buf.ReadInto(dst)
	}
}
