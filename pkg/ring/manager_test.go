package ring

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaaliswooden-max/resmem/pkg/errors"
)

func TestManager(t *testing.T) {
	t.Run("create get delete", func(t *testing.T) {
		m := NewManager()
		defer m.Close()

		b, err := m.CreateBuffer("series", 64)
		require.NoError(t, err)

		got, ok := m.Get("series")
		require.True(t, ok)
		assert.Same(t, b, got)

		found, err := m.DeleteBuffer("series")
		require.NoError(t, err)
		assert.True(t, found)
		found, err = m.DeleteBuffer("series")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Panics(t, func() { b.Used() }, "deleted buffers are closed")
		_, ok = m.Get("series")
		assert.False(t, ok)
	})

	t.Run("duplicate key is rejected", func(t *testing.T) {
		m := NewManager()
		defer m.Close()

		_, err := m.CreateBuffer("a", 8)
		require.NoError(t, err)
		_, err = m.CreateBuffer("a", 8)
		assert.ErrorIs(t, err, errors.ErrBufferExists)
	})

	t.Run("stats aggregate capacity", func(t *testing.T) {
		m := NewManager()
		defer m.Close()

		m.CreateBuffer("a", 100)
		b, _ := m.CreateBuffer("b", 50)
		b.Write([]byte("xyz"))

		s := m.Stats()
		assert.Equal(t, 2, s.BufferCount)
		assert.EqualValues(t, 150, s.TotalMemory)
		assert.Equal(t, 3, s.Buffers["b"].Used)
		assert.Equal(t, []string{"a", "b"}, m.Keys())
	})

	t.Run("create after close panics", func(t *testing.T) {
		m := NewManager()
		require.NoError(t, m.Close())
		assert.Panics(t, func() { m.CreateBuffer("a", 8) })
	})
}

type frameMsg struct {
	Series string    `msgpack:"series"`
	Points []float64 `msgpack:"points"`
}

func TestChannel(t *testing.T) {
	t.Run("send and receive typed frames", func(t *testing.T) {
		b, _ := New(256)
		ch := NewChannel(b, 0)

		ok, err := ch.Send(frameMsg{Series: "cpu", Points: []float64{1, 2.5}})
		require.NoError(t, err)
		require.True(t, ok)

		var got frameMsg
		ok, err = ch.Receive(&got)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "cpu", got.Series)
		assert.Equal(t, []float64{1, 2.5}, got.Points)
	})

	t.Run("empty ring receives nothing", func(t *testing.T) {
		b, _ := New(64)
		var got frameMsg
		ok, err := NewChannel(b, 0).Receive(&got)
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("oversized frame is an error", func(t *testing.T) {
		b, _ := New(8)
		_, err := NewChannel(b, 0).Send(frameMsg{Series: "a very long series name"})
		assert.ErrorIs(t, err, errors.ErrFrameTooLarge)
	})

	t.Run("full ring signals backpressure", func(t *testing.T) {
		b, _ := New(64)
		ch := NewChannel(b, 0)
		sent := 0
		for {
			ok, err := ch.Send(frameMsg{Series: "s"})
			require.NoError(t, err)
			if !ok {
				break
			}
			sent++
		}
		assert.Greater(t, sent, 0)
		for i := 0; i < sent; i++ {
			var got frameMsg
			ok, err := ch.Receive(&got)
			require.NoError(t, err)
			require.True(t, ok)
		}
	})

	t.Run("receive wait honours the caller deadline", func(t *testing.T) {
		b, _ := New(64)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		var got frameMsg
		err := NewChannel(b, time.Millisecond).ReceiveWait(ctx, &got)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("receive wait gets a late frame", func(t *testing.T) {
		b, _ := New(128)
		ch := NewChannel(b, time.Millisecond)
		go func() {
			time.Sleep(5 * time.Millisecond)
			_ = ch.SendWait(context.Background(), frameMsg{Series: "late"})
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		var got frameMsg
		require.NoError(t, ch.ReceiveWait(ctx, &got))
		assert.Equal(t, "late", got.Series)
	})
}

func TestSharedSegment(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shared segments are unix-only")
	}
	path := filepath.Join(t.TempDir(), "segment")

	producer, err := CreateSegment(path, 32)
	require.NoError(t, err)
	defer producer.Close()
	assert.True(t, producer.Shared())

	consumer, err := AttachSegment(path)
	require.NoError(t, err)
	defer consumer.Close()
	assert.Equal(t, 32, consumer.Capacity())

	// Cross the end of the region through the second mapping.
	for i := 0; i < 5; i++ {
		data := pattern(20, byte(i))
		require.True(t, producer.Write(data))
		assert.Equal(t, data, consumer.Read(20))
	}
	assert.Zero(t, producer.Used())
	assert.NoError(t, SyncSegment(producer))

	m := NewManager()
	defer m.Close()
	_, err = m.AttachShared("shared", path)
	require.NoError(t, err)
	assert.True(t, m.Stats().Buffers["shared"].Shared)
}

func TestSharedSegmentUseAfterClose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shared segments are unix-only")
	}
	b, err := CreateSegment(filepath.Join(t.TempDir(), "segment"), 64)
	require.NoError(t, err)
	require.True(t, b.Write([]byte("pending")))
	require.NoError(t, b.Close())

	ops := map[string]func(){
		"used":  func() { b.Used() },
		"free":  func() { b.Free() },
		"write": func() { b.Write([]byte("x")) },
		"read":  func() { b.Read(1) },
		"peek":  func() { b.Peek(1) },
		"sync":  func() { SyncSegment(b) },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			defer func() {
				rec := recover()
				require.NotNil(t, rec)
				err, ok := rec.(error)
				require.True(t, ok)
				assert.True(t, errors.IsMisuse(err))
			}()
			op()
		})
	}

	s := b.Stats()
	assert.Equal(t, 64, s.Capacity)
	assert.True(t, s.Shared)
}

func TestSharedSegmentCloseWhileWriting(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shared segments are unix-only")
	}
	m := NewManager()
	defer m.Close()

	b, err := m.CreateShared("frames", filepath.Join(t.TempDir(), "segment"), 256)
	require.NoError(t, err)

	stopped := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		defer func() {
			err, _ := recover().(error)
			stopped <- err
		}()
		msg := []byte("frame")
		for i := 0; ; i++ {
			if i == 100 {
				close(started)
			}
			if !b.Write(msg) {
				b.Discard(b.Used())
			}
		}
	}()

	<-started
	found, err := m.DeleteBuffer("frames")
	require.NoError(t, err)
	require.True(t, found)

	select {
	case err := <-stopped:
		assert.True(t, errors.IsMisuse(err), "the writer stops with a misuse panic, not a fault")
	case <-time.After(5 * time.Second):
		t.Fatal("writer did not observe the close")
	}
}
