// pkg/ring/channel.go
// Typed message framing over a ring buffer
//
// LEARN: A byte ring has no message boundaries. Each message is written
// as one frame: a 4-byte big-endian length followed by the msgpack body.
// Because Buffer.Write is all-or-nothing, a frame is either fully visible
// to the reader or not at all; the reader still checks the length before
// consuming so it never takes half a frame.

package ring

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/khaaliswooden-max/resmem/pkg/errors"
)

const frameHeader = 4

// DefaultPollInterval is how often ReceiveWait re-checks an empty buffer.
const DefaultPollInterval = time.Millisecond

// Channel sends and receives msgpack-encoded values through a Buffer.
// One goroutine may Send while another Receives.
type Channel struct {
	buf  *Buffer
	poll time.Duration
}

// NewChannel wraps buf. poll <= 0 selects DefaultPollInterval.
func NewChannel(buf *Buffer, poll time.Duration) *Channel {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Channel{buf: buf, poll: poll}
}

// Buffer returns the underlying ring.
func (c *Channel) Buffer() *Buffer {
	return c.buf
}

// Send encodes v and writes it as one frame. It returns false without
// writing anything when the ring lacks space for the whole frame.
// ErrFrameTooLarge means the frame can never fit.
func (c *Channel) Send(v any) (bool, error) {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("encode frame: %w", err)
	}
	if frameHeader+len(body) > c.buf.Capacity() {
		return false, fmt.Errorf("%d byte frame: %w", frameHeader+len(body), errors.ErrFrameTooLarge)
	}

	frame := make([]byte, frameHeader+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[frameHeader:], body)
	return c.buf.Write(frame), nil
}

// Receive decodes the next complete frame into v. It returns false when
// no complete frame is available.
func (c *Channel) Receive(v any) (bool, error) {
	hdr := c.buf.Peek(frameHeader)
	if len(hdr) < frameHeader {
		return false, nil
	}
	size := int(binary.BigEndian.Uint32(hdr))
	if c.buf.Used() < frameHeader+size {
		return false, nil
	}

	c.buf.Discard(frameHeader)
	body := c.buf.Read(size)
	if err := msgpack.Unmarshal(body, v); err != nil {
		return true, fmt.Errorf("decode frame: %w", err)
	}
	return true, nil
}

// ReceiveWait polls until a frame arrives or ctx is done. The ring never
// blocks; the timeout is the caller's, expressed through ctx.
func (c *Channel) ReceiveWait(ctx context.Context, v any) error {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		ok, err := c.Receive(v)
		if ok || err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SendWait retries Send until it succeeds or ctx is done.
func (c *Channel) SendWait(ctx context.Context, v any) error {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		ok, err := c.Send(v)
		if ok || err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
