// Package msrt implements transport.MSRT over a single net.Conn,
// multiplexing the peer protocol's six logical streams by prefixing every
// message with a (streamID, length) header.
package msrt

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"reflect"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/s-emmerson/hycast/transport"
	"github.com/s-emmerson/hycast/types"
)

const headerLen = 5 // 1-byte stream id + 4-byte big-endian length

// Conn is an MSRT over one net.Conn. A single background goroutine reads
// and deframes the connection into per-stream channels, so
// PeekStreamID/PeekSize never race with each other across streams. Callers
// must consume (Recv/Recvv/Discard) a stream's head-of-line message before
// the reader can deliver that stream's next one.
type Conn struct {
	conn   net.Conn
	sendMu sync.Mutex

	streams [transport.NumStreams]*streamState

	readErrMu sync.Mutex
	readErr   error
	closed    chan struct{}
}

type streamState struct {
	mu      sync.Mutex
	ch      chan []byte
	head    []byte
	hasHead bool
}

// New wraps conn as an MSRT and starts its background reader goroutine.
func New(conn net.Conn) *Conn {
	c := &Conn{conn: conn, closed: make(chan struct{})}
	for i := range c.streams {
		c.streams[i] = &streamState{ch: make(chan []byte, 1)}
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	var hdr [headerLen]byte
	for {
		if _, err := io.ReadFull(c.conn, hdr[:]); err != nil {
			c.fail(err)
			return
		}
		stream := hdr[0]
		length := binary.BigEndian.Uint32(hdr[1:])
		if int(stream) >= len(c.streams) {
			c.fail(types.RuntimeError("received message on unknown stream id"))
			return
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			c.fail(err)
			return
		}
		select {
		case c.streams[stream].ch <- payload:
		case <-c.closed:
			return
		}
	}
}

func (c *Conn) fail(err error) {
	c.readErrMu.Lock()
	if c.readErr == nil {
		c.readErr = err
	}
	c.readErrMu.Unlock()
	log.Debug().Err(err).Msg("msrt reader stopped")
	close(c.closed)
}

func (c *Conn) err() error {
	c.readErrMu.Lock()
	defer c.readErrMu.Unlock()
	return c.readErr
}

// Send implements transport.MSRT.
func (c *Conn) Send(ctx context.Context, stream transport.StreamID, b []byte) error {
	return c.Sendv(ctx, stream, [][]byte{b})
}

// Sendv implements transport.MSRT.
func (c *Conn) Sendv(ctx context.Context, stream transport.StreamID, iov [][]byte) error {
	total := 0
	for _, b := range iov {
		total += len(b)
	}
	var hdr [headerLen]byte
	hdr[0] = byte(stream)
	binary.BigEndian.PutUint32(hdr[1:], uint32(total))

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if _, err := c.conn.Write(hdr[:]); err != nil {
		return err
	}
	for _, b := range iov {
		if len(b) == 0 {
			continue
		}
		if _, err := c.conn.Write(b); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// ensureHead blocks until stream's head-of-line message is buffered,
// honoring ctx cancellation and connection closure.
func (c *Conn) ensureHead(ctx context.Context, stream transport.StreamID) (*streamState, error) {
	if int(stream) >= len(c.streams) {
		return nil, types.InvalidArgument("unknown stream id")
	}
	st := c.streams[stream]
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.hasHead {
		return st, nil
	}
	select {
	case payload := <-st.ch:
		st.head = payload
		st.hasHead = true
		return st, nil
	case <-c.closed:
		if err := c.err(); err != nil {
			return nil, err
		}
		return nil, types.RuntimeError("connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PeekStreamID implements transport.MSRT.
func (c *Conn) PeekStreamID(ctx context.Context) (transport.StreamID, error) {
	for i, st := range c.streams {
		st.mu.Lock()
		has := st.hasHead
		st.mu.Unlock()
		if has {
			return transport.StreamID(i), nil
		}
	}

	cases := make([]reflect.SelectCase, 0, len(c.streams)+2)
	for _, st := range c.streams {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(st.ch)})
	}
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(c.closed)})
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})

	chosen, value, ok := reflect.Select(cases)
	switch {
	case chosen == len(c.streams):
		if err := c.err(); err != nil {
			return 0, err
		}
		return 0, types.RuntimeError("connection closed")
	case chosen == len(c.streams)+1:
		return 0, ctx.Err()
	case !ok:
		return 0, types.RuntimeError("stream channel closed unexpectedly")
	default:
		st := c.streams[chosen]
		st.mu.Lock()
		st.head = value.Interface().([]byte)
		st.hasHead = true
		st.mu.Unlock()
		return transport.StreamID(chosen), nil
	}
}

// PeekSize implements transport.MSRT.
func (c *Conn) PeekSize(ctx context.Context, stream transport.StreamID) (int, error) {
	st, err := c.ensureHead(ctx, stream)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.head), nil
}

// Recv implements transport.MSRT.
func (c *Conn) Recv(ctx context.Context, stream transport.StreamID) ([]byte, error) {
	st, err := c.ensureHead(ctx, stream)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	b := st.head
	st.head = nil
	st.hasHead = false
	return b, nil
}

// Recvv implements transport.MSRT.
func (c *Conn) Recvv(ctx context.Context, stream transport.StreamID, iov [][]byte) (int, error) {
	b, err := c.Recv(ctx, stream)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, dst := range iov {
		if n >= len(b) {
			break
		}
		k := copy(dst, b[n:])
		n += k
	}
	return n, nil
}

// Discard implements transport.MSRT.
func (c *Conn) Discard(ctx context.Context, stream transport.StreamID) error {
	_, err := c.Recv(ctx, stream)
	return err
}

// Close implements transport.MSRT.
func (c *Conn) Close() error {
	return c.conn.Close()
}
