// Package transport defines the two wire-level contracts the rest of Hycast
// is built on: MSRT, a multi-stream reliable transport that carries the
// peer protocol's six logical streams over one connection, and SSMD, a
// source-specific multicast datagram transport that carries the
// publish/subscribe feed. Concrete implementations live in the msrt and
// mcast subpackages.
package transport

import "context"

// StreamID identifies one of a peer connection's six logical streams.
type StreamID uint8

const (
	StreamVersion StreamID = iota
	StreamProdNotice
	StreamChunkNotice
	StreamProdRequest
	StreamChunkRequest
	StreamChunk
	NumStreams
)

// MSRT is a multi-stream reliable transport: one underlying connection
// multiplexing several independent, order-preserving byte streams. Every
// operation that can block takes a context so a caller can cancel it
// instead of reaching for a lower-level cancellation primitive.
type MSRT interface {
	// Send writes b whole on the given stream.
	Send(ctx context.Context, stream StreamID, b []byte) error
	// Sendv writes the concatenation of iov whole on the given stream.
	Sendv(ctx context.Context, stream StreamID, iov [][]byte) error
	// PeekStreamID blocks until a message is queued on any stream and
	// returns which stream it arrived on, without consuming it.
	PeekStreamID(ctx context.Context) (StreamID, error)
	// PeekSize returns the byte length of the head-of-line message on the
	// given stream, without consuming it.
	PeekSize(ctx context.Context, stream StreamID) (int, error)
	// Recv consumes the head-of-line message on the given stream into a
	// freshly allocated buffer.
	Recv(ctx context.Context, stream StreamID) ([]byte, error)
	// Recvv consumes the head-of-line message on the given stream,
	// scattering it across iov.
	Recvv(ctx context.Context, stream StreamID, iov [][]byte) (int, error)
	// Discard consumes and drops the head-of-line message on the given
	// stream without copying it anywhere.
	Discard(ctx context.Context, stream StreamID) error
	// Close tears down the underlying connection. Blocked Peek/Recv calls
	// return an error.
	Close() error
}

// SSMD is a source-specific multicast datagram transport: unreliable,
// unordered, one-to-many. Unlike MSRT it carries one logical stream of
// whole datagrams.
type SSMD interface {
	// Recv copies the head-of-line datagram into the concatenation of iov.
	// If peek is true the datagram remains queued.
	Recv(ctx context.Context, iov [][]byte, peek bool) (int, error)
	// HasRecord reports whether a datagram is currently queued.
	HasRecord() bool
	// GetSize returns the byte length of the head-of-line datagram.
	GetSize() int
	// Discard consumes and drops the head-of-line datagram.
	Discard() error
	// Close leaves the multicast group and releases the socket.
	Close() error
}
