package types

import "sync"

// ActualChunk is a chunk whose payload has already been pulled into memory.
// Data is exactly ChunkLen(Info.ChunkIndex) bytes, owned by whatever buffer
// it was sliced from.
type ActualChunk struct {
	Info ChunkInfo
	Data []byte
}

// ChunkPuller is bound to a transport message containing a chunk's raw
// bytes. It is implemented by the codec/transport layers and consumed by
// exactly one of LatentChunk.DrainData or LatentChunk.Discard.
type ChunkPuller interface {
	// Len returns the exact number of payload bytes this puller is bound
	// to, known from the underlying message's own framing even before
	// the chunk's ProdInfo has arrived.
	Len() int
	// Pull reads the chunk's payload into dst, which must be at least
	// Len() bytes long.
	Pull(dst []byte) (int, error)
	// Skip discards the chunk's payload without copying it anywhere.
	Skip() error
}

// LatentChunk is a single-use handle to a chunk-of-data that hasn't yet been
// pulled off the wire. Calling DrainData or Discard consumes the handle; a
// second call to either is a LogicError. The zero value is not usable.
type LatentChunk struct {
	Info   ChunkInfo
	state  *latentState
}

type latentState struct {
	mu       sync.Mutex
	puller   ChunkPuller
	consumed bool
}

// NewLatentChunk wraps a ChunkPuller bound to a not-yet-read chunk message.
func NewLatentChunk(info ChunkInfo, puller ChunkPuller) LatentChunk {
	return LatentChunk{Info: info, state: &latentState{puller: puller}}
}

// PayloadLen returns the chunk's exact byte length, known from the
// underlying message's framing independent of whether this chunk's
// product's ProdInfo has arrived yet.
func (lc LatentChunk) PayloadLen() int {
	return lc.state.puller.Len()
}

// HasData reports whether this handle has not yet been drained or
// discarded. After a successful upcall delivery it must be false.
func (lc LatentChunk) HasData() bool {
	lc.state.mu.Lock()
	defer lc.state.mu.Unlock()
	return !lc.state.consumed
}

// DrainData pulls the chunk's payload into dst, which must be exactly
// ChunkLen(Info.ChunkIndex) bytes long. Returns LogicError if the handle was
// already consumed.
func (lc LatentChunk) DrainData(dst []byte) (int, error) {
	lc.state.mu.Lock()
	defer lc.state.mu.Unlock()
	if lc.state.consumed {
		return 0, LogicError("latent chunk already consumed")
	}
	lc.state.consumed = true
	return lc.state.puller.Pull(dst)
}

// Discard drops the chunk's payload without copying it. Returns LogicError
// if the handle was already consumed.
func (lc LatentChunk) Discard() error {
	lc.state.mu.Lock()
	defer lc.state.mu.Unlock()
	if lc.state.consumed {
		return LogicError("latent chunk already consumed")
	}
	lc.state.consumed = true
	return lc.state.puller.Skip()
}

// Product is a complete, assembled product: its metadata plus the full
// byte buffer.
type Product struct {
	Info ProdInfo
	Data []byte
}

// AddStatus reports the outcome of an addition to a product store.
type AddStatus struct {
	IsNew       bool
	IsDuplicate bool
	IsComplete  bool
}

func (s AddStatus) setNew() AddStatus       { s.IsNew = true; return s }
func (s AddStatus) setDuplicate() AddStatus { s.IsDuplicate = true; return s }
func (s AddStatus) setComplete() AddStatus  { s.IsComplete = true; return s }

// NewAddStatus returns a builder-style AddStatus with all flags cleared.
func NewAddStatus() AddStatus {
	return AddStatus{}
}

// WithNew returns a copy of s with IsNew set.
func (s AddStatus) WithNew() AddStatus { return s.setNew() }

// WithDuplicate returns a copy of s with IsDuplicate set.
func (s AddStatus) WithDuplicate() AddStatus { return s.setDuplicate() }

// WithComplete returns a copy of s with IsComplete set.
func (s AddStatus) WithComplete() AddStatus { return s.setComplete() }

// VersionMsg is exchanged on stream 0 during peer handshake.
type VersionMsg uint32
