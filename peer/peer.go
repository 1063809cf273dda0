// Package peer defines the upcall contract and shared configuration for
// the peer-to-peer protocol engine. Concrete peers live in peer/impl.
package peer

import (
	"github.com/rs/zerolog"

	"github.com/s-emmerson/hycast/types"
)

// Peer is the minimal identity and send surface the Rcvr upcalls and the
// rest of the system see. impl.Peer is the sole implementation.
type Peer interface {
	// ID returns this peer's process-unique, monotonically assigned
	// identity, the Go stand-in for the original's pointer identity.
	ID() uint64
	SendProdNotice(info types.ProdInfo) error
	SendChunkNotice(ci types.ChunkInfo) error
	SendProdRequest(idx types.ProdIndex) error
	SendChunkRequest(ci types.ChunkInfo) error
	SendData(chunk types.ActualChunk) error
	String() string
}

// Rcvr receives upcalls from a Peer's receiver loop as messages arrive
// from the remote side.
type Rcvr interface {
	RecvProdNotice(info types.ProdInfo, from Peer)
	RecvChunkNotice(ci types.ChunkInfo, from Peer)
	RecvProdRequest(idx types.ProdIndex, from Peer)
	RecvChunkRequest(ci types.ChunkInfo, from Peer)
	// RecvData must consume chunk via exactly one of DrainData or Discard
	// before returning.
	RecvData(chunk types.LatentChunk, from Peer) error
}

// Configuration carries what every Peer needs beyond its transport:
// the protocol version to negotiate, the upcall target, and a logger.
type Configuration struct {
	Version uint32
	Rcvr    Rcvr
	Logger  zerolog.Logger
}
