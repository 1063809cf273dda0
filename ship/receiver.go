package ship

import (
	"github.com/rs/zerolog/log"

	"github.com/s-emmerson/hycast/peer"
	"github.com/s-emmerson/hycast/peer/impl"
	"github.com/s-emmerson/hycast/store"
	"github.com/s-emmerson/hycast/types"
)

// Receiver subscribes to a multicast feed and a set of backfill peers,
// feeding everything it learns into a store.Store. It implements both
// peer.Rcvr (unicast backfill traffic) and mcastpub.Rcvr (the multicast
// feed) over the same underlying store.
type Receiver struct {
	store *store.Store
	peers *impl.Set
}

// NewReceiver wires a Receiver around an already-running store.
func NewReceiver(st *store.Store) *Receiver {
	return &Receiver{store: st, peers: impl.NewSet()}
}

// AddPeer registers a client-role peer as a backfill source and target.
func (r *Receiver) AddPeer(p peer.Peer) { r.peers.Add(p) }

// RemovePeer drops a peer from the backfill set.
func (r *Receiver) RemovePeer(p peer.Peer) { r.peers.Remove(p) }

// Peers returns a snapshot of currently registered peers, used by the
// backfill scheduler to pick a target round-robin.
func (r *Receiver) Peers() []peer.Peer { return r.peers.Each() }

// ReceiveProdInfo implements mcastpub.Rcvr.
func (r *Receiver) ReceiveProdInfo(info types.ProdInfo) {
	r.store.AddProdInfo(info)
}

// ReceiveChunk implements mcastpub.Rcvr.
func (r *Receiver) ReceiveChunk(chunk types.LatentChunk) error {
	_, err := r.store.AddChunk(chunk)
	return err
}

// RecvProdNotice implements peer.Rcvr: a unicast echo of the same notice
// the multicast feed carries, absorbed the same way.
func (r *Receiver) RecvProdNotice(info types.ProdInfo, from peer.Peer) {
	r.store.AddProdInfo(info)
}

// RecvChunkNotice implements peer.Rcvr: request the chunk if it's still
// missing.
func (r *Receiver) RecvChunkNotice(ci types.ChunkInfo, from peer.Peer) {
	if r.store.HaveChunk(ci) {
		return
	}
	if err := from.SendChunkRequest(ci); err != nil {
		log.Warn().Err(err).Stringer("peer", from).Msg("failed to request notified chunk")
	}
}

// RecvProdRequest implements peer.Rcvr: a Receiver can also serve
// product metadata it already has to a backfill peer.
func (r *Receiver) RecvProdRequest(idx types.ProdIndex, from peer.Peer) {
	info, ok := r.store.GetProdInfo(idx)
	if !ok {
		return
	}
	if err := from.SendProdNotice(info); err != nil {
		log.Warn().Err(err).Stringer("peer", from).Msg("failed to answer product request")
	}
}

// RecvChunkRequest implements peer.Rcvr: a Receiver can also serve chunks
// it already has to a backfill peer.
func (r *Receiver) RecvChunkRequest(ci types.ChunkInfo, from peer.Peer) {
	chunk, ok := r.store.GetChunk(ci)
	if !ok {
		return
	}
	if err := from.SendData(chunk); err != nil {
		log.Warn().Err(err).Stringer("peer", from).Msg("failed to answer chunk request")
	}
}

// RecvData implements peer.Rcvr: absorb a backfill reply's payload.
func (r *Receiver) RecvData(chunk types.LatentChunk, from peer.Peer) error {
	_, err := r.store.AddChunk(chunk)
	return err
}
