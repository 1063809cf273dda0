// Package ship wires the product store, peer protocol engine, and
// multicast codec together into the two user-facing roles: Shipper, which
// publishes, and Receiver, which subscribes.
package ship

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/s-emmerson/hycast/mcastpub"
	"github.com/s-emmerson/hycast/peer"
	"github.com/s-emmerson/hycast/peer/impl"
	"github.com/s-emmerson/hycast/store"
	"github.com/s-emmerson/hycast/types"
)

// Shipper publishes products: store them, multicast them, and answer
// peer requests for ones already shipped.
type Shipper struct {
	store  *store.Store
	sender *mcastpub.Sender
	peers  *impl.Set
}

// NewShipper wires a Shipper around an already-running store and
// multicast sender.
func NewShipper(st *store.Store, sender *mcastpub.Sender) *Shipper {
	return &Shipper{store: st, sender: sender, peers: impl.NewSet()}
}

// AddPeer registers a server-role peer to notify of future shipments.
func (s *Shipper) AddPeer(p peer.Peer) { s.peers.Add(p) }

// RemovePeer drops a peer from the notification set.
func (s *Shipper) RemovePeer(p peer.Peer) { s.peers.Remove(p) }

// Ship stores prod, multicasts it, then notifies every known peer of its
// arrival.
func (s *Shipper) Ship(ctx context.Context, prod types.Product) error {
	s.store.Add(prod)

	if err := s.sender.Send(ctx, prod); err != nil {
		return err
	}

	for _, p := range s.peers.Each() {
		if err := p.SendProdNotice(prod.Info); err != nil {
			log.Warn().Err(err).Stringer("peer", p).Msg("failed to notify peer of shipped product")
		}
	}
	return nil
}

// RecvProdNotice implements peer.Rcvr. A Shipper never expects one and
// ignores it: there is nothing useful to learn from a peer about a product
// this side originates.
func (s *Shipper) RecvProdNotice(types.ProdInfo, peer.Peer) {}

// RecvChunkNotice implements peer.Rcvr.
func (s *Shipper) RecvChunkNotice(types.ChunkInfo, peer.Peer) {}

// RecvProdRequest implements peer.Rcvr: reply with the stored ProdInfo, if
// any.
func (s *Shipper) RecvProdRequest(idx types.ProdIndex, from peer.Peer) {
	info, ok := s.store.GetProdInfo(idx)
	if !ok {
		return
	}
	if err := from.SendProdNotice(info); err != nil {
		log.Warn().Err(err).Stringer("peer", from).Msg("failed to answer product request")
	}
}

// RecvChunkRequest implements peer.Rcvr: reply with the chunk's data, if
// present.
func (s *Shipper) RecvChunkRequest(ci types.ChunkInfo, from peer.Peer) {
	chunk, ok := s.store.GetChunk(ci)
	if !ok {
		return
	}
	if err := from.SendData(chunk); err != nil {
		log.Warn().Err(err).Stringer("peer", from).Msg("failed to answer chunk request")
	}
}

// RecvData implements peer.Rcvr. A Shipper is never the target of a data
// reply; discard it without complaint.
func (s *Shipper) RecvData(chunk types.LatentChunk, from peer.Peer) error {
	return chunk.Discard()
}
