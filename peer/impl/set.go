package impl

import "github.com/s-emmerson/hycast/peer"

// Set is a thread-safe collection of live peers keyed by peer.Peer.ID,
// used by the shipping and receiving sides to track who to notify or
// request from.
type Set struct {
	reg *registry[uint64, peer.Peer]
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{reg: newRegistry[uint64, peer.Peer]()}
}

// Add registers p, replacing any earlier peer with the same id.
func (s *Set) Add(p peer.Peer) {
	s.reg.set(p.ID(), p)
}

// Remove drops p's id from the set.
func (s *Set) Remove(p peer.Peer) {
	s.reg.delete(p.ID())
}

// Each returns a snapshot of the currently registered peers.
func (s *Set) Each() []peer.Peer {
	return s.reg.values()
}

// Len returns the number of registered peers.
func (s *Set) Len() int {
	return s.reg.len()
}
