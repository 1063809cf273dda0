// Package impl implements peer.Peer over transport.MSRT.
package impl

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/s-emmerson/hycast/codec"
	"github.com/s-emmerson/hycast/peer"
	"github.com/s-emmerson/hycast/transport"
	"github.com/s-emmerson/hycast/types"
)

var nextID atomic.Uint64

// Peer is a connection to one remote peer, multiplexed over a
// transport.MSRT. Every Peer is assigned a process-unique, monotonically
// increasing id at construction; this id (not pointer identity, which Go
// doesn't expose a stable hash for the way C++ does) backs Equal, Less, and
// Hash.
type Peer struct {
	id      uint64
	conn    transport.MSRT
	cfg     peer.Configuration
	sendMus [transport.NumStreams]sync.Mutex

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// New performs the blocking version handshake over conn and returns a
// ready Peer. It returns types.UnsupportedVersion if the remote side
// advertises a different protocol version.
func New(ctx context.Context, conn transport.MSRT, cfg peer.Configuration) (*Peer, error) {
	p := &Peer{
		id:   nextID.Add(1),
		conn: conn,
		cfg:  cfg,
	}

	enc := codec.NewEncoder()
	enc.PutVersionMsg(cfg.Version, types.VersionMsg(cfg.Version))
	if err := p.conn.Send(ctx, transport.StreamVersion, enc.Bytes()); err != nil {
		return nil, err
	}

	raw, err := p.conn.Recv(ctx, transport.StreamVersion)
	if err != nil {
		return nil, err
	}
	remote, err := codec.NewBufferDecoder(raw).DecodeVersionMsg(cfg.Version)
	if err != nil {
		return nil, err
	}
	if uint32(remote) != cfg.Version {
		return nil, types.UnsupportedVersion(remote)
	}
	return p, nil
}

// ID implements peer.Peer.
func (p *Peer) ID() uint64 { return p.id }

// Equal reports whether p and other are the same peer.
func (p *Peer) Equal(other *Peer) bool { return p.id == other.id }

// Less orders peers by id, the Go stand-in for the original's pointer
// comparison.
func (p *Peer) Less(other *Peer) bool { return p.id < other.id }

// Hash returns a value suitable for use as a map key alongside other
// peers, analogous to the original's std::hash<Impl*> specialization.
func (p *Peer) Hash() uint64 { return p.id }

func (p *Peer) String() string {
	return fmt.Sprintf("Peer{id=%d}", p.id)
}

func (p *Peer) send(ctx context.Context, stream transport.StreamID, b []byte) error {
	mu := &p.sendMus[stream]
	mu.Lock()
	defer mu.Unlock()
	return p.conn.Send(ctx, stream, b)
}

// SendProdNotice implements peer.Peer.
func (p *Peer) SendProdNotice(info types.ProdInfo) error {
	enc := codec.NewEncoder()
	if err := enc.PutProdInfo(p.cfg.Version, info); err != nil {
		return err
	}
	return p.send(context.Background(), transport.StreamProdNotice, enc.Bytes())
}

// SendChunkNotice implements peer.Peer.
func (p *Peer) SendChunkNotice(ci types.ChunkInfo) error {
	enc := codec.NewEncoder()
	enc.PutChunkInfo(p.cfg.Version, ci)
	return p.send(context.Background(), transport.StreamChunkNotice, enc.Bytes())
}

// SendProdRequest implements peer.Peer.
func (p *Peer) SendProdRequest(idx types.ProdIndex) error {
	enc := codec.NewEncoder()
	enc.PutUint32(p.cfg.Version, uint32(idx))
	return p.send(context.Background(), transport.StreamProdRequest, enc.Bytes())
}

// SendChunkRequest implements peer.Peer.
func (p *Peer) SendChunkRequest(ci types.ChunkInfo) error {
	enc := codec.NewEncoder()
	enc.PutChunkInfo(p.cfg.Version, ci)
	return p.send(context.Background(), transport.StreamChunkRequest, enc.Bytes())
}

// SendData implements peer.Peer.
func (p *Peer) SendData(chunk types.ActualChunk) error {
	enc := codec.NewEncoder()
	enc.PutChunkInfo(p.cfg.Version, chunk.Info)
	enc.PutBytes(chunk.Data)
	return p.send(context.Background(), transport.StreamChunk, enc.Bytes())
}

// Start launches the receiver loop on its own goroutine. It returns
// AlreadyRunningError if already running.
func (p *Peer) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.running {
		return AlreadyRunningError{}
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.doneCh = make(chan struct{})
	p.running = true
	go func() {
		defer close(p.doneCh)
		if err := p.RunReceiver(runCtx); err != nil {
			p.cfg.Logger.Debug().Err(err).Stringer("peer", p).Msg("receiver loop stopped")
		}
	}()
	return nil
}

// Stop cancels the receiver loop and blocks until it exits. It returns
// NotRunningError if not running.
func (p *Peer) Stop() error {
	p.runMu.Lock()
	if !p.running {
		p.runMu.Unlock()
		return NotRunningError{}
	}
	cancel := p.cancel
	done := p.doneCh
	p.running = false
	p.runMu.Unlock()

	cancel()
	<-done
	return p.conn.Close()
}

// RunReceiver reads messages off every stream but StreamVersion and
// delivers them to cfg.Rcvr until ctx is canceled or the connection fails;
// a message on StreamVersion is discarded and ends the loop with
// UnknownStreamError. PeekStreamID is the loop's sole cancellation point;
// once a message's stream is known its payload is read and upcalled without
// observing ctx, a
// non-cancellable scope matching the original's pthread_setcancelstate
// bracketing around the same window.
func (p *Peer) RunReceiver(ctx context.Context) error {
	for {
		stream, err := p.conn.PeekStreamID(ctx)
		if err != nil {
			return err
		}

		noCancelCtx := context.Background()
		if err := p.dispatch(noCancelCtx, stream); err != nil {
			return err
		}
	}
}

func (p *Peer) dispatch(ctx context.Context, stream transport.StreamID) error {
	switch stream {
	case transport.StreamProdNotice:
		raw, err := p.conn.Recv(ctx, stream)
		if err != nil {
			return err
		}
		info, err := codec.NewBufferDecoder(raw).DecodeProdInfo(p.cfg.Version)
		if err != nil {
			return err
		}
		p.cfg.Rcvr.RecvProdNotice(info, p)
		return nil

	case transport.StreamChunkNotice:
		raw, err := p.conn.Recv(ctx, stream)
		if err != nil {
			return err
		}
		ci, err := codec.NewBufferDecoder(raw).DecodeChunkInfo(p.cfg.Version)
		if err != nil {
			return err
		}
		p.cfg.Rcvr.RecvChunkNotice(ci, p)
		return nil

	case transport.StreamProdRequest:
		raw, err := p.conn.Recv(ctx, stream)
		if err != nil {
			return err
		}
		idx, err := codec.NewBufferDecoder(raw).DecodeUint32(p.cfg.Version)
		if err != nil {
			return err
		}
		p.cfg.Rcvr.RecvProdRequest(types.ProdIndex(idx), p)
		return nil

	case transport.StreamChunkRequest:
		raw, err := p.conn.Recv(ctx, stream)
		if err != nil {
			return err
		}
		ci, err := codec.NewBufferDecoder(raw).DecodeChunkInfo(p.cfg.Version)
		if err != nil {
			return err
		}
		p.cfg.Rcvr.RecvChunkRequest(ci, p)
		return nil

	case transport.StreamChunk:
		raw, err := p.conn.Recv(ctx, stream)
		if err != nil {
			return err
		}
		dec := codec.NewBufferDecoder(raw)
		ci, err := dec.DecodeChunkInfo(p.cfg.Version)
		if err != nil {
			return err
		}
		payload, err := dec.DecodeBytes(dec.Remaining())
		if err != nil {
			return err
		}
		chunk := types.NewLatentChunk(ci, &bufferPuller{payload: payload})
		if err := p.cfg.Rcvr.RecvData(chunk, p); err != nil {
			return err
		}
		if chunk.HasData() {
			panic(types.LogicError("latent chunk-of-data not drained by Rcvr.RecvData"))
		}
		return nil

	default:
		if err := p.conn.Discard(ctx, stream); err != nil {
			return err
		}
		return UnknownStreamError(stream)
	}
}

// bufferPuller implements types.ChunkPuller over a byte slice that's
// already fully resident in memory, which is always true by the time
// RunReceiver has Recv'd the whole framed message off the MSRT.
type bufferPuller struct {
	payload []byte
}

func (b *bufferPuller) Len() int { return len(b.payload) }

func (b *bufferPuller) Pull(dst []byte) (int, error) {
	return copy(dst, b.payload), nil
}

func (b *bufferPuller) Skip() error { return nil }
