// Package mcastpub implements the multicast send/receive half of Hycast:
// a McastSender that frames a whole product as one PROD_INFO datagram
// followed by one CHUNK datagram per chunk, and a McastReceiver that reads
// that framing back off an SSMD and delivers upcalls.
package mcastpub

import (
	"context"

	"github.com/s-emmerson/hycast/codec"
	"github.com/s-emmerson/hycast/transport"
	"github.com/s-emmerson/hycast/transport/mcast"
	"github.com/s-emmerson/hycast/types"
)

// Message IDs, kept consistent between McastSender and McastReceiver the
// way the original documents its own wire contract.
const (
	msgIDProdInfo byte = 0x01
	msgIDChunk    byte = 0x02
)

// Rcvr receives upcalls from a McastReceiver as datagrams arrive. It
// mirrors peer.Rcvr's product/chunk halves under names that don't collide,
// since Go has no method overloading.
type Rcvr interface {
	ReceiveProdInfo(types.ProdInfo)
	// ReceiveChunk must consume chunk via exactly one of DrainData or
	// Discard before returning.
	ReceiveChunk(types.LatentChunk) error
}

// DatagramWriter is the write-side of a multicast socket; mcast.Sender
// satisfies it. Exported so callers can plug in an alternate transport,
// e.g. an in-memory one for tests.
type DatagramWriter interface {
	Send(b []byte) error
}

// Sender originates a product as one PROD_INFO datagram followed by one
// CHUNK datagram per chunk, in index order.
type Sender struct {
	version uint32
	out     DatagramWriter
}

// NewSender wraps a mcast.Sender bound to the publisher's multicast group.
func NewSender(version uint32, out *mcast.Sender) *Sender {
	return NewSenderWithWriter(version, out)
}

// NewSenderWithWriter wraps an arbitrary DatagramWriter, bypassing the
// concrete multicast transport.
func NewSenderWithWriter(version uint32, out DatagramWriter) *Sender {
	return &Sender{version: version, out: out}
}

// Send transmits prod's ProdInfo then each of its chunks, in index order.
func (s *Sender) Send(ctx context.Context, prod types.Product) error {
	enc := codec.NewEncoder()
	enc.PutUint8(s.version, msgIDProdInfo)
	if err := enc.PutProdInfo(s.version, prod.Info); err != nil {
		return err
	}
	if err := s.out.Send(enc.Bytes()); err != nil {
		return err
	}

	count := prod.Info.ChunkCount()
	for i := types.ChunkIndex(0); i < count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunkLen, err := prod.Info.ChunkLen(i)
		if err != nil {
			return err
		}
		offset := prod.Info.ByteOffset(i)
		ci := types.ChunkInfo{ProdIndex: prod.Info.Index, ProdSize: prod.Info.Size, ChunkIndex: i}

		enc.Reset()
		enc.PutUint8(s.version, msgIDChunk)
		enc.PutChunkInfo(s.version, ci)
		enc.PutBytes(prod.Data[offset : offset+uint64(chunkLen)])
		if err := s.out.Send(enc.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// Receiver reads the framing Sender writes off an SSMD and delivers
// upcalls to Rcvr, one datagram per loop iteration. Every datagram must be
// completely consumed before the next iteration, exactly as the original's
// operator() requires, since a partially-read datagram has no "rest of the
// message" to pick up later.
type Receiver struct {
	version uint32
	src     transport.SSMD
	rcvr    Rcvr
}

// NewReceiver wraps an SSMD bound to the subscriber's multicast group.
func NewReceiver(version uint32, src transport.SSMD, rcvr Rcvr) *Receiver {
	return &Receiver{version: version, src: src, rcvr: rcvr}
}

// Run reads and dispatches datagrams until ctx is canceled or src fails.
func (r *Receiver) Run(ctx context.Context) error {
	for {
		if err := r.receiveOne(ctx); err != nil {
			return err
		}
	}
}

func (r *Receiver) receiveOne(ctx context.Context) error {
	dec := codec.NewDatagramDecoder(ctx, r.src)

	msgID, err := dec.DecodeUint8(r.version)
	if err != nil {
		return err
	}
	switch msgID {
	case msgIDProdInfo:
		info, err := dec.DecodeProdInfo(r.version)
		if err != nil {
			return err
		}
		r.rcvr.ReceiveProdInfo(info)

	case msgIDChunk:
		ci, err := dec.DecodeChunkInfo(r.version)
		if err != nil {
			return err
		}
		payload, err := dec.DecodeBytes(dec.Remaining())
		if err != nil {
			return err
		}
		chunk := types.NewLatentChunk(ci, &datagramPuller{payload: payload})
		if err := r.rcvr.ReceiveChunk(chunk); err != nil {
			return err
		}
		if chunk.HasData() {
			panic(types.LogicError("latent chunk-of-data not drained by Rcvr.ReceiveChunk"))
		}

	default:
		return types.RuntimeError("invalid multicast message id")
	}
	return nil
}

type datagramPuller struct {
	payload []byte
}

func (d *datagramPuller) Len() int { return len(d.payload) }

func (d *datagramPuller) Pull(dst []byte) (int, error) {
	return copy(dst, d.payload), nil
}

func (d *datagramPuller) Skip() error { return nil }
