package impl

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s-emmerson/hycast/peer"
	"github.com/s-emmerson/hycast/transport/msrt"
	"github.com/s-emmerson/hycast/types"
)

type recordingRcvr struct {
	prodNotices chan types.ProdInfo
	chunkData   chan types.ActualChunk
}

func newRecordingRcvr() *recordingRcvr {
	return &recordingRcvr{
		prodNotices: make(chan types.ProdInfo, 4),
		chunkData:   make(chan types.ActualChunk, 4),
	}
}

func (r *recordingRcvr) RecvProdNotice(info types.ProdInfo, from peer.Peer) {
	r.prodNotices <- info
}
func (r *recordingRcvr) RecvChunkNotice(ci types.ChunkInfo, from peer.Peer)     {}
func (r *recordingRcvr) RecvProdRequest(idx types.ProdIndex, from peer.Peer)   {}
func (r *recordingRcvr) RecvChunkRequest(ci types.ChunkInfo, from peer.Peer)   {}
func (r *recordingRcvr) RecvData(chunk types.LatentChunk, from peer.Peer) error {
	data := make([]byte, chunk.PayloadLen())
	n, err := chunk.DrainData(data)
	if err != nil {
		return err
	}
	r.chunkData <- types.ActualChunk{Info: chunk.Info, Data: data[:n]}
	return nil
}

func newPeerPair(t *testing.T) (*Peer, *Peer, *recordingRcvr, *recordingRcvr) {
	t.Helper()
	a, b := net.Pipe()
	rcvrA, rcvrB := newRecordingRcvr(), newRecordingRcvr()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	type result struct {
		p   *Peer
		err error
	}
	chA := make(chan result, 1)
	chB := make(chan result, 1)
	go func() {
		p, err := New(ctx, msrt.New(a), peer.Configuration{Version: 1, Rcvr: rcvrA, Logger: zerolog.Nop()})
		chA <- result{p, err}
	}()
	go func() {
		p, err := New(ctx, msrt.New(b), peer.Configuration{Version: 1, Rcvr: rcvrB, Logger: zerolog.Nop()})
		chB <- result{p, err}
	}()

	ra := <-chA
	rb := <-chB
	require.NoError(t, ra.err)
	require.NoError(t, rb.err)
	return ra.p, rb.p, rcvrA, rcvrB
}

func TestHandshakeAndProdNotice(t *testing.T) {
	pa, pb, _, rcvrB := newPeerPair(t)
	defer pa.Stop()
	defer pb.Stop()

	require.NoError(t, pa.Start(context.Background()))
	require.NoError(t, pb.Start(context.Background()))

	info, err := types.NewProdInfo(1, "x.dat", 10, 0)
	require.NoError(t, err)
	require.NoError(t, pa.SendProdNotice(info))

	select {
	case got := <-rcvrB.prodNotices:
		assert.Equal(t, info, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for product notice")
	}
}

func TestSendDataDelivered(t *testing.T) {
	pa, pb, _, rcvrB := newPeerPair(t)
	defer pa.Stop()
	defer pb.Stop()

	require.NoError(t, pa.Start(context.Background()))
	require.NoError(t, pb.Start(context.Background()))

	chunk := types.ActualChunk{
		Info: types.ChunkInfo{ProdIndex: 1, ProdSize: 10, ChunkIndex: 0},
		Data: []byte("hello"),
	}
	require.NoError(t, pa.SendData(chunk))

	select {
	case got := <-rcvrB.chunkData:
		assert.Equal(t, chunk.Info, got.Info)
		assert.Equal(t, chunk.Data, got.Data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for chunk data")
	}
}

func TestStopWithoutStartIsNotRunningError(t *testing.T) {
	pa, pb, _, _ := newPeerPair(t)
	defer pb.Stop()

	err := pa.Stop()
	var notRunning NotRunningError
	assert.ErrorAs(t, err, &notRunning)
}

func TestDoubleStartIsAlreadyRunningError(t *testing.T) {
	pa, pb, _, _ := newPeerPair(t)
	defer pa.Stop()
	defer pb.Stop()

	require.NoError(t, pa.Start(context.Background()))
	err := pa.Start(context.Background())
	var already AlreadyRunningError
	assert.ErrorAs(t, err, &already)
}
