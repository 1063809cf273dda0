package ship

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s-emmerson/hycast/mcastpub"
	"github.com/s-emmerson/hycast/store"
	"github.com/s-emmerson/hycast/types"
)

type fakePeer struct {
	id            uint64
	prodNotices   []types.ProdInfo
	chunkNotices  []types.ChunkInfo
	prodRequests  []types.ProdIndex
	chunkRequests []types.ChunkInfo
	data          []types.ActualChunk
}

func (p *fakePeer) ID() uint64 { return p.id }
func (p *fakePeer) SendProdNotice(info types.ProdInfo) error {
	p.prodNotices = append(p.prodNotices, info)
	return nil
}
func (p *fakePeer) SendChunkNotice(ci types.ChunkInfo) error {
	p.chunkNotices = append(p.chunkNotices, ci)
	return nil
}
func (p *fakePeer) SendProdRequest(idx types.ProdIndex) error {
	p.prodRequests = append(p.prodRequests, idx)
	return nil
}
func (p *fakePeer) SendChunkRequest(ci types.ChunkInfo) error {
	p.chunkRequests = append(p.chunkRequests, ci)
	return nil
}
func (p *fakePeer) SendData(chunk types.ActualChunk) error {
	p.data = append(p.data, chunk)
	return nil
}
func (p *fakePeer) String() string { return "fakePeer" }

type discardWriter struct{ sent [][]byte }

func (d *discardWriter) Send(b []byte) error {
	cp := make([]byte, len(b))
	copy(cp, b)
	d.sent = append(d.sent, cp)
	return nil
}

func TestShipperShipAndServeRequests(t *testing.T) {
	st, err := store.NewStore(store.Config{Residence: time.Hour})
	require.NoError(t, err)

	w := &discardWriter{}
	sender := mcastpub.NewSenderWithWriter(1, w)
	shipper := NewShipper(st, sender)

	p := &fakePeer{id: 1}
	shipper.AddPeer(p)

	info, err := types.NewProdInfo(1, "x.dat", 5, 3)
	require.NoError(t, err)
	prod := types.Product{Info: info, Data: []byte("abcde")}

	require.NoError(t, shipper.Ship(context.Background(), prod))
	require.Len(t, p.prodNotices, 1)
	assert.Equal(t, info, p.prodNotices[0])
	assert.Len(t, w.sent, 3) // one PROD_INFO + two CHUNK datagrams

	requester := &fakePeer{id: 2}
	shipper.RecvProdRequest(1, requester)
	require.Len(t, requester.prodNotices, 1)

	shipper.RecvChunkRequest(types.ChunkInfo{ProdIndex: 1, ProdSize: 5, ChunkIndex: 0}, requester)
	require.Len(t, requester.data, 1)
	assert.Equal(t, []byte("abc"), requester.data[0].Data)
}

func TestReceiverRequestsNotifiedMissingChunk(t *testing.T) {
	st, err := store.NewStore(store.Config{Residence: time.Hour})
	require.NoError(t, err)
	receiver := NewReceiver(st)

	notifier := &fakePeer{id: 3}
	ci := types.ChunkInfo{ProdIndex: 1, ProdSize: 5, ChunkIndex: 0}
	receiver.RecvChunkNotice(ci, notifier)

	require.Len(t, notifier.chunkRequests, 1)
	assert.Equal(t, ci, notifier.chunkRequests[0])
}
