package mcastpub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s-emmerson/hycast/types"
)

// fakeSSMD is an in-memory transport.SSMD fed by pushing whole datagrams,
// doubling as the DatagramWriter Sender writes through.
type fakeSSMD struct {
	queue [][]byte
	head  []byte
}

func (f *fakeSSMD) Send(b []byte) error {
	cp := make([]byte, len(b))
	copy(cp, b)
	f.queue = append(f.queue, cp)
	return nil
}

func (f *fakeSSMD) Recv(ctx context.Context, iov [][]byte, peek bool) (int, error) {
	if f.head == nil {
		if len(f.queue) == 0 {
			return 0, types.RuntimeError("no datagram queued")
		}
		f.head, f.queue = f.queue[0], f.queue[1:]
	}
	n := 0
	for _, dst := range iov {
		if n >= len(f.head) {
			break
		}
		n += copy(dst, f.head[n:])
	}
	if !peek {
		f.head = nil
	}
	return n, nil
}

func (f *fakeSSMD) HasRecord() bool { return f.head != nil || len(f.queue) > 0 }
func (f *fakeSSMD) GetSize() int    { return len(f.head) }
func (f *fakeSSMD) Discard() error  { f.head = nil; return nil }
func (f *fakeSSMD) Close() error    { return nil }

type capturingRcvr struct {
	infos  []types.ProdInfo
	chunks []types.ActualChunk
}

func (c *capturingRcvr) ReceiveProdInfo(info types.ProdInfo) {
	c.infos = append(c.infos, info)
}

func (c *capturingRcvr) ReceiveChunk(chunk types.LatentChunk) error {
	data := make([]byte, chunk.PayloadLen())
	n, err := chunk.DrainData(data)
	if err != nil {
		return err
	}
	c.chunks = append(c.chunks, types.ActualChunk{Info: chunk.Info, Data: data[:n]})
	return nil
}

func TestSendThenReceiveProduct(t *testing.T) {
	ssmd := &fakeSSMD{}
	version := uint32(1)

	info, err := types.NewProdInfo(1, "x.dat", 5, 3)
	require.NoError(t, err)
	prod := types.Product{Info: info, Data: []byte("abcde")}

	sender := &Sender{version: version, out: ssmd}
	require.NoError(t, sender.Send(context.Background(), prod))

	rcvr := &capturingRcvr{}
	receiver := NewReceiver(version, ssmd, rcvr)

	for ssmd.HasRecord() {
		require.NoError(t, receiver.receiveOne(context.Background()))
	}

	require.Len(t, rcvr.infos, 1)
	assert.Equal(t, info, rcvr.infos[0])
	require.Len(t, rcvr.chunks, 2)
	assert.Equal(t, []byte("abc"), rcvr.chunks[0].Data)
	assert.Equal(t, []byte("de"), rcvr.chunks[1].Data)
}
