package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s-emmerson/hycast/types"
)

const testVersion = uint32(1)

func TestProdInfoRoundTrip(t *testing.T) {
	pi, err := types.NewProdInfo(42, "2026080600_GOES18.nc", 9_000_000, 1<<15)
	require.NoError(t, err)

	enc := NewEncoder()
	require.NoError(t, enc.PutProdInfo(testVersion, pi))

	dec := NewBufferDecoder(enc.Bytes())
	got, err := dec.DecodeProdInfo(testVersion)
	require.NoError(t, err)
	assert.Equal(t, pi, got)
	assert.Equal(t, 0, dec.Remaining())
}

func TestChunkInfoRoundTrip(t *testing.T) {
	ci := types.ChunkInfo{ProdIndex: 7, ProdSize: 9_000_000, ChunkIndex: 3}

	enc := NewEncoder()
	enc.PutChunkInfo(testVersion, ci)

	dec := NewBufferDecoder(enc.Bytes())
	got, err := dec.DecodeChunkInfo(testVersion)
	require.NoError(t, err)
	assert.Equal(t, ci, got)
}

func TestVersionMsgRoundTrip(t *testing.T) {
	vm := types.VersionMsg(3)

	enc := NewEncoder()
	enc.PutVersionMsg(testVersion, vm)

	dec := NewBufferDecoder(enc.Bytes())
	got, err := dec.DecodeVersionMsg(testVersion)
	require.NoError(t, err)
	assert.Equal(t, vm, got)
}

func TestStringRejectsOversize(t *testing.T) {
	enc := NewEncoder()
	err := enc.PutString(testVersion, string(make([]byte, 65536)))
	assert.Error(t, err)
	var invalid types.InvalidArgument
	assert.ErrorAs(t, err, &invalid)
}

func TestDecoderShortMessage(t *testing.T) {
	enc := NewEncoder()
	enc.PutUint16(testVersion, 5)
	enc.PutBytes([]byte("ab"))

	dec := NewBufferDecoder(enc.Bytes())
	_, err := dec.DecodeString(testVersion)
	var short types.ShortMessage
	assert.ErrorAs(t, err, &short)
}

func TestStreamDecoderAcrossMessages(t *testing.T) {
	enc := NewEncoder()
	require.NoError(t, enc.PutProdInfo(testVersion, mustProdInfo(t, 1, "a", 10)))
	require.NoError(t, enc.PutProdInfo(testVersion, mustProdInfo(t, 2, "b", 20)))

	dec := NewStreamDecoder(bytes.NewReader(enc.Bytes()))

	first, err := dec.DecodeProdInfo(testVersion)
	require.NoError(t, err)
	assert.Equal(t, types.ProdIndex(1), first.Index)
	dec.Clear()

	second, err := dec.DecodeProdInfo(testVersion)
	require.NoError(t, err)
	assert.Equal(t, types.ProdIndex(2), second.Index)
}

func mustProdInfo(t *testing.T, index types.ProdIndex, name string, size types.ProdSize) types.ProdInfo {
	t.Helper()
	pi, err := types.NewProdInfo(index, name, size, 0)
	require.NoError(t, err)
	return pi
}
