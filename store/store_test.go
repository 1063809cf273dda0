package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s-emmerson/hycast/types"
)

type bytesPuller struct {
	data     []byte
	consumed bool
}

func newBytesPuller(data []byte) *bytesPuller {
	return &bytesPuller{data: data}
}

func (p *bytesPuller) Len() int { return len(p.data) }

func (p *bytesPuller) Pull(dst []byte) (int, error) {
	return copy(dst, p.data), nil
}

func (p *bytesPuller) Skip() error {
	p.consumed = true
	return nil
}

func latentChunk(ci types.ChunkInfo, data []byte) types.LatentChunk {
	return types.NewLatentChunk(ci, newBytesPuller(data))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(Config{Residence: time.Hour})
	require.NoError(t, err)
	return s
}

func TestAddProdInfoThenChunksCompletes(t *testing.T) {
	s := newTestStore(t)
	info, err := types.NewProdInfo(1, "a.dat", 6, 3)
	require.NoError(t, err)

	status := s.AddProdInfo(info)
	assert.True(t, status.IsNew)
	assert.False(t, status.IsComplete)

	st, err := s.AddChunk(latentChunk(types.ChunkInfo{ProdIndex: 1, ProdSize: 6, ChunkIndex: 0}, []byte("abc")))
	require.NoError(t, err)
	assert.True(t, st.IsNew)
	assert.False(t, st.IsComplete)

	st, err = s.AddChunk(latentChunk(types.ChunkInfo{ProdIndex: 1, ProdSize: 6, ChunkIndex: 1}, []byte("def")))
	require.NoError(t, err)
	assert.True(t, st.IsComplete)

	chunk, ok := s.GetChunk(types.ChunkInfo{ProdIndex: 1, ProdSize: 6, ChunkIndex: 0})
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), chunk.Data)
}

func TestEarlyChunkBufferedThenAbsorbed(t *testing.T) {
	s := newTestStore(t)
	ci := types.ChunkInfo{ProdIndex: 2, ProdSize: 6, ChunkIndex: 0}

	st, err := s.AddChunk(latentChunk(ci, []byte("abc")))
	require.NoError(t, err)
	assert.True(t, st.IsNew)
	assert.False(t, s.HaveChunk(ci))

	info, err := types.NewProdInfo(2, "b.dat", 6, 3)
	require.NoError(t, err)
	status := s.AddProdInfo(info)
	assert.False(t, status.IsComplete)
	assert.True(t, s.HaveChunk(ci))
}

func TestDuplicateChunkDiscardsHandle(t *testing.T) {
	s := newTestStore(t)
	info, err := types.NewProdInfo(3, "c.dat", 3, 3)
	require.NoError(t, err)
	s.AddProdInfo(info)

	ci := types.ChunkInfo{ProdIndex: 3, ProdSize: 3, ChunkIndex: 0}
	_, err = s.AddChunk(latentChunk(ci, []byte("xyz")))
	require.NoError(t, err)

	dup := latentChunk(ci, []byte("xyz"))
	status, err := s.AddChunk(dup)
	require.NoError(t, err)
	assert.True(t, status.IsDuplicate)
	assert.False(t, dup.HasData())
}

func TestGetOldestMissingChunk(t *testing.T) {
	s := newTestStore(t)
	info, err := types.NewProdInfo(5, "d.dat", 6, 3)
	require.NoError(t, err)
	s.AddProdInfo(info)

	missing := s.GetOldestMissingChunk()
	assert.Equal(t, types.ProdIndex(5), missing.ProdIndex)
	assert.Equal(t, types.ChunkIndex(0), missing.ChunkIndex)
}

// TestGetOldestMissingChunkOrdersByProdIndexNotInsertion exercises an entry
// order that diverges from insertion order: product 9 is registered before
// product 4, but 4 has the lower ProdIndex and must be returned first.
func TestGetOldestMissingChunkOrdersByProdIndexNotInsertion(t *testing.T) {
	s := newTestStore(t)
	infoHigh, err := types.NewProdInfo(9, "high.dat", 3, 3)
	require.NoError(t, err)
	s.AddProdInfo(infoHigh)

	infoLow, err := types.NewProdInfo(4, "low.dat", 3, 3)
	require.NoError(t, err)
	s.AddProdInfo(infoLow)

	missing := s.GetOldestMissingChunk()
	assert.Equal(t, types.ProdIndex(4), missing.ProdIndex)
}

func TestDuplicateEarlyChunkReportsDuplicate(t *testing.T) {
	s := newTestStore(t)
	ci := types.ChunkInfo{ProdIndex: 6, ProdSize: 6, ChunkIndex: 0}

	st, err := s.AddChunk(latentChunk(ci, []byte("abc")))
	require.NoError(t, err)
	assert.True(t, st.IsNew)

	st, err = s.AddChunk(latentChunk(ci, []byte("abc")))
	require.NoError(t, err)
	assert.True(t, st.IsDuplicate)
}

func TestChunkInfoIteratorOrdersAndStartsAtStartWith(t *testing.T) {
	s := newTestStore(t)
	infoA, err := types.NewProdInfo(1, "a.dat", 6, 3)
	require.NoError(t, err)
	s.AddProdInfo(infoA)
	infoB, err := types.NewProdInfo(2, "b.dat", 6, 3)
	require.NoError(t, err)
	s.AddProdInfo(infoB)

	_, err = s.AddChunk(latentChunk(types.ChunkInfo{ProdIndex: 1, ProdSize: 6, ChunkIndex: 0}, []byte("abc")))
	require.NoError(t, err)
	_, err = s.AddChunk(latentChunk(types.ChunkInfo{ProdIndex: 1, ProdSize: 6, ChunkIndex: 1}, []byte("def")))
	require.NoError(t, err)
	_, err = s.AddChunk(latentChunk(types.ChunkInfo{ProdIndex: 2, ProdSize: 6, ChunkIndex: 0}, []byte("xyz")))
	require.NoError(t, err)

	it := s.ChunkInfoIterator(types.ChunkInfo{})
	var got []types.ChunkInfo
	for {
		ci, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, ci)
	}
	require.Len(t, got, 3)
	assert.Equal(t, types.ProdIndex(1), got[0].ProdIndex)
	assert.Equal(t, types.ChunkIndex(0), got[0].ChunkIndex)
	assert.Equal(t, types.ProdIndex(1), got[1].ProdIndex)
	assert.Equal(t, types.ChunkIndex(1), got[1].ChunkIndex)
	assert.Equal(t, types.ProdIndex(2), got[2].ProdIndex)

	it = s.ChunkInfoIterator(types.ChunkInfo{ProdIndex: 1, ChunkIndex: 1})
	ci, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, types.ProdIndex(1), ci.ProdIndex)
	assert.Equal(t, types.ChunkIndex(1), ci.ChunkIndex)

	_, err = s.AddChunk(latentChunk(types.ChunkInfo{ProdIndex: 2, ProdSize: 6, ChunkIndex: 1}, []byte("123")))
	require.NoError(t, err)
	remaining := 0
	for {
		_, ok := it.Next()
		if !ok {
			break
		}
		remaining++
	}
	assert.Equal(t, 1, remaining, "iterator must not observe chunks added after it was created")
}
