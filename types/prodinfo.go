package types

import "fmt"

// ProdInfo describes a product: its identity, name, total size, and the
// canonical chunk size used to divide it.
type ProdInfo struct {
	Index     ProdIndex
	Name      string
	Size      ProdSize
	ChunkSize ChunkSize
}

// NewProdInfo builds a ProdInfo, using the process default chunk size if
// chunkSize is zero.
func NewProdInfo(index ProdIndex, name string, size ProdSize, chunkSize ChunkSize) (ProdInfo, error) {
	if len(name) > 65535 {
		return ProdInfo{}, InvalidArgument("product name longer than 65535 bytes")
	}
	if chunkSize == 0 {
		chunkSize = getDefaultChunkSize()
	}
	return ProdInfo{Index: index, Name: name, Size: size, ChunkSize: chunkSize}, nil
}

// ChunkCount returns ceil(Size / ChunkSize); a zero-byte product has zero
// chunks.
func (pi ProdInfo) ChunkCount() ChunkIndex {
	if pi.Size == 0 {
		return 0
	}
	cs := uint32(pi.ChunkSize)
	return ChunkIndex((uint32(pi.Size) + cs - 1) / cs)
}

// ByteOffset returns the byte offset of the given chunk within the product.
func (pi ProdInfo) ByteOffset(index ChunkIndex) uint64 {
	return uint64(index) * uint64(pi.ChunkSize)
}

// ChunkLen returns the byte length of the given chunk: the canonical chunk
// size for every chunk but the last, which may be shorter.
func (pi ProdInfo) ChunkLen(index ChunkIndex) (ChunkSize, error) {
	if index >= pi.ChunkCount() {
		return 0, OutOfRange(fmt.Sprintf("chunk index %d >= chunk count %d", index, pi.ChunkCount()))
	}
	offset := pi.ByteOffset(index)
	remaining := uint64(pi.Size) - offset
	if remaining < uint64(pi.ChunkSize) {
		return ChunkSize(remaining), nil
	}
	return pi.ChunkSize, nil
}

func (pi ProdInfo) String() string {
	return fmt.Sprintf("ProdInfo{index=%v, name=%q, size=%d, chunkSize=%d}", pi.Index, pi.Name, pi.Size, pi.ChunkSize)
}
