package types

import "fmt"

// ChunkInfo identifies one chunk of one product.
type ChunkInfo struct {
	ProdIndex  ProdIndex
	ProdSize   ProdSize
	ChunkIndex ChunkIndex
}

// IsZero reports whether this is the sentinel ChunkInfo{} value returned by
// Store.GetOldestMissingChunk when no chunk is missing.
func (ci ChunkInfo) IsZero() bool {
	return ci == ChunkInfo{}
}

// Validate checks that ci is consistent with the given ProdInfo.
func (ci ChunkInfo) Validate(info ProdInfo) error {
	if ci.ProdIndex != info.Index {
		return InvalidArgument("chunk's product index doesn't match product info")
	}
	if ci.ProdSize != info.Size {
		return InvalidArgument("chunk's product size doesn't match product info")
	}
	if ci.ChunkIndex >= info.ChunkCount() {
		return OutOfRange(fmt.Sprintf("chunk index %d >= chunk count %d", ci.ChunkIndex, info.ChunkCount()))
	}
	return nil
}

// Less orders ChunkInfo values in (ProdIndex, ChunkIndex) lexicographic
// order, using ProdIndex's wraparound-aware comparison.
func (ci ChunkInfo) Less(other ChunkInfo) bool {
	if ci.ProdIndex != other.ProdIndex {
		return ci.ProdIndex.Less(other.ProdIndex)
	}
	return ci.ChunkIndex < other.ChunkIndex
}

func (ci ChunkInfo) String() string {
	return fmt.Sprintf("ChunkInfo{prodIndex=%v, prodSize=%d, chunkIndex=%d}", ci.ProdIndex, ci.ProdSize, ci.ChunkIndex)
}
