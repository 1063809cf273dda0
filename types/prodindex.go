package types

import "fmt"

// ProdIndex identifies a product. It wraps around like any other uint32 and
// must be compared with Less, not <, so that wraparound is handled correctly.
type ProdIndex uint32

// Less reports whether i precedes j in the modular ordering of spec section
// 3: i < j iff (j - i) fits in the positive half of the 32-bit window.
func (i ProdIndex) Less(j ProdIndex) bool {
	return int32(j-i) > 0
}

// Distance returns the modular distance from i to j, i.e. the smallest
// non-negative d such that i+d == j.
func (i ProdIndex) Distance(j ProdIndex) uint32 {
	return uint32(j - i)
}

func (i ProdIndex) String() string {
	return fmt.Sprintf("ProdIndex(%d)", uint32(i))
}

// ProdSize is the total byte length of a product.
type ProdSize uint32

// ChunkIndex is the zero-based index of a chunk within a product, ordered
// least-significant first.
type ChunkIndex uint32

// ChunkSize is the byte count of a chunk. Only the last chunk of a product
// may be shorter than the product's canonical chunk size.
type ChunkSize uint16
