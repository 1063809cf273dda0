// Package codec implements the length-framed, big-endian wire primitives
// shared by the peer protocol and the multicast codec.
package codec

import (
	"bytes"
	"encoding/binary"

	"github.com/s-emmerson/hycast/types"
)

// Encoder appends primitives to an internal buffer. The version parameter
// threaded through every method is an escape hatch reserved for future wire
// evolution; the current codec ignores it.
type Encoder struct {
	buf bytes.Buffer
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Reset clears the encoder's buffer for reuse.
func (e *Encoder) Reset() {
	e.buf.Reset()
}

// Bytes returns the accumulated, not-yet-framed message bytes.
func (e *Encoder) Bytes() []byte {
	return e.buf.Bytes()
}

// Len returns the number of bytes accumulated so far.
func (e *Encoder) Len() int {
	return e.buf.Len()
}

func (e *Encoder) PutUint8(_ uint32, v uint8) {
	e.buf.WriteByte(v)
}

func (e *Encoder) PutUint16(_ uint32, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) PutUint32(_ uint32, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) PutUint64(_ uint32, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

// PutString writes a 16-bit length prefix followed by s's raw bytes. s must
// be at most 65535 bytes.
func (e *Encoder) PutString(version uint32, s string) error {
	if len(s) > 65535 {
		return types.InvalidArgument("string longer than 65535 bytes")
	}
	e.PutUint16(version, uint16(len(s)))
	e.buf.WriteString(s)
	return nil
}

// PutBytes writes raw bytes with no framing of its own; the caller is
// responsible for the reader knowing how many bytes to expect.
func (e *Encoder) PutBytes(b []byte) {
	e.buf.Write(b)
}

// PutChunkInfo writes a ChunkInfo as ProdIndex(4) ProdSize(4) ChunkIndex(4).
func (e *Encoder) PutChunkInfo(version uint32, ci types.ChunkInfo) {
	e.PutUint32(version, uint32(ci.ProdIndex))
	e.PutUint32(version, uint32(ci.ProdSize))
	e.PutUint32(version, uint32(ci.ChunkIndex))
}

// PutProdInfo writes a ProdInfo as name(2+n) ProdIndex(4) ProdSize(4)
// canonicalChunkSize(2).
func (e *Encoder) PutProdInfo(version uint32, pi types.ProdInfo) error {
	if err := e.PutString(version, pi.Name); err != nil {
		return err
	}
	e.PutUint32(version, uint32(pi.Index))
	e.PutUint32(version, uint32(pi.Size))
	e.PutUint16(version, uint16(pi.ChunkSize))
	return nil
}

// PutVersionMsg writes a VersionMsg as a bare uint32.
func (e *Encoder) PutVersionMsg(version uint32, vm types.VersionMsg) {
	e.PutUint32(version, uint32(vm))
}
