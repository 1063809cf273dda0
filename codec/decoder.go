package codec

import (
	"context"
	"encoding/binary"
	"io"

	"github.com/s-emmerson/hycast/types"
)

// DatagramSource is the contract transport.SSMD satisfies: enough to pull
// the head-of-line datagram into a caller-supplied buffer for
// NewDatagramDecoder. Declared structurally here, rather than importing
// the transport package, to keep codec beneath transport in the
// dependency graph.
type DatagramSource interface {
	// Recv copies the head-of-line datagram into the concatenation of
	// iov and returns its length. If peek is true the datagram remains
	// queued for a later Recv/Discard.
	Recv(ctx context.Context, iov [][]byte, peek bool) (int, error)
	// GetSize returns the byte length of the head-of-line datagram.
	GetSize() int
}

// maxDatagramSize mirrors transport/mcast.MaxPayload; kept as a local
// constant so codec doesn't need to import the transport tree just for one
// buffer size.
const maxDatagramSize = 1472

// Decoder pulls typed primitives out of one framed message at a time. Call
// Fill to guarantee enough bytes of the current message are buffered, then
// Decode* to consume typed values, then Clear to advance to the next
// message.
type Decoder struct {
	buf  []byte
	pos  int
	fill func(need int) error
	clear func()
}

// NewBufferDecoder wraps a message whose bytes are already fully available,
// e.g. one returned whole by transport.MSRT.Recv.
func NewBufferDecoder(data []byte) *Decoder {
	d := &Decoder{buf: data}
	d.fill = func(need int) error {
		if len(d.buf)-d.pos < need {
			return types.ShortMessage("buffer decoder exhausted")
		}
		return nil
	}
	d.clear = func() {}
	return d
}

// NewDatagramDecoder wraps an SSMD-shaped source bound to ctx. The first
// call to Fill pulls the entire head-of-line datagram into an internal
// buffer, regardless of the requested n, matching the must-fully-drain
// framing of the multicast wire format.
func NewDatagramDecoder(ctx context.Context, src DatagramSource) *Decoder {
	d := &Decoder{}
	loaded := false
	d.fill = func(need int) error {
		if !loaded {
			buf := make([]byte, maxDatagramSize)
			n, err := src.Recv(ctx, [][]byte{buf}, false)
			if err != nil {
				return err
			}
			d.buf = buf[:n]
			d.pos = 0
			loaded = true
		}
		if len(d.buf)-d.pos < need {
			return types.ShortMessage("datagram shorter than required")
		}
		return nil
	}
	d.clear = func() {
		d.buf = nil
		d.pos = 0
		loaded = false
	}
	return d
}

// NewStreamDecoder wraps a plain io.Reader, pulling additional bytes as
// Fill demands them. Used for sequential formats with no natural outer
// framing, such as the product-store persistence file.
func NewStreamDecoder(r io.Reader) *Decoder {
	d := &Decoder{}
	d.fill = func(need int) error {
		have := len(d.buf) - d.pos
		if have >= need {
			return nil
		}
		grow := make([]byte, need-have)
		n, err := io.ReadFull(r, grow)
		if n > 0 {
			d.buf = append(d.buf, grow[:n]...)
		}
		if err != nil {
			if err == io.ErrUnexpectedEOF || err == io.EOF {
				return types.ShortMessage("stream ended before message complete")
			}
			return err
		}
		return nil
	}
	d.clear = func() {
		d.buf = d.buf[d.pos:]
		d.pos = 0
	}
	return d
}

// Fill guarantees that at least n bytes beyond the current position are
// buffered and available to Decode*, returning ShortMessage if the message
// ends first.
func (d *Decoder) Fill(n int) error {
	return d.fill(n)
}

// Clear discards the rest of the current message (if any) and advances the
// decoder to the next one.
func (d *Decoder) Clear() {
	d.clear()
}

// Remaining returns the number of currently-buffered, not-yet-decoded bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

func (d *Decoder) take(n int) ([]byte, error) {
	if err := d.Fill(n); err != nil {
		return nil, err
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *Decoder) DecodeUint8(_ uint32) (uint8, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) DecodeUint16(_ uint32) (uint16, error) {
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (d *Decoder) DecodeUint32(_ uint32) (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *Decoder) DecodeUint64(_ uint32) (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// DecodeString reads a 16-bit length prefix then that many raw bytes.
func (d *Decoder) DecodeString(version uint32) (string, error) {
	n, err := d.DecodeUint16(version)
	if err != nil {
		return "", err
	}
	b, err := d.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeBytes reads exactly n raw bytes with no framing of its own.
func (d *Decoder) DecodeBytes(n int) ([]byte, error) {
	return d.take(n)
}

// DecodeChunkInfo reads a ChunkInfo: ProdIndex(4) ProdSize(4) ChunkIndex(4).
func (d *Decoder) DecodeChunkInfo(version uint32) (types.ChunkInfo, error) {
	prodIndex, err := d.DecodeUint32(version)
	if err != nil {
		return types.ChunkInfo{}, err
	}
	prodSize, err := d.DecodeUint32(version)
	if err != nil {
		return types.ChunkInfo{}, err
	}
	chunkIndex, err := d.DecodeUint32(version)
	if err != nil {
		return types.ChunkInfo{}, err
	}
	return types.ChunkInfo{
		ProdIndex:  types.ProdIndex(prodIndex),
		ProdSize:   types.ProdSize(prodSize),
		ChunkIndex: types.ChunkIndex(chunkIndex),
	}, nil
}

// DecodeProdInfo reads a ProdInfo: name(2+n) ProdIndex(4) ProdSize(4)
// canonicalChunkSize(2).
func (d *Decoder) DecodeProdInfo(version uint32) (types.ProdInfo, error) {
	name, err := d.DecodeString(version)
	if err != nil {
		return types.ProdInfo{}, err
	}
	index, err := d.DecodeUint32(version)
	if err != nil {
		return types.ProdInfo{}, err
	}
	size, err := d.DecodeUint32(version)
	if err != nil {
		return types.ProdInfo{}, err
	}
	chunkSize, err := d.DecodeUint16(version)
	if err != nil {
		return types.ProdInfo{}, err
	}
	return types.ProdInfo{
		Index:     types.ProdIndex(index),
		Name:      name,
		Size:      types.ProdSize(size),
		ChunkSize: types.ChunkSize(chunkSize),
	}, nil
}

// DecodeVersionMsg reads a VersionMsg: a bare uint32.
func (d *Decoder) DecodeVersionMsg(version uint32) (types.VersionMsg, error) {
	v, err := d.DecodeUint32(version)
	if err != nil {
		return 0, err
	}
	return types.VersionMsg(v), nil
}
