package graph

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Field payload layout (big-endian throughout):
//
//	primitive: bool 1 byte | int32 4 | int64 8 | float32 4 | float64 8 | string/bytes raw
//	pointer:   0x00 (empty) | 0x01 followed by the binary address
//	object:    [uint16 count] then per child [uint16 key][uint32 len][payload]
//	array:     [uint32 count] then per element [uint32 len][payload]
//
// Children and elements are length-prefixed so readers can skip keys they
// do not know.

type reader struct {
	data []byte
	off  int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) remaining() int {
	return len(r.data) - r.off
}

func (r *reader) next(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, errors.Wrapf(ErrCorruptPayload, "need %d bytes at offset %d, have %d", n, r.off, r.remaining())
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) uint16() (uint16, error) {
	b, err := r.next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// chunk reads a uint32 length prefix and the bytes it covers.
func (r *reader) chunk() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	return r.next(int(n))
}

func (r *reader) done() error {
	if r.remaining() != 0 {
		return errors.Wrapf(ErrCorruptPayload, "%d trailing bytes", r.remaining())
	}
	return nil
}

func appendChunk(dst, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}
