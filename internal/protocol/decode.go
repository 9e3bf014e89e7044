package protocol

import "encoding/binary"

// Reader consumes big-endian fields from a byte slice. The first short read
// latches ErrTruncated; later reads return zero values and Err reports it.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.err = ErrTruncated
		return nil
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out
}

func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *Reader) I32() int32 {
	return int32(r.U32())
}

func (r *Reader) U64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// Bytes returns a copy of the next n bytes.
func (r *Reader) Bytes(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (r *Reader) Skip(n int) {
	r.take(n)
}

// Tlv reads a u16 length-prefixed block.
func (r *Reader) Tlv() []byte {
	return r.Bytes(int(r.U16()))
}

// WithLength reads a block prefixed by a u32 length that counts itself.
func (r *Reader) WithLength() []byte {
	n := int(r.U32())
	if r.err != nil {
		return nil
	}
	if n < 4 {
		r.err = ErrInvalidLength
		return nil
	}
	return r.Bytes(n - 4)
}

// Rest returns a copy of all unread bytes.
func (r *Reader) Rest() []byte {
	return r.Bytes(r.Len())
}

func (r *Reader) Len() int {
	return len(r.buf) - r.off
}

func (r *Reader) Offset() int {
	return r.off
}

func (r *Reader) Err() error {
	return r.err
}
