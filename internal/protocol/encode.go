package protocol

import (
	"bytes"
	"encoding/binary"
)

// Writer appends big-endian fields to an in-memory buffer. Writes never fail.
type Writer struct {
	buf bytes.Buffer
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) WriteU8(v uint8) *Writer {
	w.buf.WriteByte(v)
	return w
}

func (w *Writer) WriteBool(v bool) *Writer {
	if v {
		return w.WriteU8(1)
	}
	return w.WriteU8(0)
}

func (w *Writer) WriteU16(v uint16) *Writer {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
	return w
}

func (w *Writer) WriteU32(v uint32) *Writer {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
	return w
}

func (w *Writer) WriteI32(v int32) *Writer {
	return w.WriteU32(uint32(v))
}

func (w *Writer) WriteU64(v uint64) *Writer {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
	return w
}

func (w *Writer) WriteBytes(v []byte) *Writer {
	w.buf.Write(v)
	return w
}

func (w *Writer) WriteString(v string) *Writer {
	w.buf.WriteString(v)
	return w
}

// WriteTlv writes v prefixed with its u16 length.
func (w *Writer) WriteTlv(v []byte) *Writer {
	w.WriteU16(uint16(len(v)))
	return w.WriteBytes(v)
}

// WriteTlvString is WriteTlv for string values.
func (w *Writer) WriteTlvString(v string) *Writer {
	w.WriteU16(uint16(len(v)))
	return w.WriteString(v)
}

// WriteWithLength writes v prefixed with a u32 length that counts the prefix itself.
func (w *Writer) WriteWithLength(v []byte) *Writer {
	w.WriteU32(uint32(len(v) + 4))
	return w.WriteBytes(v)
}

// WriteStringWithLength is WriteWithLength for string values.
func (w *Writer) WriteStringWithLength(v string) *Writer {
	w.WriteU32(uint32(len(v) + 4))
	return w.WriteString(v)
}

func (w *Writer) Len() int {
	return w.buf.Len()
}

// Bytes returns a copy of the written bytes.
func (w *Writer) Bytes() []byte {
	out := make([]byte, w.buf.Len())
	copy(out, w.buf.Bytes())
	return out
}
