package jce

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Encode serializes the fields of s at top level, without struct markers.
func Encode(s Struct) ([]byte, error) {
	var buf bytes.Buffer
	for _, f := range s {
		if err := writeElement(&buf, f.Tag, f.Value); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// MustEncode is Encode for values built from known-good literals.
func MustEncode(s Struct) []byte {
	b, err := Encode(s)
	if err != nil {
		panic(err)
	}
	return b
}

func writeHead(buf *bytes.Buffer, typ, tag uint8) {
	if tag < 15 {
		buf.WriteByte(tag<<4 | typ)
		return
	}
	buf.WriteByte(0xf0 | typ)
	buf.WriteByte(tag)
}

func writeInt(buf *bytes.Buffer, tag uint8, n int64) {
	switch {
	case n == 0:
		writeHead(buf, TypeZero, tag)
	case n >= math.MinInt8 && n <= math.MaxInt8:
		writeHead(buf, TypeInt8, tag)
		buf.WriteByte(byte(int8(n)))
	case n >= math.MinInt16 && n <= math.MaxInt16:
		writeHead(buf, TypeInt16, tag)
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(int16(n)))
		buf.Write(b[:])
	case n >= math.MinInt32 && n <= math.MaxInt32:
		writeHead(buf, TypeInt32, tag)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(int32(n)))
		buf.Write(b[:])
	default:
		writeHead(buf, TypeInt64, tag)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(n))
		buf.Write(b[:])
	}
}

func writeString(buf *bytes.Buffer, tag uint8, s string) {
	if len(s) <= 255 {
		writeHead(buf, TypeString1, tag)
		buf.WriteByte(byte(len(s)))
	} else {
		writeHead(buf, TypeString4, tag)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(len(s)))
		buf.Write(b[:])
	}
	buf.WriteString(s)
}

func writeElement(buf *bytes.Buffer, tag uint8, v any) error {
	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		if x {
			writeInt(buf, tag, 1)
		} else {
			writeInt(buf, tag, 0)
		}
	case int:
		writeInt(buf, tag, int64(x))
	case int8:
		writeInt(buf, tag, int64(x))
	case int16:
		writeInt(buf, tag, int64(x))
	case int32:
		writeInt(buf, tag, int64(x))
	case int64:
		writeInt(buf, tag, x)
	case uint8:
		writeInt(buf, tag, int64(x))
	case uint16:
		writeInt(buf, tag, int64(x))
	case uint32:
		writeInt(buf, tag, int64(x))
	case uint64:
		writeInt(buf, tag, int64(x))
	case float32:
		writeHead(buf, TypeFloat, tag)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], math.Float32bits(x))
		buf.Write(b[:])
	case float64:
		writeHead(buf, TypeDouble, tag)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(x))
		buf.Write(b[:])
	case string:
		writeString(buf, tag, x)
	case []byte:
		writeHead(buf, TypeSimpleList, tag)
		writeHead(buf, TypeInt8, 0)
		writeInt(buf, 0, int64(len(x)))
		buf.Write(x)
	case Struct:
		writeHead(buf, TypeStructBegin, tag)
		for _, f := range x {
			if err := writeElement(buf, f.Tag, f.Value); err != nil {
				return err
			}
		}
		writeHead(buf, TypeStructEnd, 0)
	case Map:
		writeHead(buf, TypeMap, tag)
		writeInt(buf, 0, int64(len(x)))
		for _, e := range x {
			if err := writeElement(buf, 0, e.Key); err != nil {
				return err
			}
			if err := writeElement(buf, 1, e.Value); err != nil {
				return err
			}
		}
	case map[string][]byte:
		return writeElement(buf, tag, mapFromBytes(x))
	case map[string]any:
		return writeElement(buf, tag, mapFromAny(x))
	case []any:
		writeHead(buf, TypeList, tag)
		writeInt(buf, 0, int64(len(x)))
		for _, e := range x {
			if err := writeElement(buf, 0, e); err != nil {
				return err
			}
		}
	case []Struct:
		list := make([]any, len(x))
		for i := range x {
			list[i] = x[i]
		}
		return writeElement(buf, tag, list)
	case []string:
		list := make([]any, len(x))
		for i := range x {
			list[i] = x[i]
		}
		return writeElement(buf, tag, list)
	case []int64:
		list := make([]any, len(x))
		for i := range x {
			list[i] = x[i]
		}
		return writeElement(buf, tag, list)
	default:
		return fmt.Errorf("%w: tag=%d type=%T", ErrUnsupported, tag, v)
	}
	return nil
}

func mapFromBytes(m map[string][]byte) Map {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(Map, 0, len(keys))
	for _, k := range keys {
		out = append(out, Entry{Key: k, Value: m[k]})
	}
	return out
}

func mapFromAny(m map[string]any) Map {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(Map, 0, len(keys))
	for _, k := range keys {
		out = append(out, Entry{Key: k, Value: m[k]})
	}
	return out
}
