// Package pb implements a schema-less codec for the field-numbered binary
// format carried inside service calls and login tags.
//
// Decoded length-delimited fields are kept as *Bytes: the raw bytes are
// always available and the nested Message view is parsed on first use.
package pb

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	ErrMalformed   = errors.New("pb: malformed input")
	ErrUnsupported = errors.New("pb: unsupported value")
)

// Message maps field numbers to values. Encode accepts integers, bools,
// floats, strings, []byte, *Bytes, nested Message and slices of those
// (repeated fields). Decode produces uint64, float32, float64, *Bytes and
// []any for repeated fields.
type Message map[uint32]any

// Bytes is a decoded length-delimited field.
type Bytes struct {
	raw  []byte
	once sync.Once
	msg  Message
	ok   bool
}

// NewBytes wraps raw bytes so they can be re-encoded or parsed lazily.
func NewBytes(raw []byte) *Bytes {
	return &Bytes{raw: raw}
}

// Raw returns the field bytes as received.
func (b *Bytes) Raw() []byte {
	if b == nil {
		return nil
	}
	return b.raw
}

func (b *Bytes) String() string {
	if b == nil {
		return ""
	}
	return string(b.raw)
}

// Message returns the nested view, parsing it on first call. ok is false
// when the bytes do not form a valid message.
func (b *Bytes) Message() (Message, bool) {
	if b == nil {
		return nil, false
	}
	b.once.Do(func() {
		m, err := Decode(b.raw)
		if err == nil {
			b.msg = m
			b.ok = true
		}
	})
	return b.msg, b.ok
}

// Encode serializes m with fields in ascending number order.
func Encode(m Message) ([]byte, error) {
	tags := make([]uint32, 0, len(m))
	for tag := range m {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	var out []byte
	for _, tag := range tags {
		var err error
		out, err = appendValue(out, protowire.Number(tag), m[tag])
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MustEncode is Encode for messages built from known-good literals.
func MustEncode(m Message) []byte {
	b, err := Encode(m)
	if err != nil {
		panic(err)
	}
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendValue(b []byte, num protowire.Number, v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return b, nil
	case bool:
		return appendVarint(b, num, protowire.EncodeBool(x)), nil
	case int:
		return appendVarint(b, num, uint64(x)), nil
	case int8:
		return appendVarint(b, num, uint64(x)), nil
	case int16:
		return appendVarint(b, num, uint64(x)), nil
	case int32:
		return appendVarint(b, num, uint64(x)), nil
	case int64:
		return appendVarint(b, num, uint64(x)), nil
	case uint:
		return appendVarint(b, num, uint64(x)), nil
	case uint8:
		return appendVarint(b, num, uint64(x)), nil
	case uint16:
		return appendVarint(b, num, uint64(x)), nil
	case uint32:
		return appendVarint(b, num, uint64(x)), nil
	case uint64:
		return appendVarint(b, num, x), nil
	case float32:
		if x == float32(math.Trunc(float64(x))) {
			return appendVarint(b, num, uint64(int64(x))), nil
		}
		b = protowire.AppendTag(b, num, protowire.Fixed32Type)
		return protowire.AppendFixed32(b, math.Float32bits(x)), nil
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			return appendVarint(b, num, uint64(int64(x))), nil
		}
		b = protowire.AppendTag(b, num, protowire.Fixed64Type)
		return protowire.AppendFixed64(b, math.Float64bits(x)), nil
	case string:
		b = protowire.AppendTag(b, num, protowire.BytesType)
		return protowire.AppendString(b, x), nil
	case []byte:
		b = protowire.AppendTag(b, num, protowire.BytesType)
		return protowire.AppendBytes(b, x), nil
	case *Bytes:
		b = protowire.AppendTag(b, num, protowire.BytesType)
		return protowire.AppendBytes(b, x.Raw()), nil
	case Message:
		nested, err := Encode(x)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, num, protowire.BytesType)
		return protowire.AppendBytes(b, nested), nil
	case []any:
		for _, e := range x {
			var err error
			if b, err = appendValue(b, num, e); err != nil {
				return nil, err
			}
		}
		return b, nil
	case []Message:
		for _, e := range x {
			var err error
			if b, err = appendValue(b, num, e); err != nil {
				return nil, err
			}
		}
		return b, nil
	case []uint64:
		for _, e := range x {
			b = appendVarint(b, num, e)
		}
		return b, nil
	case []uint32:
		for _, e := range x {
			b = appendVarint(b, num, uint64(e))
		}
		return b, nil
	case []int64:
		for _, e := range x {
			b = appendVarint(b, num, uint64(e))
		}
		return b, nil
	case []string:
		for _, e := range x {
			b = protowire.AppendTag(b, num, protowire.BytesType)
			b = protowire.AppendString(b, e)
		}
		return b, nil
	case [][]byte:
		for _, e := range x {
			b = protowire.AppendTag(b, num, protowire.BytesType)
			b = protowire.AppendBytes(b, e)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: field=%d type=%T", ErrUnsupported, num, v)
	}
}

// Decode parses one message level. Fields repeated on the wire collect into
// []any in wire order. Nested messages are not parsed here; see Bytes.Message.
func Decode(b []byte) (Message, error) {
	m := make(Message)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: tag: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		var v any
		switch typ {
		case protowire.VarintType:
			x, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: varint field=%d", ErrMalformed, num)
			}
			v, b = x, b[n:]
		case protowire.Fixed32Type:
			x, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: fixed32 field=%d", ErrMalformed, num)
			}
			v, b = math.Float32frombits(x), b[n:]
		case protowire.Fixed64Type:
			x, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: fixed64 field=%d", ErrMalformed, num)
			}
			v, b = math.Float64frombits(x), b[n:]
		case protowire.BytesType:
			x, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bytes field=%d", ErrMalformed, num)
			}
			raw := make([]byte, len(x))
			copy(raw, x)
			v, b = NewBytes(raw), b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: field=%d wire=%d", ErrMalformed, num, typ)
			}
			b = b[n:]
			continue
		}
		tag := uint32(num)
		switch prev := m[tag].(type) {
		case nil:
			m[tag] = v
		case []any:
			m[tag] = append(prev, v)
		default:
			m[tag] = []any{prev, v}
		}
	}
	return m, nil
}
