package jce

import (
	"encoding/binary"
	"fmt"
	"math"
)

// MaxDepth bounds nesting of structs, lists and maps.
const MaxDepth = 64

type decoder struct {
	buf   []byte
	off   int
	depth int
}

func (d *decoder) enter() error {
	d.depth++
	if d.depth > MaxDepth {
		return fmt.Errorf("%w: offset %d", ErrTooDeep, d.off)
	}
	return nil
}

// Decode parses top-level elements until the input is exhausted.
func Decode(b []byte) (Struct, error) {
	d := &decoder{buf: b}
	out := make(Struct, 0, 8)
	for d.off < len(d.buf) {
		typ, tag, err := d.readHead()
		if err != nil {
			return nil, err
		}
		if typ == TypeStructEnd {
			return nil, ErrUnexpectedEnd
		}
		v, err := d.readBody(typ)
		if err != nil {
			return nil, err
		}
		out = append(out, Field{Tag: tag, Value: v})
	}
	return out, nil
}

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrNegativeLength
	}
	if len(d.buf)-d.off < n {
		return nil, ErrTruncated
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *decoder) readHead() (uint8, uint8, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, 0, err
	}
	typ := b[0] & 0x0f
	tag := b[0] >> 4
	if tag == 15 {
		ext, err := d.take(1)
		if err != nil {
			return 0, 0, err
		}
		tag = ext[0]
	}
	return typ, tag, nil
}

// readElement reads one head+body pair and returns only the value.
func (d *decoder) readElement() (any, error) {
	typ, _, err := d.readHead()
	if err != nil {
		return nil, err
	}
	return d.readBody(typ)
}

func (d *decoder) readLength() (int, error) {
	v, err := d.readElement()
	if err != nil {
		return 0, err
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("jce: length is %T, want integer", v)
	}
	if n < 0 || n > int64(len(d.buf)) {
		return 0, ErrNegativeLength
	}
	return int(n), nil
}

func (d *decoder) readBody(typ uint8) (any, error) {
	switch typ {
	case TypeZero:
		return int64(0), nil
	case TypeInt8:
		b, err := d.take(1)
		if err != nil {
			return nil, err
		}
		return int64(int8(b[0])), nil
	case TypeInt16:
		b, err := d.take(2)
		if err != nil {
			return nil, err
		}
		return int64(int16(binary.BigEndian.Uint16(b))), nil
	case TypeInt32:
		b, err := d.take(4)
		if err != nil {
			return nil, err
		}
		return int64(int32(binary.BigEndian.Uint32(b))), nil
	case TypeInt64:
		b, err := d.take(8)
		if err != nil {
			return nil, err
		}
		return int64(binary.BigEndian.Uint64(b)), nil
	case TypeFloat:
		b, err := d.take(4)
		if err != nil {
			return nil, err
		}
		return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
	case TypeDouble:
		b, err := d.take(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case TypeString1:
		n, err := d.take(1)
		if err != nil {
			return nil, err
		}
		s, err := d.take(int(n[0]))
		if err != nil {
			return nil, err
		}
		return string(s), nil
	case TypeString4:
		n, err := d.take(4)
		if err != nil {
			return nil, err
		}
		s, err := d.take(int(binary.BigEndian.Uint32(n)))
		if err != nil {
			return nil, err
		}
		return string(s), nil
	case TypeMap:
		if err := d.enter(); err != nil {
			return nil, err
		}
		defer func() { d.depth-- }()
		n, err := d.readLength()
		if err != nil {
			return nil, err
		}
		m := make(Map, 0, n)
		for i := 0; i < n; i++ {
			k, err := d.readElement()
			if err != nil {
				return nil, err
			}
			v, err := d.readElement()
			if err != nil {
				return nil, err
			}
			m = append(m, Entry{Key: k, Value: v})
		}
		return m, nil
	case TypeList:
		if err := d.enter(); err != nil {
			return nil, err
		}
		defer func() { d.depth-- }()
		n, err := d.readLength()
		if err != nil {
			return nil, err
		}
		l := make([]any, 0, n)
		for i := 0; i < n; i++ {
			v, err := d.readElement()
			if err != nil {
				return nil, err
			}
			l = append(l, v)
		}
		return l, nil
	case TypeSimpleList:
		if _, _, err := d.readHead(); err != nil {
			return nil, err
		}
		n, err := d.readLength()
		if err != nil {
			return nil, err
		}
		b, err := d.take(n)
		if err != nil {
			return nil, err
		}
		out := make([]byte, n)
		copy(out, b)
		return out, nil
	case TypeStructBegin:
		if err := d.enter(); err != nil {
			return nil, err
		}
		defer func() { d.depth-- }()
		return d.readStruct()
	default:
		return nil, UnknownTypeError{Type: typ, Offset: d.off - 1}
	}
}

func (d *decoder) readStruct() (Struct, error) {
	s := make(Struct, 0, 4)
	for {
		if d.off >= len(d.buf) {
			return nil, ErrMissingStructEnd
		}
		typ, tag, err := d.readHead()
		if err != nil {
			return nil, err
		}
		if typ == TypeStructEnd {
			return s, nil
		}
		v, err := d.readBody(typ)
		if err != nil {
			return nil, err
		}
		s = append(s, Field{Tag: tag, Value: v})
	}
}
