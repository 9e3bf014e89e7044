// Package tlv builds and reads the tagged blocks of the login protocol.
//
// A block is [u16 tag][u16 length][payload]. Packing is a closed set: each
// known tag has a dedicated method on Packer.
package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const HeaderLen = 4

var (
	ErrShortFieldHeader = errors.New("tlv: short field header")
	ErrShortFieldValue  = errors.New("tlv: short field value")
)

// Field is one decoded block.
type Field struct {
	Tag   uint16
	Value []byte
}

func EncodeField(f Field) []byte {
	buf := make([]byte, HeaderLen+len(f.Value))
	binary.BigEndian.PutUint16(buf[0:2], f.Tag)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(f.Value)))
	copy(buf[4:], f.Value)
	return buf
}

func EncodeFields(fields []Field) []byte {
	out := make([]byte, 0)
	for _, f := range fields {
		out = append(out, EncodeField(f)...)
	}
	return out
}

// Map is the decoded tag set of a login response. Later duplicates win.
type Map map[uint16][]byte

// Get returns the payload for tag and whether it was present.
func (m Map) Get(tag uint16) ([]byte, bool) {
	v, ok := m[tag]
	return v, ok
}

// DecodeCounted reads a u16 block count followed by that many blocks.
func DecodeCounted(payload []byte) (Map, error) {
	if len(payload) < 2 {
		return nil, ErrShortFieldHeader
	}
	n := int(binary.BigEndian.Uint16(payload))
	m, _, err := decodeN(payload[2:], n)
	return m, err
}

// DecodeAll reads blocks until payload is exhausted.
func DecodeAll(payload []byte) (Map, error) {
	m, _, err := decodeN(payload, -1)
	return m, err
}

func decodeN(payload []byte, n int) (Map, []byte, error) {
	m := make(Map)
	i := 0
	for count := 0; (n < 0 && i < len(payload)) || count < n; count++ {
		if len(payload)-i < HeaderLen {
			return nil, nil, fmt.Errorf("%w: block %d", ErrShortFieldHeader, count)
		}
		tag := binary.BigEndian.Uint16(payload[i : i+2])
		l := int(binary.BigEndian.Uint16(payload[i+2 : i+4]))
		i += HeaderLen
		if len(payload)-i < l {
			return nil, nil, fmt.Errorf("%w: tag=0x%x len=%d", ErrShortFieldValue, tag, l)
		}
		val := make([]byte, l)
		copy(val, payload[i:i+l])
		i += l
		m[tag] = val
	}
	return m, payload[i:], nil
}
