// Package jce implements the tagged struct codec used by service calls,
// the registration handshake and the directory service.
//
// Every element is a head byte (4-bit tag, 4-bit type; tag 15 escapes to an
// extra tag byte) followed by a type-specific body. A Go Struct value is the
// explicit nested-struct marker: plain slices encode as lists, Map values as
// maps and []byte as an opaque simple list.
package jce

import (
	"errors"
	"fmt"
)

// Type codes from the head byte.
const (
	TypeInt8        uint8 = 0
	TypeInt16       uint8 = 1
	TypeInt32       uint8 = 2
	TypeInt64       uint8 = 3
	TypeFloat       uint8 = 4
	TypeDouble      uint8 = 5
	TypeString1     uint8 = 6
	TypeString4     uint8 = 7
	TypeMap         uint8 = 8
	TypeList        uint8 = 9
	TypeStructBegin uint8 = 10
	TypeStructEnd   uint8 = 11
	TypeZero        uint8 = 12
	TypeSimpleList  uint8 = 13
)

var (
	ErrUnknownType      = errors.New("jce: unknown type")
	ErrUnsupported      = errors.New("jce: unsupported value")
	ErrTruncated        = errors.New("jce: truncated data")
	ErrNegativeLength   = errors.New("jce: negative length")
	ErrUnexpectedEnd    = errors.New("jce: unexpected struct end")
	ErrMissingStructEnd = errors.New("jce: missing struct end")
	ErrTooDeep          = errors.New("jce: nesting too deep")
)

// Field is one tagged element of a Struct.
type Field struct {
	Tag   uint8
	Value any
}

// Struct is an ordered set of tagged fields.
type Struct []Field

// NewStruct builds a Struct whose tags are the argument positions; nil
// arguments are skipped, so callers can leave gaps.
func NewStruct(values ...any) Struct {
	s := make(Struct, 0, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		s = append(s, Field{Tag: uint8(i), Value: v})
	}
	return s
}

// Get returns the value stored under tag.
func (s Struct) Get(tag uint8) (any, bool) {
	for _, f := range s {
		if f.Tag == tag {
			return f.Value, true
		}
	}
	return nil, false
}

// Int returns an integer field, 0 if absent or not an integer.
func (s Struct) Int(tag uint8) int64 {
	v, _ := s.Get(tag)
	n, _ := v.(int64)
	return n
}

// String returns a string field, "" if absent.
func (s Struct) String(tag uint8) string {
	v, _ := s.Get(tag)
	str, _ := v.(string)
	return str
}

// Bytes returns a simple-list field.
func (s Struct) Bytes(tag uint8) []byte {
	v, _ := s.Get(tag)
	b, _ := v.([]byte)
	return b
}

// Struct returns a nested struct field.
func (s Struct) Struct(tag uint8) Struct {
	v, _ := s.Get(tag)
	n, _ := v.(Struct)
	return n
}

// List returns a list field.
func (s Struct) List(tag uint8) []any {
	v, _ := s.Get(tag)
	l, _ := v.([]any)
	return l
}

// Map returns a map field.
func (s Struct) Map(tag uint8) Map {
	v, _ := s.Get(tag)
	m, _ := v.(Map)
	return m
}

// Entry is one key/value pair of a Map.
type Entry struct {
	Key   any
	Value any
}

// Map keeps pairs in wire order.
type Map []Entry

// Get returns the value for a string key.
func (m Map) Get(key string) (any, bool) {
	for _, e := range m {
		if k, ok := e.Key.(string); ok && k == key {
			return e.Value, true
		}
	}
	return nil, false
}

// UnknownTypeError reports a head byte carrying a type code the codec does not know.
type UnknownTypeError struct {
	Type   uint8
	Offset int
}

func (e UnknownTypeError) Error() string {
	return fmt.Sprintf("jce: unknown type %d at offset %d", e.Type, e.Offset)
}

func (e UnknownTypeError) Unwrap() error {
	return ErrUnknownType
}
