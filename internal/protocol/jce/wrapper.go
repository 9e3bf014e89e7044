package jce

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrBadWrapper = errors.New("jce: malformed request wrapper")

// EncodeWrapper builds a length-prefixed RequestPacket (version 3) carrying
// body under name, addressed to servant/function.
func EncodeWrapper(servant, function, name string, body Struct, requestID int32) ([]byte, error) {
	inner, err := Encode(Struct{{Tag: 0, Value: body}})
	if err != nil {
		return nil, err
	}
	payload, err := Encode(Struct{{Tag: 0, Value: Map{{Key: name, Value: inner}}}})
	if err != nil {
		return nil, err
	}
	packet, err := Encode(NewStruct(
		nil,
		3, 0, 0, requestID,
		servant, function,
		payload,
		0, Map{}, Map{},
	))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4+len(packet))
	binary.BigEndian.PutUint32(out, uint32(len(packet)+4))
	copy(out[4:], packet)
	return out, nil
}

// DecodeWrapper returns the struct carried by a length-prefixed RequestPacket.
// Both the version 3 layout (name -> bytes) and the version 2 layout
// (name -> type -> bytes) are accepted.
func DecodeWrapper(b []byte) (Struct, error) {
	if len(b) < 4 {
		return nil, ErrBadWrapper
	}
	packet, err := Decode(b[4:])
	if err != nil {
		return nil, err
	}
	payload := packet.Bytes(7)
	if payload == nil {
		return nil, fmt.Errorf("%w: missing buffer", ErrBadWrapper)
	}
	outer, err := Decode(payload)
	if err != nil {
		return nil, err
	}
	m := outer.Map(0)
	if len(m) == 0 {
		return nil, fmt.Errorf("%w: empty map", ErrBadWrapper)
	}
	nested := m[0].Value
	if inner, ok := nested.(Map); ok {
		if len(inner) == 0 {
			return nil, fmt.Errorf("%w: empty typed map", ErrBadWrapper)
		}
		nested = inner[0].Value
	}
	raw, ok := nested.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: value is %T", ErrBadWrapper, nested)
	}
	body, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	s := body.Struct(0)
	if s == nil {
		return nil, fmt.Errorf("%w: missing struct", ErrBadWrapper)
	}
	return s, nil
}

// WrapperHeader exposes the routing fields of a RequestPacket.
type WrapperHeader struct {
	RequestID int32
	Servant   string
	Function  string
}

// DecodeWrapperHeader reads servant/function/request id without unpacking the body.
func DecodeWrapperHeader(b []byte) (WrapperHeader, error) {
	if len(b) < 4 {
		return WrapperHeader{}, ErrBadWrapper
	}
	packet, err := Decode(b[4:])
	if err != nil {
		return WrapperHeader{}, err
	}
	return WrapperHeader{
		RequestID: int32(packet.Int(4)),
		Servant:   packet.String(5),
		Function:  packet.String(6),
	}, nil
}
