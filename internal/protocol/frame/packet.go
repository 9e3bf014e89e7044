package frame

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/danmuck/msfcore/internal/protocol"
	"github.com/danmuck/msfcore/internal/protocol/tea"
	"github.com/klauspost/compress/zlib"
)

// Frame kinds written after the length prefix.
const (
	KindLogin   uint32 = 0x0A
	KindService uint32 = 0x0B
)

// Encryption selects the key for an SSO envelope. It is the flag byte of
// both outbound login frames and every inbound frame.
type Encryption uint8

const (
	EncryptNone    Encryption = 0
	EncryptSession Encryption = 1
	EncryptZero    Encryption = 2
)

// Payload compression flags inside an inbound SSO head.
const (
	compressNone  int32 = 0
	compressZlib  int32 = 1
	compressNone8 int32 = 8
)

var (
	ErrUnknownFlag        = errors.New("frame: unknown encryption flag")
	ErrUnknownCompression = errors.New("frame: unknown compression flag")
	ErrMalformed          = errors.New("frame: malformed packet")
)

// RetCodeError is a non-zero status in an inbound SSO head. The gateway uses
// it to reject the session's credentials.
type RetCodeError struct {
	Seq     uint32
	RetCode int32
}

func (e *RetCodeError) Error() string {
	return fmt.Sprintf("frame: seq=%d unsuccessful retcode %d", e.Seq, e.RetCode)
}

// Keys are the session secrets needed to encrypt or decrypt envelopes.
type Keys struct {
	D2    []byte
	D2Key tea.Key
}

func (k Keys) key(enc Encryption) (tea.Key, error) {
	switch enc {
	case EncryptSession:
		return k.D2Key, nil
	case EncryptZero:
		return tea.ZeroKey, nil
	default:
		return tea.Key{}, fmt.Errorf("%w: %d", ErrUnknownFlag, enc)
	}
}

// Login describes one login-kind frame.
type Login struct {
	Seq     uint32
	Cmd     string
	Body    []byte
	Enc     Encryption
	Uin     uint32
	SubID   uint32
	Session []byte
	IMEI    string
	TGT     []byte
	Keys    Keys
}

// BuildLogin encodes a login-kind frame including its length prefix.
func BuildLogin(l Login) ([]byte, error) {
	head := protocol.NewWriter().
		WriteU32(l.Seq).
		WriteU32(l.SubID).
		WriteU32(l.SubID).
		WriteBytes([]byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00}).
		WriteWithLength(l.TGT).
		WriteStringWithLength(l.Cmd).
		WriteWithLength(l.Session).
		WriteStringWithLength(l.IMEI).
		WriteU32(4).
		WriteU16(2).
		WriteU32(4).
		Bytes()
	sso := protocol.NewWriter().WriteWithLength(head).WriteWithLength(l.Body).Bytes()

	if l.Enc != EncryptNone {
		key, err := l.Keys.key(l.Enc)
		if err != nil {
			return nil, err
		}
		sso = tea.Encrypt(sso, key)
	}
	inner := protocol.NewWriter().
		WriteU32(KindLogin).
		WriteU8(uint8(l.Enc)).
		WriteWithLength(l.Keys.D2).
		WriteU8(0).
		WriteStringWithLength(strconv.FormatUint(uint64(l.Uin), 10)).
		WriteBytes(sso).
		Bytes()
	return protocol.NewWriter().WriteWithLength(inner).Bytes(), nil
}

// Service describes one ordinary service call frame.
type Service struct {
	Seq     uint32
	Cmd     string
	Body    []byte
	Uin     uint32
	Session []byte
	D2Key   tea.Key
}

// BuildService encodes a service-kind frame including its length prefix.
func BuildService(s Service) []byte {
	head := protocol.NewWriter().
		WriteStringWithLength(s.Cmd).
		WriteWithLength(s.Session).
		WriteU32(4).
		Bytes()
	sso := protocol.NewWriter().WriteWithLength(head).WriteWithLength(s.Body).Bytes()
	inner := protocol.NewWriter().
		WriteU32(KindService).
		WriteU8(1).
		WriteU32(s.Seq).
		WriteU8(0).
		WriteStringWithLength(strconv.FormatUint(uint64(s.Uin), 10)).
		WriteBytes(tea.Encrypt(sso, s.D2Key)).
		Bytes()
	return protocol.NewWriter().WriteWithLength(inner).Bytes()
}

// Packet is a decoded inbound SSO envelope.
type Packet struct {
	Seq     uint32
	Cmd     string
	Session []byte
	Payload []byte
}

// Parse decodes an inbound frame (length prefix included). The flag byte
// picks the key; an unknown flag or a non-zero retcode is fatal to the
// session's credentials.
func Parse(frame []byte, keys Keys) (*Packet, error) {
	return ParseLimited(frame, keys, DefaultLimits())
}

// ParseLimited is Parse with an explicit bound on the inflated payload.
// A zero MaxFrameBytes uses the default.
func ParseLimited(frame []byte, keys Keys, limits Limits) (*Packet, error) {
	if limits.MaxFrameBytes == 0 {
		limits = DefaultLimits()
	}
	r := protocol.NewReader(frame)
	r.Skip(LengthLen + 4)
	flag := Encryption(r.U8())
	r.Skip(1)
	r.WithLength()
	body := r.Rest()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var decrypted []byte
	switch flag {
	case EncryptNone:
		decrypted = body
	case EncryptSession, EncryptZero:
		key, _ := keys.key(flag)
		var err error
		if decrypted, err = tea.Decrypt(body, key); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownFlag, flag)
	}
	return parseSSO(decrypted, limits)
}

func parseSSO(buf []byte, limits Limits) (*Packet, error) {
	r := protocol.NewReader(buf)
	headLen := int(r.U32())
	seq := r.U32()
	retCode := r.I32()
	if r.Err() == nil && retCode != 0 {
		return nil, &RetCodeError{Seq: seq, RetCode: retCode}
	}
	r.WithLength()
	cmd := string(r.WithLength())
	session := r.WithLength()
	compression := r.I32()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: sso head: %v", ErrMalformed, err)
	}

	p := &Packet{Seq: seq, Cmd: cmd, Session: session}
	switch compression {
	case compressNone:
		if headLen+4 > len(buf) {
			return nil, fmt.Errorf("%w: head length %d", ErrMalformed, headLen)
		}
		p.Payload = buf[headLen+4:]
	case compressZlib:
		if headLen+4 > len(buf) {
			return nil, fmt.Errorf("%w: head length %d", ErrMalformed, headLen)
		}
		zr, err := zlib.NewReader(bytes.NewReader(buf[headLen+4:]))
		if err != nil {
			return nil, fmt.Errorf("%w: zlib: %v", ErrMalformed, err)
		}
		defer zr.Close()
		max := int64(limits.MaxFrameBytes)
		if p.Payload, err = io.ReadAll(io.LimitReader(zr, max+1)); err != nil {
			return nil, fmt.Errorf("%w: zlib: %v", ErrMalformed, err)
		}
		if int64(len(p.Payload)) > max {
			return nil, fmt.Errorf("%w: inflated payload over %d bytes", ErrFrameTooLarge, max)
		}
	case compressNone8:
		if headLen > len(buf) {
			return nil, fmt.Errorf("%w: head length %d", ErrMalformed, headLen)
		}
		p.Payload = buf[headLen:]
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, compression)
	}
	return p, nil
}
