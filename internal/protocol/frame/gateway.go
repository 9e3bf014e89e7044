package frame

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/danmuck/msfcore/internal/protocol"
	"github.com/danmuck/msfcore/internal/protocol/tea"
	"github.com/klauspost/compress/zlib"
)

// This file is the gateway side of the envelopes: it reads what the client
// builds and builds what the client reads. The in-process gateway in
// internal/testutil/gateway drives it.

// Request is a decoded outbound frame.
type Request struct {
	Kind    uint32
	Enc     Encryption
	Seq     uint32
	Cmd     string
	Session []byte
	Body    []byte
	Uin     uint32
	D2      []byte
	TGT     []byte
}

// ParseRequest decodes a frame produced by BuildLogin or BuildService.
func ParseRequest(frame []byte, keys Keys) (*Request, error) {
	r := protocol.NewReader(frame)
	r.Skip(LengthLen)
	req := &Request{Kind: r.U32()}
	var sealed []byte
	switch req.Kind {
	case KindLogin:
		req.Enc = Encryption(r.U8())
		req.D2 = r.WithLength()
		r.Skip(1)
		req.Uin = parseUin(r.WithLength())
		sealed = r.Rest()
	case KindService:
		r.Skip(1)
		req.Seq = r.U32()
		r.Skip(1)
		req.Uin = parseUin(r.WithLength())
		req.Enc = EncryptSession
		sealed = r.Rest()
	default:
		return nil, fmt.Errorf("%w: kind 0x%x", ErrMalformed, req.Kind)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	sso := sealed
	if req.Enc != EncryptNone {
		key, err := keys.key(req.Enc)
		if err != nil {
			return nil, err
		}
		if sso, err = tea.Decrypt(sealed, key); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	r = protocol.NewReader(sso)
	head := protocol.NewReader(r.WithLength())
	req.Body = r.WithLength()
	if req.Kind == KindLogin {
		req.Seq = head.U32()
		head.Skip(8 + 12)
		req.TGT = head.WithLength()
	}
	req.Cmd = string(head.WithLength())
	req.Session = head.WithLength()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: sso: %v", ErrMalformed, err)
	}
	if err := head.Err(); err != nil {
		return nil, fmt.Errorf("%w: sso head: %v", ErrMalformed, err)
	}
	return req, nil
}

func parseUin(b []byte) uint32 {
	n, _ := strconv.ParseUint(string(b), 10, 32)
	return uint32(n)
}

// Response describes an inbound frame to build.
type Response struct {
	Seq      uint32
	Cmd      string
	Payload  []byte
	Session  []byte
	Uin      uint32
	Enc      Encryption
	Keys     Keys
	RetCode  int32
	Compress bool
	// Flag overrides the encryption flag byte when non-zero.
	Flag uint8
}

// BuildResponse encodes an inbound frame including its length prefix.
func BuildResponse(resp Response) ([]byte, error) {
	compression := compressNone
	payload := resp.Payload
	if resp.Compress {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		payload = buf.Bytes()
		compression = compressZlib
	}
	head := protocol.NewWriter().
		WriteU32(resp.Seq).
		WriteI32(resp.RetCode).
		WriteWithLength(nil).
		WriteStringWithLength(resp.Cmd).
		WriteWithLength(resp.Session).
		WriteI32(compression).
		Bytes()
	sso := protocol.NewWriter().WriteWithLength(head).WriteWithLength(payload).Bytes()

	if resp.Enc != EncryptNone {
		key, err := resp.Keys.key(resp.Enc)
		if err != nil {
			return nil, err
		}
		sso = tea.Encrypt(sso, key)
	}
	flag := uint8(resp.Enc)
	if resp.Flag != 0 {
		flag = resp.Flag
	}
	inner := protocol.NewWriter().
		WriteU32(KindLogin).
		WriteU8(flag).
		WriteU8(0).
		WriteStringWithLength(strconv.FormatUint(uint64(resp.Uin), 10)).
		WriteBytes(sso).
		Bytes()
	return protocol.NewWriter().WriteWithLength(inner).Bytes(), nil
}

// HandshakeRequest is an opened key-exchange envelope.
type HandshakeRequest struct {
	CmdID     uint16
	Uin       uint32
	PublicKey []byte
	Sealed    []byte
}

// OpenHandshake reverses Handshake.Wrap up to the encrypted body, which the
// gateway decrypts once it derived the share key from PublicKey.
func OpenHandshake(b []byte) (HandshakeRequest, error) {
	r := protocol.NewReader(b)
	r.Skip(1 + 2 + 2)
	h := HandshakeRequest{CmdID: r.U16()}
	r.Skip(2)
	h.Uin = r.U32()
	r.Skip(3 + 12 + 2 + 16 + 4)
	h.PublicKey = r.Tlv()
	rest := r.Rest()
	if err := r.Err(); err != nil || len(rest) < 1 {
		return HandshakeRequest{}, fmt.Errorf("%w: handshake", ErrMalformed)
	}
	h.Sealed = rest[:len(rest)-1]
	return h, nil
}

// SealResponse builds a login response payload readable by UnwrapResponse.
func SealResponse(body []byte, shareKey tea.Key) []byte {
	return protocol.NewWriter().
		WriteBytes(make([]byte, 16)).
		WriteBytes(tea.Encrypt(body, shareKey)).
		WriteU8(0x03).
		Bytes()
}
