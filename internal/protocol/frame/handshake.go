package frame

import (
	"fmt"

	"github.com/danmuck/msfcore/internal/protocol"
	"github.com/danmuck/msfcore/internal/protocol/tea"
)

// Handshake command ids in the login envelope.
const (
	CmdIDLogin  uint16 = 0x810
	CmdIDQrcode uint16 = 0x812
)

// Handshake is the key-exchange envelope around a login body.
type Handshake struct {
	CmdID     uint16
	Uin       uint32
	RandKey   [16]byte
	PublicKey []byte
	ShareKey  tea.Key
}

// Wrap encrypts body under the share key and prefixes the client's public
// key so the gateway can derive the same key.
func (h Handshake) Wrap(body []byte) []byte {
	inner := protocol.NewWriter().
		WriteU8(0x02).
		WriteU8(0x01).
		WriteBytes(h.RandKey[:]).
		WriteU16(0x131).
		WriteU16(0x01).
		WriteTlv(h.PublicKey).
		WriteBytes(tea.Encrypt(body, h.ShareKey)).
		Bytes()
	return protocol.NewWriter().
		WriteU8(0x02).
		WriteU16(uint16(29 + len(inner))).
		WriteU16(8001).
		WriteU16(h.CmdID).
		WriteU16(1).
		WriteU32(h.Uin).
		WriteU8(3).
		WriteU8(0x87).
		WriteU8(0).
		WriteU32(2).
		WriteU32(0).
		WriteU32(0).
		WriteBytes(inner).
		WriteU8(0x03).
		Bytes()
}

// UnwrapResponse decrypts a login response payload with the share key.
func UnwrapResponse(payload []byte, shareKey tea.Key) ([]byte, error) {
	if len(payload) < 17 {
		return nil, fmt.Errorf("%w: login response %d bytes", ErrMalformed, len(payload))
	}
	out, err := tea.Decrypt(payload[16:len(payload)-1], shareKey)
	if err != nil {
		return nil, fmt.Errorf("%w: login response: %v", ErrMalformed, err)
	}
	return out, nil
}

// Code2D wraps a trans_emp (QR code) request body in its outer envelope.
func Code2D(cmdID uint16, head uint32, body []byte, seq uint32, now uint32) []byte {
	return protocol.NewWriter().
		WriteU32(head).
		WriteU32(0x1000).
		WriteU16(0).
		WriteU32(0x72000000).
		WriteU32(now).
		WriteU8(2).
		WriteU16(uint16(44 + len(body))).
		WriteU16(cmdID).
		WriteBytes(make([]byte, 21)).
		WriteU8(3).
		WriteU16(0).
		WriteU16(50).
		WriteU32(seq + 1).
		WriteU64(0).
		WriteBytes(body).
		WriteU8(3).
		Bytes()
}
