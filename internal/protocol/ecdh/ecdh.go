// Package ecdh derives the per-attempt login key from an ephemeral P-256
// keypair and the gateway's pinned public key.
package ecdh

import (
	"crypto/ecdh"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/danmuck/msfcore/internal/protocol/tea"
)

const serverPublicKeyHex = "04EBCA94D733E399B2DB96EACDD3F69A8BB0F74224E2B44E3357812211D2E62EFBC91BB553098E25E33A799ADC7F76FEB208DA7C6522CDB0719A305180CC54A82E"

var serverPublicKey *ecdh.PublicKey

func init() {
	raw, err := hex.DecodeString(serverPublicKeyHex)
	if err != nil {
		panic(err)
	}
	serverPublicKey, err = ecdh.P256().NewPublicKey(raw)
	if err != nil {
		panic(err)
	}
}

// Exchange is the result of one key agreement. It must not be reused across
// login attempts.
type Exchange struct {
	// PublicKey is the uncompressed client point sent in the login body.
	PublicKey []byte
	// ShareKey is MD5 of the first 16 bytes of the shared secret.
	ShareKey tea.Key
}

// New generates a fresh keypair and agrees a key with the gateway.
func New() (*Exchange, error) {
	return newWithPeer(serverPublicKey)
}

// NewWithPeer agrees a key with an explicit uncompressed peer point instead
// of the pinned gateway key.
func NewWithPeer(peerPoint []byte) (*Exchange, error) {
	peer, err := ecdh.P256().NewPublicKey(peerPoint)
	if err != nil {
		return nil, fmt.Errorf("ecdh: peer key: %w", err)
	}
	return newWithPeer(peer)
}

func newWithPeer(peer *ecdh.PublicKey) (*Exchange, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ecdh: generate key: %w", err)
	}
	secret, err := priv.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("ecdh: agree: %w", err)
	}
	return &Exchange{
		PublicKey: priv.PublicKey().Bytes(),
		ShareKey:  tea.Key(md5.Sum(secret[:16])),
	}, nil
}
