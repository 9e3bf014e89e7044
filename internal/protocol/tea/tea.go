// Package tea implements the 16-round, 8-byte block cipher used for frame
// bodies and nested login tags, in the chained mode the gateway expects.
package tea

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	delta  = 0x9E3779B9
	rounds = 16
	// KeySize is the cipher key length in bytes.
	KeySize = 16
)

var (
	ErrKeySize   = errors.New("tea: key must be 16 bytes")
	ErrLength    = errors.New("tea: ciphertext length must be a positive multiple of 8")
	ErrMalformed = errors.New("tea: malformed plaintext padding")
)

// Key is a cipher key. The zero Key is used before any session key exists.
type Key [KeySize]byte

// ZeroKey is the all-zero key for pre-session frames.
var ZeroKey Key

// KeyFrom copies a 16-byte slice into a Key.
func KeyFrom(b []byte) (Key, error) {
	var k Key
	if len(b) != KeySize {
		return k, fmt.Errorf("%w: got %d", ErrKeySize, len(b))
	}
	copy(k[:], b)
	return k, nil
}

func (k Key) words() (k0, k1, k2, k3 uint32) {
	return binary.BigEndian.Uint32(k[0:]), binary.BigEndian.Uint32(k[4:]),
		binary.BigEndian.Uint32(k[8:]), binary.BigEndian.Uint32(k[12:])
}

func encipher(x, y, k0, k1, k2, k3 uint32) (uint32, uint32) {
	var sum uint32
	for i := 0; i < rounds; i++ {
		sum += delta
		x += ((y << 4) + k0) ^ (y + sum) ^ ((y >> 5) + k1)
		y += ((x << 4) + k2) ^ (x + sum) ^ ((x >> 5) + k3)
	}
	return x, y
}

func decipher(x, y, k0, k1, k2, k3 uint32) (uint32, uint32) {
	var sum uint32 = 0xE3779B90 // delta * rounds mod 2^32
	for i := 0; i < rounds; i++ {
		y -= ((x << 4) + k2) ^ (x + sum) ^ ((x >> 5) + k3)
		x -= ((y << 4) + k0) ^ (y + sum) ^ ((y >> 5) + k1)
		sum -= delta
	}
	return x, y
}

// Encrypt pads src with a random header and seven zero bytes and encrypts it
// under k. The result is a multiple of 8 and at least len(src)+10 bytes.
func Encrypt(src []byte, k Key) []byte {
	fill := ((6-len(src))%8+8)%8 + 2
	buf := make([]byte, 1+fill+len(src)+7)
	buf[0] = byte(fill-2) | 0xF8
	_, _ = rand.Read(buf[1 : 1+fill])
	copy(buf[1+fill:], src)

	k0, k1, k2, k3 := k.words()
	var r1, r2, t1, t2 uint32
	for i := 0; i < len(buf); i += 8 {
		b1 := binary.BigEndian.Uint32(buf[i:]) ^ r1
		b2 := binary.BigEndian.Uint32(buf[i+4:]) ^ r2
		x, y := encipher(b1, b2, k0, k1, k2, k3)
		r1, r2 = x^t1, y^t2
		t1, t2 = b1, b2
		binary.BigEndian.PutUint32(buf[i:], r1)
		binary.BigEndian.PutUint32(buf[i+4:], r2)
	}
	return buf
}

// Decrypt reverses Encrypt. A wrong key yields ErrMalformed in most cases;
// when it does not, the caller's parser rejects the garbage.
func Decrypt(src []byte, k Key) ([]byte, error) {
	if len(src) < 16 || len(src)%8 != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrLength, len(src))
	}
	out := make([]byte, len(src))
	k0, k1, k2, k3 := k.words()
	var x, y, t1, t2 uint32
	for i := 0; i < len(src); i += 8 {
		a1 := binary.BigEndian.Uint32(src[i:])
		a2 := binary.BigEndian.Uint32(src[i+4:])
		x, y = decipher(a1^x, a2^y, k0, k1, k2, k3)
		binary.BigEndian.PutUint32(out[i:], x^t1)
		binary.BigEndian.PutUint32(out[i+4:], y^t2)
		t1, t2 = a1, a2
	}

	for _, b := range out[len(out)-7:] {
		if b != 0 {
			return nil, ErrMalformed
		}
	}
	start := int(out[0]&7) + 3
	end := len(out) - 7
	if start > end {
		return nil, ErrMalformed
	}
	return out[start:end], nil
}
