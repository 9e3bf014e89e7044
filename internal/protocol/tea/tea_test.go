package tea

import (
	"bytes"
	"crypto/md5"
	"testing"

	"github.com/danmuck/msfcore/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	testlog.Start(t)
	key := Key(md5.Sum([]byte("session")))
	for n := 0; n <= 64; n++ {
		src := bytes.Repeat([]byte{byte(n)}, n)
		enc := Encrypt(src, key)
		require.Zero(t, len(enc)%8, "len=%d", n)
		require.GreaterOrEqual(t, len(enc), n+10, "len=%d", n)

		dec, err := Decrypt(enc, key)
		require.NoError(t, err, "len=%d", n)
		require.Equal(t, src, append([]byte{}, dec...), "len=%d", n)
	}
}

func TestZeroKeyRoundTrip(t *testing.T) {
	src := []byte("pre-session frame body")
	dec, err := Decrypt(Encrypt(src, ZeroKey), ZeroKey)
	require.NoError(t, err)
	require.Equal(t, src, dec)
}

func TestEncryptIsRandomized(t *testing.T) {
	src := []byte("same input")
	a := Encrypt(src, ZeroKey)
	b := Encrypt(src, ZeroKey)
	require.Len(t, b, len(a))
	require.NotEqual(t, a, b)
}

func TestDecryptRejectsBadLength(t *testing.T) {
	_, err := Decrypt(make([]byte, 12), ZeroKey)
	require.ErrorIs(t, err, ErrLength)
	_, err = Decrypt(make([]byte, 8), ZeroKey)
	require.ErrorIs(t, err, ErrLength)
}

func TestDecryptWrongKeyDoesNotPanic(t *testing.T) {
	testlog.Start(t)
	good := Key(md5.Sum([]byte("good")))
	bad := Key(md5.Sum([]byte("bad")))
	enc := Encrypt(bytes.Repeat([]byte("payload"), 8), good)
	require.NotPanics(t, func() {
		dec, err := Decrypt(enc, bad)
		if err == nil {
			require.NotEqual(t, bytes.Repeat([]byte("payload"), 8), dec)
		}
	})
}

func TestKeyFrom(t *testing.T) {
	_, err := KeyFrom([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrKeySize)
	k, err := KeyFrom(bytes.Repeat([]byte{7}, 16))
	require.NoError(t, err)
	require.Equal(t, byte(7), k[15])
}
