package pb

import (
	"testing"

	"github.com/danmuck/msfcore/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeScalarsAndRepeated(t *testing.T) {
	testlog.Start(t)
	in := Message{
		1: 1152,
		2: uint64(1) << 60,
		3: "text",
		4: []byte{0x00, 0xff},
		5: []any{1, 2, 3},
		6: float32(0.5),
		7: 2.75,
		8: true,
	}
	b, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, uint64(1152), out.Uint(1))
	assert.Equal(t, uint64(1)<<60, out.Uint(2))
	assert.Equal(t, "text", out.String(3))
	assert.Equal(t, []byte{0x00, 0xff}, out.Bytes(4))
	assert.Equal(t, []any{uint64(1), uint64(2), uint64(3)}, out.Repeated(5))
	assert.Equal(t, float32(0.5), out[6])
	assert.Equal(t, 2.75, out[7])
	assert.Equal(t, uint64(1), out.Uint(8))
}

func TestEncodeIsDeterministic(t *testing.T) {
	testlog.Start(t)
	m := Message{9: "z", 1: 1, 5: []byte("m"), 3: Message{1: 2}}
	first := MustEncode(m)
	for i := 0; i < 20; i++ {
		require.Equal(t, first, MustEncode(m))
	}
	require.Equal(t, byte(1<<3), first[0], "lowest field number first")
}

func TestIntegralFloatUsesVarint(t *testing.T) {
	b := MustEncode(Message{1: 3.0})
	require.Equal(t, []byte{0x08, 0x03}, b)
}

func TestNegativeIntRoundTrip(t *testing.T) {
	out, err := Decode(MustEncode(Message{1: -5}))
	require.NoError(t, err)
	require.Equal(t, int64(-5), out.Int(1))
}

func TestNestedMessageIsLazy(t *testing.T) {
	testlog.Start(t)
	in := Message{1: Message{1: 7, 2: "inner"}}
	out, err := Decode(MustEncode(in))
	require.NoError(t, err)

	field, ok := out[1].(*Bytes)
	require.True(t, ok)
	require.NotEmpty(t, field.Raw())

	nested, ok := field.Message()
	require.True(t, ok)
	assert.Equal(t, uint64(7), nested.Uint(1))
	assert.Equal(t, "inner", nested.String(2))

	again, _ := field.Message()
	assert.Equal(t, nested, again)
}

func TestUnparseableNestedDoesNotFailDecode(t *testing.T) {
	testlog.Start(t)
	garbage := []byte{0xff, 0xff, 0xff}
	out, err := Decode(MustEncode(Message{2: garbage}))
	require.NoError(t, err)
	assert.Equal(t, garbage, out.Bytes(2))
	assert.Nil(t, out.Message(2))
	_, ok := out[2].(*Bytes).Message()
	assert.False(t, ok)
}

func TestRepeatedMessagesPreserveOrder(t *testing.T) {
	testlog.Start(t)
	in := Message{1: []Message{{1: 46, 2: 1}, {1: 283, 2: 0}}}
	out, err := Decode(MustEncode(in))
	require.NoError(t, err)
	items := out.Repeated(1)
	require.Len(t, items, 2)
	first, _ := items[0].(*Bytes).Message()
	second, _ := items[1].(*Bytes).Message()
	assert.Equal(t, uint64(46), first.Uint(1))
	assert.Equal(t, uint64(283), second.Uint(1))
}

func TestDecodeMalformedTopLevel(t *testing.T) {
	_, err := Decode([]byte{0x0a, 0x05, 'a'})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestEncodeUnsupported(t *testing.T) {
	_, err := Encode(Message{1: struct{}{}})
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestReEncodeDecodedBytes(t *testing.T) {
	in := Message{1: "abc", 2: []any{"x", "y"}}
	first, err := Decode(MustEncode(in))
	require.NoError(t, err)
	second, err := Decode(MustEncode(first))
	require.NoError(t, err)
	assert.Equal(t, "abc", second.String(1))
	require.Len(t, second.Repeated(2), 2)
	assert.Equal(t, "y", second.Repeated(2)[1].(*Bytes).String())
}
