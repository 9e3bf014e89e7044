package device

import (
	"crypto/md5"
	"testing"

	"github.com/danmuck/msfcore/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsDeterministic(t *testing.T) {
	testlog.Start(t)
	a := New(147258369)
	b := New(147258369)
	require.Equal(t, a, b)

	c := New(147258370)
	assert.NotEqual(t, a.IMEI, c.IMEI)
	assert.NotEqual(t, a.GUID, c.GUID)
	assert.NotEqual(t, a.BootID, c.BootID)
}

func TestGUIDDerivesFromIMEIAndMAC(t *testing.T) {
	d := New(10001)
	require.Equal(t, md5.Sum([]byte(d.IMEI+d.MACAddress)), d.GUID)
}

func TestIMEIShapeAndCheckDigit(t *testing.T) {
	testlog.Start(t)
	for _, uin := range []uint32{1, 10001, 147258369, 2000000000, 4294967295} {
		imei := IMEI(uin)
		require.Len(t, imei, 15, "uin=%d", uin)
		sum := 0
		for i := 0; i < 15; i++ {
			d := int(imei[i] - '0')
			require.True(t, d >= 0 && d <= 9, "uin=%d imei=%s", uin, imei)
			if i%2 == 1 {
				d *= 2
				d = d%10 + d/10
			}
			sum += d
		}
		require.Zero(t, sum%10, "uin=%d imei=%s", uin, imei)
	}
	assert.Equal(t, "86", IMEI(147258369)[:2])
	assert.Equal(t, "35", IMEI(10000)[:2])
}

func TestApkFor(t *testing.T) {
	assert.Equal(t, uint32(537113159), ApkFor(Android).SubID)
	assert.Equal(t, uint32(537064446), ApkFor(Watch).SubID)
	assert.Equal(t, "com.tencent.qqlite", ApkFor(Watch).ID)

	p, err := ParsePlatform("watch")
	require.NoError(t, err)
	assert.Equal(t, Watch, p)
	_, err = ParsePlatform("tv")
	require.Error(t, err)
}
