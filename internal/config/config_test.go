package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/msfcore/internal/device"
	"github.com/danmuck/msfcore/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "msf.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
uin = 10001
platform = "watch"
host = "127.0.0.1"
port = 14000
heartbeat_interval = "5s"
data_dir = "/tmp/msf"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(10001), cfg.Uin)
	assert.Equal(t, device.Watch, cfg.Platform)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 14000, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 5*time.Second, cfg.CallTimeout)
	assert.True(t, cfg.Reconnect)
	assert.Equal(t, "/tmp/msf", cfg.DataDir)

	cc := cfg.Client()
	assert.Equal(t, uint32(10001), cc.Uin)
	assert.Equal(t, "127.0.0.1", cc.Network.Host)
	assert.Equal(t, 14000, cc.Network.Port)
	assert.Equal(t, 5*time.Second, cc.Session.HeartbeatInterval)
	assert.Equal(t, 500*time.Millisecond, cc.Session.Backoff.InitialDelay)
}

func TestLoadRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"missing uin":  `platform = "android"`,
		"bad platform": "uin = 1\nplatform = \"ios\"",
		"bad duration": "uin = 1\ncall_timeout = \"soon\"",
		"negative":     "uin = 1\nreconnect_interval = \"-1s\"",
		"uin range":    "uin = 5000000000",
		"port range":   "uin = 1\nhost = \"h\"\nport = 70000",
		"unknown key":  "uin = 1\nservers = []",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestTemplateLoads(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "msf.toml")
	require.NoError(t, WriteTemplate(path, 424242, false))
	require.Error(t, WriteTemplate(path, 424242, false))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(424242), cfg.Uin)
	assert.Equal(t, "", cfg.Host)
	assert.Equal(t, DefaultClientConfig().CallTimeout, cfg.CallTimeout)
	assert.Empty(t, cfg.Client().Network.Host)
}
