package config

import (
	"github.com/danmuck/msfcore/internal/client"
	"github.com/danmuck/msfcore/internal/network"
)

// Client converts the file settings into a client.Config. An explicit host
// pins the gateway and disables directory selection.
func (c ClientConfig) Client() client.Config {
	cfg := client.DefaultConfig(c.Uin)
	cfg.Platform = c.Platform
	cfg.Reconnect = c.Reconnect
	cfg.Session.HeartbeatInterval = c.HeartbeatInterval
	cfg.Session.CallTimeout = c.CallTimeout
	cfg.Session.Backoff.InitialDelay = c.ReconnectInterval
	if c.Host != "" {
		cfg.Network = network.Config{Host: c.Host, Port: c.Port}
	}
	cfg.Directory = network.DirectoryConfig{URL: c.DirectoryURL}
	return cfg
}
