// Package config loads the msfctl client configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/msfcore/internal/device"
)

// ClientConfig is the resolved client configuration.
type ClientConfig struct {
	Uin               uint32
	Platform          device.Platform
	Host              string
	Port              int
	DirectoryURL      string
	HeartbeatInterval time.Duration
	CallTimeout       time.Duration
	Reconnect         bool
	ReconnectInterval time.Duration
	DataDir           string
}

type fileConfig struct {
	Uin               int64  `toml:"uin"`
	Platform          string `toml:"platform"`
	Host              string `toml:"host"`
	Port              int    `toml:"port"`
	DirectoryURL      string `toml:"directory_url"`
	HeartbeatInterval string `toml:"heartbeat_interval"`
	CallTimeout       string `toml:"call_timeout"`
	Reconnect         bool   `toml:"reconnect"`
	ReconnectInterval string `toml:"reconnect_interval"`
	DataDir           string `toml:"data_dir"`
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Platform:          device.Android,
		Port:              8080,
		HeartbeatInterval: 30 * time.Second,
		CallTimeout:       5 * time.Second,
		Reconnect:         true,
		ReconnectInterval: 500 * time.Millisecond,
		DataDir:           "data",
	}
}

// Load reads path over DefaultClientConfig. Keys absent from the file keep
// their defaults.
func Load(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return ClientConfig{}, fmt.Errorf("config unknown key (%s): %s", path, undecoded[0])
	}

	if meta.IsDefined("uin") {
		if raw.Uin <= 0 || raw.Uin > 0xFFFFFFFF {
			return ClientConfig{}, fmt.Errorf("config uin out of range: %d", raw.Uin)
		}
		cfg.Uin = uint32(raw.Uin)
	}
	if meta.IsDefined("platform") {
		p, err := device.ParsePlatform(strings.TrimSpace(raw.Platform))
		if err != nil {
			return ClientConfig{}, fmt.Errorf("parse platform: %w", err)
		}
		cfg.Platform = p
	}
	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("directory_url") {
		cfg.DirectoryURL = strings.TrimSpace(raw.DirectoryURL)
	}
	if meta.IsDefined("heartbeat_interval") {
		if cfg.HeartbeatInterval, err = parseDuration("heartbeat_interval", raw.HeartbeatInterval); err != nil {
			return ClientConfig{}, err
		}
	}
	if meta.IsDefined("call_timeout") {
		if cfg.CallTimeout, err = parseDuration("call_timeout", raw.CallTimeout); err != nil {
			return ClientConfig{}, err
		}
	}
	if meta.IsDefined("reconnect") {
		cfg.Reconnect = raw.Reconnect
	}
	if meta.IsDefined("reconnect_interval") {
		if cfg.ReconnectInterval, err = parseDuration("reconnect_interval", raw.ReconnectInterval); err != nil {
			return ClientConfig{}, err
		}
	}
	if meta.IsDefined("data_dir") {
		cfg.DataDir = strings.TrimSpace(raw.DataDir)
	}

	if err := Validate(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func parseDuration(key, v string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("parse %s: must be positive", key)
	}
	return d, nil
}

func Validate(cfg ClientConfig) error {
	if cfg.Uin == 0 {
		return errors.New("client config missing uin")
	}
	if cfg.Host != "" && (cfg.Port <= 0 || cfg.Port > 65535) {
		return fmt.Errorf("client config port out of range: %d", cfg.Port)
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("client config missing data_dir")
	}
	return nil
}
