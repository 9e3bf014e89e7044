package session

import "time"

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines timeouts and intervals for one session.
type Config struct {
	ConnectTimeout    time.Duration
	CallTimeout       time.Duration
	RegisterTimeout   time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	// TokenRefreshAfter is the token age past which a heartbeat tick
	// exchanges it for a fresh one.
	TokenRefreshAfter time.Duration
	Backoff           BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    5 * time.Second,
		CallTimeout:       5 * time.Second,
		RegisterTimeout:   10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
		TokenRefreshAfter: 14000 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 500 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     30 * time.Second,
			Jitter:       true,
		},
	}
}
