package streamkit

import (
	"os"
	"strconv"
	"time"
)

// Config is the flat, environment-loaded configuration for a Host: no
// dynamic schema, no KV-backed reload — just the handful of knobs a
// streaming client actually needs at startup.
type Config struct {
	// BaseURL is the HTTP origin for subscribe/modify/unsubscribe calls.
	BaseURL string
	// StreamURL is the websocket endpoint for the multiplexed push connection.
	StreamURL string
	// AuthToken, if set, is sent as a bearer token on every HTTP call
	// and on the websocket handshake.
	AuthToken string

	RequestTimeout    time.Duration
	OrphanSweepInterval time.Duration
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration

	// InboundBufferCapacity bounds the host's inbound frame queue — a
	// defensive backpressure valve, distinct from and never applied to
	// a subscription's own updates_before_subscribed buffer.
	InboundBufferCapacity int

	// MetricsAddr, if non-empty, is where metric.Server listens.
	MetricsAddr string
}

// DefaultConfig returns Config populated with the defaults: a 10s
// request timeout, a 1s orphan sweep, 1s to 30s reconnect delays, a
// 4096-frame inbound buffer and metrics on :9090. BaseURL, StreamURL
// and AuthToken are left empty.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:        10 * time.Second,
		OrphanSweepInterval:   1 * time.Second,
		ReconnectMinDelay:     1 * time.Second,
		ReconnectMaxDelay:     30 * time.Second,
		InboundBufferCapacity: 4096,
		MetricsAddr:           ":9090",
	}
}

// LoadConfigFromEnv overlays environment variables onto DefaultConfig:
// STREAMKIT_BASE_URL, STREAMKIT_STREAM_URL, STREAMKIT_AUTH_TOKEN,
// STREAMKIT_REQUEST_TIMEOUT, STREAMKIT_ORPHAN_SWEEP_INTERVAL,
// STREAMKIT_RECONNECT_MIN_DELAY, STREAMKIT_RECONNECT_MAX_DELAY,
// STREAMKIT_INBOUND_BUFFER_CAPACITY, STREAMKIT_METRICS_ADDR.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("STREAMKIT_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("STREAMKIT_STREAM_URL"); v != "" {
		cfg.StreamURL = v
	}
	if v := os.Getenv("STREAMKIT_AUTH_TOKEN"); v != "" {
		cfg.AuthToken = v
	}
	if v := os.Getenv("STREAMKIT_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RequestTimeout = d
		}
	}
	if v := os.Getenv("STREAMKIT_ORPHAN_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.OrphanSweepInterval = d
		}
	}
	if v := os.Getenv("STREAMKIT_RECONNECT_MIN_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ReconnectMinDelay = d
		}
	}
	if v := os.Getenv("STREAMKIT_RECONNECT_MAX_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ReconnectMaxDelay = d
		}
	}
	if v := os.Getenv("STREAMKIT_INBOUND_BUFFER_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.InboundBufferCapacity = n
		}
	}
	if v := os.Getenv("STREAMKIT_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	return cfg
}
