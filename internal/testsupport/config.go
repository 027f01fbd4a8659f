package testsupport

import (
	"path/filepath"
	"testing"

	"fieldq/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Delivery.Endpoint = "http://127.0.0.1:9/debriefs"
	cfg.Connectivity.ProbeURL = "http://127.0.0.1:9/probe"
	cfg.Connectivity.NetlinkEnabled = false
	cfg.Queue.RatePerMinute = 0

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithEndpoint points delivery at the provided URL (usually an httptest server).
func WithEndpoint(url string) ConfigOption {
	return func(c *config.Config) {
		c.Delivery.Endpoint = url
	}
}

// WithMaxAttempts caps delivery attempts before failures turn terminal.
func WithMaxAttempts(n int) ConfigOption {
	return func(c *config.Config) {
		c.Retry.MaxAttempts = n
	}
}
