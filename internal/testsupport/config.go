package testsupport

import (
	"path/filepath"
	"testing"

	"reelfeed/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.CacheDir = filepath.Join(base, "cache")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Playback.RetryDelay = 10
	cfg.Playback.BusyRetryDelay = 5

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithMaxAttempts overrides the resolution attempt cap on the test config.
func WithMaxAttempts(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Playback.MaxAttempts = n
	}
}

// WithWindowSize overrides the feed session window on the test config.
func WithWindowSize(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Playback.WindowSize = n
	}
}
