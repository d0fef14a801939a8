package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	CacheDir string `toml:"cache_dir"`
	LogDir   string `toml:"log_dir"`
}

// Download contains configuration for fetching remote assets.
type Download struct {
	// RequestTimeout bounds a single fetch in seconds. Zero relies on the
	// transport's defaults and context cancellation only.
	RequestTimeout int    `toml:"request_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// Transcode contains configuration for producing playable derivatives.
type Transcode struct {
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	FFprobeBinary string `toml:"ffprobe_binary"`
	// ExportTimeout bounds a single export in seconds. Zero disables the bound.
	ExportTimeout int `toml:"export_timeout"`
}

// Playback contains configuration for controller retry and play behavior.
type Playback struct {
	// RetryDelay is the fixed delay in milliseconds before re-entering
	// resolution after a failure.
	RetryDelay int `toml:"retry_delay_ms"`
	// BusyRetryDelay is the shorter delay in milliseconds applied when a
	// download ticket for the asset is already held elsewhere.
	BusyRetryDelay int `toml:"busy_retry_delay_ms"`
	// MaxAttempts caps resolution attempts per binding before the slot is
	// marked unplayable. Zero retries indefinitely while the cell is bound.
	MaxAttempts int `toml:"max_attempts"`
	// StartMuted controls the initial mute flag of the playback selector.
	StartMuted bool `toml:"start_muted"`
	// WindowSize is the number of slots kept resolved around the frontmost
	// position by a feed session.
	WindowSize int `toml:"window_size"`
	// PlayerBinary is the renderer executable used by the CLI.
	PlayerBinary string `toml:"player_binary"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for reelfeed.
//
// Configuration sections by subsystem:
//   - Paths: cache and log directories
//   - Download: fetch timeout and user agent
//   - Transcode: ffmpeg/ffprobe binaries and export timeout
//   - Playback: retry delays, attempt cap, mute default, window size
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Download  Download  `toml:"download"`
	Transcode Transcode `toml:"transcode"`
	Playback  Playback  `toml:"playback"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/reelfeed/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The boolean reports
// whether a file existed at the resolved path.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("reelfeed.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// Validate checks configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		return errors.New("paths.cache_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must not be empty")
	}
	if c.Download.RequestTimeout < 0 {
		return errors.New("download.request_timeout must not be negative")
	}
	if c.Transcode.ExportTimeout < 0 {
		return errors.New("transcode.export_timeout must not be negative")
	}
	if c.Playback.RetryDelay <= 0 {
		return errors.New("playback.retry_delay_ms must be positive")
	}
	if c.Playback.BusyRetryDelay <= 0 {
		return errors.New("playback.busy_retry_delay_ms must be positive")
	}
	if c.Playback.MaxAttempts < 0 {
		return errors.New("playback.max_attempts must not be negative")
	}
	if c.Playback.WindowSize < 1 {
		return errors.New("playback.window_size must be at least 1")
	}
	return nil
}

// EnsureDirectories creates the directories the pipeline writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.CacheDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SampleConfig returns the embedded sample configuration file contents.
func SampleConfig() string {
	return sampleConfig
}

// WriteSample writes the sample configuration to the given path, refusing to
// overwrite an existing file.
func WriteSample(path string) (string, error) {
	expanded, err := expandPath(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(expanded); err == nil {
		return "", fmt.Errorf("config file already exists at %s", expanded)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("stat config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return "", fmt.Errorf("write sample config: %w", err)
	}
	return expanded, nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}
