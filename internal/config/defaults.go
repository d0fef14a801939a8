package config

const (
	defaultCacheDir       = "~/.cache/reelfeed"
	defaultLogDir         = "~/.local/share/reelfeed/logs"
	defaultUserAgent      = "reelfeed/dev"
	defaultFFmpegBinary   = "ffmpeg"
	defaultFFprobeBinary  = "ffprobe"
	defaultExportTimeout  = 300
	defaultRetryDelay     = 1000
	defaultBusyRetryDelay = 250
	defaultMaxAttempts    = 5
	defaultWindowSize     = 1
	defaultPlayerBinary   = "ffplay"
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			CacheDir: defaultCacheDir,
			LogDir:   defaultLogDir,
		},
		Download: Download{
			RequestTimeout: 0,
			UserAgent:      defaultUserAgent,
		},
		Transcode: Transcode{
			FFmpegBinary:  defaultFFmpegBinary,
			FFprobeBinary: defaultFFprobeBinary,
			ExportTimeout: defaultExportTimeout,
		},
		Playback: Playback{
			RetryDelay:     defaultRetryDelay,
			BusyRetryDelay: defaultBusyRetryDelay,
			MaxAttempts:    defaultMaxAttempts,
			StartMuted:     false,
			WindowSize:     defaultWindowSize,
			PlayerBinary:   defaultPlayerBinary,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
