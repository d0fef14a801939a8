// Package config loads, normalizes, and validates the TOML configuration
// consumed by the playback pipeline and the CLI.
package config
