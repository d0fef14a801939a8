// Package render defines the playback renderer contract and the ffplay
// implementation used by the CLI. A renderer is created per playable file,
// announces readiness on a channel, and reports playback completion or
// runtime failure on a second channel.
package render
