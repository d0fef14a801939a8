// Package transcode turns a raw downloaded video into the playable,
// video-only derivative the renderer consumes. It wraps ffprobe for
// inspection and ffmpeg for the export, both executed with context
// cancellation so a torn-down cell abandons its export immediately.
package transcode
