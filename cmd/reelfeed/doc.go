// Package main hosts the reelfeed CLI entrypoint and command graph.
//
// The Cobra-based command tree drives a feed playback session against the
// download, transcode, and renderer pipeline, plus cache inspection and
// configuration scaffolding. It centralizes configuration resolution and
// structured logging setup so subcommands can focus on user experience.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
