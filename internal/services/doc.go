// Package services defines shared utilities consumed by the playback pipeline
// components.
//
// Key responsibilities:
//   - Context helpers that stamp asset identifiers, slot indexes, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the pipeline's retry taxonomy (transport, busy, transcode,
//     renderer, stale-binding).
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// (error handling, observability, retries) stays uniform across components.
package services
