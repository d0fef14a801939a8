// Package controller implements the per-slot playback state machine. Each
// controller owns one recyclable feed slot, resolves its bound asset through
// the cache, download coordinator and transcode pipeline, then gates actual
// playback on the process-wide selector so only the frontmost asset plays.
//
// Every binding carries a generation token and a cancellation context.
// Results that arrive after a rebind or teardown are discarded before they
// can touch the controller's state or files.
package controller
