package render

import "context"

// Renderer is a playback surface bound to a single playable local file.
//
// Readiness and runtime failure are delivered over channels rather than
// observer callbacks so callers need no invalidation bookkeeping: an
// abandoned renderer is simply closed and its channels go unread.
type Renderer interface {
	// Ready yields exactly one value: nil once the renderer is prepared to
	// play, or the preparation error. The channel is closed afterwards.
	Ready() <-chan error
	// Play starts or resumes playback with the given muted flag. Changing
	// the flag mid-playback takes effect immediately, though the underlying
	// surface may restart to honor it.
	Play(muted bool) error
	// Pause suspends playback without releasing the surface.
	Pause() error
	// Done yields one value when playback ends: nil for natural completion
	// or the runtime error that stopped it.
	Done() <-chan error
	// Close releases the surface and all associated resources. Idempotent.
	Close() error
}

// Factory constructs a renderer bound to a playable local file. The context
// covers construction and preparation only; Close releases the renderer
// regardless of that context.
type Factory func(ctx context.Context, playablePath string) (Renderer, error)
