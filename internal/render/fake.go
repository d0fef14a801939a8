package render

import (
	"context"
	"sync"
)

// FakeRenderer is a scriptable Renderer for tests. Readiness and completion
// are driven by the test via SignalReady and SignalDone.
type FakeRenderer struct {
	Path string

	ready chan error
	done  chan error

	mu         sync.Mutex
	closed     bool
	doneClosed bool
	playCalls  []bool
	pauseCalls int
	playErr    error
}

// NewFakeRenderer returns a renderer whose readiness and completion the
// caller controls.
func NewFakeRenderer(path string) *FakeRenderer {
	return &FakeRenderer{
		Path:  path,
		ready: make(chan error, 1),
		done:  make(chan error, 1),
	}
}

// SignalReady delivers the readiness result. err == nil marks the renderer
// ready to play.
func (f *FakeRenderer) SignalReady(err error) {
	f.ready <- err
	close(f.ready)
}

// SignalDone delivers the playback completion result.
func (f *FakeRenderer) SignalDone(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.doneClosed {
		return
	}
	f.doneClosed = true
	f.done <- err
	close(f.done)
}

// FailPlay makes subsequent Play calls return err.
func (f *FakeRenderer) FailPlay(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playErr = err
}

func (f *FakeRenderer) Ready() <-chan error { return f.ready }

func (f *FakeRenderer) Done() <-chan error { return f.done }

func (f *FakeRenderer) Play(muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playErr != nil {
		return f.playErr
	}
	f.playCalls = append(f.playCalls, muted)
	return nil
}

func (f *FakeRenderer) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauseCalls++
	return nil
}

func (f *FakeRenderer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if !f.doneClosed {
		f.doneClosed = true
		f.done <- nil
		close(f.done)
	}
	return nil
}

// Closed reports whether Close has been called.
func (f *FakeRenderer) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// PlayCalls returns the muted flag of every Play call in order.
func (f *FakeRenderer) PlayCalls() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.playCalls))
	copy(out, f.playCalls)
	return out
}

// PauseCalls returns the number of Pause calls.
func (f *FakeRenderer) PauseCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pauseCalls
}

// FakeFactory builds FakeRenderers and records every renderer it produced.
type FakeFactory struct {
	mu        sync.Mutex
	renderers []*FakeRenderer
	factErr   error

	// AutoReady makes each produced renderer signal readiness immediately.
	AutoReady bool
}

// NewFakeFactory returns a factory whose renderers become ready immediately.
func NewFakeFactory() *FakeFactory {
	return &FakeFactory{AutoReady: true}
}

// Fail makes subsequent factory calls return err.
func (ff *FakeFactory) Fail(err error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	ff.factErr = err
}

// Factory returns the render.Factory function for this fake.
func (ff *FakeFactory) Factory() Factory {
	return func(ctx context.Context, playablePath string) (Renderer, error) {
		ff.mu.Lock()
		defer ff.mu.Unlock()
		if ff.factErr != nil {
			return nil, ff.factErr
		}
		r := NewFakeRenderer(playablePath)
		if ff.AutoReady {
			r.SignalReady(nil)
		}
		ff.renderers = append(ff.renderers, r)
		return r, nil
	}
}

// Renderers returns every renderer the factory produced so far.
func (ff *FakeFactory) Renderers() []*FakeRenderer {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	out := make([]*FakeRenderer, len(ff.renderers))
	copy(out, ff.renderers)
	return out
}

// Last returns the most recently produced renderer, or nil.
func (ff *FakeFactory) Last() *FakeRenderer {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if len(ff.renderers) == 0 {
		return nil
	}
	return ff.renderers[len(ff.renderers)-1]
}
