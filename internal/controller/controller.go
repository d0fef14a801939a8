package controller

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"reelfeed/internal/cache"
	"reelfeed/internal/config"
	"reelfeed/internal/download"
	"reelfeed/internal/logging"
	"reelfeed/internal/render"
	"reelfeed/internal/selector"
	"reelfeed/internal/services"
	"reelfeed/internal/transcode"
)

// State identifies where a controller's current binding sits in the
// resolution and playback lifecycle.
type State string

const (
	StateIdle        State = "idle"
	StateResolving   State = "resolving"
	StateDownloading State = "downloading"
	StateTranscoding State = "transcoding"
	StateReady       State = "ready"
	StatePlaying     State = "playing"
	StatePaused      State = "paused"
	StateFailed      State = "failed"
	StateRetrying    State = "retrying"
	StateUnplayable  State = "unplayable"
)

// Deps carries the collaborators a controller orchestrates. All fields
// except the callbacks are required.
type Deps struct {
	Store       *cache.Store
	Coordinator *download.Coordinator
	Resolver    download.Resolver
	Fetcher     *download.Fetcher
	Pipeline    *transcode.Pipeline
	Selector    *selector.Selector
	Factory     render.Factory
	Logger      *slog.Logger

	// OnReady is invoked once per binding when a renderer becomes ready.
	OnReady func(assetID string)
	// OnFailed is invoked for each failed resolution attempt and again when
	// a binding is declared unplayable.
	OnFailed func(assetID string, err error)
}

// Controller drives one recyclable feed slot. It resolves the bound asset
// through the cache, coordinator and transcode pipeline, attaches a renderer
// to the playable result, and starts playback only while the slot's asset
// matches the selector's current asset.
type Controller struct {
	slot  int
	store *cache.Store
	coord *download.Coordinator

	resolver download.Resolver
	fetcher  *download.Fetcher
	pipeline *transcode.Pipeline
	sel      *selector.Selector
	factory  render.Factory
	logger   *slog.Logger

	onReady  func(string)
	onFailed func(string, error)

	retryDelay     time.Duration
	busyRetryDelay time.Duration
	maxAttempts    int

	// bindMu serializes Bind calls so the teardown of the previous binding
	// and the arming of the next one form one atomic step.
	bindMu sync.Mutex

	mu         sync.Mutex
	closed     bool
	generation uint64
	state      State
	assetID    string
	remoteRef  string
	cancel     context.CancelFunc
	wg         *sync.WaitGroup
	renderer   render.Renderer

	subCancel func()
	subWG     sync.WaitGroup
}

// New constructs a controller for the given slot and subscribes it to
// selector broadcasts. Callers must Close the controller to release the
// subscription.
func New(slot int, cfg *config.Config, deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &Controller{
		slot:           slot,
		store:          deps.Store,
		coord:          deps.Coordinator,
		resolver:       deps.Resolver,
		fetcher:        deps.Fetcher,
		pipeline:       deps.Pipeline,
		sel:            deps.Selector,
		factory:        deps.Factory,
		logger:         logging.NewComponentLogger(logger, "controller"),
		onReady:        deps.OnReady,
		onFailed:       deps.OnFailed,
		retryDelay:     time.Duration(cfg.Playback.RetryDelay) * time.Millisecond,
		busyRetryDelay: time.Duration(cfg.Playback.BusyRetryDelay) * time.Millisecond,
		maxAttempts:    cfg.Playback.MaxAttempts,
		state:          StateIdle,
	}

	ch, cancelSub := c.sel.Subscribe()
	c.subCancel = cancelSub
	c.subWG.Add(1)
	go func() {
		defer c.subWG.Done()
		for state := range ch {
			c.applyIntent(state)
		}
	}()
	return c
}

// Slot returns the viewport slot index this controller serves.
func (c *Controller) Slot() int { return c.slot }

// State returns the lifecycle state of the current binding.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// BoundAssetID returns the asset the controller is currently bound to, or
// the empty string when idle.
func (c *Controller) BoundAssetID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assetID
}

// Bind attaches the controller to an asset and starts resolution. Binding
// the same asset again while a renderer exists or resolution is in flight
// only re-evaluates play intent. Binding a different asset tears the
// previous binding down first, including its cached files. Concurrent Bind
// calls are serialized; the last caller wins.
func (c *Controller) Bind(assetID, remoteRef string) error {
	if assetID == "" {
		return services.Wrap(services.ErrConfiguration, "controller", "bind", "empty asset id", nil)
	}

	c.bindMu.Lock()
	defer c.bindMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return services.Wrap(services.ErrStaleBinding, "controller", "bind", "controller closed", nil)
	}
	if c.assetID == assetID && (c.renderer != nil || c.resolutionActive()) {
		c.mu.Unlock()
		c.applyIntent(c.sel.Snapshot())
		return nil
	}
	c.mu.Unlock()

	if err := c.Teardown(); err != nil {
		c.logger.Warn("teardown before rebind reported an error",
			logging.String(logging.FieldAssetID, assetID), logging.Error(err))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return services.Wrap(services.ErrStaleBinding, "controller", "bind", "controller closed", nil)
	}
	gen := c.generation
	ctx, cancel := context.WithCancel(context.Background())
	ctx = services.WithAssetID(ctx, assetID)
	ctx = services.WithSlot(ctx, c.slot)
	ctx = services.WithRequestID(ctx, uuid.NewString())
	wg := &sync.WaitGroup{}
	c.cancel = cancel
	c.wg = wg
	c.assetID = assetID
	c.remoteRef = remoteRef
	c.state = StateResolving
	c.mu.Unlock()

	logging.WithContext(ctx, c.logger).Info("binding slot to asset")

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.run(ctx, gen, assetID, remoteRef)
	}()
	return nil
}

// resolutionActive reports whether the run goroutine for the current binding
// is still working toward a renderer. Callers hold c.mu.
func (c *Controller) resolutionActive() bool {
	switch c.state {
	case StateResolving, StateDownloading, StateTranscoding, StateRetrying:
		return true
	default:
		return false
	}
}

// run owns a single binding's lifecycle: repeated resolution attempts with
// backoff, then supervision of the attached renderer until completion,
// runtime failure, or cancellation.
func (c *Controller) run(ctx context.Context, gen uint64, assetID, remoteRef string) {
	logger := logging.WithContext(ctx, c.logger)
	attempts := 0
	for {
		err := c.resolveOnce(ctx, gen, assetID, remoteRef)
		if err == nil {
			err = c.superviseRenderer(ctx, gen, assetID)
			if err == nil {
				return
			}
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}
		if errors.Is(err, services.ErrStaleBinding) {
			return
		}

		busy := errors.Is(err, services.ErrBusy)
		delay := c.retryDelay
		if busy {
			// Another slot holds the download ticket. Not a failure of this
			// asset, so it neither counts against the attempt budget nor
			// reaches the failure callback.
			delay = c.busyRetryDelay
		} else {
			c.transition(gen, StateFailed)
			c.reportFailure(assetID, err)
			attempts++
			exhausted := c.maxAttempts > 0 && attempts >= c.maxAttempts
			if !services.Retryable(err) || exhausted {
				logger.Warn("marking asset unplayable",
					logging.Int("attempts", attempts), logging.Error(err))
				c.transition(gen, StateUnplayable)
				return
			}
		}

		if !c.transition(gen, StateRetrying) {
			return
		}
		logger.Debug("scheduling retry",
			logging.Duration("delay", delay), logging.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		// Drop the retry silently when the user has scrolled away. The slot
		// stays Failed until it is rebound.
		if current := c.sel.Snapshot().CurrentAssetID; current != "" && current != assetID {
			c.transition(gen, StateFailed)
			return
		}
	}
}

// resolveOnce walks one attempt through cache, download and transcode and
// attaches a renderer. Cached playable files short-circuit the pipeline;
// cached raw files skip the download.
func (c *Controller) resolveOnce(ctx context.Context, gen uint64, assetID, remoteRef string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.transition(gen, StateResolving) {
		return c.staleErr("resolve", assetID)
	}

	record, err := c.store.Resolve(ctx, assetID, remoteRef)
	if err != nil {
		return err
	}

	if record.PlayablePath != "" && fileExists(record.PlayablePath) {
		return c.attach(ctx, gen, assetID, record.PlayablePath)
	}

	rawPath := record.RawPath
	if rawPath == "" || !fileExists(rawPath) {
		if !c.transition(gen, StateDownloading) {
			return c.staleErr("download", assetID)
		}
		if !c.coord.TryBegin(assetID) {
			return services.Wrap(services.ErrBusy, "controller", "begin download", assetID, nil)
		}
		rawPath = c.store.RawPath(assetID)
		err := func() error {
			defer c.coord.Finish(assetID)
			// Re-check under the ticket. Another slot may have finished the
			// download between our record read and the ticket acquisition.
			latest, err := c.store.Get(ctx, assetID)
			if err != nil {
				return err
			}
			if latest != nil && latest.RawPath != "" && fileExists(latest.RawPath) {
				rawPath = latest.RawPath
				return nil
			}
			if err := c.store.MarkDownloading(ctx, assetID); err != nil {
				return err
			}
			source, err := c.resolver.ResolveRemoteReference(ctx, remoteRef)
			if err != nil {
				return err
			}
			if err := c.fetcher.Fetch(ctx, source, rawPath); err != nil {
				return err
			}
			return c.store.MarkDownloaded(ctx, assetID, rawPath)
		}()
		if err != nil {
			if ctx.Err() == nil {
				_ = c.store.MarkFailed(ctx, assetID, err.Error())
			}
			return err
		}
	}

	if !c.transition(gen, StateTranscoding) {
		return c.staleErr("transcode", assetID)
	}
	if err := c.store.MarkTranscoding(ctx, assetID); err != nil {
		return err
	}
	outPath := c.store.PlayablePath(assetID)
	if err := c.pipeline.Transcode(ctx, rawPath, outPath); err != nil {
		if ctx.Err() == nil {
			_ = c.store.MarkFailed(ctx, assetID, err.Error())
		}
		return err
	}
	if err := c.store.MarkTranscoded(ctx, assetID, outPath); err != nil {
		return err
	}
	return c.attach(ctx, gen, assetID, outPath)
}

// attach constructs a renderer for the playable file, waits for readiness,
// and publishes it on the controller. A result that arrives after the
// binding changed is discarded and the renderer closed.
func (c *Controller) attach(ctx context.Context, gen uint64, assetID, playablePath string) error {
	r, err := c.factory(ctx, playablePath)
	if err != nil {
		return services.Wrap(services.ErrRenderer, "controller", "construct renderer", playablePath, err)
	}

	select {
	case <-ctx.Done():
		_ = r.Close()
		return ctx.Err()
	case rerr := <-r.Ready():
		if rerr != nil {
			_ = r.Close()
			return services.Wrap(services.ErrRenderer, "controller", "await readiness", assetID, rerr)
		}
	}

	c.mu.Lock()
	if gen != c.generation || c.closed {
		c.mu.Unlock()
		_ = r.Close()
		return c.staleErr("attach", assetID)
	}
	c.renderer = r
	c.state = StateReady
	onReady := c.onReady
	c.mu.Unlock()

	logging.WithContext(ctx, c.logger).Info("renderer ready")
	if onReady != nil {
		onReady(assetID)
	}
	c.applyIntent(c.sel.Snapshot())
	return nil
}

// superviseRenderer blocks until the attached renderer finishes or fails.
// A runtime failure discards the renderer and the asset's cached files so
// the caller can re-resolve from scratch; nil means the binding needs no
// further work.
func (c *Controller) superviseRenderer(ctx context.Context, gen uint64, assetID string) error {
	c.mu.Lock()
	r := c.renderer
	current := gen == c.generation
	c.mu.Unlock()
	if !current || r == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return nil
	case derr := <-r.Done():
		if derr == nil {
			c.transition(gen, StateReady)
			return nil
		}
		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			return nil
		}
		c.renderer = nil
		c.state = StateFailed
		c.mu.Unlock()
		_ = r.Close()
		if ctx.Err() == nil {
			_ = c.store.Evict(ctx, assetID)
		}
		logging.WithContext(ctx, c.logger).Warn("renderer failed at runtime", logging.Error(derr))
		return derr
	}
}

// applyIntent reconciles the renderer with the selector state. Only the
// controller whose bound asset matches the current asset may play; every
// other playing controller pauses.
func (c *Controller) applyIntent(state selector.State) {
	c.mu.Lock()
	if c.closed || c.renderer == nil {
		c.mu.Unlock()
		return
	}
	switch c.state {
	case StateReady, StatePlaying, StatePaused:
	default:
		c.mu.Unlock()
		return
	}
	r := c.renderer
	shouldPlay := state.Playing && state.CurrentAssetID == c.assetID
	wasPlaying := c.state == StatePlaying
	if shouldPlay {
		c.state = StatePlaying
	} else if wasPlaying {
		c.state = StatePaused
	}
	c.mu.Unlock()

	if shouldPlay {
		if err := r.Play(state.Muted); err != nil {
			c.logger.Warn("play request failed", logging.Error(err))
		}
	} else if wasPlaying {
		if err := r.Pause(); err != nil {
			c.logger.Warn("pause request failed", logging.Error(err))
		}
	}
}

// Play starts playback if and only if the bound asset is the selector's
// current asset. Anything else is a no-op so a stale but still-ready slot
// never plays over the frontmost one.
func (c *Controller) Play() error {
	state := c.sel.Snapshot()
	c.mu.Lock()
	if c.closed || c.renderer == nil || c.assetID == "" || state.CurrentAssetID != c.assetID {
		c.mu.Unlock()
		return nil
	}
	r := c.renderer
	c.state = StatePlaying
	c.mu.Unlock()
	return r.Play(state.Muted)
}

// Pause stops playback for this slot regardless of selector state.
func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.closed || c.renderer == nil {
		c.mu.Unlock()
		return nil
	}
	r := c.renderer
	if c.state == StatePlaying {
		c.state = StatePaused
	}
	c.mu.Unlock()
	return r.Pause()
}

// Teardown cancels in-flight resolution, waits for it to stop, releases the
// renderer, and evicts the binding's cached files. When it returns, no
// further writes or renderer mutations can occur for the old binding. Safe
// to call repeatedly.
func (c *Controller) Teardown() error {
	c.mu.Lock()
	c.generation++
	cancel := c.cancel
	c.cancel = nil
	wg := c.wg
	c.wg = nil
	r := c.renderer
	c.renderer = nil
	assetID := c.assetID
	c.assetID = ""
	c.remoteRef = ""
	c.state = StateIdle
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wg != nil {
		wg.Wait()
	}

	var firstErr error
	if r != nil {
		if err := r.Close(); err != nil {
			firstErr = err
		}
	}
	if assetID != "" {
		if err := c.store.Evict(context.Background(), assetID); err != nil && firstErr == nil {
			firstErr = err
		}
		c.logger.Debug("slot torn down",
			logging.Int(logging.FieldSlot, c.slot),
			logging.String(logging.FieldAssetID, assetID))
	}
	return firstErr
}

// Unbind is Teardown under the name the feed session uses when a slot
// leaves the recycling window.
func (c *Controller) Unbind() error { return c.Teardown() }

// Close tears the controller down and cancels its selector subscription.
// The controller rejects further Bind calls afterwards.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sub := c.subCancel
	c.subCancel = nil
	c.mu.Unlock()

	if sub != nil {
		sub()
	}
	c.subWG.Wait()
	return c.Teardown()
}

func (c *Controller) transition(gen uint64, state State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.closed {
		return false
	}
	c.state = state
	return true
}

func (c *Controller) reportFailure(assetID string, err error) {
	if c.onFailed != nil {
		c.onFailed(assetID, err)
	}
}

func (c *Controller) staleErr(operation, assetID string) error {
	return services.Wrap(services.ErrStaleBinding, "controller", operation, assetID, nil)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
