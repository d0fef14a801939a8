package controller

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reelfeed/internal/asset"
	"reelfeed/internal/cache"
	"reelfeed/internal/config"
	"reelfeed/internal/download"
	"reelfeed/internal/logging"
	"reelfeed/internal/render"
	"reelfeed/internal/selector"
	"reelfeed/internal/services"
	"reelfeed/internal/testsupport"
	"reelfeed/internal/transcode"
)

const probeJSON = `{"streams":[{"index":0,"codec_type":"video","codec_name":"h264","width":720,"height":1280}],"format":{"nb_streams":1,"duration":"4.2"}}`

func writeStub(t *testing.T, dir, name, script string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}
	return path
}

type harness struct {
	t        *testing.T
	cfg      *config.Config
	store    *cache.Store
	coord    *download.Coordinator
	sel      *selector.Selector
	factory  *render.FakeFactory
	fetcher  *download.Fetcher
	pipeline *transcode.Pipeline

	resolveCount atomic.Int64
	resolveHook  func(ctx context.Context, ref string) (string, error)

	mu       sync.Mutex
	failures []error
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	binDir := t.TempDir()
	cfg.Transcode.FFprobeBinary = writeStub(t, binDir, "ffprobe", "echo '"+probeJSON+"'\n")
	cfg.Transcode.FFmpegBinary = writeStub(t, binDir, "ffmpeg", "for out; do :; done\necho 'video bytes' > \"$out\"\n")

	store, err := cache.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		t:       t,
		cfg:     cfg,
		store:   store,
		coord:   download.NewCoordinator(),
		sel:     selector.New(cfg.Playback.StartMuted),
		factory: render.NewFakeFactory(),
		fetcher: download.NewFetcher(cfg, logging.NewNop()),
	}
	h.pipeline = transcode.NewPipeline(cfg, logging.NewNop())
	return h
}

// rebuildPipeline picks up transcode binary overrides applied after newHarness.
func (h *harness) rebuildPipeline() {
	h.pipeline = transcode.NewPipeline(h.cfg, logging.NewNop())
}

func (h *harness) controller(slot int) *Controller {
	h.t.Helper()
	resolver := download.ResolverFunc(func(ctx context.Context, ref string) (string, error) {
		if h.resolveHook != nil {
			if source, err := h.resolveHook(ctx, ref); source != "" || err != nil {
				return source, err
			}
		}
		h.resolveCount.Add(1)
		return ref, nil
	})
	c := New(slot, h.cfg, Deps{
		Store:       h.store,
		Coordinator: h.coord,
		Resolver:    resolver,
		Fetcher:     h.fetcher,
		Pipeline:    h.pipeline,
		Selector:    h.sel,
		Factory:     h.factory.Factory(),
		Logger:      logging.NewNop(),
		OnFailed: func(id string, err error) {
			h.mu.Lock()
			h.failures = append(h.failures, err)
			h.mu.Unlock()
		},
	})
	h.t.Cleanup(func() { _ = c.Close() })
	return c
}

func (h *harness) failureCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.failures)
}

func (h *harness) sourceFile(name string) string {
	h.t.Helper()
	path := filepath.Join(h.t.TempDir(), name)
	testsupport.WriteFile(h.t, path, 256)
	return path
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline: %s", msg)
}

func TestBindResolvesDownloadsTranscodesAndPlays(t *testing.T) {
	h := newHarness(t)
	src := h.sourceFile("v1.mp4")
	id := asset.DeriveID(src)
	h.sel.SetCurrentAsset(id, 0)

	c := h.controller(0)
	if err := c.Bind(id, src); err != nil {
		t.Fatalf("bind: %v", err)
	}
	waitFor(t, func() bool { return c.State() == StatePlaying }, "controller playing")

	fake := h.factory.Last()
	if fake == nil || len(fake.PlayCalls()) == 0 {
		t.Fatal("expected a play call on the renderer")
	}
	record, err := h.store.Get(context.Background(), id)
	if err != nil || record == nil {
		t.Fatalf("get record: %v, %+v", err, record)
	}
	if record.Stage != asset.StageReady {
		t.Fatalf("expected ready stage, got %s", record.Stage)
	}
	if _, err := os.Stat(record.PlayablePath); err != nil {
		t.Fatalf("playable file missing: %v", err)
	}
	if got := h.resolveCount.Load(); got != 1 {
		t.Fatalf("expected exactly one fetch, got %d", got)
	}
}

func TestReadyStaysPausedUntilSelected(t *testing.T) {
	h := newHarness(t)
	src := h.sourceFile("v1.mp4")
	id := asset.DeriveID(src)
	h.sel.SetCurrentAsset("somewhere-else", 0)

	c := h.controller(0)
	if err := c.Bind(id, src); err != nil {
		t.Fatalf("bind: %v", err)
	}
	waitFor(t, func() bool { return c.State() == StateReady }, "controller ready")

	if calls := h.factory.Last().PlayCalls(); len(calls) != 0 {
		t.Fatalf("renderer must not play while not current, got %v", calls)
	}

	h.sel.SetCurrentAsset(id, 1)
	waitFor(t, func() bool { return c.State() == StatePlaying }, "controller playing after selection")
	if calls := h.factory.Last().PlayCalls(); len(calls) == 0 {
		t.Fatal("expected play call after becoming current")
	}
}

func TestIdempotentRebind(t *testing.T) {
	h := newHarness(t)
	src := h.sourceFile("v1.mp4")
	id := asset.DeriveID(src)
	h.sel.SetCurrentAsset(id, 0)

	c := h.controller(0)
	if err := c.Bind(id, src); err != nil {
		t.Fatalf("bind: %v", err)
	}
	waitFor(t, func() bool { return c.State() == StatePlaying }, "controller playing")

	renderers := len(h.factory.Renderers())
	fetches := h.resolveCount.Load()
	if err := c.Bind(id, src); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	if c.State() != StatePlaying {
		t.Fatalf("rebind should keep playing, got %s", c.State())
	}
	if got := len(h.factory.Renderers()); got != renderers {
		t.Fatalf("rebind constructed a renderer: %d -> %d", renderers, got)
	}
	if got := h.resolveCount.Load(); got != fetches {
		t.Fatalf("rebind triggered a fetch: %d -> %d", fetches, got)
	}
	if h.factory.Last().Closed() {
		t.Fatal("rebind must not close the existing renderer")
	}
}

func TestRebindCancelsInFlightDownload(t *testing.T) {
	h := newHarness(t)
	const slowRef = "slow://v1"
	h.resolveHook = func(ctx context.Context, ref string) (string, error) {
		if ref == slowRef {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "", nil
	}
	slowID := asset.DeriveID(slowRef)

	c := h.controller(0)
	if err := c.Bind(slowID, slowRef); err != nil {
		t.Fatalf("bind slow asset: %v", err)
	}
	waitFor(t, func() bool { return c.State() == StateDownloading }, "download in flight")

	src := h.sourceFile("v2.mp4")
	id2 := asset.DeriveID(src)
	if err := c.Bind(id2, src); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	waitFor(t, func() bool { return c.State() == StateReady }, "second asset ready")

	if got := c.BoundAssetID(); got != id2 {
		t.Fatalf("expected binding %s, got %s", id2, got)
	}
	record, err := h.store.Get(context.Background(), slowID)
	if err != nil {
		t.Fatalf("get evicted record: %v", err)
	}
	if record != nil {
		t.Fatalf("slow asset record should be evicted, got %+v", record)
	}
	if _, err := os.Stat(h.store.RawPath(slowID)); !os.IsNotExist(err) {
		t.Fatal("no raw file may persist for the cancelled download")
	}
}

func TestTeardownStopsInFlightWork(t *testing.T) {
	h := newHarness(t)
	const slowRef = "slow://v1"
	h.resolveHook = func(ctx context.Context, ref string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	id := asset.DeriveID(slowRef)

	c := h.controller(0)
	if err := c.Bind(id, slowRef); err != nil {
		t.Fatalf("bind: %v", err)
	}
	waitFor(t, func() bool { return c.State() == StateDownloading }, "download in flight")

	if err := c.Teardown(); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if c.State() != StateIdle || c.BoundAssetID() != "" {
		t.Fatalf("expected idle unbound controller, got %s/%q", c.State(), c.BoundAssetID())
	}
	record, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record != nil {
		t.Fatal("record should be evicted on teardown")
	}

	// Nothing may mutate the controller after teardown returned.
	time.Sleep(50 * time.Millisecond)
	if c.State() != StateIdle {
		t.Fatalf("state changed after teardown: %s", c.State())
	}
	if err := c.Teardown(); err != nil {
		t.Fatalf("second teardown: %v", err)
	}
}

func TestTranscodeFailureReusesRawFile(t *testing.T) {
	h := newHarness(t)
	marker := filepath.Join(t.TempDir(), "first-attempt")
	h.cfg.Transcode.FFmpegBinary = writeStub(t, t.TempDir(), "ffmpeg",
		"if [ ! -f "+marker+" ]; then touch "+marker+"; exit 1; fi\nfor out; do :; done\necho ok > \"$out\"\n")
	h.rebuildPipeline()

	src := h.sourceFile("v1.mp4")
	id := asset.DeriveID(src)
	c := h.controller(0)
	if err := c.Bind(id, src); err != nil {
		t.Fatalf("bind: %v", err)
	}
	waitFor(t, func() bool { return c.State() == StateReady }, "ready after transcode retry")

	if got := h.resolveCount.Load(); got != 1 {
		t.Fatalf("raw file should be reused across transcode retries, fetches=%d", got)
	}
	if h.failureCount() == 0 {
		t.Fatal("expected the first transcode failure to be reported")
	}
}

func TestUnplayableAfterAttemptBudget(t *testing.T) {
	h := newHarness(t, testsupport.WithMaxAttempts(2))
	h.cfg.Transcode.FFmpegBinary = writeStub(t, t.TempDir(), "ffmpeg", "exit 1\n")
	h.rebuildPipeline()

	src := h.sourceFile("broken.mp4")
	id := asset.DeriveID(src)
	c := h.controller(0)
	if err := c.Bind(id, src); err != nil {
		t.Fatalf("bind: %v", err)
	}
	waitFor(t, func() bool { return c.State() == StateUnplayable }, "unplayable after budget")

	if got := h.failureCount(); got < 2 {
		t.Fatalf("expected a failure report per attempt, got %d", got)
	}
}

func TestBusyTicketRetriesUntilReleased(t *testing.T) {
	h := newHarness(t)
	src := h.sourceFile("v1.mp4")
	id := asset.DeriveID(src)

	if !h.coord.TryBegin(id) {
		t.Fatal("setup: ticket should be free")
	}

	c := h.controller(0)
	if err := c.Bind(id, src); err != nil {
		t.Fatalf("bind: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if got := h.resolveCount.Load(); got != 0 {
		t.Fatalf("no fetch may run while the ticket is held, got %d", got)
	}
	if got := h.failureCount(); got != 0 {
		t.Fatalf("busy contention must not reach the failure callback, got %d", got)
	}

	h.coord.Finish(id)
	waitFor(t, func() bool { return c.State() == StateReady }, "ready after ticket release")
	if got := h.resolveCount.Load(); got != 1 {
		t.Fatalf("expected exactly one fetch, got %d", got)
	}
}

func TestConcurrentControllersSingleFetch(t *testing.T) {
	h := newHarness(t)
	src := h.sourceFile("v1.mp4")
	id := asset.DeriveID(src)

	c1 := h.controller(0)
	c2 := h.controller(1)
	if err := c1.Bind(id, src); err != nil {
		t.Fatalf("bind c1: %v", err)
	}
	if err := c2.Bind(id, src); err != nil {
		t.Fatalf("bind c2: %v", err)
	}
	waitFor(t, func() bool {
		return c1.State() == StateReady && c2.State() == StateReady
	}, "both controllers ready")

	if got := h.resolveCount.Load(); got != 1 {
		t.Fatalf("expected a single raw fetch for concurrent binds, got %d", got)
	}
}

func TestRuntimeFailureTriggersFullReresolution(t *testing.T) {
	h := newHarness(t)
	src := h.sourceFile("v1.mp4")
	id := asset.DeriveID(src)
	h.sel.SetCurrentAsset(id, 0)

	c := h.controller(0)
	if err := c.Bind(id, src); err != nil {
		t.Fatalf("bind: %v", err)
	}
	waitFor(t, func() bool { return c.State() == StatePlaying }, "playing")

	h.factory.Last().SignalDone(services.Wrap(services.ErrRenderer, "renderer", "playback", "decoder crash", nil))
	waitFor(t, func() bool {
		return len(h.factory.Renderers()) == 2 && c.State() == StatePlaying
	}, "replacement renderer playing")

	if got := h.resolveCount.Load(); got != 2 {
		t.Fatalf("runtime failure should discard files and re-download, fetches=%d", got)
	}
}

func TestStaleRetryDiscardedAfterScrollAway(t *testing.T) {
	h := newHarness(t)
	h.cfg.Transcode.FFmpegBinary = writeStub(t, t.TempDir(), "ffmpeg", "exit 1\n")
	h.rebuildPipeline()

	src := h.sourceFile("v1.mp4")
	id := asset.DeriveID(src)
	h.sel.SetCurrentAsset("another-asset", 3)

	c := h.controller(0)
	if err := c.Bind(id, src); err != nil {
		t.Fatalf("bind: %v", err)
	}
	waitFor(t, func() bool { return c.State() == StateFailed }, "failed without retrying")

	fetches := h.resolveCount.Load()
	time.Sleep(80 * time.Millisecond)
	if got := h.resolveCount.Load(); got != fetches {
		t.Fatalf("stale binding kept retrying: fetches %d -> %d", fetches, got)
	}
	if len(h.factory.Renderers()) != 0 {
		t.Fatal("no renderer may be constructed for a failed stale binding")
	}
}

func TestPlayIsNoopWhenNotCurrent(t *testing.T) {
	h := newHarness(t)
	src := h.sourceFile("v1.mp4")
	id := asset.DeriveID(src)
	h.sel.SetCurrentAsset("front-runner", 0)

	c := h.controller(0)
	if err := c.Bind(id, src); err != nil {
		t.Fatalf("bind: %v", err)
	}
	waitFor(t, func() bool { return c.State() == StateReady }, "ready")

	if err := c.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	if calls := h.factory.Last().PlayCalls(); len(calls) != 0 {
		t.Fatalf("play must be a no-op for non-current asset, got %v", calls)
	}

	h.sel.SetCurrentAsset(id, 1)
	waitFor(t, func() bool { return c.State() == StatePlaying }, "playing once current")
}

func TestSinglePlaybackAcrossControllers(t *testing.T) {
	h := newHarness(t)
	src1 := h.sourceFile("v1.mp4")
	src2 := h.sourceFile("v2.mp4")
	id1 := asset.DeriveID(src1)
	id2 := asset.DeriveID(src2)
	h.sel.SetCurrentAsset(id1, 0)

	c1 := h.controller(0)
	c2 := h.controller(1)
	if err := c1.Bind(id1, src1); err != nil {
		t.Fatalf("bind c1: %v", err)
	}
	if err := c2.Bind(id2, src2); err != nil {
		t.Fatalf("bind c2: %v", err)
	}
	waitFor(t, func() bool {
		return c1.State() == StatePlaying && c2.State() == StateReady
	}, "only frontmost playing")

	h.sel.SetCurrentAsset(id2, 1)
	waitFor(t, func() bool {
		return c2.State() == StatePlaying && c1.State() == StatePaused
	}, "playback handed over")

	renderers := h.factory.Renderers()
	var paused int
	for _, r := range renderers {
		paused += r.PauseCalls()
	}
	if paused == 0 {
		t.Fatal("previous renderer should have been paused")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestBindLogsCarryCorrelationID(t *testing.T) {
	h := newHarness(t)
	var buf syncBuffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	c := New(0, h.cfg, Deps{
		Store:       h.store,
		Coordinator: h.coord,
		Resolver:    download.ResolverFunc(func(ctx context.Context, ref string) (string, error) { return ref, nil }),
		Fetcher:     h.fetcher,
		Pipeline:    h.pipeline,
		Selector:    h.sel,
		Factory:     h.factory.Factory(),
		Logger:      logger,
	})
	t.Cleanup(func() { _ = c.Close() })

	src := h.sourceFile("v1.mp4")
	id := asset.DeriveID(src)
	if err := c.Bind(id, src); err != nil {
		t.Fatalf("bind: %v", err)
	}
	waitFor(t, func() bool { return c.State() == StateReady }, "ready")

	out := buf.String()
	if !strings.Contains(out, `"correlation_id":"`) {
		t.Fatalf("bind logs missing correlation id:\n%s", out)
	}
	if !strings.Contains(out, `"asset_id":"`+id+`"`) {
		t.Fatalf("bind logs missing asset id:\n%s", out)
	}
	if !strings.Contains(out, `"slot":0`) {
		t.Fatalf("bind logs missing slot:\n%s", out)
	}
}

func TestConcurrentBindsLeaveSingleBinding(t *testing.T) {
	h := newHarness(t)
	src1 := h.sourceFile("v1.mp4")
	src2 := h.sourceFile("v2.mp4")
	id1 := asset.DeriveID(src1)
	id2 := asset.DeriveID(src2)

	c := h.controller(0)
	for i := 0; i < 5; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); _ = c.Bind(id1, src1) }()
		go func() { defer wg.Done(); _ = c.Bind(id2, src2) }()
		wg.Wait()
	}

	bound := c.BoundAssetID()
	if bound != id1 && bound != id2 {
		t.Fatalf("unexpected binding %q", bound)
	}
	waitFor(t, func() bool { return c.State() == StateReady }, "surviving binding ready")

	if err := c.Teardown(); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	waitFor(t, func() bool {
		for _, r := range h.factory.Renderers() {
			if !r.Closed() {
				return false
			}
		}
		return true
	}, "every renderer released")
	if c.State() != StateIdle || c.BoundAssetID() != "" {
		t.Fatalf("expected idle unbound controller, got %s/%q", c.State(), c.BoundAssetID())
	}
}

func TestCloseRejectsFurtherBinds(t *testing.T) {
	h := newHarness(t)
	c := h.controller(0)
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	err := c.Bind("abc123", "https://example.com/v.mp4")
	if !errors.Is(err, services.ErrStaleBinding) {
		t.Fatalf("expected stale-binding rejection, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
