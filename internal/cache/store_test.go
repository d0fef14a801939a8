package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"reelfeed/internal/asset"
	"reelfeed/internal/logging"
	"reelfeed/internal/testsupport"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store, err := Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestResolveCreatesSingleRecord(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	record, err := store.Resolve(ctx, "v1", "https://cdn.example.com/v1.mp4")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if record.Stage != asset.StageNotStarted {
		t.Fatalf("new record stage: %q", record.Stage)
	}

	again, err := store.Resolve(ctx, "v1", "https://cdn.example.com/v1.mp4")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if again.CreatedAt != record.CreatedAt {
		t.Fatal("second resolve should return the existing record")
	}
}

func TestResolveConcurrent(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Resolve(ctx, "shared", "ref"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent resolve: %v", err)
	}

	record, err := store.Get(ctx, "shared")
	if err != nil || record == nil {
		t.Fatalf("get after concurrent resolve: %v", err)
	}
}

func TestStageTransitions(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, err := store.Resolve(ctx, "v1", "ref"); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkDownloading(ctx, "v1"); err != nil {
		t.Fatal(err)
	}
	rawPath := store.RawPath("v1")
	testsupport.WriteFile(t, rawPath, 64)
	if err := store.MarkDownloaded(ctx, "v1", rawPath); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkTranscoding(ctx, "v1"); err != nil {
		t.Fatal(err)
	}
	playPath := store.PlayablePath("v1")
	testsupport.WriteFile(t, playPath, 32)
	if err := store.MarkTranscoded(ctx, "v1", playPath); err != nil {
		t.Fatal(err)
	}

	record, err := store.Get(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if record.Stage != asset.StageReady {
		t.Fatalf("stage after transcode: %q", record.Stage)
	}
	if record.RawPath != rawPath || record.PlayablePath != playPath {
		t.Fatalf("paths not recorded: %+v", record)
	}
}

func TestMarkTranscodedRequiresRawPath(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, err := store.Resolve(ctx, "v1", "ref"); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkTranscoded(ctx, "v1", store.PlayablePath("v1")); err == nil {
		t.Fatal("transcoded without raw path must be rejected")
	}
}

func TestMarkFailedKeepsRawClearsPlayable(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, err := store.Resolve(ctx, "v1", "ref"); err != nil {
		t.Fatal(err)
	}
	rawPath := store.RawPath("v1")
	testsupport.WriteFile(t, rawPath, 16)
	if err := store.MarkDownloaded(ctx, "v1", rawPath); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkFailed(ctx, "v1", "export failed"); err != nil {
		t.Fatal(err)
	}

	record, err := store.Get(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if record.Stage != asset.StageFailed || record.FailureReason != "export failed" {
		t.Fatalf("failure not recorded: %+v", record)
	}
	if record.RawPath != rawPath {
		t.Fatal("raw path must survive failure for retry reuse")
	}
	if record.PlayablePath != "" {
		t.Fatal("playable path must be cleared on failure")
	}
}

func TestEvictRemovesFilesAndRecord(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, err := store.Resolve(ctx, "v1", "ref"); err != nil {
		t.Fatal(err)
	}
	rawPath := store.RawPath("v1")
	playPath := store.PlayablePath("v1")
	testsupport.WriteFile(t, rawPath, 16)
	testsupport.WriteFile(t, playPath, 16)
	if err := store.MarkDownloaded(ctx, "v1", rawPath); err != nil {
		t.Fatal(err)
	}

	if err := store.Evict(ctx, "v1"); err != nil {
		t.Fatalf("evict: %v", err)
	}
	for _, path := range []string{rawPath, playPath} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("file should be deleted: %s", path)
		}
	}
	record, err := store.Get(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if record != nil {
		t.Fatal("record should be removed")
	}

	// Idempotent for teardown paths that run twice.
	if err := store.Evict(ctx, "v1"); err != nil {
		t.Fatalf("second evict: %v", err)
	}
}

func TestOpenRejectsSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if _, err := Open(cfg, logging.NewNop()); err == nil {
		t.Fatal("second open on the same cache dir must fail")
	}
}

func TestStats(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	store.statfs = func(string) (uint64, uint64, error) { return 1000, 100, nil }

	if _, err := store.Resolve(ctx, "v1", "ref"); err != nil {
		t.Fatal(err)
	}
	testsupport.WriteFile(t, store.RawPath("v1"), 128)

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Records != 1 || stats.Files != 1 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if stats.TotalBytes != 128 {
		t.Fatalf("unexpected total bytes: %d", stats.TotalBytes)
	}
	if !stats.LowSpace {
		t.Fatal("10%% free should flag low space")
	}
}

func TestClear(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, err := store.Resolve(ctx, "v1", "ref"); err != nil {
		t.Fatal(err)
	}
	testsupport.WriteFile(t, store.RawPath("v1"), 8)

	removed, err := store.Clear(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed record, got %d", removed)
	}
	entries, err := os.ReadDir(filepath.Dir(store.RawPath("v1")))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("files dir should be empty, found %d entries", len(entries))
	}
}
