package transcode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"reelfeed/internal/logging"
	"reelfeed/internal/services"
	"reelfeed/internal/testsupport"
)

const videoProbeJSON = `{"streams":[{"index":0,"codec_type":"video","codec_name":"h264","width":720,"height":1280}],"format":{"nb_streams":1,"duration":"12.5"}}`

const audioOnlyProbeJSON = `{"streams":[{"index":0,"codec_type":"audio","codec_name":"aac"}],"format":{"nb_streams":1}}`

func writeStub(t *testing.T, dir, name, script string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}
	return path
}

func stubPipeline(t *testing.T, probeJSON, ffmpegScript string) *Pipeline {
	t.Helper()
	dir := t.TempDir()
	cfg := testsupport.NewConfig(t)
	cfg.Transcode.FFprobeBinary = writeStub(t, dir, "ffprobe", "echo '"+probeJSON+"'\n")
	cfg.Transcode.FFmpegBinary = writeStub(t, dir, "ffmpeg", ffmpegScript)
	return NewPipeline(cfg, logging.NewNop())
}

func TestTranscodeSuccess(t *testing.T) {
	// The stub ffmpeg writes its last argument, mirroring a real export.
	pipeline := stubPipeline(t, videoProbeJSON, `
for out; do :; done
echo "video-only bytes" > "$out"
`)

	dir := t.TempDir()
	raw := filepath.Join(dir, "v1.raw")
	out := filepath.Join(dir, "v1.play.mp4")
	testsupport.WriteFile(t, raw, 128)

	if err := pipeline.Transcode(context.Background(), raw, out); err != nil {
		t.Fatalf("transcode: %v", err)
	}
	info, err := os.Stat(out)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Fatal("output should not be empty")
	}
}

func TestTranscodeNoVideoTrack(t *testing.T) {
	pipeline := stubPipeline(t, audioOnlyProbeJSON, "exit 0\n")

	dir := t.TempDir()
	raw := filepath.Join(dir, "song.raw")
	testsupport.WriteFile(t, raw, 64)

	err := pipeline.Transcode(context.Background(), raw, filepath.Join(dir, "out.mp4"))
	if !errors.Is(err, services.ErrNoVideoTrack) {
		t.Fatalf("expected no-video-track marker, got %v", err)
	}
}

func TestTranscodeExportFailed(t *testing.T) {
	pipeline := stubPipeline(t, videoProbeJSON, "echo 'muxer exploded' >&2\nexit 1\n")

	dir := t.TempDir()
	raw := filepath.Join(dir, "v1.raw")
	out := filepath.Join(dir, "out.mp4")
	testsupport.WriteFile(t, raw, 64)

	err := pipeline.Transcode(context.Background(), raw, out)
	if !errors.Is(err, services.ErrExportFailed) {
		t.Fatalf("expected export-failed marker, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatal("partial output should be removed on export failure")
	}
}

func TestTranscodeInvalidOutputEmptyFile(t *testing.T) {
	pipeline := stubPipeline(t, videoProbeJSON, `
for out; do :; done
: > "$out"
`)

	dir := t.TempDir()
	raw := filepath.Join(dir, "v1.raw")
	out := filepath.Join(dir, "out.mp4")
	testsupport.WriteFile(t, raw, 64)

	err := pipeline.Transcode(context.Background(), raw, out)
	if !errors.Is(err, services.ErrInvalidOutput) {
		t.Fatalf("expected invalid-output marker, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatal("empty output should be removed")
	}
}

func TestTranscodeCancelledReturnsContextError(t *testing.T) {
	pipeline := stubPipeline(t, videoProbeJSON, "sleep 30\n")

	dir := t.TempDir()
	raw := filepath.Join(dir, "v1.raw")
	out := filepath.Join(dir, "out.mp4")
	testsupport.WriteFile(t, raw, 64)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pipeline.Transcode(ctx, raw, out) }()
	cancel()

	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatal("partial output should be removed on cancellation")
	}
}

func TestProbeParsesStreams(t *testing.T) {
	dir := t.TempDir()
	binary := writeStub(t, dir, "ffprobe", "echo '"+videoProbeJSON+"'\n")

	result, err := Probe(context.Background(), binary, "anything.mp4")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if result.VideoStreamCount() != 1 || result.AudioStreamCount() != 0 {
		t.Fatalf("unexpected stream counts: %+v", result)
	}
	if result.DurationSeconds() != 12.5 {
		t.Fatalf("duration: %f", result.DurationSeconds())
	}
}

func TestProbeEmptyPath(t *testing.T) {
	if _, err := Probe(context.Background(), "ffprobe", "  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
