package transcode

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"reelfeed/internal/config"
	"reelfeed/internal/fileutil"
	"reelfeed/internal/logging"
	"reelfeed/internal/services"
)

// Pipeline produces the playable derivative of a raw download: a new
// container carrying only the primary video track, spanning its full
// duration. Audio is discarded deliberately; mixed-codec audio+video
// containers are the dominant source of renderer failures in the feed, and
// the derivative trades audio fidelity for playback reliability.
type Pipeline struct {
	ffmpeg        string
	ffprobe       string
	exportTimeout time.Duration
	logger        *slog.Logger
}

// NewPipeline constructs a pipeline from the transcode configuration.
func NewPipeline(cfg *config.Config, logger *slog.Logger) *Pipeline {
	ffmpeg := "ffmpeg"
	ffprobe := "ffprobe"
	timeout := time.Duration(0)
	if cfg != nil {
		ffmpeg = cfg.Transcode.FFmpegBinary
		ffprobe = cfg.Transcode.FFprobeBinary
		timeout = time.Duration(cfg.Transcode.ExportTimeout) * time.Second
	}
	return &Pipeline{
		ffmpeg:        ffmpeg,
		ffprobe:       ffprobe,
		exportTimeout: timeout,
		logger:        logging.NewComponentLogger(logger, "transcode"),
	}
}

// Transcode exports rawPath's video track into a playable file at outPath.
// The context cancels the export, in which case the partial output is
// removed and the context error is returned unchanged so callers can
// distinguish teardown from failure.
func (p *Pipeline) Transcode(ctx context.Context, rawPath, outPath string) error {
	start := time.Now()

	probe, err := Probe(ctx, p.ffprobe, rawPath)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return services.Wrap(services.ErrExportFailed, "transcode", "inspect source", rawPath, err)
	}
	if probe.VideoStreamCount() == 0 {
		return services.Wrap(services.ErrNoVideoTrack, "transcode", "inspect source", rawPath, nil)
	}

	exportCtx := ctx
	if p.exportTimeout > 0 {
		var cancel context.CancelFunc
		exportCtx, cancel = context.WithTimeout(ctx, p.exportTimeout)
		defer cancel()
	}

	if err := p.export(exportCtx, rawPath, outPath); err != nil {
		_ = fileutil.RemoveIfExists(outPath)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	if err := p.validate(ctx, outPath); err != nil {
		_ = fileutil.RemoveIfExists(outPath)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	if p.logger != nil {
		p.logger.DebugContext(ctx, "export complete",
			logging.String("output", outPath),
			logging.Duration("elapsed", time.Since(start)),
		)
	}
	return nil
}

func (p *Pipeline) export(ctx context.Context, rawPath, outPath string) error {
	args := []string{
		"-y",
		"-v", "error",
		"-hide_banner",
		"-i", rawPath,
		"-map", "0:v:0",
		"-c:v", "copy",
		"-an",
		"-sn",
		"-movflags", "+faststart",
		outPath,
	}
	cmd := exec.CommandContext(ctx, p.ffmpeg, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return services.Wrap(services.ErrExportFailed, "transcode", "export video track",
			strings.TrimSpace(string(output)), err)
	}
	return nil
}

func (p *Pipeline) validate(ctx context.Context, outPath string) error {
	info, err := os.Stat(outPath)
	if err != nil {
		return services.Wrap(services.ErrInvalidOutput, "transcode", "validate output", outPath, err)
	}
	if info.Size() == 0 {
		return services.Wrap(services.ErrInvalidOutput, "transcode", "validate output", "export produced an empty file", nil)
	}

	probe, err := Probe(ctx, p.ffprobe, outPath)
	if err != nil {
		return services.Wrap(services.ErrInvalidOutput, "transcode", "validate output", "export is unreadable", err)
	}
	if probe.VideoStreamCount() == 0 {
		return services.Wrap(services.ErrInvalidOutput, "transcode", "validate output", "export has no video stream", nil)
	}
	return nil
}
