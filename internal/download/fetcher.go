package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"reelfeed/internal/config"
	"reelfeed/internal/fileutil"
	"reelfeed/internal/logging"
	"reelfeed/internal/services"
)

// Fetcher copies a resolved remote reference to a local destination. The
// write goes to a temporary sibling first and is renamed into place only
// when complete, so a cancelled or failed fetch never leaves a partial file
// at the destination path.
type Fetcher struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

// NewFetcher constructs a fetcher using the download configuration.
func NewFetcher(cfg *config.Config, logger *slog.Logger) *Fetcher {
	timeout := time.Duration(0)
	userAgent := ""
	if cfg != nil {
		timeout = time.Duration(cfg.Download.RequestTimeout) * time.Second
		userAgent = cfg.Download.UserAgent
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		logger:    logging.NewComponentLogger(logger, "fetcher"),
	}
}

// Fetch downloads the source URL (or copies a local path) to dest. The
// context cancels the transfer mid-stream; on any failure the temporary file
// is removed and dest is left untouched.
func (f *Fetcher) Fetch(ctx context.Context, source, dest string) error {
	start := time.Now()
	var err error
	if isLocalSource(source) {
		err = f.fetchLocal(source, dest)
	} else {
		err = f.fetchHTTP(ctx, source, dest)
	}
	if err != nil {
		return err
	}
	if f.logger != nil {
		f.logger.DebugContext(ctx, "fetch complete",
			logging.String("dest", dest),
			logging.Duration("elapsed", time.Since(start)),
		)
	}
	return nil
}

func (f *Fetcher) fetchLocal(source, dest string) error {
	path := strings.TrimPrefix(source, "file://")
	if err := fileutil.CopyFileVerified(path, dest); err != nil {
		if os.IsNotExist(err) {
			return services.Wrap(services.ErrNotFound, "fetcher", "copy local source", path, err)
		}
		return services.Wrap(services.ErrTransport, "fetcher", "copy local source", path, err)
	}
	return nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, source, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return services.Wrap(services.ErrTransport, "fetcher", "build request", source, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return services.Wrap(services.ErrTransport, "fetcher", "execute request", source, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "fetcher", "execute request", fmt.Sprintf("%s returned 404", source), nil)
	case resp.StatusCode != http.StatusOK:
		return services.Wrap(services.ErrTransport, "fetcher", "execute request", fmt.Sprintf("%s returned %d", source, resp.StatusCode), nil)
	}

	tmp := dest + ".partial-" + uuid.NewString()
	out, err := os.Create(tmp)
	if err != nil {
		return services.Wrap(services.ErrTransport, "fetcher", "create temp file", tmp, err)
	}

	_, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if copyErr == nil {
			copyErr = closeErr
		}
		return services.Wrap(services.ErrTransport, "fetcher", "stream body", source, copyErr)
	}

	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return services.Wrap(services.ErrTransport, "fetcher", "finalize download", dest, err)
	}
	return nil
}

func isLocalSource(source string) bool {
	if strings.HasPrefix(source, "file://") {
		return true
	}
	parsed, err := url.Parse(source)
	if err != nil {
		return true
	}
	return parsed.Scheme == ""
}
