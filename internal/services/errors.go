package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransport marks network or remote read failures during a fetch.
	ErrTransport = errors.New("transport error")
	// ErrBusy marks a download that is already in flight for the same asset.
	ErrBusy = errors.New("download busy")
	// ErrNoVideoTrack marks a source file without a decodable video stream.
	ErrNoVideoTrack = errors.New("no video track")
	// ErrExportFailed marks an encode/mux failure while producing the playable file.
	ErrExportFailed = errors.New("export failed")
	// ErrInvalidOutput marks a zero-length or unreadable export result.
	ErrInvalidOutput = errors.New("invalid output")
	// ErrRenderer marks a runtime playback failure reported after readiness.
	ErrRenderer = errors.New("renderer error")
	// ErrStaleBinding marks a result that arrived after its controller was
	// rebound or torn down. Never user-visible and never retried.
	ErrStaleBinding = errors.New("stale binding")
	// ErrNotFound marks a remote reference that could not be resolved.
	ErrNotFound = errors.New("not found")
	// ErrConfiguration marks invalid or missing configuration.
	ErrConfiguration = errors.New("configuration error")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransport
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether the controller's retry loop should schedule
// another resolution attempt for this failure.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrStaleBinding):
		return false
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrNotFound):
		return false
	case errors.Is(err, ErrNoVideoTrack):
		// Deterministic source defect. The same raw bytes will never grow a
		// video stream on a second attempt.
		return false
	default:
		return true
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
