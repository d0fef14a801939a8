package asset

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Stage tracks how far an asset has progressed through the resolution pipeline.
type Stage string

const (
	StageNotStarted  Stage = "not_started"
	StageDownloading Stage = "downloading"
	StageDownloaded  Stage = "downloaded"
	StageTranscoding Stage = "transcoding"
	StageReady       Stage = "ready"
	StageFailed      Stage = "failed"
)

// Valid reports whether the stage is one of the known pipeline stages.
func (s Stage) Valid() bool {
	switch s {
	case StageNotStarted, StageDownloading, StageDownloaded, StageTranscoding, StageReady, StageFailed:
		return true
	}
	return false
}

// Record captures per-asset resolution state held by the cache store.
//
// Invariants maintained by the store:
//   - at most one record exists per ID
//   - PlayablePath is set only when RawPath is set and Stage is StageReady
type Record struct {
	ID            string
	RemoteRef     string
	RawPath       string
	PlayablePath  string
	Stage         Stage
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeriveID produces the stable asset identifier for a remote reference. The
// same reference always maps to the same ID within and across feed sessions.
func DeriveID(remoteRef string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(remoteRef)))
	return hex.EncodeToString(sum[:])[:16]
}
