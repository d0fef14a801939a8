package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"reelfeed/internal/asset"
	"reelfeed/internal/config"
	"reelfeed/internal/fileutil"
	"reelfeed/internal/logging"
)

// Store manages asset record persistence and the locally materialized files
// backing them. Records live in SQLite; raw and playable derivatives live in
// a per-asset namespaced files directory. Cached files are ephemeral: the
// record table is cleared on open and files are evicted when the owning
// controller tears down.
type Store struct {
	db       *sql.DB
	dbPath   string
	filesDir string
	lock     *flock.Flock
	logger   *slog.Logger
	statfs   statfsFunc
}

// Open initializes the cache directory, acquires the single-instance lock,
// and connects to the record database.
func Open(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("cache: config is nil")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	filesDir := filepath.Join(cfg.Paths.CacheDir, "assets")
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create files dir: %w", err)
	}

	lock := flock.New(filepath.Join(cfg.Paths.CacheDir, "reelfeed.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire cache lock: %w", err)
	}
	if !locked {
		return nil, errors.New("another reelfeed instance is using this cache directory")
	}

	dbPath := filepath.Join(cfg.Paths.CacheDir, "records.db")
	// Pragmas go in the DSN so every pooled connection gets them; an Exec-time
	// PRAGMA only reaches the one connection it happens to run on.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{
		db:       db,
		dbPath:   dbPath,
		filesDir: filesDir,
		lock:     lock,
		logger:   logging.NewComponentLogger(logger, "cache"),
		statfs:   realStatfs,
	}
	if err := store.applySchema(context.Background()); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	// Records describe files that do not outlive a session; stale rows from a
	// previous run would claim files that were already evicted.
	if _, err := db.Exec(`DELETE FROM asset_records`); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("reset records: %w", err)
	}

	return store, nil
}

// Close closes the record database and releases the instance lock.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var firstErr error
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			firstErr = err
		}
	}
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RawPath returns the namespaced location for an asset's raw download.
func (s *Store) RawPath(id string) string {
	return filepath.Join(s.filesDir, id+".raw")
}

// PlayablePath returns the namespaced location for an asset's playable derivative.
func (s *Store) PlayablePath(id string) string {
	return filepath.Join(s.filesDir, id+".play.mp4")
}

// Resolve returns the record for the given asset, creating a not-started
// record when absent. Concurrent callers for the same id always observe a
// single record.
func (s *Store) Resolve(ctx context.Context, id, remoteRef string) (*asset.Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("cache: asset id is empty")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO asset_records (id, remote_ref, stage, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)`,
		id,
		remoteRef,
		asset.StageNotStarted,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}
	return s.Get(ctx, id)
}

// Get fetches a record by asset identifier, returning nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*asset.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM asset_records WHERE id = ?`, id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return record, nil
}

// MarkDownloading transitions the record into the downloading stage.
func (s *Store) MarkDownloading(ctx context.Context, id string) error {
	return s.setStage(ctx, id, asset.StageDownloading)
}

// MarkDownloaded records the fully written raw file location.
func (s *Store) MarkDownloaded(ctx context.Context, id, rawPath string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE asset_records
         SET raw_path = ?, stage = ?, failure_reason = NULL, updated_at = ?
         WHERE id = ?`,
		rawPath,
		asset.StageDownloaded,
		timestamp(),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark downloaded: %w", err)
	}
	return requireRow(res, id)
}

// MarkTranscoding transitions the record into the transcoding stage.
func (s *Store) MarkTranscoding(ctx context.Context, id string) error {
	return s.setStage(ctx, id, asset.StageTranscoding)
}

// MarkTranscoded records the playable derivative location and moves the
// record to ready. A playable path requires a raw path: the derivative is
// produced from the raw download, so a record without one is corrupt.
func (s *Store) MarkTranscoded(ctx context.Context, id, playablePath string) error {
	record, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("mark transcoded: no record for asset %s", id)
	}
	if strings.TrimSpace(record.RawPath) == "" {
		return fmt.Errorf("mark transcoded: asset %s has no raw file", id)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE asset_records
         SET playable_path = ?, stage = ?, failure_reason = NULL, updated_at = ?
         WHERE id = ?`,
		playablePath,
		asset.StageReady,
		timestamp(),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark transcoded: %w", err)
	}
	return requireRow(res, id)
}

// MarkFailed records a failure reason. The raw path survives so a retry can
// skip the download when the raw bytes are still valid; the playable path is
// cleared because a failed pipeline never leaves a trustworthy derivative.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE asset_records
         SET stage = ?, failure_reason = ?, playable_path = NULL, updated_at = ?
         WHERE id = ?`,
		asset.StageFailed,
		reason,
		timestamp(),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return requireRow(res, id)
}

// Evict deletes the asset's materialized files and removes its record.
// Missing files and a missing record are treated as success so teardown can
// call this unconditionally.
func (s *Store) Evict(ctx context.Context, id string) error {
	record, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	paths := map[string]struct{}{
		s.RawPath(id):      {},
		s.PlayablePath(id): {},
	}
	if record != nil {
		if record.RawPath != "" {
			paths[record.RawPath] = struct{}{}
		}
		if record.PlayablePath != "" {
			paths[record.PlayablePath] = struct{}{}
		}
	}
	for path := range paths {
		if err := fileutil.RemoveIfExists(path); err != nil {
			return fmt.Errorf("evict %s: %w", id, err)
		}
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM asset_records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if s.logger != nil {
		s.logger.DebugContext(ctx, "evicted asset", logging.String(logging.FieldAssetID, id))
	}
	return nil
}

// Clear removes every record and every materialized file.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM asset_records`)
	if err != nil {
		return 0, fmt.Errorf("clear records: %w", err)
	}
	affected, _ := res.RowsAffected()

	entries, err := os.ReadDir(s.filesDir)
	if err != nil {
		return affected, fmt.Errorf("list files dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.filesDir, entry.Name())); err != nil {
			return affected, fmt.Errorf("remove cached file: %w", err)
		}
	}
	return affected, nil
}

func (s *Store) setStage(ctx context.Context, id string, stage asset.Stage) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE asset_records SET stage = ?, failure_reason = NULL, updated_at = ? WHERE id = ?`,
		stage,
		timestamp(),
		id,
	)
	if err != nil {
		return fmt.Errorf("set stage %s: %w", stage, err)
	}
	return requireRow(res, id)
}

const recordColumns = "id, remote_ref, raw_path, playable_path, stage, failure_reason, created_at, updated_at"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*asset.Record, error) {
	var (
		id         string
		remoteRef  string
		rawPath    sql.NullString
		playable   sql.NullString
		stageStr   string
		failure    sql.NullString
		createdRaw sql.NullString
		updatedRaw sql.NullString
	)
	if err := scanner.Scan(&id, &remoteRef, &rawPath, &playable, &stageStr, &failure, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}

	record := &asset.Record{
		ID:            id,
		RemoteRef:     remoteRef,
		RawPath:       rawPath.String,
		PlayablePath:  playable.String,
		Stage:         asset.Stage(stageStr),
		FailureReason: failure.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		record.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		record.UpdatedAt = updated
	}
	return record, nil
}

func requireRow(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("no record for asset %s", id)
	}
	return nil
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}
