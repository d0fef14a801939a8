package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// freeSpaceFloor is the free-space ratio below which stats flag the volume.
const freeSpaceFloor = 0.20

// statfsFunc allows tests to stub filesystem stats.
type statfsFunc func(path string) (total uint64, free uint64, err error)

// Stats describes current cache usage.
type Stats struct {
	Records      int     `json:"records"`
	Files        int     `json:"files"`
	TotalBytes   int64   `json:"total_bytes"`
	FreeBytes    uint64  `json:"free_bytes"`
	TotalFSBytes uint64  `json:"total_fs_bytes"`
	FreeRatio    float64 `json:"free_ratio"`
	LowSpace     bool    `json:"low_space"`
	DBPath       string  `json:"db_path"`
	FilesDir     string  `json:"files_dir"`
}

// Stats aggregates record counts, on-disk usage, and volume headroom.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{DBPath: s.dbPath, FilesDir: s.filesDir}

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM asset_records`)
	if err := row.Scan(&stats.Records); err != nil {
		return Stats{}, fmt.Errorf("count records: %w", err)
	}

	entries, err := os.ReadDir(s.filesDir)
	if err != nil {
		return Stats{}, fmt.Errorf("list files dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		stats.Files++
		stats.TotalBytes += info.Size()
	}

	total, free, err := s.statfs(s.filesDir)
	if err != nil {
		return Stats{}, fmt.Errorf("statfs %s: %w", s.filesDir, err)
	}
	stats.TotalFSBytes = total
	stats.FreeBytes = free
	if total > 0 {
		stats.FreeRatio = float64(free) / float64(total)
	}
	stats.LowSpace = stats.FreeRatio < freeSpaceFloor
	return stats, nil
}

func realStatfs(path string) (uint64, uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(filepath.Clean(path), &stat); err != nil {
		return 0, 0, err
	}
	blockSize := uint64(stat.Bsize)
	return stat.Blocks * blockSize, stat.Bavail * blockSize, nil
}
