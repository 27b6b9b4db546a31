package utils

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nimeninja/ingestd/internal/metrics"
	"github.com/nimeninja/ingestd/internal/storage/filesystem"
)

// StartTempSweeper periodically deletes temp files older than maxAge.
// Sessions live in memory only, so a temp file that survives a restart can never complete.
// It blocks until ctx is cancelled.
func StartTempSweeper(ctx context.Context, tempDir string, maxAge, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("temp sweeper started", "temp_dir", tempDir, "interval", interval, "max_age", maxAge)

	// Run once on start to clear leftovers from the previous process
	runTempSweep(ctx, tempDir, maxAge)

	for {
		select {
		case <-ctx.Done():
			slog.Info("temp sweeper shutting down")
			return
		case <-ticker.C:
			runTempSweep(ctx, tempDir, maxAge)
		}
	}
}

func runTempSweep(ctx context.Context, tempDir string, maxAge time.Duration) {
	start := time.Now()
	deleted, err := SweepTempDir(ctx, tempDir, maxAge, start)
	duration := time.Since(start)

	if err != nil {
		slog.Error("temp sweep failed", "error", err, "duration", duration)
		return
	}

	if deleted > 0 {
		slog.Info("temp sweep completed", "deleted_files", deleted, "duration", duration)
	} else {
		slog.Debug("temp sweep completed", "deleted_files", deleted, "duration", duration)
	}
}

// SweepTempDir removes regular files below root last modified before now-maxAge,
// then prunes the empty folders left behind. It returns the number of files removed.
func SweepTempDir(ctx context.Context, root string, maxAge time.Duration, now time.Time) (int, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return 0, nil
	}

	cutoff := now.Add(-maxAge)
	deleted := 0

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			// Entries can vanish while sessions finish
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove orphaned temp file", "path", path, "error", err)
			return nil
		}
		deleted++
		metrics.TempFilesSweptTotal.Inc()
		slog.Debug("removed orphaned temp file", "path", path, "age", now.Sub(info.ModTime()))
		return nil
	})
	if err != nil {
		return deleted, fmt.Errorf("failed to sweep temp dir: %w", err)
	}

	if err := filesystem.PruneEmptyDirs(ctx, root); err != nil {
		return deleted, err
	}

	return deleted, nil
}
