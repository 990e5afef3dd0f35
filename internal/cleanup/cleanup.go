package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/italolelis/ftpmirror/internal/logctx"
)

// DeleteStaleSpools removes files in dir matching pattern whose modification
// time is older than maxAge. They are spool files left behind by a process
// that died mid-transfer. It returns the number of files removed.
func DeleteStaleSpools(ctx context.Context, dir, pattern string, maxAge time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return 0, fmt.Errorf("failed to list spool files: %w", err)
	}

	removed := 0

	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue // already deleted
			}

			logger.Error("failed to stat spool file", "file", path, "err", err)

			return removed, err
		}

		if info.IsDir() || now.Sub(info.ModTime()) <= maxAge {
			continue
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Error("failed to delete stale spool file", "file", path, "err", err)

			return removed, err
		}

		removed++

		logger.Info("deleted stale spool file", "file", path, "age", now.Sub(info.ModTime()).Round(time.Second))
	}

	return removed, nil
}
