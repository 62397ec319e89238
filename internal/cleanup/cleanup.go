// Package cleanup removes temp files abandoned by interrupted writes.
//
// Uploads and compression both stage their output in a hidden temp file next
// to the destination and rename it into place. A crash between the two steps
// leaves the temp file behind. RunPeriodic removes any such file whose mtime
// is older than the configured TTL.
package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zynqcloud/go-attachments/internal/compress"
	"github.com/zynqcloud/go-attachments/internal/store"
)

var tempPrefixes = []string{store.TempPrefix, compress.TempPrefix}

// IsTemp reports whether name is a staging file written by the store or the
// compression pipeline.
func IsTemp(name string) bool {
	for _, p := range tempPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Temps walks root and removes temp files older than ttl. It returns the
// number of files removed.
// Safe to run alongside active uploads: in-flight temp files are recently
// modified and fall inside the TTL.
func Temps(root string, ttl time.Duration, logger *zap.Logger) int {
	if logger == nil {
		logger = zap.NewNop()
	}
	cutoff := time.Now().Add(-ttl)
	var removed int

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped; the rest of the walk continues.
			if d != nil && d.IsDir() && p != root {
				logger.Warn("cleanup: skipping directory", zap.String("dir", p), zap.Error(err))
				return fs.SkipDir
			}
			return err
		}
		if d.IsDir() || !IsTemp(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(p); err != nil {
			logger.Warn("cleanup: remove failed", zap.String("path", p), zap.Error(err))
			return nil
		}
		removed++
		logger.Info("cleanup: removed stale temp file",
			zap.String("path", p),
			zap.Duration("age", time.Since(info.ModTime()).Round(time.Minute)))
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("cleanup: walk failed", zap.String("root", root), zap.Error(err))
	}
	if removed > 0 {
		logger.Info("cleanup: cycle complete", zap.Int("removed", removed))
	}
	return removed
}

// RunPeriodic calls Temps on every interval until ctx is cancelled. A first
// pass runs immediately to flush files left over from a previous crash.
// It blocks; run it in its own goroutine.
func RunPeriodic(ctx context.Context, root string, ttl, interval time.Duration, logger *zap.Logger) {
	Temps(root, ttl, logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			Temps(root, ttl, logger)
		case <-ctx.Done():
			return
		}
	}
}
