package vod

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CleanupTmp removes chat exports and temp files older than maxAge from dir. They
// are left behind when a run is killed between export and import. Failures are only
// logged.
func CleanupTmp(dir string, maxAge time.Duration, now time.Time) int {
	if maxAge <= 0 {
		return 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("failed to read tmp dir for cleanup", slog.String("component", "cleanup"), slog.String("dir", dir), slog.Any("err", err))
		}
		return 0
	}

	var removed, failed int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, "-chat-raw.json") || strings.HasSuffix(name, ".tmp")) {
			continue
		}
		fi, err := e.Info()
		if err != nil || now.Sub(fi.ModTime()) <= maxAge {
			continue
		}
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil {
			failed++
			slog.Warn("failed to remove stale tmp file", slog.String("component", "cleanup"), slog.String("path", path), slog.Any("err", err))
			continue
		}
		removed++
		slog.Debug("removed stale tmp file", slog.String("component", "cleanup"), slog.String("path", path), slog.Duration("age", now.Sub(fi.ModTime())))
	}
	if removed > 0 || failed > 0 {
		slog.Info("tmp cleanup completed", slog.String("component", "cleanup"), slog.Int("removed", removed), slog.Int("failed", failed))
	}
	return removed
}
