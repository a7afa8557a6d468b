// Package scan enumerates local recording files and selects the ones a run should try
// to match against remote VODs.
package scan

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// RecordingFile is a candidate video on disk. It is rebuilt on every run and only
// ever persisted indirectly, by path, as a pipeline state key.
type RecordingFile struct {
	Path       string
	Name       string
	Size       int64
	ModifiedAt time.Time
}

// ModifiedAtMs returns the modification time in Unix milliseconds.
func (r RecordingFile) ModifiedAtMs() int64 { return r.ModifiedAt.UnixMilli() }

// CompletionChecker reports whether a recording path has already been archived.
type CompletionChecker interface {
	IsCompleted(path string) bool
}

// Scan walks root recursively and returns every file with a video extension.
// Paths are absolute so they stay stable as state keys across working directories.
func Scan(root string) ([]RecordingFile, error) {
	root, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return nil, err
	}
	files := make([]RecordingFile, 0, 32)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !isVideoExt(strings.ToLower(filepath.Ext(d.Name()))) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, RecordingFile{
			Path:       path,
			Name:       d.Name(),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func isVideoExt(ext string) bool {
	switch ext {
	case ".mp4", ".mkv", ".mov", ".flv", ".m4v":
		return true
	default:
		return false
	}
}

// Candidates drops files modified less than minAge before now (possibly still being
// written) and files already completed, then orders the rest oldest first. The order
// decides part numbering when several recordings belong to one VOD.
func Candidates(files []RecordingFile, done CompletionChecker, now time.Time, minAge time.Duration) []RecordingFile {
	out := make([]RecordingFile, 0, len(files))
	for _, f := range files {
		if now.Sub(f.ModifiedAt) < minAge {
			continue
		}
		if done != nil && done.IsCompleted(f.Path) {
			continue
		}
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ModifiedAt.Equal(out[j].ModifiedAt) {
			return out[i].ModifiedAt.Before(out[j].ModifiedAt)
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// Limit returns at most n recordings; n <= 0 means no limit.
func Limit(files []RecordingFile, n int) []RecordingFile {
	if n <= 0 || len(files) <= n {
		return files
	}
	return files[:n]
}
