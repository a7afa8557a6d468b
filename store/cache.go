// Package store persists the archiver's JSON documents: the pipeline state used for
// crash resumption, the archive record list the site reads, and the per-VOD comments
// and emote documents.
//
// Every write goes through a temp file and rename so a crash never leaves a torn
// document. Mutations of shared documents re-read the file from disk and apply the
// change to that fresh copy, so edits made by other tools between load and save are
// kept.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// DocCache memoizes document bytes per path for the lifetime of a process. Writes
// through the cache replace the memo; Invalidate drops it. A nil *DocCache is valid
// and reads straight from disk.
type DocCache struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func NewDocCache() *DocCache {
	return &DocCache{docs: make(map[string][]byte)}
}

// Read returns the memoized bytes for path, loading them on first use. A missing
// file reports fs.ErrNotExist and is not memoized.
func (c *DocCache) Read(path string) ([]byte, error) {
	if c == nil {
		return os.ReadFile(path)
	}
	c.mu.Lock()
	if b, ok := c.docs[path]; ok {
		c.mu.Unlock()
		return b, nil
	}
	c.mu.Unlock()
	return c.ReadFresh(path)
}

// ReadFresh bypasses the memo, reads from disk and refreshes the memo.
func (c *DocCache) ReadFresh(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if c == nil {
		return b, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		delete(c.docs, path)
		return nil, err
	}
	c.docs[path] = b
	return b, nil
}

// Write stores data atomically and replaces the memo.
func (c *DocCache) Write(path string, data []byte) error {
	if err := WriteFileAtomic(path, data, 0o644); err != nil {
		if c != nil {
			c.Invalidate(path)
		}
		return err
	}
	if c != nil {
		c.mu.Lock()
		c.docs[path] = data
		c.mu.Unlock()
	}
	return nil
}

// Invalidate forgets the memo for path.
func (c *DocCache) Invalidate(path string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.docs, path)
	c.mu.Unlock()
}

// WriteFileAtomic writes data next to path and renames it into place, creating the
// parent directory when needed.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// marshalDoc renders v as two-space indented JSON with a trailing newline, the
// layout the site repository keeps under version control.
func marshalDoc(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// readDoc decodes path into v. It reports false when the file does not exist.
func readDoc(c *DocCache, path string, fresh bool, v any) (bool, error) {
	var (
		b   []byte
		err error
	)
	if fresh {
		b, err = c.ReadFresh(path)
	} else {
		b, err = c.Read(path)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
