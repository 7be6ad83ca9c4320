// Package assetcache keeps an offline copy of the app shell and its static
// assets, served over a local HTTP worker with per-request strategies:
// cache-first for images, network-first for everything else.
package assetcache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "ordersentry/pkg/logx"
)

// Cache is one named version of the on-disk asset cache. Entries are keyed
// by URL; each entry stores the body plus its content type.
//
// Layout: <root>/<version>/<sha256(key)> and a ".ct" sidecar.
type Cache struct {
	root    string
	version string
	dir     string

	mu  sync.RWMutex
	log logx.Logger
}

func OpenCache(root, version string, log logx.Logger) (*Cache, error) {
	if strings.TrimSpace(root) == "" || strings.TrimSpace(version) == "" {
		return nil, errors.New("cache root and version are required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	dir := filepath.Join(root, version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{root: root, version: version, dir: dir, log: log}, nil
}

func (c *Cache) Version() string { return c.version }

func entryName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Put stores one entry, replacing any previous body for the key. Writes go
// through a temp file so a crash never leaves a torn entry.
func (c *Cache) Put(key, contentType string, body io.Reader) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := entryName(key)
	tmp, err := os.CreateTemp(c.dir, name+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(c.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.WriteFile(filepath.Join(c.dir, name+".ct"), []byte(contentType), 0o644)
}

// Get opens a cached entry. The caller closes the reader. Missing entries
// report ok=false, not an error.
func (c *Cache) Get(key string) (body io.ReadCloser, contentType string, ok bool, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := entryName(key)
	f, err := os.Open(filepath.Join(c.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", false, nil
		}
		return nil, "", false, err
	}
	ct, err := os.ReadFile(filepath.Join(c.dir, name+".ct"))
	if err != nil && !os.IsNotExist(err) {
		f.Close()
		return nil, "", false, err
	}
	return f, string(ct), true, nil
}

// Has reports whether a key is cached.
func (c *Cache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, err := os.Stat(filepath.Join(c.dir, entryName(key)))
	return err == nil
}

// Activate makes this version the only one on disk: every sibling version
// directory is removed. Mirrors the install-then-activate handover, so a
// half-installed new version never clobbers the serving one.
func (c *Cache) Activate() error {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == c.version {
			continue
		}
		old := filepath.Join(c.root, e.Name())
		if err := os.RemoveAll(old); err != nil {
			c.log.Warn("stale cache version removal failed", logx.String("dir", old), logx.Err(err))
			continue
		}
		c.log.Info("stale cache version removed", logx.String("version", e.Name()))
	}
	return nil
}
