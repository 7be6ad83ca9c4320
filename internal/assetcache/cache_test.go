package assetcache

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	logx "ordersentry/pkg/logx"
)

func TestCachePutGet(t *testing.T) {
	t.Parallel()
	c, err := OpenCache(t.TempDir(), "v1", logx.Nop())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}

	if err := c.Put("/icons/icon-192.png", "image/png", strings.NewReader("png-bytes")); err != nil {
		t.Fatalf("put: %v", err)
	}

	body, ct, ok, err := c.Get("/icons/icon-192.png")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	defer body.Close()
	b, _ := io.ReadAll(body)
	if string(b) != "png-bytes" || ct != "image/png" {
		t.Fatalf("got %q (%q)", b, ct)
	}

	if !c.Has("/icons/icon-192.png") {
		t.Fatal("Has must report the cached key")
	}
	if c.Has("/missing.png") {
		t.Fatal("Has must miss on unknown keys")
	}
}

func TestCacheGetMissing(t *testing.T) {
	t.Parallel()
	c, err := OpenCache(t.TempDir(), "v1", logx.Nop())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	_, _, ok, err := c.Get("/nope")
	if err != nil {
		t.Fatalf("missing entry must not error: %v", err)
	}
	if ok {
		t.Fatal("missing entry must report ok=false")
	}
}

func TestCachePutReplaces(t *testing.T) {
	t.Parallel()
	c, err := OpenCache(t.TempDir(), "v1", logx.Nop())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	_ = c.Put("/index.html", "text/html", strings.NewReader("old"))
	_ = c.Put("/index.html", "text/html", strings.NewReader("new"))

	body, _, _, _ := c.Get("/index.html")
	defer body.Close()
	b, _ := io.ReadAll(body)
	if string(b) != "new" {
		t.Fatalf("got %q, want latest write", b)
	}
}

func TestCacheActivateRemovesSiblings(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	v1, err := OpenCache(root, "v1", logx.Nop())
	if err != nil {
		t.Fatalf("open v1: %v", err)
	}
	_ = v1.Put("/index.html", "text/html", strings.NewReader("one"))

	v2, err := OpenCache(root, "v2", logx.Nop())
	if err != nil {
		t.Fatalf("open v2: %v", err)
	}
	_ = v2.Put("/index.html", "text/html", strings.NewReader("two"))

	if err := v2.Activate(); err != nil {
		t.Fatalf("activate: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "v1")); !os.IsNotExist(err) {
		t.Fatal("old version directory must be removed on activate")
	}
	if !v2.Has("/index.html") {
		t.Fatal("active version must keep its entries")
	}
}

func TestLoadManifest(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	data := `{"version":"2026-03-14","assets":["index.html","/style.css"]}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Version != "2026-03-14" {
		t.Fatalf("version = %q", m.Version)
	}
	if m.Shell != "/" {
		t.Fatalf("shell default = %q, want /", m.Shell)
	}
	if m.Assets[0] != "/index.html" || m.Assets[1] != "/style.css" {
		t.Fatalf("assets not normalized: %v", m.Assets)
	}
}

func TestLoadManifestRejectsMissingVersion(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "manifest.json")
	_ = os.WriteFile(path, []byte(`{"assets":["/a"]}`), 0o644)
	if _, err := LoadManifest(path); err == nil {
		t.Fatal("manifest without a version must be rejected")
	}
}
