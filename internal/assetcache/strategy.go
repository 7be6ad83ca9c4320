package assetcache

import (
	"bytes"
	"io"
	"net/http"
	"path"
	"strings"

	logx "ordersentry/pkg/logx"
)

// placeholderSVG is served when an image is neither cached nor reachable.
const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="100" height="100"><rect width="100" height="100" fill="#eee"/></svg>`

var imageExt = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".svg":  true,
	".ico":  true,
}

func isImagePath(p string) bool {
	return imageExt[strings.ToLower(path.Ext(p))]
}

// assetHandler applies the per-request strategy: cache-first for images,
// network-first with cache fallback for the rest of the shell. The cache and
// shell path are read through accessors so a reinstall swaps them live.
type assetHandler struct {
	cache  func() *Cache
	shell  func() string
	origin string
	client *http.Client
	log    logx.Logger
}

func (h *assetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if isImagePath(r.URL.Path) {
		h.serveImage(w, r)
		return
	}
	h.serveShell(w, r)
}

// serveImage is cache-first: a hit never touches the network, a miss is
// fetched and cached, and total failure degrades to a placeholder instead
// of a broken image.
func (h *assetHandler) serveImage(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Path
	if h.writeCached(w, key) {
		return
	}

	body, ct, err := h.fetch(r, key)
	if err == nil {
		h.cacheAndWrite(w, key, ct, body)
		return
	}

	h.log.Debug("image fetch failed; placeholder served", logx.String("path", key), logx.Err(err))
	w.Header().Set("Content-Type", "image/svg+xml")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, placeholderSVG)
}

// serveShell is network-first: fresh content wins, the cache is refreshed
// opportunistically on the way through, and only an unreachable origin
// falls back to the cached copy (then the cached shell page).
func (h *assetHandler) serveShell(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Path

	body, ct, err := h.fetch(r, key)
	if err == nil {
		h.cacheAndWrite(w, key, ct, body)
		return
	}

	if h.writeCached(w, key) {
		return
	}
	if shell := h.shell(); key != shell && h.writeCached(w, shell) {
		return
	}
	http.Error(w, "offline and not cached", http.StatusServiceUnavailable)
}

// fetch GETs one origin-relative path. Non-2xx counts as failure so error
// pages never enter the cache.
func (h *assetHandler) fetch(r *http.Request, key string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, h.origin+key, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &statusError{code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (h *assetHandler) cacheAndWrite(w http.ResponseWriter, key, ct string, body []byte) {
	if err := h.cache().Put(key, ct, bytes.NewReader(body)); err != nil {
		h.log.Warn("asset cache write failed", logx.String("path", key), logx.Err(err))
	}
	if ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// writeCached serves a cached entry if present.
func (h *assetHandler) writeCached(w http.ResponseWriter, key string) bool {
	body, ct, ok, err := h.cache().Get(key)
	if err != nil {
		h.log.Warn("asset cache read failed", logx.String("path", key), logx.Err(err))
		return false
	}
	if !ok {
		return false
	}
	defer body.Close()
	if ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
	return true
}

type statusError struct{ code int }

func (e *statusError) Error() string { return http.StatusText(e.code) }
