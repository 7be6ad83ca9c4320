package assetcache

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
)

// Manifest names the cache version and the assets to precache on install.
// Asset paths are origin-relative ("/index.html", "/icons/icon-192.png").
type Manifest struct {
	Version string   `json:"version"`
	Shell   string   `json:"shell"`
	Assets  []string `json:"assets"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (Manifest, error) {
	var m Manifest
	raw, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, err
	}
	if strings.TrimSpace(m.Version) == "" {
		return m, errors.New("manifest version is required")
	}
	if m.Shell == "" {
		m.Shell = "/"
	}
	for i, a := range m.Assets {
		if !strings.HasPrefix(a, "/") {
			m.Assets[i] = "/" + a
		}
	}
	return m, nil
}
