package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func validConfig() *Config {
	return &Config{
		Monitor: MonitorConfig{VenueID: "v1", Role: "kitchen", PollInterval: "2s"},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"minimal valid", func(c *Config) {}, false},
		{"missing venue", func(c *Config) { c.Monitor.VenueID = " " }, true},
		{"missing role", func(c *Config) { c.Monitor.Role = "" }, true},
		{"unknown role", func(c *Config) { c.Monitor.Role = "chef" }, true},
		{"delivery role", func(c *Config) { c.Monitor.Role = "delivery" }, false},
		{"customer role without user", func(c *Config) { c.Monitor.Role = "customer" }, true},
		{
			"customer role with user",
			func(c *Config) { c.Monitor.Role = "customer"; c.Monitor.UserID = "u1" },
			false,
		},
		{"bad permission", func(c *Config) { c.Notifier.Permission = "maybe" }, true},
		{"default permission", func(c *Config) { c.Notifier.Permission = "default" }, false},
		{"bad duration", func(c *Config) { c.Monitor.PollInterval = "2 seconds" }, true},
		{"bad dedup window", func(c *Config) { c.Notifier.DedupWindow = "soon" }, true},
		{
			"asset cache enabled without origin",
			func(c *Config) { c.AssetCache = &AssetCacheConfig{Enabled: true, CacheRoot: "/tmp/x"} },
			true,
		},
		{
			"asset cache enabled without root",
			func(c *Config) { c.AssetCache = &AssetCacheConfig{Enabled: true, Origin: "http://localhost:3000"} },
			true,
		},
		{
			"asset cache disabled needs nothing",
			func(c *Config) { c.AssetCache = &AssetCacheConfig{} },
			false,
		},
		{
			"email enabled without endpoint",
			func(c *Config) { c.Email = &EmailConfig{Enabled: true} },
			true,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
monitor:
  venue_id: v1
  role: kitchen
telegram:
  token: "123:abc"
  chat_id: 42
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	m := NewConfigManager(path)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Monitor.VenueID != "v1" || cfg.Monitor.Role != "kitchen" {
		t.Fatalf("monitor = %+v", cfg.Monitor)
	}
	if cfg.Telegram.ChatID != 42 {
		t.Fatalf("chat_id = %d", cfg.Telegram.ChatID)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"monitor":{"venue_id":"v1","role":"kitchen"},"mystery":{}}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatal("unknown top-level key must be rejected")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := validConfig()
	newCfg := validConfig()
	newCfg.Monitor.Role = "owner"
	newCfg.Telegram.Token = "secret-token"

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	want := map[string]bool{"monitor": true, "telegram": true}
	if len(changed) != 2 || !want[changed[0]] || !want[changed[1]] {
		t.Fatalf("changed = %v", changed)
	}
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	ev := logger.Info()
	for _, f := range attrs {
		f(ev)
	}
	ev.Send()
	if strings.Contains(buf.String(), "secret-token") {
		t.Fatal("token leaked into log attrs")
	}
}

func TestSummarizeConfigChangeNoChange(t *testing.T) {
	t.Parallel()
	changed, _ := SummarizeConfigChange(validConfig(), validConfig())
	if len(changed) != 0 {
		t.Fatalf("changed = %v, want none", changed)
	}
}
