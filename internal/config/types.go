package config

import (
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	Store    StoreConfig    `json:"store"`
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Monitor  MonitorConfig  `json:"monitor"`
	Audio    AudioConfig    `json:"audio"`
	Notifier NotifierConfig `json:"notifier"`

	// Email controls owner email alerts. Omitted means disabled.
	Email *EmailConfig `json:"email,omitempty"`

	// AssetCache controls the offline asset worker. Omitted means disabled.
	AssetCache *AssetCacheConfig `json:"asset_cache,omitempty"`

	Janitor JanitorConfig `json:"janitor"`
}

// StoreConfig controls the order/notification store.
//
// Example:
//
//	"store": { "driver": "sqlite", "path": "./sentry.db" }
type StoreConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
	// ThreadID targets a forum topic inside the chat; 0 means main chat.
	ThreadID int `json:"thread_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// MonitorConfig controls the order watch.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type MonitorConfig struct {
	VenueID string `json:"venue_id"`
	// Role decides which order events alarm: "kitchen", "owner", "delivery"
	// or "customer". Customers never alarm; they only follow their
	// notification feed.
	Role string `json:"role"`
	// UserID identifies whose notification feed is watched when Role is
	// "customer". Ignored for staff roles.
	UserID string `json:"user_id,omitempty"`
	// PollInterval is how often the order feed is polled. Default "2s".
	PollInterval string `json:"poll_interval,omitempty"`
}

// AudioConfig controls the alarm sound.
type AudioConfig struct {
	// Command is the host media player invocation, including the loop flag,
	// e.g. "ffplay -nodisp -loglevel quiet -loop 0 alarm.mp3".
	// Empty means silent mode (alerts still notify).
	Command string `json:"command,omitempty"`
	// UnlockOnStart performs the playback probe at startup instead of
	// waiting for an explicit unlock signal.
	UnlockOnStart bool `json:"unlock_on_start,omitempty"`
}

// NotifierConfig controls platform notifications.
type NotifierConfig struct {
	// Permission: "granted", "denied" or "default".
	Permission  string `json:"permission,omitempty"`
	DedupWindow string `json:"dedup_window,omitempty"` // default "30s"
	RatePerSec  int    `json:"rate_per_sec,omitempty"` // default 3
	Icon        string `json:"icon,omitempty"`
	ShellURL    string `json:"shell_url,omitempty"`
}

// EmailConfig controls owner email alerts via an EmailJS-style API.
type EmailConfig struct {
	Enabled    bool   `json:"enabled"`
	Endpoint   string `json:"endpoint"`
	ServiceID  string `json:"service_id"`
	PublicKey  string `json:"public_key"`
	TemplateID string `json:"template_id"`
	RatePerMin int    `json:"rate_per_min,omitempty"`
}

// AssetCacheConfig controls the offline asset worker.
type AssetCacheConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"` // default "127.0.0.1:8940"
	Origin       string `json:"origin"`
	CacheRoot    string `json:"cache_root"`
	ManifestPath string `json:"manifest_path,omitempty"`
	AppName      string `json:"app_name,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
	FetchTimeout string `json:"fetch_timeout,omitempty"`
}

// JanitorConfig controls periodic pruning of old notification-center records
// and expired de-duplication entries.
type JanitorConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron expression or descriptor ("@hourly"). Default hourly.
	Schedule string `json:"schedule,omitempty"`
	// NotificationTTL is how long read records are kept. Default "168h".
	NotificationTTL string `json:"notification_ttl,omitempty"`
}

// Validate checks the parts that must be right before services start.
// Durations are parsed here so a bad reload is rejected before publish.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Monitor.VenueID) == "" {
		return errors.New("monitor.venue_id is required")
	}
	switch strings.TrimSpace(cfg.Monitor.Role) {
	case "kitchen", "owner", "delivery":
	case "customer":
		if strings.TrimSpace(cfg.Monitor.UserID) == "" {
			return errors.New("monitor.user_id is required for the customer role")
		}
	case "":
		return errors.New("monitor.role is required")
	default:
		return fmt.Errorf("monitor.role: unknown role %q", cfg.Monitor.Role)
	}
	switch strings.TrimSpace(cfg.Notifier.Permission) {
	case "", "granted", "denied", "default":
	default:
		return fmt.Errorf("notifier.permission: unknown value %q", cfg.Notifier.Permission)
	}

	durations := []struct{ path, raw string }{
		{"store.busy_timeout", cfg.Store.BusyTimeout},
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"monitor.poll_interval", cfg.Monitor.PollInterval},
		{"notifier.dedup_window", cfg.Notifier.DedupWindow},
		{"janitor.notification_ttl", cfg.Janitor.NotificationTTL},
	}
	if ac := cfg.AssetCache; ac != nil {
		durations = append(durations,
			struct{ path, raw string }{"asset_cache.read_timeout", ac.ReadTimeout},
			struct{ path, raw string }{"asset_cache.write_timeout", ac.WriteTimeout},
			struct{ path, raw string }{"asset_cache.idle_timeout", ac.IdleTimeout},
			struct{ path, raw string }{"asset_cache.fetch_timeout", ac.FetchTimeout},
		)
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if ac := cfg.AssetCache; ac != nil && ac.Enabled {
		if strings.TrimSpace(ac.Origin) == "" {
			return errors.New("asset_cache.origin is required when enabled")
		}
		if strings.TrimSpace(ac.CacheRoot) == "" {
			return errors.New("asset_cache.cache_root is required when enabled")
		}
	}
	if e := cfg.Email; e != nil && e.Enabled {
		if strings.TrimSpace(e.Endpoint) == "" {
			return errors.New("email.endpoint is required when enabled")
		}
	}
	return nil
}
