package config

import (
	"reflect"
	"sort"
	"strings"

	logx "ordersentry/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (tokens, keys) are never included,
// only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 20)

	// Store
	if strings.TrimSpace(oldCfg.Store.Driver) != strings.TrimSpace(newCfg.Store.Driver) ||
		strings.TrimSpace(oldCfg.Store.Path) != strings.TrimSpace(newCfg.Store.Path) ||
		strings.TrimSpace(oldCfg.Store.BusyTimeout) != strings.TrimSpace(newCfg.Store.BusyTimeout) {
		changed = append(changed, "store")
		attrs = append(attrs,
			logx.String("store.driver", strings.TrimSpace(newCfg.Store.Driver)),
			logx.Bool("store.path_set", strings.TrimSpace(newCfg.Store.Path) != ""),
		)
	}

	// Telegram (never log token)
	if oldCfg.Telegram.ChatID != newCfg.Telegram.ChatID ||
		oldCfg.Telegram.ThreadID != newCfg.Telegram.ThreadID ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		(strings.TrimSpace(oldCfg.Telegram.Token) != "") != (strings.TrimSpace(newCfg.Telegram.Token) != "") {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Bool("telegram.chat_set", newCfg.Telegram.ChatID != 0),
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
		)
	}

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Monitor
	if !reflect.DeepEqual(oldCfg.Monitor, newCfg.Monitor) {
		changed = append(changed, "monitor")
		attrs = append(attrs,
			logx.String("monitor.venue_id", strings.TrimSpace(newCfg.Monitor.VenueID)),
			logx.String("monitor.role", strings.TrimSpace(newCfg.Monitor.Role)),
			logx.Bool("monitor.user_set", strings.TrimSpace(newCfg.Monitor.UserID) != ""),
			logx.String("monitor.poll_interval", strings.TrimSpace(newCfg.Monitor.PollInterval)),
		)
	}

	// Audio
	if !reflect.DeepEqual(oldCfg.Audio, newCfg.Audio) {
		changed = append(changed, "audio")
		attrs = append(attrs,
			logx.Bool("audio.command_set", strings.TrimSpace(newCfg.Audio.Command) != ""),
			logx.Bool("audio.unlock_on_start", newCfg.Audio.UnlockOnStart),
		)
	}

	// Notifier
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.String("notifier.permission", strings.TrimSpace(newCfg.Notifier.Permission)),
			logx.String("notifier.dedup_window", strings.TrimSpace(newCfg.Notifier.DedupWindow)),
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
		)
	}

	// Email (never log keys). Nil means disabled.
	oldE, newE := derefEmail(oldCfg.Email), derefEmail(newCfg.Email)
	if !reflect.DeepEqual(oldE, newE) {
		changed = append(changed, "email")
		attrs = append(attrs,
			logx.Bool("email.enabled", newE.Enabled),
			logx.Bool("email.endpoint_set", strings.TrimSpace(newE.Endpoint) != ""),
		)
	}

	// Asset cache. Nil means disabled.
	oldA, newA := derefAssetCache(oldCfg.AssetCache), derefAssetCache(newCfg.AssetCache)
	if !reflect.DeepEqual(oldA, newA) {
		changed = append(changed, "asset_cache")
		attrs = append(attrs,
			logx.Bool("asset_cache.enabled", newA.Enabled),
			logx.String("asset_cache.addr", strings.TrimSpace(newA.Addr)),
			logx.Bool("asset_cache.manifest_set", strings.TrimSpace(newA.ManifestPath) != ""),
		)
	}

	// Janitor
	if !reflect.DeepEqual(oldCfg.Janitor, newCfg.Janitor) {
		changed = append(changed, "janitor")
		attrs = append(attrs,
			logx.Bool("janitor.enabled", newCfg.Janitor.Enabled),
			logx.String("janitor.schedule", strings.TrimSpace(newCfg.Janitor.Schedule)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefEmail(e *EmailConfig) EmailConfig {
	if e == nil {
		return EmailConfig{}
	}
	return *e
}

func derefAssetCache(a *AssetCacheConfig) AssetCacheConfig {
	if a == nil {
		return AssetCacheConfig{}
	}
	return *a
}
