// Package app wires the services together: store, monitor, alarm,
// notifications, asset worker, janitor, and the config hot-reload loop.
package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"ordersentry/internal/alarm"
	"ordersentry/internal/assetcache"
	"ordersentry/internal/config"
	"ordersentry/internal/email"
	"ordersentry/internal/eventbus"
	"ordersentry/internal/janitor"
	"ordersentry/internal/monitor"
	"ordersentry/internal/notifier"
	"ordersentry/internal/runtime/supervisor"
	"ordersentry/internal/store"
	kit "ordersentry/internal/transport"
	"ordersentry/internal/transport/telegram"
	logx "ordersentry/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.ConfigManager
	sup     *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	st   store.Store

	adapter kit.Adapter
	actions chan kit.ActionEvent

	player  *alarm.Player
	disp    *notifier.Dispatcher
	center  *notifier.Center
	emailer *email.Sender
	assets  *assetcache.Service
	jan     *janitor.Service

	monMu sync.Mutex
	mon   *monitor.Monitor
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	// Notification surface (optional: without a token the agent still
	// alarms locally, it just can't notify).
	var adapter kit.Adapter
	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		ad, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: pollTimeout,
		}, bootLog)
		if err != nil {
			return nil, err
		}
		adapter = ad
	}

	// Telegram log sink needs its target set before it is enabled, so the
	// first Apply goes out with it off.
	baseLogCfg := mapLogging(cfg)
	baseLogCfg.Telegram.Enabled = false
	logSvc, log := logx.New(baseLogCfg, adapter)
	log = log.With(logx.String("comp", "app"))
	if cfg.Telegram.ChatID != 0 {
		logSvc.SetTelegramTarget(cfg.Telegram.ChatID, cfg.Logging.Telegram.ThreadID)
	}
	logSvc.Apply(mapLogging(cfg))

	bus := eventbus.New()

	st, err := store.Open(mapStore(cfg), log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}
	log.Info("store opened", logx.String("driver", cfg.Store.Driver))

	var emailer *email.Sender
	if cfg.Email != nil && cfg.Email.Enabled {
		emailer = email.NewSender(email.Config{
			Enabled:    true,
			Endpoint:   cfg.Email.Endpoint,
			ServiceID:  cfg.Email.ServiceID,
			PublicKey:  cfg.Email.PublicKey,
			RatePerMin: cfg.Email.RatePerMin,
		}, log.With(logx.String("comp", "email")))
	}

	ncfg, err := mapNotifier(cfg)
	if err != nil {
		return nil, err
	}
	disp := notifier.NewDispatcher(ncfg, adapter, bus, st, log.With(logx.String("comp", "notifier")))
	center := notifier.NewCenter(st, disp, log.With(logx.String("comp", "center")))

	out, err := mapAudioOutput(cfg, log.With(logx.String("comp", "alarm")))
	if err != nil {
		return nil, err
	}
	player := alarm.NewPlayer(out, bus, log.With(logx.String("comp", "alarm")))

	assets := assetcache.New(mapAssetCache(cfg), assetcache.PushSinkFunc(func(ctx context.Context, m assetcache.PushMessage) {
		disp.Push(ctx, m.Title, m.Body, m.Icon, m.URL)
	}), log.With(logx.String("comp", "assetcache")))

	jan := janitor.New(mapJanitor(cfg), st, log.With(logx.String("comp", "janitor")))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		st:      st,
		adapter: adapter,
		actions: make(chan kit.ActionEvent, 64),
		player:  player,
		disp:    disp,
		center:  center,
		emailer: emailer,
		assets:  assets,
		jan:     jan,
	}
	a.mon = a.buildMonitor(cfg.Monitor)
	return a, nil
}

func (a *App) buildMonitor(mc config.MonitorConfig) *monitor.Monitor {
	pollInterval, _ := config.ParseDurationField("monitor.poll_interval", mc.PollInterval)
	return monitor.New(monitor.Config{
		VenueID:      mc.VenueID,
		PollInterval: pollInterval,
	}, a.st, a.player, a.disp, a.bus, a.log.With(logx.String("comp", "monitor")))
}

// Done is closed on fatal error or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err reports the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()

	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	// Transactional reloads: a config that fails validation never reaches
	// the services.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(ctx context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("config.reload", a.reloadLoop)

	if a.adapter != nil {
		if err := a.adapter.Start(a.sup.Context(), a.actions); err != nil {
			return err
		}
		a.sup.Go0("actions.pump", func(ctx context.Context) {
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-a.actions:
					a.disp.HandleAction(ctx, ev)
				}
			}
		})
	}

	if cfg.Audio.UnlockOnStart {
		a.player.Unlock(a.sup.Context())
		a.disp.RequestPermission()
	}

	role := store.Role(strings.TrimSpace(cfg.Monitor.Role))
	a.monMu.Lock()
	mon := a.mon
	a.monMu.Unlock()
	mon.StartListening(a.sup.Context(), role)
	a.center.Watch(a.sup.Context(), watchTarget(cfg.Monitor), nil)

	a.assets.Reconfigure(a.sup.Context(), mapAssetCache(cfg))
	if err := a.jan.Start(); err != nil {
		return err
	}

	a.log.Info("started",
		logx.String("venue", cfg.Monitor.VenueID),
		logx.String("role", cfg.Monitor.Role))
	return nil
}

// reloadLoop applies config updates published by the watcher. Sections that
// can't be swapped in place (telegram token, store driver) only log that a
// restart is needed.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)

	prev := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok || cfg == nil {
				return
			}
			changed, attrs := config.SummarizeConfigChange(prev, cfg)
			if len(changed) == 0 {
				continue
			}
			a.log.Info("config reloaded", append(attrs, logx.Any("sections", changed))...)
			a.applyReload(ctx, prev, cfg)
			prev = cfg
		}
	}
}

func (a *App) applyReload(ctx context.Context, prev, cfg *config.Config) {
	a.logs.Apply(mapLogging(cfg))

	a.assets.Reconfigure(ctx, mapAssetCache(cfg))

	if prev.Monitor != cfg.Monitor {
		a.monMu.Lock()
		a.mon.StopListening()
		a.mon = a.buildMonitor(cfg.Monitor)
		mon := a.mon
		a.monMu.Unlock()
		mon.StartListening(ctx, store.Role(strings.TrimSpace(cfg.Monitor.Role)))
		a.center.Watch(ctx, watchTarget(cfg.Monitor), nil)
	}

	if prev.Store != cfg.Store {
		a.log.Warn("store config changed; restart required to take effect")
	}
	if prev.Telegram != cfg.Telegram {
		a.log.Warn("telegram config changed; restart required to take effect")
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.monMu.Lock()
	mon := a.mon
	a.monMu.Unlock()
	if mon != nil {
		mon.StopListening()
	}

	a.jan.Stop()
	a.center.Unwatch()
	a.assets.Stop(ctx)
	if a.adapter != nil {
		_ = a.adapter.Stop(ctx)
	}

	if a.sup != nil {
		a.sup.Cancel()
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_ = a.sup.Wait(wctx)
		cancel()
	}

	if a.st != nil {
		_ = a.st.Close()
	}
	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

// Center exposes the notification-center API (persist, watch, broadcast).
func (a *App) Center() *notifier.Center { return a.center }

// Email exposes the owner email sender; nil when disabled.
func (a *App) Email() *email.Sender { return a.emailer }

// watchTarget derives whose notification feed the center follows: the
// customer's own feed, or the staff feed for the monitored venue and role.
func watchTarget(mc config.MonitorConfig) notifier.WatchTarget {
	role := store.Role(strings.TrimSpace(mc.Role))
	if role == store.RoleCustomer {
		return notifier.WatchTarget{UserID: strings.TrimSpace(mc.UserID)}
	}
	return notifier.WatchTarget{VenueID: mc.VenueID, Role: role}
}

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStore(cfg *config.Config) store.Config {
	busy, _ := config.ParseDurationField("store.busy_timeout", cfg.Store.BusyTimeout)
	driver := strings.TrimSpace(cfg.Store.Driver)
	if driver == "" {
		driver = "memory"
	}
	return store.Config{
		Driver:      driver,
		Path:        cfg.Store.Path,
		BusyTimeout: busy,
	}
}

func mapNotifier(cfg *config.Config) (notifier.Config, error) {
	window, err := config.ParseDurationOrDefault("notifier.dedup_window", cfg.Notifier.DedupWindow, 30*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	perm := notifier.Permission(strings.TrimSpace(cfg.Notifier.Permission))
	if perm == "" {
		perm = notifier.PermissionDefault
	}
	return notifier.Config{
		Permission: perm,
		Target: notifier.ChatTarget{
			ChatID:   cfg.Telegram.ChatID,
			ThreadID: cfg.Telegram.ThreadID,
		},
		DedupWindow: window,
		RatePerSec:  cfg.Notifier.RatePerSec,
		Icon:        cfg.Notifier.Icon,
		ShellURL:    cfg.Notifier.ShellURL,
	}, nil
}

func mapAudioOutput(cfg *config.Config, log logx.Logger) (alarm.Output, error) {
	cmd := strings.TrimSpace(cfg.Audio.Command)
	if cmd == "" {
		return &alarm.NopOutput{}, nil
	}
	return alarm.NewExecOutput(cmd, log)
}

func mapAssetCache(cfg *config.Config) assetcache.Config {
	ac := cfg.AssetCache
	if ac == nil {
		return assetcache.Config{}
	}
	read, _ := config.ParseDurationField("asset_cache.read_timeout", ac.ReadTimeout)
	write, _ := config.ParseDurationField("asset_cache.write_timeout", ac.WriteTimeout)
	idle, _ := config.ParseDurationField("asset_cache.idle_timeout", ac.IdleTimeout)
	fetch, _ := config.ParseDurationField("asset_cache.fetch_timeout", ac.FetchTimeout)
	return assetcache.Config{
		Enabled:      ac.Enabled,
		Addr:         ac.Addr,
		Origin:       ac.Origin,
		CacheRoot:    ac.CacheRoot,
		ManifestPath: ac.ManifestPath,
		AppName:      ac.AppName,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
		FetchTimeout: fetch,
	}
}

func mapJanitor(cfg *config.Config) janitor.Config {
	ttl, _ := config.ParseDurationField("janitor.notification_ttl", cfg.Janitor.NotificationTTL)
	return janitor.Config{
		Enabled:         cfg.Janitor.Enabled,
		Schedule:        cfg.Janitor.Schedule,
		NotificationTTL: ttl,
	}
}
