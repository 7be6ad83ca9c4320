package assetcache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	rtsup "ordersentry/internal/runtime/supervisor"
	logx "ordersentry/pkg/logx"
)

// Config controls the offline asset worker.
type Config struct {
	Enabled bool
	// Addr is the local listen address of the worker.
	Addr string
	// Origin is the upstream app origin, e.g. "https://app.example.com".
	Origin string
	// CacheRoot holds the versioned cache directories.
	CacheRoot string
	// ManifestPath points at the precache manifest; edits to it trigger a
	// reinstall at the version it names.
	ManifestPath string

	AppName string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	FetchTimeout time.Duration
}

// Service runs the worker: install the manifest's assets into a versioned
// cache, activate it, then serve with per-request strategies. A manifest
// edit installs the new version alongside the serving one and only then
// swaps and removes the old.
type Service struct {
	mu   sync.Mutex
	log  logx.Logger
	cfg  Config
	sink PushSink

	cache    *Cache
	shell    string
	ln       net.Listener
	srv      *http.Server
	sup      *rtsup.Supervisor
	stopDone chan struct{}
}

func New(cfg Config, sink PushSink, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, sink: sink, log: log}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Reconfigure applies cfg and starts/stops/restarts the worker if needed.
// Safe to call during hot-reload.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.srv != nil
	s.cfg = cfg
	s.mu.Unlock()

	if !cfg.Enabled {
		if running {
			s.Stop(ctx)
		}
		return
	}
	if !running {
		s.Start(ctx)
		return
	}
	if needsRestart(prev, cfg) {
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func needsRestart(a, b Config) bool {
	if a.Addr != b.Addr || a.Origin != b.Origin {
		return true
	}
	if a.CacheRoot != b.CacheRoot || a.ManifestPath != b.ManifestPath {
		return true
	}
	if a.ReadTimeout != b.ReadTimeout || a.WriteTimeout != b.WriteTimeout || a.IdleTimeout != b.IdleTimeout {
		return true
	}
	return false
}

// Start is idempotent. A Start racing an in-flight Stop waits for it.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		s.mu.Lock()
		if s.stopDone != nil {
			done := s.stopDone
			s.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return
			}
		}
		if s.sup != nil {
			s.mu.Unlock()
			return
		}
		cur := s.cfg
		if !cur.Enabled {
			s.mu.Unlock()
			return
		}
		s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.String("comp", "assetcache"))))
		sup := s.sup
		s.mu.Unlock()

		sup.GoRestart("http.serve", s.serveOnce,
			rtsup.WithPublishFirstError(true),
			rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)
		if strings.TrimSpace(cur.ManifestPath) != "" {
			sup.GoRestart0("manifest.watch", s.watchManifest,
				rtsup.WithRestartBackoff(time.Second, 30*time.Second),
			)
		}
		return
	}
}

func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	srv, ln, sup := s.srv, s.ln, s.sup
	s.mu.Unlock()

	go func() {
		defer close(done)
		if srv != nil {
			_ = srv.Shutdown(ctx)
			_ = srv.Close()
		}
		if ln != nil {
			_ = ln.Close()
		}
		if sup != nil {
			sup.Cancel()
			_ = sup.Wait(context.Background())
		}
		s.mu.Lock()
		s.ln, s.srv, s.sup, s.stopDone = nil, nil, nil, nil
		s.mu.Unlock()
		s.log.Info("asset worker stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
	}
}

func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()

	if !cur.Enabled {
		return context.Canceled
	}
	origin := strings.TrimRight(strings.TrimSpace(cur.Origin), "/")
	if origin == "" {
		return errors.New("asset worker: origin is required")
	}
	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = "127.0.0.1:8940"
	}

	if err := s.installFromManifest(ctx, cur); err != nil {
		return err
	}

	appName := cur.AppName
	if appName == "" {
		appName = "OrderSentry"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("asset worker listen failed", logx.String("addr", addr), logx.Err(err))
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	defer func() { _ = ln.Close() }()

	fetchTimeout := cur.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}
	currentCache := func() *Cache {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.cache
	}
	currentShell := func() string {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.shell
	}
	assets := &assetHandler{
		cache:  currentCache,
		shell:  currentShell,
		origin: origin,
		client: &http.Client{Timeout: fetchTimeout},
		log:    s.log,
	}
	push := &pushHandler{sink: s.sink, appName: appName, shell: currentShell, log: s.log}

	mux := http.NewServeMux()
	mux.HandleFunc("/push", push.handlePush)
	mux.HandleFunc("/notification/click", push.handleClick)
	mux.Handle("/", assets)

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  cur.ReadTimeout,
		WriteTimeout: cur.WriteTimeout,
		IdleTimeout:  cur.IdleTimeout,
	}
	defer func() { _ = srv.Close() }()

	s.mu.Lock()
	s.ln, s.srv = ln, srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("asset worker listening",
		logx.String("addr", ln.Addr().String()), logx.String("origin", origin))
	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) || ctx.Err() != nil {
		return context.Canceled
	}
	return err
}

// installFromManifest precaches every manifest asset into the version it
// names, then activates. Any fetch failure aborts the whole install and the
// previous version keeps serving.
func (s *Service) installFromManifest(ctx context.Context, cur Config) error {
	if strings.TrimSpace(cur.ManifestPath) == "" {
		// No manifest: serve with an unversioned cache, no precache.
		cache, err := OpenCache(cur.CacheRoot, "v0", s.log)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.cache, s.shell = cache, "/"
		s.mu.Unlock()
		return nil
	}

	m, err := LoadManifest(cur.ManifestPath)
	if err != nil {
		return fmt.Errorf("manifest: %w", err)
	}

	s.mu.Lock()
	already := s.cache != nil && s.cache.Version() == m.Version
	s.mu.Unlock()
	if already {
		return nil
	}

	cache, err := OpenCache(cur.CacheRoot, m.Version, s.log)
	if err != nil {
		return err
	}

	origin := strings.TrimRight(strings.TrimSpace(cur.Origin), "/")
	fetchTimeout := cur.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}
	client := &http.Client{Timeout: fetchTimeout}

	for _, asset := range m.Assets {
		if err := precache(ctx, client, cache, origin, asset); err != nil {
			return fmt.Errorf("install %s: %w", asset, err)
		}
	}

	if err := cache.Activate(); err != nil {
		s.log.Warn("cache activation incomplete", logx.Err(err))
	}
	s.mu.Lock()
	s.cache, s.shell = cache, m.Shell
	s.mu.Unlock()
	s.log.Info("asset cache installed",
		logx.String("version", m.Version), logx.Int("assets", len(m.Assets)))
	return nil
}

func precache(ctx context.Context, client *http.Client, cache *Cache, origin, asset string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+asset, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return cache.Put(asset, resp.Header.Get("Content-Type"), resp.Body)
}

// watchManifest reinstalls when the manifest file changes. Watching the
// parent directory survives editors that replace the file.
func (s *Service) watchManifest(ctx context.Context) {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Warn("manifest watcher unavailable", logx.Err(err))
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(cur.ManifestPath)
	if err := watcher.Add(dir); err != nil {
		s.log.Warn("manifest watch failed", logx.String("dir", dir), logx.Err(err))
		return
	}
	target := filepath.Clean(cur.ManifestPath)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(300 * time.Millisecond)
			} else {
				debounce.Reset(300 * time.Millisecond)
			}
			fire = debounce.C
		case <-fire:
			fire = nil
			if err := s.installFromManifest(ctx, cur); err != nil {
				s.log.Warn("manifest reinstall failed", logx.Err(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("manifest watcher error", logx.Err(err))
		}
	}
}
