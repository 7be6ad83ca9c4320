// Package janitor runs the periodic housekeeping jobs: pruning old
// notification-center records and expired de-duplication entries.
package janitor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ordersentry/internal/store"
	logx "ordersentry/pkg/logx"
)

// Config controls the housekeeping schedule.
type Config struct {
	Enabled bool
	// Schedule is a cron expression (5-field, optional seconds, or a
	// descriptor like "@hourly"). Empty means hourly.
	Schedule string
	// NotificationTTL is how long read notification records are kept.
	// 0 means default (7 days).
	NotificationTTL time.Duration
	// JobTimeout bounds a single housekeeping run.
	JobTimeout time.Duration
}

// Service schedules the prune jobs on a cron runner.
type Service struct {
	cfg Config
	st  store.Store
	log logx.Logger

	mu sync.Mutex
	c  *cron.Cron
}

func New(cfg Config, st store.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.NotificationTTL <= 0 {
		cfg.NotificationTTL = 7 * 24 * time.Hour
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	return &Service{cfg: cfg, st: st, log: log}
}

// Start registers and starts the schedule. Idempotent.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.c != nil {
		return nil
	}

	spec := strings.TrimSpace(s.cfg.Schedule)
	if spec == "" {
		spec = "@hourly"
	}

	parser := cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(spec, s.run); err != nil {
		return err
	}
	c.Start()
	s.c = c
	s.log.Info("janitor started", logx.String("schedule", spec))
	return nil
}

// Stop halts the schedule and waits for an in-flight run.
func (s *Service) Stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.log.Info("janitor stopped")
}

func (s *Service) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()
	s.RunOnce(ctx)
}

// RunOnce executes one housekeeping pass. Exposed for manual runs and tests.
func (s *Service) RunOnce(ctx context.Context) {
	now := time.Now()

	n, err := s.st.PruneNotifications(ctx, now.Add(-s.cfg.NotificationTTL))
	if err != nil {
		s.log.Warn("notification prune failed", logx.Err(err))
	} else if n > 0 {
		s.log.Info("notifications pruned", logx.Int64("removed", n))
	}

	n, err = s.st.PruneDedup(ctx, now)
	if err != nil {
		s.log.Warn("dedup prune failed", logx.Err(err))
	} else if n > 0 {
		s.log.Debug("dedup entries pruned", logx.Int64("removed", n))
	}
}
