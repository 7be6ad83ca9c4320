package monitor

import (
	"context"
	"sync"
	"time"

	"ordersentry/internal/alarm"
	"ordersentry/internal/eventbus"
	"ordersentry/internal/notifier"
	"ordersentry/internal/runtime/supervisor"
	"ordersentry/internal/store"
	logx "ordersentry/pkg/logx"
)

// Config controls one monitor instance.
type Config struct {
	VenueID string
	// PollInterval is how often the order feed is polled; 0 means default.
	PollInterval time.Duration
}

// Monitor runs the alert pipeline for one venue: order feed in, alarm and
// notifications out. One listening session at a time; StartListening with a
// session already running replaces it.
type Monitor struct {
	cfg    Config
	st     store.Store
	player *alarm.Player
	disp   *notifier.Dispatcher
	bus    eventbus.Bus
	log    logx.Logger

	now func() time.Time

	mu   sync.Mutex
	sess *session
}

// session is one active listening run.
type session struct {
	role store.Role
	sup  *supervisor.Supervisor
	sub  *store.Subscription
}

func New(cfg Config, st store.Store, player *alarm.Player, disp *notifier.Dispatcher, bus eventbus.Bus, log logx.Logger) *Monitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Monitor{
		cfg:    cfg,
		st:     st,
		player: player,
		disp:   disp,
		bus:    bus,
		log:    log,
		now:    time.Now,
	}
}

// StartListening begins (or restarts) the listening session for a role.
// Settings are resolved once per session; changing them in the store takes
// effect on the next StartListening.
func (m *Monitor) StartListening(ctx context.Context, role store.Role) {
	m.StopListening()

	if !role.Valid() || !role.IsStaff() {
		// Customers never alarm; don't burn a feed subscription on them.
		m.log.Debug("listening skipped for role", logx.String("role", string(role)))
		return
	}

	settings := ResolveSettings(ctx, m.st, m.cfg.VenueID, m.log)

	sup := supervisor.New(ctx, supervisor.WithLogger(m.log))
	sub := store.SubscribeOrders(sup.Context(), m.st, m.cfg.VenueID, m.cfg.PollInterval, m.log)

	s := &session{role: role, sup: sup, sub: sub}
	m.mu.Lock()
	m.sess = s
	m.mu.Unlock()

	m.log.Info("listening started",
		logx.String("venue", m.cfg.VenueID),
		logx.String("role", string(role)),
		logx.Bool("kitchen_new", settings.KitchenNew),
		logx.Bool("kitchen_ready", settings.KitchenReady),
		logx.Bool("delivery_ready", settings.DeliveryReady))

	sup.Go("order-feed", func(ctx context.Context) error {
		m.consume(ctx, s, settings)
		return nil
	})
	sup.Go("stop-requests", func(ctx context.Context) error {
		m.watchStopRequests(ctx)
		return nil
	})
}

// StopListening ends the active session, if any, and unconditionally
// silences the alarm. Idempotent.
func (m *Monitor) StopListening() {
	m.mu.Lock()
	s := m.sess
	m.sess = nil
	m.mu.Unlock()

	if s != nil {
		s.sub.Cancel()
		s.sup.Cancel()
		waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.sup.Wait(waitCtx)
		cancel()
		m.log.Info("listening stopped", logx.String("role", string(s.role)))
	}

	// The alarm must never outlive its session.
	if m.player != nil {
		m.player.Stop()
	}
}

// Listening reports whether a session is active.
func (m *Monitor) Listening() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess != nil
}

// consume drains the order feed and applies the alert gates, in order: does
// the matrix want an alert at all, is this an addition (not an update or
// removal), and is the order recent. Only then the alarm sounds and the
// notification goes out.
func (m *Monitor) consume(ctx context.Context, s *session, settings AlarmSettings) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-s.sub.Changes():
			if !ok {
				if err := s.sub.Err(); err != nil {
					m.log.Warn("order feed ended", logx.Err(err))
				}
				return
			}
			for _, ch := range batch {
				m.handleChange(ctx, s.role, settings, ch)
			}
		}
	}
}

func (m *Monitor) handleChange(ctx context.Context, role store.Role, settings AlarmSettings, ch store.Change) {
	intent := Decide(ch.Order, role, settings)
	if !intent.Alert {
		return
	}
	if ch.Type != store.ChangeAdded {
		return
	}
	if !IsRecent(ch.Order.CreatedAt, m.now()) {
		m.log.Debug("stale order skipped",
			logx.String("order", ch.Order.ID), logx.Time("created_at", deref(ch.Order.CreatedAt)))
		return
	}

	m.log.Info("alert",
		logx.String("order", intent.Order.ID),
		logx.String("title", intent.Title),
		logx.String("role", string(role)))

	if m.player != nil {
		m.player.Play(ctx)
	}
	if m.disp != nil {
		m.disp.Notify(ctx, intent.Order, role, intent.Title)
	}
}

// watchStopRequests silences the alarm when a stop action arrives from any
// notification surface.
func (m *Monitor) watchStopRequests(ctx context.Context) {
	if m.bus == nil {
		return
	}
	ch, unsub := m.bus.Subscribe(8)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type == eventbus.TypeAlarmStopRequest && m.player != nil {
				m.player.Stop()
			}
		}
	}
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
