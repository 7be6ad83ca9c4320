package notifier

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ordersentry/internal/store"
	logx "ordersentry/pkg/logx"
)

const (
	// limitCustomer and limitStaff cap the watched feed per audience kind.
	limitCustomer = 10
	limitStaff    = 20

	// nudgeWindow: only unread records this fresh trigger an attention nudge,
	// so reconnecting after a long absence stays silent.
	nudgeWindow = 30 * time.Second
)

// WatchTarget selects whose feed a Watch follows: a single user, or every
// staff member of one role at a venue.
type WatchTarget struct {
	UserID  string
	VenueID string
	Role    store.Role
}

func (t WatchTarget) limit() int {
	if t.UserID != "" {
		return limitCustomer
	}
	return limitStaff
}

// Update is one observed state of a watched feed.
type Update struct {
	Records []store.NotificationRecord
	Unread  int
}

// Center is the persisted notification feed: create, watch, mark read,
// clear. One Watch per center; starting a new one replaces the old.
type Center struct {
	st   store.Store
	disp *Dispatcher
	log  logx.Logger

	// AppName is the title used for nudge notifications.
	AppName string

	pollEvery time.Duration

	mu        sync.Mutex
	watchStop context.CancelFunc
	watchDone chan struct{}
}

func NewCenter(st store.Store, disp *Dispatcher, log logx.Logger) *Center {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Center{
		st:        st,
		disp:      disp,
		log:       log,
		AppName:   "OrderSentry",
		pollEvery: 2 * time.Second,
	}
}

// Watch follows a feed and invokes onUpdate with each observed state. A
// repeated Watch cancels the previous one first. The callback runs on the
// watch goroutine; keep it cheap.
func (c *Center) Watch(ctx context.Context, target WatchTarget, onUpdate func(Update)) {
	c.Unwatch()

	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.watchStop = cancel
	c.watchDone = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.watchLoop(wctx, target, onUpdate)
	}()
}

// Watching reports whether a feed watch is active.
func (c *Center) Watching() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watchStop != nil
}

// Unwatch stops the active watch, if any, and waits for it to finish.
func (c *Center) Unwatch() {
	c.mu.Lock()
	stop, done := c.watchStop, c.watchDone
	c.watchStop, c.watchDone = nil, nil
	c.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
}

func (c *Center) watchLoop(ctx context.Context, target WatchTarget, onUpdate func(Update)) {
	q := store.NotificationQuery{
		UserID:  target.UserID,
		VenueID: target.VenueID,
		Role:    target.Role,
		Limit:   target.limit(),
	}

	// Nudge at most once per record id for the lifetime of this watch.
	nudged := map[string]struct{}{}

	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	for {
		recs, err := c.st.Notifications(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("notification feed poll failed", logx.Err(err))
		} else {
			unread := 0
			for _, r := range recs {
				if !r.Read {
					unread++
				}
			}
			if onUpdate != nil {
				onUpdate(Update{Records: recs, Unread: unread})
			}
			c.maybeNudge(ctx, recs, nudged)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// maybeNudge fires an attention nudge for the newest unread record that is
// younger than the nudge window and not yet nudged.
func (c *Center) maybeNudge(ctx context.Context, recs []store.NotificationRecord, nudged map[string]struct{}) {
	now := time.Now()
	for _, r := range recs {
		if r.Read {
			continue
		}
		if now.Sub(r.CreatedAt) >= nudgeWindow {
			continue
		}
		if _, ok := nudged[r.ID]; ok {
			continue
		}
		nudged[r.ID] = struct{}{}
		if c.disp != nil {
			c.disp.Nudge(ctx, r, c.AppName)
		}
		return
	}
}

// NotifyUser persists a notification addressed to one user.
func (c *Center) NotifyUser(ctx context.Context, userID, message, typ string) (string, error) {
	rec := store.NotificationRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Message:   message,
		Type:      typ,
		CreatedAt: time.Now(),
	}
	id, err := c.st.CreateNotification(ctx, rec)
	if err != nil {
		c.log.Warn("notify user failed", logx.String("user", userID), logx.Err(err))
		return "", err
	}
	return id, nil
}

// BroadcastToRole persists one notification per staff member holding the
// role at the venue. Partial failure is tolerated: each send is independent.
func (c *Center) BroadcastToRole(ctx context.Context, venueID string, role store.Role, message, typ string) (int, error) {
	staff, err := c.st.StaffByRole(ctx, venueID, role)
	if err != nil {
		c.log.Warn("role broadcast lookup failed",
			logx.String("venue", venueID), logx.String("role", string(role)), logx.Err(err))
		return 0, err
	}

	sent := 0
	for _, m := range staff {
		rec := store.NotificationRecord{
			ID:        uuid.NewString(),
			UserID:    m.ID,
			VenueID:   venueID,
			Role:      role,
			Message:   message,
			Type:      typ,
			CreatedAt: time.Now(),
		}
		if _, err := c.st.CreateNotification(ctx, rec); err != nil {
			c.log.Warn("role broadcast write failed", logx.String("user", m.ID), logx.Err(err))
			continue
		}
		sent++
	}
	c.log.Info("role broadcast",
		logx.String("venue", venueID), logx.String("role", string(role)), logx.Int("sent", sent))
	return sent, nil
}

// MarkRead flags one record as read.
func (c *Center) MarkRead(ctx context.Context, id string) error {
	if err := c.st.MarkNotificationRead(ctx, id); err != nil {
		c.log.Warn("mark read failed", logx.String("id", id), logx.Err(err))
		return err
	}
	return nil
}

// ClearAll deletes the given records (the caller passes the ids it is
// currently showing).
func (c *Center) ClearAll(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.st.DeleteNotifications(ctx, ids); err != nil {
		c.log.Warn("clear notifications failed", logx.Int("count", len(ids)), logx.Err(err))
		return err
	}
	return nil
}

// EmailSender is the template-email capability the center needs for owner
// alerts.
type EmailSender interface {
	Send(ctx context.Context, templateID string, vars map[string]string) error
}

// EmailOwner sends a template email to the venue owner's address, best
// effort. Missing owner or missing address is not an error.
func (c *Center) EmailOwner(ctx context.Context, sender EmailSender, venueID, templateID string, vars map[string]string) {
	if sender == nil {
		return
	}
	owners, err := c.st.StaffByRole(ctx, venueID, store.RoleOwner)
	if err != nil {
		c.log.Warn("owner lookup failed", logx.String("venue", venueID), logx.Err(err))
		return
	}
	for _, o := range owners {
		addr := strings.TrimSpace(o.Email)
		if addr == "" {
			continue
		}
		merged := make(map[string]string, len(vars)+1)
		for k, v := range vars {
			merged[k] = v
		}
		merged["to_email"] = addr
		if err := sender.Send(ctx, templateID, merged); err != nil {
			c.log.Warn("owner email failed", logx.String("venue", venueID), logx.Err(err))
		}
		return
	}
	c.log.Debug("owner email skipped: no owner address", logx.String("venue", venueID))
}
