// Package notifier realizes alert intents: in-process broadcast, platform
// notifications with de-duplication tags, and the persisted
// notification-center feed.
package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"ordersentry/internal/eventbus"
	"ordersentry/internal/store"
	kit "ordersentry/internal/transport"
	logx "ordersentry/pkg/logx"
)

// Dispatcher renders alert intents for one monitor instance.
//
// Every failure mode here is non-fatal: no permission means the platform
// notification is silently skipped, a send failure is logged and swallowed.
// The in-process broadcast always happens.
type Dispatcher struct {
	mu      sync.Mutex
	cfg     Config
	perm    Permission
	limiter *rate.Limiter

	adapter kit.Adapter
	bus     eventbus.Bus
	st      store.Store
	log     logx.Logger
}

func NewDispatcher(cfg Config, adapter kit.Adapter, bus eventbus.Bus, st store.Store, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 30 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	perm := cfg.Permission
	if perm == "" {
		perm = PermissionDefault
	}
	return &Dispatcher{
		cfg:     cfg,
		perm:    perm,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		adapter: adapter,
		bus:     bus,
		st:      st,
		log:     log,
	}
}

// Permission reports the current permission state.
func (d *Dispatcher) Permission() Permission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.perm
}

// RequestPermission resolves a "default" permission: granted when a
// notification surface is configured, denied otherwise. Must be driven by a
// user-initiated signal, like the audio unlock.
func (d *Dispatcher) RequestPermission() Permission {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.perm == PermissionDefault {
		if d.adapter != nil && d.cfg.Target.ChatID != 0 {
			d.perm = PermissionGranted
		} else {
			d.perm = PermissionDenied
		}
		d.log.Info("notification permission resolved", logx.String("permission", string(d.perm)))
	}
	return d.perm
}

// Notify realizes one alert intent for an order event.
func (d *Dispatcher) Notify(ctx context.Context, o store.Order, role store.Role, title string) {
	tag := notificationTag(o)
	now := time.Now()

	// In-process broadcast first: fire-and-forget, the UI uses it to show
	// its stop-alarm control regardless of platform permission.
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeAlertFired, Time: now, Data: AlertEvent{
			OrderID:      o.ID,
			VenueID:      o.VenueID,
			Role:         role,
			Title:        title,
			CustomerName: o.CustomerName,
			TotalAmount:  o.TotalAmount,
			Tag:          tag,
			At:           now,
		}})
	}

	if d.Permission() != PermissionGranted {
		// Not an error. Same as the platform notification API being absent.
		return
	}
	if d.adapter == nil {
		return
	}

	// Tag-based de-duplication: repeated delivery of the same logical event
	// must not stack notifications.
	if d.suppressed(ctx, tag, now) {
		d.log.Debug("notification suppressed by tag", logx.String("tag", tag))
		return
	}

	if !d.limiter.Allow() {
		d.log.Warn("notification rate limited", logx.String("tag", tag))
		return
	}

	d.mu.Lock()
	cfg := d.cfg
	d.mu.Unlock()

	n := kit.Notification{
		Title: title,
		Body:  fmt.Sprintf("%s\nTotal: ₹%s", o.CustomerName, humanize.FormatFloat("#,###.##", o.TotalAmount)),
		Icon:  cfg.Icon,
		Tag:   tag,
		// Staff alerts persist until dismissed.
		RequireInteraction: role.IsStaff(),
		Vibrate:            []int{500, 200, 500, 200, 500},
		URL:                cfg.ShellURL,
		Actions: []kit.Action{
			{ID: ActionStopAlarm, Title: "Stop alarm"},
			{ID: ActionView, Title: "View order"},
		},
	}
	to := kit.Target{ChatID: cfg.Target.ChatID, ThreadID: cfg.Target.ThreadID}
	if _, err := d.adapter.SendNotification(ctx, to, n); err != nil {
		d.log.Warn("platform notification failed", logx.String("tag", tag), logx.Err(err))
		return
	}
	d.armDedup(ctx, tag, now)
}

// Nudge renders a notification-center nudge (beep-class alert for an unread
// persisted record).
func (d *Dispatcher) Nudge(ctx context.Context, rec store.NotificationRecord, appName string) {
	now := time.Now()
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeNotificationNudge, Time: now, Data: NudgeEvent{
			RecordID: rec.ID,
			Message:  rec.Message,
			Type:     rec.Type,
			At:       now,
		}})
	}
	if d.Permission() != PermissionGranted || d.adapter == nil {
		return
	}
	if d.suppressed(ctx, "ntf-"+rec.ID, now) {
		return
	}
	if !d.limiter.Allow() {
		return
	}

	d.mu.Lock()
	cfg := d.cfg
	d.mu.Unlock()

	n := kit.Notification{
		Title:   appName,
		Body:    rec.Message,
		Icon:    cfg.Icon,
		Tag:     "ntf-" + rec.ID,
		Vibrate: []int{200, 100, 200},
		URL:     cfg.ShellURL,
	}
	to := kit.Target{ChatID: cfg.Target.ChatID, ThreadID: cfg.Target.ThreadID}
	if _, err := d.adapter.SendNotification(ctx, to, n); err != nil {
		d.log.Warn("nudge notification failed", logx.String("record", rec.ID), logx.Err(err))
		return
	}
	d.armDedup(ctx, "ntf-"+rec.ID, now)
}

// Push renders a raw notification, used for externally delivered push
// payloads. Permission and rate limits apply; de-duplication does not,
// push payloads carry no stable identity.
func (d *Dispatcher) Push(ctx context.Context, title, body, icon, url string) {
	if d.Permission() != PermissionGranted || d.adapter == nil {
		return
	}
	if !d.limiter.Allow() {
		d.log.Warn("push notification rate limited")
		return
	}

	d.mu.Lock()
	cfg := d.cfg
	d.mu.Unlock()

	if icon == "" {
		icon = cfg.Icon
	}
	if url == "" {
		url = cfg.ShellURL
	}
	n := kit.Notification{
		Title:   title,
		Body:    body,
		Icon:    icon,
		Vibrate: []int{200, 100, 200},
		URL:     url,
		Actions: []kit.Action{
			{ID: ActionView, Title: "View"},
			{ID: ActionClose, Title: "Close"},
		},
	}
	to := kit.Target{ChatID: cfg.Target.ChatID, ThreadID: cfg.Target.ThreadID}
	if _, err := d.adapter.SendNotification(ctx, to, n); err != nil {
		d.log.Warn("push notification failed", logx.Err(err))
	}
}

// HandleAction routes a click on a rendered notification. Clicking focuses
// the application (handled by the surface) and dismisses the notification;
// the stop action additionally asks the monitor to silence the alarm.
func (d *Dispatcher) HandleAction(ctx context.Context, ev kit.ActionEvent) {
	if d.adapter == nil {
		return
	}
	switch ev.ActionID {
	case ActionStopAlarm:
		if d.bus != nil {
			d.bus.Publish(eventbus.Event{Type: eventbus.TypeAlarmStopRequest, Time: time.Now(), Data: ev.Tag})
		}
		_ = d.adapter.AnswerAction(ctx, ev.CallbackID, "Alarm stopped")
	case ActionClose:
		_ = d.adapter.AnswerAction(ctx, ev.CallbackID, "")
	default:
		_ = d.adapter.AnswerAction(ctx, ev.CallbackID, "")
	}
	ref := kit.MessageRef{ChatID: ev.ChatID, MessageID: ev.MessageID}
	if err := d.adapter.Dismiss(ctx, ref); err != nil {
		d.log.Debug("notification dismiss failed", logx.Err(err))
	}
}

// suppressed reports whether the tag is inside its dedup window. Store
// errors fail open: better a duplicate notification than a missed one.
func (d *Dispatcher) suppressed(ctx context.Context, tag string, now time.Time) bool {
	if d.st == nil || tag == "" {
		return false
	}
	until, ok, err := d.st.GetDedup(ctx, tag)
	if err != nil {
		d.log.Debug("dedup read failed", logx.Err(err))
		return false
	}
	return ok && until.After(now)
}

// armDedup opens the dedup window for a tag. Only called after a successful
// send, so a failed or rate-limited attempt never blocks the retry.
func (d *Dispatcher) armDedup(ctx context.Context, tag string, now time.Time) {
	if d.st == nil || tag == "" {
		return
	}
	d.mu.Lock()
	window := d.cfg.DedupWindow
	d.mu.Unlock()
	if err := d.st.PutDedup(ctx, tag, now.Add(window)); err != nil {
		d.log.Debug("dedup write failed", logx.Err(err))
	}
}

// notificationTag derives the de-duplication tag for an order event from its
// id, falling back to the creation timestamp.
func notificationTag(o store.Order) string {
	if o.ID != "" {
		return "order-" + o.ID
	}
	if o.CreatedAt != nil {
		return fmt.Sprintf("alert-%d", o.CreatedAt.UnixMilli())
	}
	return fmt.Sprintf("alert-%d", time.Now().UnixMilli())
}
