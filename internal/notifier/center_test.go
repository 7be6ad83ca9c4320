package notifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"ordersentry/internal/eventbus"
	"ordersentry/internal/store"
	logx "ordersentry/pkg/logx"
)

func newTestCenter(t *testing.T, st store.Store, disp *Dispatcher) *Center {
	t.Helper()
	c := NewCenter(st, disp, logx.Nop())
	c.pollEvery = 10 * time.Millisecond
	t.Cleanup(c.Unwatch)
	return c
}

func TestCenterNotifyUserAndMarkRead(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	c := newTestCenter(t, st, nil)
	ctx := context.Background()

	id, err := c.NotifyUser(ctx, "u1", "Your order is being prepared", "order")
	if err != nil {
		t.Fatalf("notify user: %v", err)
	}
	recs, err := st.Notifications(ctx, store.NotificationQuery{UserID: "u1"})
	if err != nil || len(recs) != 1 {
		t.Fatalf("feed: %v, %d records", err, len(recs))
	}
	if recs[0].Read {
		t.Fatal("new record must be unread")
	}

	if err := c.MarkRead(ctx, id); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	recs, _ = st.Notifications(ctx, store.NotificationQuery{UserID: "u1"})
	if !recs[0].Read {
		t.Fatal("record should be read")
	}

	if err := c.ClearAll(ctx, []string{id}); err != nil {
		t.Fatalf("clear: %v", err)
	}
	recs, _ = st.Notifications(ctx, store.NotificationQuery{UserID: "u1"})
	if len(recs) != 0 {
		t.Fatal("feed should be empty after clear")
	}
}

func TestCenterBroadcastToRole(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	st.PutStaff(store.Staff{ID: "k1", VenueID: "v1", Role: store.RoleKitchen})
	st.PutStaff(store.Staff{ID: "k2", VenueID: "v1", Role: store.RoleKitchen})
	st.PutStaff(store.Staff{ID: "d1", VenueID: "v1", Role: store.RoleDelivery})

	c := newTestCenter(t, st, nil)
	sent, err := c.BroadcastToRole(context.Background(), "v1", store.RoleKitchen, "New order queued", "order")
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if sent != 2 {
		t.Fatalf("sent to %d staff, want 2", sent)
	}

	for _, uid := range []string{"k1", "k2"} {
		recs, _ := st.Notifications(context.Background(), store.NotificationQuery{UserID: uid})
		if len(recs) != 1 {
			t.Fatalf("user %s got %d records, want 1", uid, len(recs))
		}
	}
	recs, _ := st.Notifications(context.Background(), store.NotificationQuery{UserID: "d1"})
	if len(recs) != 0 {
		t.Fatal("delivery staff must not receive a kitchen broadcast")
	}
}

func TestCenterWatchReportsUnread(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	c := newTestCenter(t, st, nil)
	ctx := context.Background()

	var mu sync.Mutex
	var last Update
	c.Watch(ctx, WatchTarget{UserID: "u1"}, func(u Update) {
		mu.Lock()
		last = u
		mu.Unlock()
	})

	if _, err := c.NotifyUser(ctx, "u1", "hello", "info"); err != nil {
		t.Fatalf("notify: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		unread := last.Unread
		mu.Unlock()
		if unread == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("watch never reported the unread record")
}

func TestCenterNudgesFreshUnreadOnce(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	disp := NewDispatcher(Config{Permission: PermissionDenied}, nil, bus, st, logx.Nop())
	c := newTestCenter(t, st, disp)
	ctx := context.Background()

	c.Watch(ctx, WatchTarget{UserID: "u1"}, nil)
	if _, err := c.NotifyUser(ctx, "u1", "fresh", "info"); err != nil {
		t.Fatalf("notify: %v", err)
	}

	nudges := func() int {
		n := 0
		for {
			select {
			case ev := <-events:
				if ev.Type == eventbus.TypeNotificationNudge {
					n++
				}
			default:
				return n
			}
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	total := 0
	for time.Now().Before(deadline) && total == 0 {
		total += nudges()
		time.Sleep(5 * time.Millisecond)
	}
	if total == 0 {
		t.Fatal("fresh unread record must nudge")
	}

	// Several more polls happen; the same record must not nudge again.
	time.Sleep(100 * time.Millisecond)
	if extra := nudges(); extra > 0 {
		t.Fatalf("record nudged %d more times", extra)
	}
}

func TestCenterStaleUnreadDoesNotNudge(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	// Seed a record well outside the nudge window.
	_, err := st.CreateNotification(context.Background(), store.NotificationRecord{
		UserID: "u1", Message: "stale", CreatedAt: time.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	disp := NewDispatcher(Config{Permission: PermissionDenied}, nil, bus, st, logx.Nop())
	c := newTestCenter(t, st, disp)
	c.Watch(context.Background(), WatchTarget{UserID: "u1"}, nil)

	time.Sleep(150 * time.Millisecond)
	select {
	case ev := <-events:
		if ev.Type == eventbus.TypeNotificationNudge {
			t.Fatal("stale record must not nudge on reconnect")
		}
	default:
	}
}

func TestCenterWatchReplacesPrevious(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	c := newTestCenter(t, st, nil)
	ctx := context.Background()

	var mu sync.Mutex
	got := map[string]bool{}
	watch := func(uid string) {
		c.Watch(ctx, WatchTarget{UserID: uid}, func(u Update) {
			mu.Lock()
			for _, r := range u.Records {
				got[r.UserID] = true
			}
			mu.Unlock()
		})
	}

	_, _ = c.NotifyUser(ctx, "u1", "one", "info")
	_, _ = c.NotifyUser(ctx, "u2", "two", "info")

	watch("u1")
	watch("u2")

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if !got["u2"] {
		t.Fatal("replacement watch never delivered")
	}
}

type captureEmail struct {
	mu    sync.Mutex
	calls []map[string]string
}

func (c *captureEmail) Send(ctx context.Context, templateID string, vars map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, vars)
	return nil
}

func TestCenterEmailOwner(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	st.PutStaff(store.Staff{ID: "own1", VenueID: "v1", Role: store.RoleOwner, Email: "owner@example.com"})
	c := newTestCenter(t, st, nil)

	sender := &captureEmail{}
	c.EmailOwner(context.Background(), sender, "v1", "tmpl_order", map[string]string{"order_id": "o1"})

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.calls) != 1 {
		t.Fatalf("sent %d emails, want 1", len(sender.calls))
	}
	if sender.calls[0]["to_email"] != "owner@example.com" || sender.calls[0]["order_id"] != "o1" {
		t.Fatalf("vars = %v", sender.calls[0])
	}
}

func TestCenterEmailOwnerNoAddress(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	st.PutStaff(store.Staff{ID: "own1", VenueID: "v1", Role: store.RoleOwner})
	c := newTestCenter(t, st, nil)

	sender := &captureEmail{}
	c.EmailOwner(context.Background(), sender, "v1", "tmpl", nil)
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.calls) != 0 {
		t.Fatal("owner without address must not be emailed")
	}
}
