package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "ordersentry/pkg/logx"
)

func openTestSQLite(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "sentry.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteOrdersRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	err := st.PutOrder(ctx, Order{
		ID: "o1", VenueID: "v1", Status: StatusNew,
		CustomerName: "Asha", TotalAmount: 199.5, CreatedAt: &created,
	})
	if err != nil {
		t.Fatalf("put order: %v", err)
	}

	orders, maxSeq, err := st.OrdersSince(ctx, "v1", 0)
	if err != nil {
		t.Fatalf("orders since: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("got %d orders, want 1", len(orders))
	}
	o := orders[0]
	if o.ID != "o1" || o.Status != StatusNew || o.CustomerName != "Asha" || o.TotalAmount != 199.5 {
		t.Fatalf("unexpected order: %+v", o)
	}
	if o.CreatedAt == nil || !o.CreatedAt.Equal(created) {
		t.Fatalf("created_at = %v, want %v", o.CreatedAt, created)
	}
	if maxSeq != o.Seq || maxSeq == 0 {
		t.Fatalf("maxSeq = %d, order seq = %d", maxSeq, o.Seq)
	}

	// Updating bumps seq, so watchers see the change.
	if err := st.PutOrder(ctx, Order{ID: "o1", VenueID: "v1", Status: StatusReadyForPickup}); err != nil {
		t.Fatalf("update order: %v", err)
	}
	orders, newMax, err := st.OrdersSince(ctx, "v1", maxSeq)
	if err != nil {
		t.Fatalf("orders since: %v", err)
	}
	if len(orders) != 1 || orders[0].Status != StatusReadyForPickup {
		t.Fatalf("expected updated order, got %+v", orders)
	}
	if newMax <= maxSeq {
		t.Fatalf("seq did not advance: %d -> %d", maxSeq, newMax)
	}
}

func TestSQLiteMissingVenue(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t)
	_, ok, err := st.Venue(context.Background(), "nope")
	if err != nil {
		t.Fatalf("venue: %v", err)
	}
	if ok {
		t.Fatal("missing venue must report ok=false")
	}
}

func TestSQLiteNotificationsLifecycle(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t)
	ctx := context.Background()

	id, err := st.CreateNotification(ctx, NotificationRecord{
		UserID: "u1", Message: "Your order is ready", Type: "order",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == "" {
		t.Fatal("create returned empty id")
	}

	recs, err := st.Notifications(ctx, NotificationQuery{UserID: "u1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != 1 || recs[0].Read {
		t.Fatalf("unexpected feed: %+v", recs)
	}

	if err := st.MarkNotificationRead(ctx, id); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	recs, _ = st.Notifications(ctx, NotificationQuery{UserID: "u1"})
	if len(recs) != 1 || !recs[0].Read {
		t.Fatalf("record not marked read: %+v", recs)
	}

	if err := st.MarkNotificationRead(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("mark read missing = %v, want ErrNotFound", err)
	}

	if err := st.DeleteNotifications(ctx, []string{id}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	recs, _ = st.Notifications(ctx, NotificationQuery{UserID: "u1"})
	if len(recs) != 0 {
		t.Fatalf("feed not empty after delete: %+v", recs)
	}
}

func TestSQLiteNotificationsQueryValidation(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t)
	if _, err := st.Notifications(context.Background(), NotificationQuery{}); err == nil {
		t.Fatal("empty query must be rejected")
	}
}

func TestSQLitePruneNotifications(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t)
	ctx := context.Background()

	old := time.Now().Add(-30 * 24 * time.Hour)
	readID, _ := st.CreateNotification(ctx, NotificationRecord{UserID: "u1", Message: "old read", CreatedAt: old})
	_ = st.MarkNotificationRead(ctx, readID)
	_, _ = st.CreateNotification(ctx, NotificationRecord{UserID: "u1", Message: "old unread", CreatedAt: old})
	_, _ = st.CreateNotification(ctx, NotificationRecord{UserID: "u1", Message: "fresh"})

	n, err := st.PruneNotifications(ctx, time.Now().Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d records, want 1 (only old+read)", n)
	}
	recs, _ := st.Notifications(ctx, NotificationQuery{UserID: "u1"})
	if len(recs) != 2 {
		t.Fatalf("feed after prune = %d records, want 2", len(recs))
	}
}

func TestSQLiteDedup(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t)
	ctx := context.Background()
	now := time.Now()

	if _, ok, _ := st.GetDedup(ctx, "order-1"); ok {
		t.Fatal("unknown key must miss")
	}
	if err := st.PutDedup(ctx, "order-1", now.Add(30*time.Second)); err != nil {
		t.Fatalf("put dedup: %v", err)
	}
	until, ok, err := st.GetDedup(ctx, "order-1")
	if err != nil || !ok {
		t.Fatalf("get dedup: ok=%v err=%v", ok, err)
	}
	if until.Before(now) {
		t.Fatalf("until = %v, should be in the future", until)
	}

	_ = st.PutDedup(ctx, "expired", now.Add(-time.Minute))
	n, err := st.PruneDedup(ctx, now)
	if err != nil {
		t.Fatalf("prune dedup: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d entries, want 1", n)
	}
}
