package janitor

import (
	"context"
	"testing"
	"time"

	"ordersentry/internal/store"
	logx "ordersentry/pkg/logx"
)

func TestRunOncePrunes(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	ctx := context.Background()

	old := time.Now().Add(-30 * 24 * time.Hour)
	readID, _ := st.CreateNotification(ctx, store.NotificationRecord{UserID: "u1", Message: "old read", CreatedAt: old})
	_ = st.MarkNotificationRead(ctx, readID)
	_, _ = st.CreateNotification(ctx, store.NotificationRecord{UserID: "u1", Message: "old unread", CreatedAt: old})
	freshID, _ := st.CreateNotification(ctx, store.NotificationRecord{UserID: "u1", Message: "fresh read"})
	_ = st.MarkNotificationRead(ctx, freshID)

	_ = st.PutDedup(ctx, "expired", time.Now().Add(-time.Minute))
	_ = st.PutDedup(ctx, "live", time.Now().Add(time.Minute))

	s := New(Config{Enabled: true}, st, logx.Nop())
	s.RunOnce(ctx)

	recs, err := st.Notifications(ctx, store.NotificationQuery{UserID: "u1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("kept %d records, want 2 (unread + fresh)", len(recs))
	}
	for _, r := range recs {
		if r.Message == "old read" {
			t.Fatal("old read record survived the prune")
		}
	}

	if _, ok, _ := st.GetDedup(ctx, "expired"); ok {
		t.Fatal("expired dedup entry survived the prune")
	}
	if _, ok, _ := st.GetDedup(ctx, "live"); !ok {
		t.Fatal("live dedup entry was pruned")
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	t.Parallel()
	s := New(Config{}, store.NewMemory(), logx.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("disabled start: %v", err)
	}
	s.Stop()
}

func TestStartRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Schedule: "not a cron spec"}, store.NewMemory(), logx.Nop())
	if err := s.Start(); err == nil {
		t.Fatal("invalid schedule must be rejected")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Schedule: "@hourly"}, store.NewMemory(), logx.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("second start: %v", err)
	}
	s.Stop()
	s.Stop()
}
