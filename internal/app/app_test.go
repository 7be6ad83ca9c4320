package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"ordersentry/internal/config"
	"ordersentry/internal/notifier"
	"ordersentry/internal/store"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func startApp(t *testing.T, body string) *App {
	t.Helper()
	a, err := New(writeConfigFile(t, body))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a
}

func TestStartWatchesStaffFeed(t *testing.T) {
	t.Parallel()
	a := startApp(t, `{"monitor":{"venue_id":"v1","role":"kitchen"}}`)
	if !a.Center().Watching() {
		t.Fatal("staff feed watch must be active after Start")
	}
}

func TestStartWatchesCustomerFeed(t *testing.T) {
	t.Parallel()
	a := startApp(t, `{"monitor":{"venue_id":"v1","role":"customer","user_id":"u1"}}`)
	if !a.Center().Watching() {
		t.Fatal("customer feed watch must be active after Start")
	}
}

func TestStopEndsFeedWatch(t *testing.T) {
	t.Parallel()
	a, err := New(writeConfigFile(t, `{"monitor":{"venue_id":"v1","role":"owner"}}`))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if a.Center().Watching() {
		t.Fatal("feed watch must end on Stop")
	}
}

func TestWatchTarget(t *testing.T) {
	t.Parallel()
	got := watchTarget(config.MonitorConfig{VenueID: "v1", Role: "kitchen"})
	want := notifier.WatchTarget{VenueID: "v1", Role: store.RoleKitchen}
	if got != want {
		t.Fatalf("staff target = %+v, want %+v", got, want)
	}

	got = watchTarget(config.MonitorConfig{VenueID: "v1", Role: "customer", UserID: "u1"})
	want = notifier.WatchTarget{UserID: "u1"}
	if got != want {
		t.Fatalf("customer target = %+v, want %+v", got, want)
	}
}
