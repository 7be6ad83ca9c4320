package monitor

import (
	"testing"
	"time"
)

func TestIsRecent(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	at := func(age time.Duration) *time.Time {
		ts := now.Add(-age)
		return &ts
	}

	tests := []struct {
		name string
		age  time.Duration
		want bool
	}{
		{"just created", 0, true},
		{"one minute", time.Minute, true},
		{"just under five minutes", 5*time.Minute - time.Second, true},
		// The day-long grace window dominates the five minute one: anything
		// younger than a day passes.
		{"ten minutes", 10 * time.Minute, true},
		{"six hours", 6 * time.Hour, true},
		{"just under a day", 24*time.Hour - time.Second, true},
		{"exactly a day", 24 * time.Hour, false},
		{"twenty-five hours", 25 * time.Hour, false},
		{"a week", 7 * 24 * time.Hour, false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsRecent(at(tc.age), now); got != tc.want {
				t.Fatalf("IsRecent(age=%v) = %v, want %v", tc.age, got, tc.want)
			}
		})
	}
}

func TestIsRecentNilTimestamp(t *testing.T) {
	t.Parallel()
	if !IsRecent(nil, time.Now()) {
		t.Fatal("order without a timestamp must count as recent")
	}
}
