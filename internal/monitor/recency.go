package monitor

import "time"

const (
	recentWindow = 5 * time.Minute
	graceWindow  = 24 * time.Hour
)

// IsRecent reports whether an order is fresh enough to alarm for. Snapshot
// listeners replay the whole backlog as additions on (re)connect; this keeps
// stale backlog entries from sounding the alarm.
//
// An order with no timestamp counts as recent: better a spurious alarm than
// a silent kitchen. The grace window intentionally dominates the short
// window, so anything younger than a day passes.
func IsRecent(createdAt *time.Time, now time.Time) bool {
	if createdAt == nil {
		return true
	}
	age := now.Sub(*createdAt)
	return age < recentWindow || age < graceWindow
}
