package notifier

import (
	"time"

	"ordersentry/internal/store"
)

// Permission is the platform notification permission tri-state.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default"
)

// Config controls the alert dispatcher.
type Config struct {
	// Permission is the initial permission state. "default" behaves like
	// denied for sends until RequestPermission is called.
	Permission Permission

	// Target is the chat that receives this monitor instance's platform
	// notifications.
	Target ChatTarget

	// DedupWindow suppresses repeated notifications carrying the same tag.
	DedupWindow time.Duration

	RatePerSec int

	Icon string
	// ShellURL is where notification clicks land by default.
	ShellURL string
}

// ChatTarget mirrors transport.Target at the config boundary.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// AlertEvent is the in-process broadcast payload for a fired alert. Any
// interested UI subscribes on the bus and can render its stop-alarm control
// from this.
type AlertEvent struct {
	OrderID      string
	VenueID      string
	Role         store.Role
	Title        string
	CustomerName string
	TotalAmount  float64
	Tag          string
	At           time.Time
}

// NudgeEvent is the in-process broadcast payload for a notification-center
// nudge (beep-class, not the looping alarm).
type NudgeEvent struct {
	RecordID string
	Message  string
	Type     string
	At       time.Time
}

// Notification action ids rendered on platform notifications.
const (
	ActionStopAlarm = "stop"
	ActionView      = "view"
	ActionClose     = "close"
)
