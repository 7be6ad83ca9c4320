package transport

import "context"

// Target addresses one recipient on the notification surface.
// For Telegram this is a chat (and optionally a forum topic thread).
type Target struct {
	ChatID   int64
	ThreadID int
}

// MessageRef identifies a rendered notification so it can be dismissed later.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	Silent         bool
	DisablePreview bool
	// MarkupAdapter is adapter-specific reply markup (Telegram: *telebot.ReplyMarkup).
	MarkupAdapter any
}

// Notification is a platform-level notification: the Go rendering of the
// browser Notification options the original UI surface used.
type Notification struct {
	Title string
	Body  string
	Icon  string

	// Tag deduplicates: repeated delivery of the same logical event must not
	// stack multiple notifications. Dedup is enforced upstream (dispatcher);
	// the adapter only carries the tag for traceability.
	Tag string

	// RequireInteraction marks high-priority alerts that must persist until
	// the recipient dismisses them.
	RequireInteraction bool

	// Vibrate is a vibration pattern in milliseconds. Surfaces that cannot
	// vibrate ignore it.
	Vibrate []int

	// URL is where a click on the notification should take the recipient.
	URL string

	Actions []Action
}

// Action is a button rendered on a notification.
type Action struct {
	ID    string
	Title string
}

// ActionEvent is an inbound click on a notification action.
type ActionEvent struct {
	CallbackID string
	FromID     int64
	ChatID     int64
	MessageID  int
	ActionID   string
	Tag        string
}

// Adapter is the notification surface. Implementations must be safe for
// concurrent use and must not block on slow consumers of the action channel.
type Adapter interface {
	Start(ctx context.Context, actions chan<- ActionEvent) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to Target, text string, opt *SendOptions) (MessageRef, error)
	SendNotification(ctx context.Context, to Target, n Notification) (MessageRef, error)
	AnswerAction(ctx context.Context, callbackID string, text string) error
	Dismiss(ctx context.Context, ref MessageRef) error
}
