package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	logx "ordersentry/pkg/logx"
)

var (
	ErrDisabled = errors.New("store disabled")
	ErrNotFound = errors.New("not found")
)

// Role is the acting user's function. It determines which events are
// relevant and which alarm settings apply.
type Role string

const (
	RoleKitchen  Role = "kitchen"
	RoleOwner    Role = "owner"
	RoleDelivery Role = "delivery"
	RoleCustomer Role = "customer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleKitchen, RoleOwner, RoleDelivery, RoleCustomer:
		return true
	}
	return false
}

// IsStaff reports whether the role belongs to venue staff (as opposed to a
// customer).
func (r Role) IsStaff() bool { return r == RoleKitchen || r == RoleOwner || r == RoleDelivery }

// Order statuses the alert pipeline recognizes. Other statuses exist in the
// wider platform and pass through unhandled.
const (
	StatusNew            = "new"
	StatusReadyForPickup = "ready_for_pickup"
)

// Order is one order document as observed from the store. The agent never
// owns orders; it only watches them.
type Order struct {
	ID           string
	VenueID      string
	Status       string
	CustomerName string
	TotalAmount  float64

	// CreatedAt is nullable: an absent timestamp is treated as "now" by the
	// recency filter.
	CreatedAt *time.Time

	// Seq is the store's monotonically increasing modification counter,
	// bumped on every write. The change feed uses it to tell additions from
	// updates.
	Seq int64
}

// VenueDoc is a venue document snapshot. AlarmSettings is kept raw here:
// its shape is ad hoc in the store and is validated/defaulted by the
// monitor's settings resolver, not by the storage layer.
type VenueDoc struct {
	ID            string
	Name          string
	AlarmSettings json.RawMessage
}

// NotificationRecord is a persisted notification-center entry.
type NotificationRecord struct {
	ID        string
	UserID    string
	VenueID   string
	Role      Role
	Message   string
	Type      string
	Read      bool
	CreatedAt time.Time
}

// NotificationQuery filters the notification feed. Exactly one of UserID or
// (VenueID, Role) should be set; results are newest first, capped at Limit.
type NotificationQuery struct {
	UserID  string
	VenueID string
	Role    Role
	Limit   int
}

// Staff is a venue staff membership row, used for role broadcasts and the
// owner email lookup.
type Staff struct {
	ID      string
	VenueID string
	Role    Role
	Email   string
	ChatID  int64
}

// Store is the document-store capability surface the agent consumes.
// Implementations must be safe for concurrent use.
type Store interface {
	// Venue fetches a venue document by id. The bool is the existence flag;
	// a missing venue is not an error.
	Venue(ctx context.Context, id string) (VenueDoc, bool, error)

	// PutOrder creates or updates an order and bumps its seq. The wider
	// platform is the usual writer; the agent itself only reads.
	PutOrder(ctx context.Context, o Order) error

	// OrdersSince returns orders of a venue whose seq is greater than
	// afterSeq, in seq order, plus the highest seq seen.
	OrdersSince(ctx context.Context, venueID string, afterSeq int64) ([]Order, int64, error)

	CreateNotification(ctx context.Context, n NotificationRecord) (string, error)
	Notifications(ctx context.Context, q NotificationQuery) ([]NotificationRecord, error)
	MarkNotificationRead(ctx context.Context, id string) error
	DeleteNotifications(ctx context.Context, ids []string) error
	// PruneNotifications removes read records created before cutoff and
	// returns how many were removed.
	PruneNotifications(ctx context.Context, cutoff time.Time) (int64, error)

	StaffByRole(ctx context.Context, venueID string, role Role) ([]Staff, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	PruneDedup(ctx context.Context, now time.Time) (int64, error)

	Close() error
}

// Config configures the store.
//
// Driver values:
//   - "sqlite": SQLite database file (the normal mode)
//   - "memory": process-local store (tests, throwaway runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none":
		return nil, ErrDisabled
	case "memory", "mem":
		return newMemStore(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown store driver: " + cfg.Driver)
	}
}
