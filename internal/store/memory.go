package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a process-local Store used by tests and throwaway runs.
// Same contract as the sqlite driver, no persistence.
type Memory struct {
	mu sync.RWMutex

	venues        map[string]VenueDoc
	orders        map[string]Order
	seq           int64
	notifications map[string]NotificationRecord
	staff         map[string]Staff
	dedup         map[string]time.Time
}

func newMemStore() *Memory {
	return &Memory{
		venues:        map[string]VenueDoc{},
		orders:        map[string]Order{},
		notifications: map[string]NotificationRecord{},
		staff:         map[string]Staff{},
		dedup:         map[string]time.Time{},
	}
}

// NewMemory returns the in-memory driver directly. Tests use this to seed
// documents without going through Open.
func NewMemory() *Memory { return newMemStore() }

func (m *Memory) Close() error { return nil }

// PutVenue seeds a venue document (test/support writer).
func (m *Memory) PutVenue(v VenueDoc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.AlarmSettings != nil {
		v.AlarmSettings = append(json.RawMessage(nil), v.AlarmSettings...)
	}
	m.venues[v.ID] = v
}

// PutStaff seeds a staff row (test/support writer).
func (m *Memory) PutStaff(st Staff) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	m.staff[st.ID] = st
}

func (m *Memory) Venue(_ context.Context, id string) (VenueDoc, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.venues[id]
	return v, ok, nil
}

func (m *Memory) PutOrder(_ context.Context, o Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	o.Seq = m.seq
	if prev, ok := m.orders[o.ID]; ok && o.CreatedAt == nil {
		o.CreatedAt = prev.CreatedAt
	}
	m.orders[o.ID] = o
	return nil
}

func (m *Memory) OrdersSince(_ context.Context, venueID string, afterSeq int64) ([]Order, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	maxSeq := afterSeq
	var out []Order
	for _, o := range m.orders {
		if o.VenueID != venueID || o.Seq <= afterSeq {
			continue
		}
		if o.Seq > maxSeq {
			maxSeq = o.Seq
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, maxSeq, nil
}

func (m *Memory) CreateNotification(_ context.Context, n NotificationRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.Type == "" {
		n.Type = "info"
	}
	m.notifications[n.ID] = n
	return n.ID, nil
}

func (m *Memory) Notifications(_ context.Context, q NotificationQuery) ([]NotificationRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	if q.UserID == "" && (q.VenueID == "" || q.Role == "") {
		return nil, errors.New("notification query needs user_id or venue_id+role")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []NotificationRecord
	for _, n := range m.notifications {
		if q.UserID != "" {
			if n.UserID != q.UserID {
				continue
			}
		} else if n.VenueID != q.VenueID || n.Role != q.Role {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkNotificationRead(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return ErrNotFound
	}
	n.Read = true
	m.notifications[id] = n
	return nil
}

func (m *Memory) DeleteNotifications(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.notifications, id)
	}
	return nil
}

func (m *Memory) PruneNotifications(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.notifications {
		if rec.Read && rec.CreatedAt.Before(cutoff) {
			delete(m.notifications, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) StaffByRole(_ context.Context, venueID string, role Role) ([]Staff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Staff
	for _, st := range m.staff {
		if st.VenueID == venueID && st.Role == role {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) PutDedup(_ context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dedup[key] = until
	return nil
}

func (m *Memory) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	until, ok := m.dedup[key]
	return until, ok, nil
}

func (m *Memory) PruneDedup(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, until := range m.dedup {
		if until.Before(now) {
			delete(m.dedup, k)
			n++
		}
	}
	return n, nil
}
