package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "ordersentry/pkg/logx"
)

//go:embed schema.sql
var schemaFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Venue(ctx context.Context, id string) (VenueDoc, bool, error) {
	if s == nil || s.db == nil {
		return VenueDoc{}, false, ErrDisabled
	}
	var v VenueDoc
	var settings sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, alarm_settings FROM venues WHERE id = ?`, id,
	).Scan(&v.ID, &v.Name, &settings)
	if errors.Is(err, sql.ErrNoRows) {
		return VenueDoc{}, false, nil
	}
	if err != nil {
		return VenueDoc{}, false, err
	}
	if settings.Valid && settings.String != "" {
		v.AlarmSettings = []byte(settings.String)
	}
	return v, true, nil
}

func (s *sqliteStore) PutOrder(ctx context.Context, o Order) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	var created any
	if o.CreatedAt != nil {
		created = o.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	// seq is a store-global counter so additions and updates interleave in
	// observation order.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orders(id, venue_id, status, customer_name, total_amount, created_at, seq)
		 VALUES(?,?,?,?,?,?, (SELECT IFNULL(MAX(seq),0)+1 FROM orders))
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status,
		   customer_name=excluded.customer_name,
		   total_amount=excluded.total_amount,
		   seq=(SELECT IFNULL(MAX(seq),0)+1 FROM orders)`,
		o.ID, o.VenueID, o.Status, o.CustomerName, o.TotalAmount, created,
	)
	return err
}

func (s *sqliteStore) OrdersSince(ctx context.Context, venueID string, afterSeq int64) ([]Order, int64, error) {
	if s == nil || s.db == nil {
		return nil, afterSeq, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, venue_id, status, customer_name, total_amount, created_at, seq
		 FROM orders WHERE venue_id = ? AND seq > ? ORDER BY seq ASC`,
		venueID, afterSeq,
	)
	if err != nil {
		return nil, afterSeq, err
	}
	defer rows.Close()

	maxSeq := afterSeq
	var out []Order
	for rows.Next() {
		var o Order
		var created sql.NullString
		if err := rows.Scan(&o.ID, &o.VenueID, &o.Status, &o.CustomerName, &o.TotalAmount, &created, &o.Seq); err != nil {
			return nil, maxSeq, err
		}
		if created.Valid && created.String != "" {
			if t, err := time.Parse(time.RFC3339Nano, created.String); err == nil {
				o.CreatedAt = &t
			}
		}
		if o.Seq > maxSeq {
			maxSeq = o.Seq
		}
		out = append(out, o)
	}
	return out, maxSeq, rows.Err()
}

func (s *sqliteStore) CreateNotification(ctx context.Context, n NotificationRecord) (string, error) {
	if s == nil || s.db == nil {
		return "", ErrDisabled
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.Type == "" {
		n.Type = "info"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications(id, user_id, venue_id, role, message, type, read, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		n.ID, n.UserID, n.VenueID, string(n.Role), n.Message, n.Type, boolInt(n.Read),
		n.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", err
	}
	return n.ID, nil
}

func (s *sqliteStore) Notifications(ctx context.Context, q NotificationQuery) ([]NotificationRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	var rows *sql.Rows
	var err error
	switch {
	case q.UserID != "":
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, user_id, venue_id, role, message, type, read, created_at
			 FROM notifications WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
			q.UserID, limit,
		)
	case q.VenueID != "" && q.Role != "":
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, user_id, venue_id, role, message, type, read, created_at
			 FROM notifications WHERE venue_id = ? AND role = ? ORDER BY created_at DESC LIMIT ?`,
			q.VenueID, string(q.Role), limit,
		)
	default:
		return nil, errors.New("notification query needs user_id or venue_id+role")
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NotificationRecord
	for rows.Next() {
		var n NotificationRecord
		var role, created string
		var read int
		if err := rows.Scan(&n.ID, &n.UserID, &n.VenueID, &role, &n.Message, &n.Type, &read, &created); err != nil {
			return nil, err
		}
		n.Role = Role(role)
		n.Read = read != 0
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			n.CreatedAt = t
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MarkNotificationRead(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if id == "" {
		return nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) DeleteNotifications(ctx context.Context, ids []string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids))
	ph := make([]string, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
		ph = append(ph, "?")
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE id IN (`+strings.Join(ph, ",")+`)`, args...)
	return err
}

func (s *sqliteStore) PruneNotifications(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE read = 1 AND created_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *sqliteStore) StaffByRole(ctx context.Context, venueID string, role Role) ([]Staff, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, venue_id, role, email, chat_id FROM staff WHERE venue_id = ? AND role = ?`,
		venueID, string(role),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Staff
	for rows.Next() {
		var st Staff
		var r string
		if err := rows.Scan(&st.ID, &st.VenueID, &r, &st.Email, &st.ChatID); err != nil {
			return nil, err
		}
		st.Role = Role(r)
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, ms,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_, _ = s.PruneDedup(pctx, time.Now())
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) PruneDedup(ctx context.Context, now time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
