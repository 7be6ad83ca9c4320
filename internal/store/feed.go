package store

import (
	"context"
	"sync"
	"time"

	logx "ordersentry/pkg/logx"
)

type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// Change is one observed mutation of a watched order set.
type Change struct {
	Type  ChangeType
	Order Order
}

// Subscription is an active order-feed listener for one venue.
//
// Semantics mirror a snapshot listener: the first batch reports every order
// currently in the result set as an addition (this is why callers must gate
// alerts on recency), later batches report incremental changes in store
// order. The stream closes after Cancel or after a store error; errors are
// reported via Err, never panics. Cancel is idempotent.
type Subscription struct {
	ch     chan []Change
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Changes returns the batch stream. It is closed when the subscription ends.
func (s *Subscription) Changes() <-chan []Change { return s.ch }

// Err reports the store error that terminated the subscription, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the subscription has fully stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Cancel stops the subscription. Safe to call multiple times and safe to
// call after the subscription already ended.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// SubscribeOrders starts watching the orders of one venue, polling the
// store every `every`. The subscription owns exactly one goroutine; it
// exits on Cancel, on ctx cancellation, or on the first store error
// (left inert, no auto-retry).
func SubscribeOrders(ctx context.Context, st Store, venueID string, every time.Duration, log logx.Logger) *Subscription {
	if every <= 0 {
		every = 2 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		ch:     make(chan []Change, 16),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		defer close(sub.ch)

		// seq per known order id; nil until the first poll succeeds.
		known := map[string]int64{}
		first := true

		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			orders, _, err := st.OrdersSince(ctx, venueID, 0)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// Errors terminate the subscription. Callers restart
				// explicitly if they want to.
				log.Error("order feed poll failed; subscription inert", logx.String("venue", venueID), logx.Err(err))
				sub.setErr(err)
				return
			}

			batch := diffOrders(known, orders, first)
			first = false
			if len(batch) > 0 {
				select {
				case sub.ch <- batch:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return sub
}

// diffOrders mutates known to the new snapshot and returns the changes in
// seq order. On the first snapshot everything is an addition.
func diffOrders(known map[string]int64, orders []Order, first bool) []Change {
	var batch []Change
	seen := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		seen[o.ID] = struct{}{}
		prev, ok := known[o.ID]
		switch {
		case !ok || first:
			batch = append(batch, Change{Type: ChangeAdded, Order: o})
		case o.Seq > prev:
			batch = append(batch, Change{Type: ChangeModified, Order: o})
		}
		known[o.ID] = o.Seq
	}
	for id := range known {
		if _, ok := seen[id]; !ok {
			batch = append(batch, Change{Type: ChangeRemoved, Order: Order{ID: id}})
			delete(known, id)
		}
	}
	return batch
}
