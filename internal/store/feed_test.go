package store

import (
	"context"
	"errors"
	"testing"
	"time"

	logx "ordersentry/pkg/logx"
)

func collectBatch(t *testing.T, sub *Subscription) []Change {
	t.Helper()
	select {
	case batch, ok := <-sub.Changes():
		if !ok {
			t.Fatalf("stream closed unexpectedly (err=%v)", sub.Err())
		}
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a change batch")
		return nil
	}
}

func TestSubscribeOrdersFirstSnapshotIsAllAdditions(t *testing.T) {
	t.Parallel()
	st := NewMemory()
	ctx := context.Background()
	_ = st.PutOrder(ctx, Order{ID: "a", VenueID: "v1", Status: StatusNew})
	_ = st.PutOrder(ctx, Order{ID: "b", VenueID: "v1", Status: StatusReadyForPickup})
	_ = st.PutOrder(ctx, Order{ID: "other", VenueID: "v2", Status: StatusNew})

	sub := SubscribeOrders(ctx, st, "v1", 10*time.Millisecond, logx.Nop())
	defer sub.Cancel()

	batch := collectBatch(t, sub)
	if len(batch) != 2 {
		t.Fatalf("first snapshot: got %d changes, want 2", len(batch))
	}
	for _, ch := range batch {
		if ch.Type != ChangeAdded {
			t.Fatalf("first snapshot change type = %q, want %q", ch.Type, ChangeAdded)
		}
		if ch.Order.VenueID != "v1" {
			t.Fatalf("leaked order from another venue: %+v", ch.Order)
		}
	}
}

func TestSubscribeOrdersDetectsAddAndModify(t *testing.T) {
	t.Parallel()
	st := NewMemory()
	ctx := context.Background()
	_ = st.PutOrder(ctx, Order{ID: "a", VenueID: "v1", Status: StatusNew})

	sub := SubscribeOrders(ctx, st, "v1", 10*time.Millisecond, logx.Nop())
	defer sub.Cancel()
	collectBatch(t, sub) // initial snapshot

	_ = st.PutOrder(ctx, Order{ID: "b", VenueID: "v1", Status: StatusNew})
	batch := collectBatch(t, sub)
	if len(batch) != 1 || batch[0].Type != ChangeAdded || batch[0].Order.ID != "b" {
		t.Fatalf("expected addition of b, got %+v", batch)
	}

	_ = st.PutOrder(ctx, Order{ID: "b", VenueID: "v1", Status: StatusReadyForPickup})
	batch = collectBatch(t, sub)
	if len(batch) != 1 || batch[0].Type != ChangeModified || batch[0].Order.ID != "b" {
		t.Fatalf("expected modification of b, got %+v", batch)
	}
	if batch[0].Order.Status != StatusReadyForPickup {
		t.Fatalf("modified order status = %q", batch[0].Order.Status)
	}
}

func TestSubscribeOrdersCancelIdempotent(t *testing.T) {
	t.Parallel()
	st := NewMemory()
	sub := SubscribeOrders(context.Background(), st, "v1", 10*time.Millisecond, logx.Nop())

	sub.Cancel()
	sub.Cancel()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop after Cancel")
	}
	if sub.Err() != nil {
		t.Fatalf("cancelled subscription reported error: %v", sub.Err())
	}
}

// failingStore wraps Memory and fails OrdersSince after a threshold.
type failingStore struct {
	*Memory
	calls int
	after int
}

func (f *failingStore) OrdersSince(ctx context.Context, venueID string, afterSeq int64) ([]Order, int64, error) {
	f.calls++
	if f.calls > f.after {
		return nil, 0, errors.New("backend gone")
	}
	return f.Memory.OrdersSince(ctx, venueID, afterSeq)
}

func TestSubscribeOrdersErrorLeavesSubscriptionInert(t *testing.T) {
	t.Parallel()
	fs := &failingStore{Memory: NewMemory(), after: 1}
	_ = fs.PutOrder(context.Background(), Order{ID: "a", VenueID: "v1", Status: StatusNew})

	sub := SubscribeOrders(context.Background(), fs, "v1", 10*time.Millisecond, logx.Nop())
	defer sub.Cancel()

	collectBatch(t, sub) // snapshot succeeds, next poll fails

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription should terminate on store error")
	}
	if sub.Err() == nil {
		t.Fatal("terminated subscription must report its error")
	}
	if _, ok := <-sub.Changes(); ok {
		t.Fatal("stream must be closed after the error")
	}
}

func TestDiffOrdersRemoval(t *testing.T) {
	t.Parallel()
	known := map[string]int64{}
	batch := diffOrders(known, []Order{{ID: "a", Seq: 1}, {ID: "b", Seq: 2}}, true)
	if len(batch) != 2 {
		t.Fatalf("want 2 additions, got %d", len(batch))
	}

	batch = diffOrders(known, []Order{{ID: "b", Seq: 2}}, false)
	if len(batch) != 1 || batch[0].Type != ChangeRemoved || batch[0].Order.ID != "a" {
		t.Fatalf("expected removal of a, got %+v", batch)
	}
}
