package monitor

import (
	"context"
	"encoding/json"
	"testing"

	"ordersentry/internal/store"
	logx "ordersentry/pkg/logx"
)

func TestResolveSettings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	def := DefaultAlarmSettings()

	t.Run("missing venue falls back to defaults", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemory()
		defer st.Close()
		if got := ResolveSettings(ctx, st, "nope", logx.Nop()); got != def {
			t.Fatalf("got %+v, want defaults %+v", got, def)
		}
	})

	t.Run("venue without settings falls back to defaults", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemory()
		defer st.Close()
		st.PutVenue(store.VenueDoc{ID: "v1", Name: "Dhaba"})
		if got := ResolveSettings(ctx, st, "v1", logx.Nop()); got != def {
			t.Fatalf("got %+v, want defaults %+v", got, def)
		}
	})

	t.Run("malformed settings fall back to defaults", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemory()
		defer st.Close()
		st.PutVenue(store.VenueDoc{ID: "v1", AlarmSettings: json.RawMessage(`{broken`)})
		if got := ResolveSettings(ctx, st, "v1", logx.Nop()); got != def {
			t.Fatalf("got %+v, want defaults %+v", got, def)
		}
	})

	t.Run("stored settings win", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemory()
		defer st.Close()
		st.PutVenue(store.VenueDoc{ID: "v1", AlarmSettings: json.RawMessage(
			`{"kitchenNew":false,"kitchenReady":true,"deliveryReady":false}`)})
		got := ResolveSettings(ctx, st, "v1", logx.Nop())
		want := AlarmSettings{KitchenNew: false, KitchenReady: true, DeliveryReady: false}
		if got != want {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	})

	t.Run("partial settings keep defaults for the rest", func(t *testing.T) {
		t.Parallel()
		st := store.NewMemory()
		defer st.Close()
		st.PutVenue(store.VenueDoc{ID: "v1", AlarmSettings: json.RawMessage(`{"kitchenReady":true}`)})
		got := ResolveSettings(ctx, st, "v1", logx.Nop())
		want := AlarmSettings{KitchenNew: true, KitchenReady: true, DeliveryReady: true}
		if got != want {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	})
}
