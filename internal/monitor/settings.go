// Package monitor watches a venue's orders and decides when to raise the
// alarm: per-role alert matrix, recency filter, and the listening lifecycle.
package monitor

import (
	"context"
	"encoding/json"

	"ordersentry/internal/store"
	logx "ordersentry/pkg/logx"
)

// AlarmSettings are the venue's per-role alert toggles, stored on the venue
// document.
type AlarmSettings struct {
	// KitchenNew: kitchen and owner alarm on brand-new orders.
	KitchenNew bool `json:"kitchenNew"`
	// KitchenReady: kitchen and owner also alarm when an order is ready.
	KitchenReady bool `json:"kitchenReady"`
	// DeliveryReady: delivery staff alarm when an order is ready for pickup.
	DeliveryReady bool `json:"deliveryReady"`
}

// DefaultAlarmSettings is what applies when the venue document is missing,
// unreadable, or carries no settings.
func DefaultAlarmSettings() AlarmSettings {
	return AlarmSettings{KitchenNew: true, KitchenReady: false, DeliveryReady: true}
}

// ResolveSettings fetches the venue's alarm settings once. Every failure
// path falls back to defaults: a monitor that cannot read its settings must
// still alert on new orders.
func ResolveSettings(ctx context.Context, st store.Store, venueID string, log logx.Logger) AlarmSettings {
	if log.IsZero() {
		log = logx.Nop()
	}
	def := DefaultAlarmSettings()

	venue, ok, err := st.Venue(ctx, venueID)
	if err != nil {
		log.Warn("alarm settings fetch failed; using defaults",
			logx.String("venue", venueID), logx.Err(err))
		return def
	}
	if !ok || len(venue.AlarmSettings) == 0 {
		return def
	}

	s := def
	if err := json.Unmarshal(venue.AlarmSettings, &s); err != nil {
		log.Warn("alarm settings malformed; using defaults",
			logx.String("venue", venueID), logx.Err(err))
		return def
	}
	return s
}
