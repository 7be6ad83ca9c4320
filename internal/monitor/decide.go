package monitor

import "ordersentry/internal/store"

// Alert titles as rendered on notifications.
const (
	TitleNewOrder   = "NEW ORDER!"
	TitleOrderReady = "ORDER READY!"
)

// Intent is the outcome of the alert matrix for one order event.
type Intent struct {
	Alert bool
	Title string
	Order store.Order
}

// Decide applies the role/status/settings matrix:
//
//	status "new"              -> kitchen, owner   (if KitchenNew)
//	status "ready_for_pickup" -> delivery         (if DeliveryReady)
//	                             kitchen, owner   (if KitchenReady)
//
// Everything else, customers included, never alarms.
func Decide(o store.Order, role store.Role, s AlarmSettings) Intent {
	switch o.Status {
	case store.StatusNew:
		if (role == store.RoleKitchen || role == store.RoleOwner) && s.KitchenNew {
			return Intent{Alert: true, Title: TitleNewOrder, Order: o}
		}
	case store.StatusReadyForPickup:
		if role == store.RoleDelivery && s.DeliveryReady {
			return Intent{Alert: true, Title: TitleOrderReady, Order: o}
		}
		if (role == store.RoleKitchen || role == store.RoleOwner) && s.KitchenReady {
			return Intent{Alert: true, Title: TitleOrderReady, Order: o}
		}
	}
	return Intent{Order: o}
}
