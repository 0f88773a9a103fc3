package orders

import "time"

const courierCancelReason = "Cancelled by courier after pickup"

// actionable is the allow-list of normalised courier statuses that may move Order.Status.
var actionable = map[string]bool{
	"PICKED UP":           true,
	"SHIPPED":             true,
	"IN TRANSIT":          true,
	"OUT FOR PICKUP":      true,
	"DELIVERED":           true,
	"CANCELED":            true,
	"CANCELLED":           true,
	"RETURN DELIVERED":    true,
	"RETURN ACKNOWLEDGED": true,
	"RTO INITIATED":       true,
	"RTO IN TRANSIT":      true,
	"RTO":                 true,
	"RTO DELIVERED":       true,
	"RTO ACKNOWLEDGED":    true,
}

// CourierUpdate is one shipment status report from the courier.
type CourierUpdate struct {
	Status string
	Scans  []Scan
	At     time.Time
	// ReturnAWB is the waybill of the reverse shipment, set on return-leg reports.
	ReturnAWB string
}

// Actionable reports whether the raw courier status is on the allow-list.
func Actionable(raw string) bool {
	return actionable[NormalizeCourierStatus(raw)]
}

func (o *Order) setShipping(raw string, out *Outcome) {
	s := ParseShippingStatus(raw)
	if o.ShippingStatus != s || o.CourierStatus != raw {
		o.ShippingStatus = s
		o.CourierStatus = raw
		out.Changed = true
	}
}

// Reconcile folds a courier update into o. Scans, when present, always replace the stored
// list together with the shipping status. Only allow-listed statuses are evaluated against
// the lifecycle, and Status never moves backwards along New, Accepted, Shipped, Delivered.
func Reconcile(o *Order, u CourierUpdate) Outcome {
	out := Outcome{PrevStatus: o.Status}
	prev := o.ShippingStatus
	now := u.At

	if u.ReturnAWB != "" && u.ReturnAWB != o.AWBCode && u.ReturnAWB != o.ReturnAWB {
		o.ReturnAWB = u.ReturnAWB
		out.Changed = true
	}
	if len(u.Scans) > 0 {
		o.Scans = u.Scans
		out.Changed = true
		o.setShipping(u.Status, &out)
	}

	code := NormalizeCourierStatus(u.Status)
	if !actionable[code] {
		return out
	}
	o.setShipping(u.Status, &out)

	switch code {
	case "PICKED UP":
		if prev != ShipPickedUp {
			o.PickedUpAt = timePtr(now)
			out.Changed = true
		}
		o.advanceToShipped(now, &out)
	case "SHIPPED", "IN TRANSIT", "OUT FOR PICKUP":
		o.advanceToShipped(now, &out)
	case "DELIVERED":
		if o.Status != StatusDelivered && !o.Status.Terminal() {
			o.enter(StatusDelivered, "", now, &out)
		}
	case "CANCELED", "CANCELLED":
		if o.Status == StatusDelivered || (o.Status.Terminal() && o.Status != StatusCancelled) {
			break
		}
		switch {
		case o.Status != StatusCancelled:
			o.enter(StatusCancelled, courierCancelReason, now, &out)
		case prev.postPickup():
			// already cancelled; only the one-time restock may still be owed
			o.restock(StockReasonCancelled, &out)
		}
	case "RTO INITIATED":
		if o.RTOInitiatedAt == nil {
			o.RTOInitiatedAt = timePtr(now)
			out.Changed = true
		}
	case "RTO ACKNOWLEDGED", "RETURN ACKNOWLEDGED":
		switch {
		case !o.Status.Terminal():
			o.enter(StatusReturned, "", now, &out)
		case o.Status == StatusReturned:
			o.restock(StockReasonReturned, &out)
		}
	case "RETURN DELIVERED", "RTO DELIVERED":
		if o.RTODeliveredAt == nil {
			o.RTODeliveredAt = timePtr(now)
			out.Changed = true
		}
	}
	return out
}

func (o *Order) advanceToShipped(now time.Time, out *Outcome) {
	if o.Status.preDelivery() && o.Status != StatusShipped {
		o.enter(StatusShipped, "", now, out)
	}
}
