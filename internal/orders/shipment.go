package orders

import (
	"context"
	"time"
)

// CourierAssignment is what the courier returns when a waybill is allocated.
type CourierAssignment struct {
	ProviderOrderID  string
	ShipmentID       string
	AWBCode          string
	CourierName      string
	ExpectedDelivery *time.Time
}

type PickupBooking struct {
	Date        *time.Time
	TokenNumber string
	Slot        string
}

// RecordShipment stores the provider ids of a freshly created shipment.
func RecordShipment(o *Order, providerOrderID, shipmentID string) Outcome {
	out := Outcome{PrevStatus: o.Status}
	if o.ProviderOrderID != providerOrderID || o.ShipmentID != shipmentID {
		o.ProviderOrderID = providerOrderID
		o.ShipmentID = shipmentID
		out.Changed = true
	}
	return out
}

// AssignCourier records the waybill. The shipping status only moves to Courier Assigned
// while no later courier report has been seen.
func AssignCourier(o *Order, a CourierAssignment, now time.Time) (Outcome, error) {
	out := Outcome{PrevStatus: o.Status}
	if o.AWBCode != "" && o.AWBCode != a.AWBCode {
		return out, conflict("order %s already has waybill %s", o.OrderID, o.AWBCode)
	}
	if a.ProviderOrderID != "" {
		o.ProviderOrderID = a.ProviderOrderID
	}
	if a.ShipmentID != "" {
		o.ShipmentID = a.ShipmentID
	}
	o.AWBCode = a.AWBCode
	o.CourierName = a.CourierName
	if a.ExpectedDelivery != nil {
		o.ExpectedDeliveryDate = a.ExpectedDelivery
	}
	if o.CourierAssignedAt == nil {
		o.CourierAssignedAt = timePtr(now)
	}
	if o.ShippingStatus == ShipPending || o.ShippingStatus == "" {
		o.ShippingStatus = ShipCourierAssigned
	}
	out.Changed = true
	return out, nil
}

// SchedulePickup records the pickup booking.
func SchedulePickup(o *Order, p PickupBooking) Outcome {
	out := Outcome{PrevStatus: o.Status, Changed: true}
	o.PickupScheduled = true
	o.PickupDate = p.Date
	o.PickupTokenNumber = p.TokenNumber
	o.PickupSlot = p.Slot
	if o.ShippingStatus.prePickup() {
		o.ShippingStatus = ShipPickupScheduled
	}
	return out
}

// Apply runs fn under the order's row lock and publishes whatever it changed.
func (s *Service) Apply(ctx context.Context, id, source string, fn MutateFunc) (*Order, error) {
	o, out, err := s.Store.Mutate(ctx, Lookup{ID: id}, fn)
	if err != nil {
		return nil, err
	}
	s.Notify(ctx, o, out, source, "")
	return o, nil
}
