package orders

import (
	"context"
	"errors"
	"time"

	"github.com/looplab/fsm"
)

// Action is an operator-driven status change.
type Action string

const (
	ActionAccept  Action = "accept"
	ActionReject  Action = "reject"
	ActionHold    Action = "hold"
	ActionShip    Action = "ship"
	ActionDeliver Action = "deliver"
	ActionCancel  Action = "cancel"
	ActionReturn  Action = "return"
	ActionReplace Action = "replace"
)

var operatorEvents = fsm.Events{
	{Name: string(ActionAccept), Src: []string{string(StatusNew), string(StatusHold)}, Dst: string(StatusAccepted)},
	{Name: string(ActionReject), Src: []string{string(StatusNew), string(StatusAccepted), string(StatusHold)}, Dst: string(StatusRejected)},
	{Name: string(ActionHold), Src: []string{string(StatusNew), string(StatusAccepted)}, Dst: string(StatusHold)},
	{Name: string(ActionShip), Src: []string{string(StatusAccepted)}, Dst: string(StatusShipped)},
	{Name: string(ActionDeliver), Src: []string{string(StatusShipped)}, Dst: string(StatusDelivered)},
	{Name: string(ActionCancel), Src: []string{string(StatusNew), string(StatusAccepted), string(StatusHold), string(StatusShipped)}, Dst: string(StatusCancelled)},
	{Name: string(ActionReturn), Src: []string{string(StatusDelivered)}, Dst: string(StatusReturned)},
	{Name: string(ActionReplace), Src: []string{string(StatusDelivered)}, Dst: string(StatusReplaced)},
}

func knownAction(a Action) bool {
	for _, e := range operatorEvents {
		if e.Name == string(a) {
			return true
		}
	}
	return false
}

// ApplyAction runs an operator action against o. Entering Cancelled, Returned or Replaced
// approves the matching open request and, for the first two, schedules stock restoration.
func ApplyAction(ctx context.Context, o *Order, a Action, reason string, now time.Time) (Outcome, error) {
	out := Outcome{PrevStatus: o.Status}
	if !knownAction(a) {
		return out, validation("unknown action %q", a)
	}
	if a == ActionCancel && (o.PickedUpAt != nil || o.ShippingStatus.postPickup()) {
		return out, conflict("order cannot be cancelled once the courier has picked it up")
	}

	m := fsm.NewFSM(string(o.Status), operatorEvents, fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			o.enter(Status(e.Dst), reason, now, &out)
		},
	})
	if !m.Can(string(a)) {
		return out, conflict("cannot %s an order that is %s", a, o.Status)
	}
	if err := m.Event(ctx, string(a)); err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return out, nil
		}
		return out, conflict("cannot %s order: %v", a, err)
	}
	return out, nil
}

// enter moves o into s and applies the side effects attached to that state.
func (o *Order) enter(s Status, reason string, now time.Time, out *Outcome) {
	o.Status = s
	out.Changed = true
	switch s {
	case StatusDelivered:
		o.PaymentStatus = PaymentPaid
		if o.DeliveredAt == nil {
			o.DeliveredAt = timePtr(now)
		}
		if o.ShippingStatus != ShipDelivered {
			o.ShippingStatus = ShipDelivered
		}
	case StatusCancelled:
		if reason != "" {
			o.CancellationReason = reason
		}
		o.refund()
		o.approve(RequestCancel, now, out)
		o.restock(StockReasonCancelled, out)
	case StatusReturned:
		o.refund()
		o.approve(RequestReturn, now, out)
		o.restock(StockReasonReturned, out)
	case StatusReplaced:
		o.approve(RequestWarranty, now, out)
	}
}

// refund marks a collected payment as owed back to the customer.
func (o *Order) refund() {
	if o.PaymentStatus == PaymentPaid {
		o.PaymentStatus = PaymentRefunded
	}
}

// restock schedules the one-time credit of the order's items back to stock.
func (o *Order) restock(reason string, out *Outcome) {
	if !o.StockDeducted || o.StockRestored {
		return
	}
	o.StockRestored = true
	out.RestockReason = reason
	out.Changed = true
}
