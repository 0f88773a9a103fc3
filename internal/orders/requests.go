package orders

import (
	"time"

	"github.com/google/uuid"
)

// CheckRaise reports whether a request of type t may be opened on o.
func CheckRaise(o *Order, t RequestType) error {
	switch t {
	case RequestCancel:
		if o.Status != StatusNew && o.Status != StatusAccepted && o.Status != StatusShipped {
			return conflict("order cannot be cancelled once it is %s", o.Status)
		}
		if o.PickedUpAt != nil || !o.ShippingStatus.prePickup() {
			return conflict("order cannot be cancelled after pickup (shipping status %s)", o.ShippingStatus)
		}
		for _, other := range []RequestType{RequestCancel, RequestReturn, RequestWarranty} {
			if o.openRequest(other) != nil {
				return conflict("a %s request is already open for this order", other)
			}
		}
	case RequestReturn:
		if o.Status != StatusDelivered {
			return conflict("order cannot be returned unless Delivered")
		}
		if o.openRequest(RequestReturn) != nil {
			return conflict("a Return request is already open for this order")
		}
		if o.hasLive(RequestCancel) || o.hasLive(RequestWarranty) {
			return conflict("order has an unresolved Cancel or Warranty request")
		}
	case RequestWarranty:
		if o.Status != StatusDelivered {
			return conflict("warranty can only be claimed on Delivered orders")
		}
		if o.hasAny(RequestWarranty) {
			return conflict("a Warranty request already exists for this order")
		}
		if o.hasLive(RequestReturn) || o.hasLive(RequestCancel) {
			return conflict("order has an unresolved Return or Cancel request")
		}
	default:
		return validation("unknown request type %q", t)
	}
	return nil
}

// RaiseRequest appends a Pending request after the eligibility check.
func RaiseRequest(o *Order, t RequestType, reason string, now time.Time) (Outcome, error) {
	out := Outcome{PrevStatus: o.Status}
	if err := CheckRaise(o, t); err != nil {
		return out, err
	}
	o.Requests = append(o.Requests, Request{
		ID:       uuid.NewString(),
		Type:     t,
		Status:   RequestPending,
		IsRaised: true,
		Reason:   reason,
		RaisedAt: now,
	})
	r := o.Requests[len(o.Requests)-1]
	out.Raised = &r
	out.Changed = true
	return out, nil
}

// RejectRequest flips the pending request of type t to Rejected.
func RejectRequest(o *Order, t RequestType, note string, now time.Time) (Outcome, error) {
	out := Outcome{PrevStatus: o.Status}
	if !t.Valid() {
		return out, validation("unknown request type %q", t)
	}
	r := o.openRequest(t)
	if r == nil {
		if o.hasAny(t) {
			return out, conflict("%s request is already resolved", t)
		}
		return out, notFound("no %s request on order %s", t, o.OrderID)
	}
	r.Status = RequestRejected
	r.IsResolved = true
	r.ResolvedAt = timePtr(now)
	r.Note = note
	out.Resolved = append(out.Resolved, *r)
	out.Changed = true
	return out, nil
}

// approve resolves the open request of type t, if any, as Approved.
func (o *Order) approve(t RequestType, now time.Time, out *Outcome) {
	r := o.openRequest(t)
	if r == nil {
		return
	}
	r.Status = RequestApproved
	r.IsResolved = true
	r.ResolvedAt = timePtr(now)
	out.Resolved = append(out.Resolved, *r)
}
