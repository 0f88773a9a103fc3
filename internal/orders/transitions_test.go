package orders

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyActionTable(t *testing.T) {
	tests := []struct {
		from Status
		act  Action
		to   Status
		err  error
	}{
		{StatusNew, ActionAccept, StatusAccepted, nil},
		{StatusHold, ActionAccept, StatusAccepted, nil},
		{StatusNew, ActionHold, StatusHold, nil},
		{StatusAccepted, ActionReject, StatusRejected, nil},
		{StatusAccepted, ActionShip, StatusShipped, nil},
		{StatusShipped, ActionDeliver, StatusDelivered, nil},
		{StatusDelivered, ActionReturn, StatusReturned, nil},
		{StatusDelivered, ActionReplace, StatusReplaced, nil},
		{StatusDelivered, ActionAccept, StatusDelivered, ErrConflict},
		{StatusCancelled, ActionAccept, StatusCancelled, ErrConflict},
		{StatusNew, ActionDeliver, StatusNew, ErrConflict},
		{StatusReturned, ActionCancel, StatusReturned, ErrConflict},
		{StatusNew, "teleport", StatusNew, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.act), func(t *testing.T) {
			o := newOrder(tt.from, ShipPending)
			out, err := ApplyAction(context.Background(), o, tt.act, "", t0)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				assert.False(t, out.Changed)
			} else {
				require.NoError(t, err)
				assert.True(t, out.StatusChanged(o.Status))
			}
			assert.Equal(t, tt.to, o.Status)
		})
	}
}

func TestDeliverMarksPaid(t *testing.T) {
	o := newOrder(StatusShipped, ShipInTransit)
	_, err := ApplyAction(context.Background(), o, ActionDeliver, "", t0)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, o.PaymentStatus)
	require.NotNil(t, o.DeliveredAt)
	assert.Equal(t, t0, *o.DeliveredAt)
	assert.Equal(t, ShipDelivered, o.ShippingStatus)
}

func TestCancelRestocksOnceAndApprovesRequest(t *testing.T) {
	o := newOrder(StatusAccepted, ShipCourierAssigned)
	_, err := RaiseRequest(o, RequestCancel, "late", t0)
	require.NoError(t, err)

	out, err := ApplyAction(context.Background(), o, ActionCancel, "customer asked", t0)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)
	assert.Equal(t, StockReasonCancelled, out.RestockReason)
	assert.True(t, o.StockRestored)
	assert.Equal(t, "customer asked", o.CancellationReason)
	require.Len(t, out.Resolved, 1)
	assert.Equal(t, RequestApproved, o.Requests[0].Status)
	assert.True(t, o.Requests[0].IsResolved)
}

func TestCancelShippedAfterPickupIsRefused(t *testing.T) {
	o := newOrder(StatusShipped, ShipPickedUp)
	_, err := ApplyAction(context.Background(), o, ActionCancel, "", t0)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, StatusShipped, o.Status)
}

func TestReturnWithoutDeductionDoesNotRestock(t *testing.T) {
	o := newOrder(StatusDelivered, ShipDelivered)
	o.StockDeducted = false
	out, err := ApplyAction(context.Background(), o, ActionReturn, "", t0)
	require.NoError(t, err)
	assert.Empty(t, out.RestockReason)
	assert.False(t, o.StockRestored)
}

func TestReplaceApprovesWarranty(t *testing.T) {
	o := newOrder(StatusDelivered, ShipDelivered)
	_, err := RaiseRequest(o, RequestWarranty, "broken", t0)
	require.NoError(t, err)
	out, err := ApplyAction(context.Background(), o, ActionReplace, "", t0)
	require.NoError(t, err)
	assert.Empty(t, out.RestockReason)
	assert.Equal(t, RequestApproved, o.Requests[0].Status)
}

func TestCancelHeldOrderAfterPickupIsRefused(t *testing.T) {
	o := newOrder(StatusHold, ShipPickupScheduled)
	Reconcile(o, update("PICKED UP"))
	require.Equal(t, StatusHold, o.Status)
	require.NotNil(t, o.PickedUpAt)

	out, err := ApplyAction(context.Background(), o, ActionCancel, "", t0)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, StatusHold, o.Status)
	assert.Empty(t, out.RestockReason)
	assert.False(t, o.StockRestored)
}

func TestReturnRefundsCollectedPayment(t *testing.T) {
	o := newOrder(StatusDelivered, ShipDelivered)
	o.PaymentStatus = PaymentPaid
	_, err := ApplyAction(context.Background(), o, ActionReturn, "", t0)
	require.NoError(t, err)
	assert.Equal(t, PaymentRefunded, o.PaymentStatus)
}
