package shipping_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-commerce-orders/internal/orders"
	"github.com/ariefcatur/go-commerce-orders/internal/orders/orderstest"
	"github.com/ariefcatur/go-commerce-orders/internal/shipping"
)

var now = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newOrders(t *testing.T) (*orders.Service, *orderstest.Store) {
	t.Helper()
	store := orderstest.New()
	store.AddProduct(orders.Product{
		ID: "p-1", SKU: "TEE", Name: "Tee", Price: decimal.NewFromInt(250), TotalStock: 8,
		Variants: orders.VariantStock{"M": 4},
	})
	svc := &orders.Service{
		Store:       store,
		Log:         zap.NewNop().Sugar(),
		ServiceName: "shipping",
		Now:         func() time.Time { return now },
	}
	return svc, store
}

func putOrder(store *orderstest.Store, status orders.Status, ship orders.ShippingStatus, awb string) *orders.Order {
	o := &orders.Order{
		ID:             "o-1",
		OrderID:        "ORD-20250301-000001",
		Type:           orders.TypeRegular,
		Status:         status,
		ShippingStatus: ship,
		PaymentStatus:  orders.PaymentPending,
		PaymentMethod:  orders.PaymentCOD,
		Items:          []orders.Item{{ProductID: "p-1", VariantName: "M", Quantity: 2, Price: decimal.NewFromInt(250)}},
		Subtotal:       decimal.NewFromInt(500),
		StockDeducted:  true,
		AWBCode:        awb,
		Address:        orders.Address{Name: "Asha", Phone: "9800000000", Line1: "12 MG Road", City: "Pune", State: "MH", Pincode: "411001", Country: "India"},
		CreatedAt:      now.Add(-time.Hour),
	}
	store.Put(o)
	return o
}

func newReconciler(svc *orders.Service) *shipping.Reconciler {
	return &shipping.Reconciler{Orders: svc, Log: zap.NewNop().Sugar()}
}

func TestWebhookPayloadDecoding(t *testing.T) {
	var p shipping.WebhookPayload
	raw := `{"awb":"AWB1","order_id":"ORD-1","sr_order_id":551,"shipment_status":"IN TRANSIT","current_status":"Delivered","is_return":0,
		"scans":[{"date":"2025-03-01 10:00:00","activity":"Delivered","location":"Pune","sr-status-label":"DELIVERED"}]}`
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	assert.Equal(t, "AWB1", p.AWB)
	assert.Equal(t, "551", string(p.SROrderID))
	assert.Equal(t, "Delivered", p.Status())
	require.Len(t, p.Scans, 1)
	assert.Equal(t, "Pune", p.Scans[0].Location)
}

func TestUnknownOrderIsAcknowledged(t *testing.T) {
	svc, store := newOrders(t)
	r := newReconciler(svc)

	res, err := r.Handle(context.Background(), shipping.WebhookPayload{AWB: "NOPE", CurrentStatus: "DELIVERED"})
	require.NoError(t, err)
	assert.Equal(t, shipping.ResultUnknown, res.Status)
	assert.Empty(t, res.OrderID)
	assert.Zero(t, store.Writes)

	res, err = r.Handle(context.Background(), shipping.WebhookPayload{CurrentStatus: "DELIVERED"})
	require.NoError(t, err)
	assert.Equal(t, shipping.ResultUnknown, res.Status)
}

func TestDeliveredThenReplayIsIgnored(t *testing.T) {
	svc, store := newOrders(t)
	putOrder(store, orders.StatusShipped, orders.ShipInTransit, "AWB1")
	r := newReconciler(svc)
	ctx := context.Background()
	p := shipping.WebhookPayload{AWB: "AWB1", CurrentStatus: "DELIVERED"}

	res, err := r.Handle(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, shipping.Outcome{Status: shipping.ResultUpdated, OrderID: "ORD-20250301-000001"}, res)

	o, err := svc.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusDelivered, o.Status)
	assert.Equal(t, orders.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, orders.ShipDelivered, o.ShippingStatus)
	require.NotNil(t, o.DeliveredAt)

	// without Redis the replay reaches the store and changes nothing
	res, err = r.Handle(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, shipping.ResultIgnored, res.Status)
	assert.Equal(t, 1, store.Writes)
}

func TestResolvesByProviderOrderID(t *testing.T) {
	svc, store := newOrders(t)
	o := putOrder(store, orders.StatusAccepted, orders.ShipPickupScheduled, "")
	o.ProviderOrderID = "551"
	store.Put(o)
	r := newReconciler(svc)

	res, err := r.Handle(context.Background(), shipping.WebhookPayload{SROrderID: "551", CurrentStatus: "picked_up"})
	require.NoError(t, err)
	assert.Equal(t, shipping.ResultUpdated, res.Status)

	got, err := svc.Get(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusShipped, got.Status)
	assert.Equal(t, orders.ShipPickedUp, got.ShippingStatus)
	assert.Equal(t, "picked_up", got.CourierStatus)
	require.NotNil(t, got.PickedUpAt)
}

func TestReturnWaybillResolvesAndRestocks(t *testing.T) {
	svc, store := newOrders(t)
	o := putOrder(store, orders.StatusDelivered, orders.ShipDelivered, "AWB1")
	o.ReturnAWB = "RAWB1"
	store.Put(o)
	r := newReconciler(svc)

	res, err := r.Handle(context.Background(), shipping.WebhookPayload{AWB: "RAWB1", IsReturn: 1, CurrentStatus: "RETURN ACKNOWLEDGED"})
	require.NoError(t, err)
	assert.Equal(t, shipping.ResultUpdated, res.Status)

	got, err := svc.Get(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusReturned, got.Status)
	assert.True(t, got.StockRestored)
	assert.Equal(t, 1, store.Restocks)
	assert.Equal(t, 10, store.Product("p-1").TotalStock)
}

func TestCourierCancelAfterPickupRestocksOnce(t *testing.T) {
	svc, store := newOrders(t)
	putOrder(store, orders.StatusShipped, orders.ShipPickedUp, "AWB1")
	r := newReconciler(svc)
	ctx := context.Background()
	p := shipping.WebhookPayload{AWB: "AWB1", CurrentStatus: "CANCELED"}

	res, err := r.Handle(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, shipping.ResultUpdated, res.Status)

	res, err = r.Handle(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, shipping.ResultIgnored, res.Status)

	got, err := svc.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	assert.NotEmpty(t, got.CancellationReason)
	assert.Equal(t, 1, store.Restocks)
	assert.Equal(t, 6, store.Product("p-1").Variants["M"])
}

func TestPersistenceFailureIsReturned(t *testing.T) {
	svc, store := newOrders(t)
	putOrder(store, orders.StatusShipped, orders.ShipInTransit, "AWB1")
	store.FailWrites = errors.New("connection reset")
	r := newReconciler(svc)

	_, err := r.Handle(context.Background(), shipping.WebhookPayload{AWB: "AWB1", CurrentStatus: "DELIVERED"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestReturnWaybillIsLearnedFromProviderOrderID(t *testing.T) {
	svc, store := newOrders(t)
	o := putOrder(store, orders.StatusDelivered, orders.ShipDelivered, "AWB1")
	o.ProviderOrderID = "551"
	store.Put(o)
	r := newReconciler(svc)
	ctx := context.Background()

	res, err := r.Handle(ctx, shipping.WebhookPayload{AWB: "RAWB7", SROrderID: "551", IsReturn: 1, CurrentStatus: "RETURN PICKED UP"})
	require.NoError(t, err)
	assert.Equal(t, shipping.ResultUpdated, res.Status)

	got, err := svc.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, "RAWB7", got.ReturnAWB)
	assert.Equal(t, "AWB1", got.AWBCode)
	assert.Equal(t, orders.StatusDelivered, got.Status)

	// later reports carry only the return waybill
	res, err = r.Handle(ctx, shipping.WebhookPayload{AWB: "RAWB7", IsReturn: 1, CurrentStatus: "RETURN ACKNOWLEDGED"})
	require.NoError(t, err)
	assert.Equal(t, shipping.ResultUpdated, res.Status)

	got, err = svc.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusReturned, got.Status)
	assert.Equal(t, 1, store.Restocks)
}
