package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-commerce-orders/internal/courier"
	kafkax "github.com/ariefcatur/go-commerce-orders/internal/kafka"
	"github.com/ariefcatur/go-commerce-orders/internal/orders"
	"github.com/ariefcatur/go-commerce-orders/internal/redisx"
)

// Gateway is the part of the courier API the dispatcher drives. *courier.Client satisfies it.
type Gateway interface {
	CreateShipment(ctx context.Context, req courier.CreateShipmentRequest) (*courier.CreateShipmentResponse, error)
	AssignAWB(ctx context.Context, shipmentID string) (*courier.AWBAssignment, error)
	GeneratePickup(ctx context.Context, shipmentID string) (*courier.Pickup, error)
	OrderDetail(ctx context.Context, providerOrderID string) (*courier.OrderDetail, error)
	GenerateLabel(ctx context.Context, shipmentID string) (string, error)
	GenerateManifest(ctx context.Context, shipmentID string) (string, error)
	TrackByAWB(ctx context.Context, awb string) (*courier.Tracking, error)
	TrackByShipment(ctx context.Context, shipmentID string) (*courier.Tracking, error)
}

// Parcel is the default package size declared to the courier.
type Parcel struct {
	Length, Breadth, Height float64 // cm
	Weight                  float64 // kg
}

var DefaultParcel = Parcel{Length: 20, Breadth: 15, Height: 10, Weight: 0.5}

type Dispatcher struct {
	Orders  *orders.Service
	Courier Gateway
	Redis   redis.Cmdable // optional
	Log     *zap.SugaredLogger
	Parcel  Parcel
	Now     func() time.Time
}

const providerTimeLayout = "2006-01-02 15:04:05"

// HandleStatusChanged is the kafka handler for order.status.changed. Orders entering
// Accepted are booked with the courier; every other event is acknowledged untouched.
func (d *Dispatcher) HandleStatusChanged(ctx context.Context, m kafkago.Message) error {
	if t := kafkax.HeaderValue(m, kafkax.HeaderEventType); t != "" && t != orders.EventOrderStatusChanged {
		return nil
	}
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		d.log().Warnw("skip undecodable event", "offset", m.Offset, "error", err)
		return nil
	}
	if env.EventType != orders.EventOrderStatusChanged {
		return nil
	}
	p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
	if err != nil {
		d.log().Warnw("skip bad payload", "event_id", env.EventID, "error", err)
		return nil
	}
	if p.To != orders.StatusAccepted {
		return nil
	}

	key := redisx.DedupKey("shipping", env.EventID)
	won, err := redisx.Claim(ctx, d.Redis, key, redisx.TTLDedup)
	if err != nil {
		d.log().Warnw("shipping dedup unavailable", "error", err)
		won = true
	}
	if !won {
		d.log().Debugw("duplicate event skipped", "event_id", env.EventID)
		return nil
	}

	ctx = orders.WithTraceID(ctx, env.TraceID)
	if _, err := d.Ship(ctx, p.ID); err != nil {
		switch orders.KindOf(err) {
		case orders.KindConflict, orders.KindNotFound:
			// the order moved on or vanished; nothing to book
			d.log().Infow("shipment not booked", "order_id", p.OrderID, "reason", err)
			return nil
		}
		if courier.Rejected(err) {
			// left for an operator to fix and book through POST /orders/{id}/shipment
			d.log().Errorw("courier rejected shipment", "order_id", p.OrderID, "error", err)
			return nil
		}
		redisx.Release(ctx, d.Redis, key)
		return err
	}
	return nil
}

// Ship books the order with the courier: create the shipment, assign a waybill, then make
// sure a pickup is scheduled. Each step is persisted as soon as it succeeds, so a retry
// resumes where the previous attempt stopped.
func (d *Dispatcher) Ship(ctx context.Context, id string) (*orders.Order, error) {
	o, err := d.Orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.AWBCode != "" && o.PickupScheduled {
		return o, nil
	}
	if o.AWBCode == "" && o.Status != orders.StatusAccepted {
		return nil, &orders.Error{Kind: orders.KindConflict, Msg: fmt.Sprintf("order %s is %s, not Accepted", o.OrderID, o.Status)}
	}

	if o.ShipmentID == "" {
		req, err := d.shipmentRequest(ctx, o)
		if err != nil {
			return nil, err
		}
		res, err := d.Courier.CreateShipment(ctx, req)
		if err != nil {
			return nil, upstream(err)
		}
		o, err = d.Orders.Apply(ctx, o.ID, orders.SourceSystem, func(o *orders.Order) (orders.Outcome, error) {
			return orders.RecordShipment(o, string(res.OrderID), string(res.ShipmentID)), nil
		})
		if err != nil {
			return nil, err
		}
	}

	if o.AWBCode == "" {
		a, err := d.Courier.AssignAWB(ctx, o.ShipmentID)
		if err != nil {
			return nil, upstream(err)
		}
		now := d.now()
		o, err = d.Orders.Apply(ctx, o.ID, orders.SourceSystem, func(o *orders.Order) (orders.Outcome, error) {
			return orders.AssignCourier(o, orders.CourierAssignment{
				ProviderOrderID: string(a.OrderID),
				ShipmentID:      string(a.ShipmentID),
				AWBCode:         a.AWBCode,
				CourierName:     a.CourierName,
			}, now)
		})
		if err != nil {
			return nil, err
		}
		d.log().Infow("waybill assigned", "order_id", o.OrderID, "awb", o.AWBCode, "courier", o.CourierName)
	}

	if o.PickupScheduled {
		return o, nil
	}
	booking, edd, err := d.pickup(ctx, o)
	if err != nil {
		return nil, err
	}
	o, err = d.Orders.Apply(ctx, o.ID, orders.SourceSystem, func(o *orders.Order) (orders.Outcome, error) {
		if edd != nil {
			o.ExpectedDeliveryDate = edd
		}
		return orders.SchedulePickup(o, booking), nil
	})
	if err != nil {
		return nil, err
	}
	d.log().Infow("pickup scheduled", "order_id", o.OrderID, "token", o.PickupTokenNumber)
	return o, nil
}

// pickup reuses a pickup the provider scheduled on its own and only generates one otherwise.
func (d *Dispatcher) pickup(ctx context.Context, o *orders.Order) (orders.PickupBooking, *time.Time, error) {
	var edd *time.Time
	if o.ProviderOrderID != "" {
		detail, err := d.Courier.OrderDetail(ctx, o.ProviderOrderID)
		if err != nil {
			return orders.PickupBooking{}, nil, upstream(err)
		}
		edd = parseProviderTime(detail.Shipment.EDD)
		if detail.PickupScheduled() {
			return orders.PickupBooking{
				Date:        parseProviderTime(detail.Shipment.PickupScheduledDate),
				TokenNumber: detail.Shipment.PickupTokenNumber,
			}, edd, nil
		}
	}
	p, err := d.Courier.GeneratePickup(ctx, o.ShipmentID)
	if err != nil {
		return orders.PickupBooking{}, nil, upstream(err)
	}
	return orders.PickupBooking{
		Date:        parseProviderTime(p.ScheduledDate),
		TokenNumber: p.TokenNumber,
		Slot:        p.Slot,
	}, edd, nil
}

func (d *Dispatcher) shipmentRequest(ctx context.Context, o *orders.Order) (courier.CreateShipmentRequest, error) {
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		ids = append(ids, it.ProductID)
	}
	products, err := d.Orders.Store.Products(ctx, ids)
	if err != nil {
		return courier.CreateShipmentRequest{}, err
	}
	items := make([]courier.OrderItem, 0, len(o.Items))
	for _, it := range o.Items {
		name, sku := it.ProductID, it.ProductID
		if p, ok := products[it.ProductID]; ok {
			name, sku = p.Name, p.SKU
		}
		if it.VariantName != "" {
			name = fmt.Sprintf("%s (%s)", name, it.VariantName)
			sku = fmt.Sprintf("%s-%s", sku, it.VariantName)
		}
		items = append(items, courier.OrderItem{
			Name: name, SKU: sku, Units: it.Quantity, SellingPrice: it.Price.StringFixed(2),
		})
	}
	parcel := d.Parcel
	if parcel == (Parcel{}) {
		parcel = DefaultParcel
	}
	a := o.Address
	return courier.CreateShipmentRequest{
		OrderID:           o.OrderID,
		OrderDate:         o.CreatedAt.Format("2006-01-02 15:04"),
		BillingName:       a.Name,
		BillingAddress:    a.Line1,
		BillingAddress2:   a.Line2,
		BillingCity:       a.City,
		BillingPincode:    a.Pincode,
		BillingState:      a.State,
		BillingCountry:    a.Country,
		BillingEmail:      a.Email,
		BillingPhone:      a.Phone,
		ShippingIsBilling: true,
		Items:             items,
		PaymentMethod:     string(o.PaymentMethod),
		SubTotal:          o.Subtotal.StringFixed(2),
		Length:            parcel.Length,
		Breadth:           parcel.Breadth,
		Height:            parcel.Height,
		Weight:            parcel.Weight,
	}, nil
}

// Label generates the shipping label and stores its URL on the order.
func (d *Dispatcher) Label(ctx context.Context, id string, role orders.Role) (*orders.Order, error) {
	return d.document(ctx, id, role, d.Courier.GenerateLabel, func(o *orders.Order, url string) {
		o.ShippingLabelURL = url
	})
}

// Manifest generates the pickup manifest and stores its URL on the order.
func (d *Dispatcher) Manifest(ctx context.Context, id string, role orders.Role) (*orders.Order, error) {
	return d.document(ctx, id, role, d.Courier.GenerateManifest, func(o *orders.Order, url string) {
		o.ShippingManifestURL = url
	})
}

func (d *Dispatcher) document(
	ctx context.Context, id string, role orders.Role,
	generate func(context.Context, string) (string, error),
	set func(*orders.Order, string),
) (*orders.Order, error) {
	if err := orders.Authorize(role, orders.ResourceShipment); err != nil {
		return nil, err
	}
	o, err := d.Orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.ShipmentID == "" {
		return nil, &orders.Error{Kind: orders.KindConflict, Msg: fmt.Sprintf("order %s has no shipment yet", o.OrderID)}
	}
	url, err := generate(ctx, o.ShipmentID)
	if err != nil {
		return nil, upstream(err)
	}
	return d.Orders.Apply(ctx, o.ID, orders.SourceOperator, func(o *orders.Order) (orders.Outcome, error) {
		set(o, url)
		return orders.Outcome{Changed: true, PrevStatus: o.Status}, nil
	})
}

// Tracking asks the courier for the live tracking of an order, by waybill when one is known.
func (d *Dispatcher) Tracking(ctx context.Context, id string) (*courier.Tracking, error) {
	o, err := d.Orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var t *courier.Tracking
	switch {
	case o.AWBCode != "":
		t, err = d.Courier.TrackByAWB(ctx, o.AWBCode)
	case o.ShipmentID != "":
		t, err = d.Courier.TrackByShipment(ctx, o.ShipmentID)
	default:
		return nil, &orders.Error{Kind: orders.KindConflict, Msg: fmt.Sprintf("order %s has not been shipped", o.OrderID)}
	}
	if err != nil {
		return nil, upstream(err)
	}
	return t, nil
}

// upstream converts gateway failures into the Upstream kind, keeping the provider body.
func upstream(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ce *courier.Error
	if errors.As(err, &ce) {
		return &orders.Error{Kind: orders.KindUpstream, Msg: ce.Error(), Payload: ce.Body, Err: ce}
	}
	return orders.Upstream(err.Error(), nil)
}

func parseProviderTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{providerTimeLayout, "2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Dispatcher) log() *zap.SugaredLogger {
	if d.Log != nil {
		return d.Log
	}
	return zap.S()
}
