package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-commerce-orders/internal/kafka"
	"github.com/ariefcatur/go-commerce-orders/internal/metrics"
	"github.com/ariefcatur/go-commerce-orders/internal/redisx"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

const (
	SourceOperator = "operator"
	SourceCourier  = "courier"
	SourceSystem   = "system"
)

type Service struct {
	Store       Store
	Producer    Publisher     // optional
	Redis       redis.Cmdable // optional
	Log         *zap.SugaredLogger
	Pricing     Pricing
	ServiceName string
	Now         func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) log() *zap.SugaredLogger {
	if s.Log != nil {
		return s.Log
	}
	return zap.S()
}

type ItemInput struct {
	ProductID   string      `json:"product_id"`
	VariantName VariantName `json:"variant_name,omitempty"`
	Quantity    int         `json:"quantity"`
}

type PlaceOrderInput struct {
	UserID        string          `json:"user_id"`
	Type          OrderType       `json:"type"`
	IsAppOrder    bool            `json:"is_app_order"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Address       Address         `json:"address"`
	Items         []ItemInput     `json:"items"`
	Discount      decimal.Decimal `json:"discount"`
}

func (in *PlaceOrderInput) normalize() error {
	if len(in.Items) == 0 {
		return validation("order needs at least one item")
	}
	for _, it := range in.Items {
		if it.ProductID == "" {
			return validation("item product_id is required")
		}
		if it.Quantity <= 0 {
			return validation("item %s: quantity must be positive", it.ProductID)
		}
	}
	if in.Type == "" {
		in.Type = TypeRegular
	}
	if in.Type != TypeRegular && in.Type != TypePos {
		return validation("unknown order type %q", in.Type)
	}
	if in.Type == TypePos {
		in.IsAppOrder = false
	}
	if in.PaymentMethod == "" {
		in.PaymentMethod = PaymentCOD
	}
	if in.PaymentMethod != PaymentCOD && in.PaymentMethod != PaymentPrepaid {
		return validation("unknown payment method %q", in.PaymentMethod)
	}
	if in.Discount.IsNegative() {
		return validation("discount must not be negative")
	}
	return nil
}

func (s *Service) newOrderID(ctx context.Context, now time.Time) (string, error) {
	n, err := s.Store.NextOrderNumber(ctx)
	if err != nil {
		return "", fmt.Errorf("next order number: %w", err)
	}
	return fmt.Sprintf("ORD-%s-%06d", now.Format("20060102"), n%1_000_000), nil
}

// PlaceOrder snapshots catalogue prices into the items and creates the order, taking the
// quantities from stock in the same transaction.
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*Order, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(in.Items))
	for _, it := range in.Items {
		ids = append(ids, it.ProductID)
	}
	products, err := s.Store.Products(ctx, ids)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(in.Items))
	for _, it := range in.Items {
		p, ok := products[it.ProductID]
		if !ok {
			return nil, validation("unknown product %s", it.ProductID)
		}
		items = append(items, Item{ProductID: it.ProductID, VariantName: it.VariantName, Quantity: it.Quantity, Price: p.Price})
	}

	now := s.now()
	orderID, err := s.newOrderID(ctx, now)
	if err != nil {
		return nil, err
	}
	o := &Order{
		ID:             uuid.NewString(),
		OrderID:        orderID,
		UserID:         in.UserID,
		Type:           in.Type,
		Address:        in.Address,
		IsAppOrder:     in.IsAppOrder,
		Status:         StatusNew,
		ShippingStatus: ShipPending,
		PaymentStatus:  PaymentPending,
		PaymentMethod:  in.PaymentMethod,
		Items:          items,
		Requests:       []Request{},
		StockDeducted:  true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.PaymentMethod == PaymentPrepaid {
		o.PaymentStatus = PaymentPaid
	}
	s.Pricing.Quote(items, in.Discount, in.Type).apply(o)

	if err := s.Store.Create(ctx, o); err != nil {
		return nil, err
	}
	s.log().Infow("order placed", "order_id", o.OrderID, "id", o.ID, "amount", o.OrderAmount.String())
	s.emitCreated(ctx, o)
	return o, nil
}

// CreateAbandonedOrder turns an idle cart into an abandoned order. Stock is not touched.
func (s *Service) CreateAbandonedOrder(ctx context.Context, c Cart) (*Order, error) {
	if len(c.Items) == 0 {
		return nil, validation("cart %s is empty", c.ID)
	}
	now := s.now()
	orderID, err := s.newOrderID(ctx, now)
	if err != nil {
		return nil, err
	}
	items := make([]Item, len(c.Items))
	copy(items, c.Items)
	o := &Order{
		ID:             uuid.NewString(),
		OrderID:        orderID,
		UserID:         c.UserID,
		Type:           TypeRegular,
		SourceCartID:   c.ID,
		AbandonedOrder: true,
		Status:         StatusNew,
		ShippingStatus: ShipPending,
		PaymentStatus:  PaymentPending,
		PaymentMethod:  PaymentCOD,
		Items:          items,
		Requests:       []Request{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.Pricing.Quote(items, decimal.Zero, TypeRegular).apply(o)
	if err := s.Store.Create(ctx, o); err != nil {
		return nil, err
	}
	s.emitCreated(ctx, o)
	return o, nil
}

// SweepAbandonedCarts creates one abandoned order per cart idle for longer than idleFor.
// A cart that already produced an order is skipped; other failures are logged and the
// sweep moves on.
func (s *Service) SweepAbandonedCarts(ctx context.Context, idleFor time.Duration) (int, error) {
	carts, err := s.Store.IdleCarts(ctx, s.now().Add(-idleFor), 100)
	if err != nil {
		return 0, fmt.Errorf("idle carts: %w", err)
	}
	created := 0
	for _, c := range carts {
		if _, err := s.CreateAbandonedOrder(ctx, c); err != nil {
			if KindOf(err) != KindConflict {
				s.log().Warnw("abandoned order failed", "cart_id", c.ID, "error", err)
			}
			continue
		}
		created++
	}
	if created > 0 {
		s.log().Infow("abandoned carts swept", "orders", created, "carts", len(carts))
	}
	return created, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.Store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Order, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, validation("unknown status %q", f.Status)
	}
	return s.Store.List(ctx, f)
}

// StatusView is the cached projection served by GET /orders/{id}/status.
type StatusView struct {
	ID             string         `json:"id"`
	OrderID        string         `json:"order_id"`
	Status         Status         `json:"status"`
	ShippingStatus ShippingStatus `json:"shipping_status"`
	PaymentStatus  PaymentStatus  `json:"payment_status"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Status reads through the Redis status cache.
func (s *Service) Status(ctx context.Context, id string) (StatusView, error) {
	key := redisx.StatusKey(id)
	if s.Redis != nil {
		if b, err := s.Redis.Get(ctx, key).Bytes(); err == nil {
			var v StatusView
			if json.Unmarshal(b, &v) == nil {
				return v, nil
			}
		}
	}
	o, err := s.Store.Get(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	v := viewOf(o)
	if s.Redis != nil {
		// SetNX: a view written by Notify after this read must not be replaced by an older one
		_ = s.Redis.SetNX(ctx, key, kafkax.MustMarshal(v), redisx.TTLStatusCache).Err()
	}
	return v, nil
}

func viewOf(o *Order) StatusView {
	return StatusView{
		ID: o.ID, OrderID: o.OrderID, Status: o.Status, ShippingStatus: o.ShippingStatus,
		PaymentStatus: o.PaymentStatus, UpdatedAt: o.UpdatedAt,
	}
}

// ChangeStatus applies an operator action. Customers may not change status.
func (s *Service) ChangeStatus(ctx context.Context, id string, a Action, role Role, reason string) (*Order, error) {
	if err := Authorize(role, ResourceOrderStatus); err != nil {
		return nil, err
	}
	now := s.now()
	o, out, err := s.Store.Mutate(ctx, Lookup{ID: id}, func(o *Order) (Outcome, error) {
		return ApplyAction(ctx, o, a, reason, now)
	})
	if err != nil {
		return nil, err
	}
	s.Notify(ctx, o, out, SourceOperator, reason)
	return o, nil
}

// RaiseRequest opens a Cancel, Return or Warranty request. The eligibility check runs under
// the order's row lock, so two concurrent submissions cannot both pass it.
func (s *Service) RaiseRequest(ctx context.Context, id string, t RequestType, reason string, role Role) (*Order, error) {
	if err := Authorize(role, ResourceRaiseRequest); err != nil {
		return nil, err
	}
	if !t.Valid() {
		return nil, validation("unknown request type %q", t)
	}
	now := s.now()
	o, out, err := s.Store.Mutate(ctx, Lookup{ID: id}, func(o *Order) (Outcome, error) {
		return RaiseRequest(o, t, reason, now)
	})
	if err != nil {
		return nil, err
	}
	s.Notify(ctx, o, out, SourceOperator, reason)
	return o, nil
}

func (s *Service) RejectRequest(ctx context.Context, id string, t RequestType, role Role, note string) (*Order, error) {
	if err := Authorize(role, ResourceResolveRequest); err != nil {
		return nil, err
	}
	now := s.now()
	o, out, err := s.Store.Mutate(ctx, Lookup{ID: id}, func(o *Order) (Outcome, error) {
		return RejectRequest(o, t, note, now)
	})
	if err != nil {
		return nil, err
	}
	s.Notify(ctx, o, out, SourceOperator, note)
	return o, nil
}

// ApplyCourierUpdate reconciles one courier report with the order l points at.
func (s *Service) ApplyCourierUpdate(ctx context.Context, l Lookup, u CourierUpdate) (*Order, Outcome, error) {
	if u.At.IsZero() {
		u.At = s.now()
	}
	o, out, err := s.Store.Mutate(ctx, l, func(o *Order) (Outcome, error) {
		return Reconcile(o, u), nil
	})
	if err != nil {
		return nil, out, err
	}
	s.Notify(ctx, o, out, SourceCourier, o.CancellationReason)
	return o, out, nil
}

// Notify publishes the events implied by out and refreshes the cached status of o.
func (s *Service) Notify(ctx context.Context, o *Order, out Outcome, source, reason string) {
	if !out.Changed {
		return
	}
	if s.Redis != nil {
		_ = s.Redis.Set(ctx, redisx.StatusKey(o.ID), kafkax.MustMarshal(viewOf(o)), redisx.TTLStatusCache).Err()
	}
	if out.StatusChanged(o.Status) {
		metrics.StatusTransitions.WithLabelValues(source, string(o.Status)).Inc()
		s.log().Infow("order status changed", "order_id", o.OrderID, "from", out.PrevStatus, "to", o.Status, "source", source)
		s.emit(ctx, TopicOrderStatusChanged, EventOrderStatusChanged, o, OrderStatusChangedPayload{
			ID: o.ID, OrderID: o.OrderID, From: out.PrevStatus, To: o.Status,
			ShippingStatus: o.ShippingStatus, Source: source, Reason: reason,
		})
	}
	if out.Raised != nil {
		s.emit(ctx, TopicOrderRequests, EventRequestRaised, o, RequestPayload{ID: o.ID, OrderID: o.OrderID, Request: *out.Raised})
	}
	for _, r := range out.Resolved {
		s.emit(ctx, TopicOrderRequests, EventRequestResolved, o, RequestPayload{ID: o.ID, OrderID: o.OrderID, Request: r})
	}
	if out.RestockReason != "" {
		metrics.StockRestorations.Inc()
		s.log().Infow("stock restored", "order_id", o.OrderID, "reason", out.RestockReason)
		s.emit(ctx, TopicStockRestored, EventStockRestored, o, StockRestoredPayload{
			ID: o.ID, OrderID: o.OrderID, Reason: out.RestockReason, Items: o.Items,
		})
	}
}

func (s *Service) emitCreated(ctx context.Context, o *Order) {
	s.emit(ctx, TopicOrderCreated, EventOrderCreated, o, OrderCreatedPayload{
		ID: o.ID, OrderID: o.OrderID, UserID: o.UserID, Items: o.Items,
		OrderAmount: o.OrderAmount.StringFixed(2), AbandonedOrder: o.AbandonedOrder,
	})
}

func (s *Service) emit(ctx context.Context, topic, eventType string, o *Order, payload any) {
	if s.Producer == nil {
		return
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    s.now(),
		Producer:      s.ServiceName,
		TraceID:       traceID(ctx),
		CorrelationID: o.ID,
		Payload:       kafkax.MustMarshal(payload),
	}
	s.Producer.Publish(topic, PartitionKey(o.ID), kafkax.MustMarshal(ev), kafkax.EventHeaders(eventType, 1)...)
}

type traceKey struct{}

// WithTraceID attaches the request id that outgoing events carry as trace_id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
