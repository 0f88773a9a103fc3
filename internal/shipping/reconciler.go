// Package shipping connects orders to the courier: it ingests courier webhooks and books
// shipments for accepted orders.
package shipping

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-commerce-orders/internal/courier"
	"github.com/ariefcatur/go-commerce-orders/internal/metrics"
	"github.com/ariefcatur/go-commerce-orders/internal/orders"
	"github.com/ariefcatur/go-commerce-orders/internal/redisx"
)

// WebhookPayload is the body the courier POSTs for every shipment status change.
type WebhookPayload struct {
	AWB            string        `json:"awb"`
	OrderID        courier.ID    `json:"order_id"`
	SROrderID      courier.ID    `json:"sr_order_id"`
	ShipmentStatus string        `json:"shipment_status"`
	CurrentStatus  string        `json:"current_status"`
	IsReturn       int           `json:"is_return"`
	Scans          []orders.Scan `json:"scans"`
}

// Status prefers current_status, the field newer payloads fill.
func (p WebhookPayload) Status() string {
	if s := strings.TrimSpace(p.CurrentStatus); s != "" {
		return s
	}
	return strings.TrimSpace(p.ShipmentStatus)
}

func (p WebhookPayload) providerOrderID() string {
	if p.SROrderID != "" {
		return string(p.SROrderID)
	}
	return string(p.OrderID)
}

// fingerprint identifies one delivery. Redeliveries of the same event hash to the same id.
func (p WebhookPayload) fingerprint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s|%d", p.AWB, p.providerOrderID(), orders.NormalizeCourierStatus(p.Status()), len(p.Scans))
	if n := len(p.Scans); n > 0 {
		last := p.Scans[n-1]
		fmt.Fprintf(&b, "|%s|%s", last.Date, last.Activity)
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(b.String())).String()
}

type Result string

const (
	ResultUpdated   Result = "updated"
	ResultIgnored   Result = "ignored"
	ResultUnknown   Result = "unknown"
	ResultDuplicate Result = "duplicate"
)

type Outcome struct {
	Status  Result `json:"status"`
	OrderID string `json:"order_id,omitempty"`
}

type Reconciler struct {
	Orders *orders.Service
	Redis  redis.Cmdable // optional
	Log    *zap.SugaredLogger
}

// Handle applies one webhook delivery. Only persistence failures are returned as errors;
// everything else is an acknowledged Outcome so the courier does not retry.
func (r *Reconciler) Handle(ctx context.Context, p WebhookPayload) (Outcome, error) {
	res, err := r.handle(ctx, p)
	outcome := string(res.Status)
	if err != nil {
		outcome = "error"
	}
	metrics.WebhookEvents.WithLabelValues(outcome).Inc()
	return res, err
}

func (r *Reconciler) handle(ctx context.Context, p WebhookPayload) (Outcome, error) {
	if p.AWB == "" && p.providerOrderID() == "" {
		return Outcome{Status: ResultUnknown}, nil
	}

	key := redisx.DedupKey("webhook", p.fingerprint())
	won, err := redisx.Claim(ctx, r.Redis, key, redisx.TTLDedup)
	if err != nil {
		// Redis is only a shortcut; the row-level guards keep replays safe
		r.log().Warnw("webhook dedup unavailable", "error", err)
		won = true
	}
	if !won {
		return Outcome{Status: ResultDuplicate}, nil
	}

	o, err := r.resolve(ctx, p)
	if err != nil {
		redisx.Release(ctx, r.Redis, key)
		if orders.KindOf(err) == orders.KindNotFound {
			r.log().Infow("webhook for unknown order", "awb", p.AWB, "provider_order_id", p.providerOrderID())
			return Outcome{Status: ResultUnknown}, nil
		}
		return Outcome{}, err
	}

	u := orders.CourierUpdate{Status: p.Status(), Scans: p.Scans}
	if p.IsReturn != 0 {
		u.ReturnAWB = p.AWB
	}
	updated, out, err := r.Orders.ApplyCourierUpdate(ctx, orders.Lookup{ID: o.ID}, u)
	if err != nil {
		redisx.Release(ctx, r.Redis, key)
		return Outcome{}, err
	}
	if !out.Changed {
		return Outcome{Status: ResultIgnored, OrderID: updated.OrderID}, nil
	}
	r.log().Infow("courier update applied",
		"order_id", updated.OrderID, "courier_status", p.Status(),
		"status", updated.Status, "shipping_status", updated.ShippingStatus)
	return Outcome{Status: ResultUpdated, OrderID: updated.OrderID}, nil
}

// resolve finds the order by waybill, then provider order id, then return waybill.
func (r *Reconciler) resolve(ctx context.Context, p WebhookPayload) (*orders.Order, error) {
	var lookups []orders.Lookup
	if p.AWB != "" && p.IsReturn == 0 {
		lookups = append(lookups, orders.Lookup{AWB: p.AWB})
	}
	if id := p.providerOrderID(); id != "" {
		lookups = append(lookups, orders.Lookup{ProviderOrderID: id})
	}
	if p.AWB != "" {
		lookups = append(lookups, orders.Lookup{ReturnAWB: p.AWB})
	}
	for _, l := range lookups {
		o, err := r.Orders.Store.Find(ctx, l)
		if err == nil {
			return o, nil
		}
		if orders.KindOf(err) != orders.KindNotFound {
			return nil, err
		}
	}
	return nil, &orders.Error{Kind: orders.KindNotFound, Msg: "order not found"}
}

func (r *Reconciler) log() *zap.SugaredLogger {
	if r.Log != nil {
		return r.Log
	}
	return zap.S()
}
