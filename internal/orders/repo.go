package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the repositories use.
type DB interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// querier is satisfied by both DB and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repo struct{ DB DB }

var _ Store = (*Repo)(nil)

var orderColumns = []string{
	"id", "order_id", "user_id", "type", "source_cart_id", "address", "is_app_order", "abandoned_order",
	"status", "shipping_status", "courier_status", "payment_status", "payment_method",
	"order_amount", "subtotal", "gst", "delivery_charge", "discount",
	"cancellation_reason", "stock_deducted", "stock_restored",
	"awb_code", "return_awb", "courier_name", "shipment_id", "provider_order_id",
	"pickup_scheduled", "pickup_date", "pickup_token_number", "pickup_slot", "expected_delivery_date",
	"scans", "shipping_label_url", "shipping_manifest_url",
	"courier_assigned_at", "picked_up_at", "delivered_at", "rto_initiated_at", "rto_delivered_at",
	"created_at", "updated_at",
}

var (
	selectOrderSQL = `SELECT ` + strings.Join(orderColumns, ", ") + ` FROM orders`
	insertOrderSQL = `INSERT INTO orders(` + strings.Join(orderColumns, ", ") + `) VALUES (` + placeholders(1, len(orderColumns)) + `)`
	updateOrderSQL = buildUpdateOrderSQL()
)

func placeholders(from, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "$%d", from+i)
	}
	return b.String()
}

func buildUpdateOrderSQL() string {
	sets := make([]string, 0, len(orderColumns)-1)
	for i, c := range orderColumns[1:] {
		sets = append(sets, fmt.Sprintf("%s=$%d", c, i+2))
	}
	return `UPDATE orders SET ` + strings.Join(sets, ", ") + ` WHERE id=$1`
}

// orderArgs and orderDest must follow orderColumns.
func orderArgs(o *Order) []any {
	scans := o.Scans
	if scans == nil {
		scans = []Scan{}
	}
	return []any{
		o.ID, o.OrderID, o.UserID, string(o.Type), o.SourceCartID, o.Address, o.IsAppOrder, o.AbandonedOrder,
		string(o.Status), string(o.ShippingStatus), o.CourierStatus, string(o.PaymentStatus), string(o.PaymentMethod),
		o.OrderAmount, o.Subtotal, o.GST, o.DeliveryCharge, o.Discount,
		o.CancellationReason, o.StockDeducted, o.StockRestored,
		o.AWBCode, o.ReturnAWB, o.CourierName, o.ShipmentID, o.ProviderOrderID,
		o.PickupScheduled, o.PickupDate, o.PickupTokenNumber, o.PickupSlot, o.ExpectedDeliveryDate,
		scans, o.ShippingLabelURL, o.ShippingManifestURL,
		o.CourierAssignedAt, o.PickedUpAt, o.DeliveredAt, o.RTOInitiatedAt, o.RTODeliveredAt,
		o.CreatedAt, o.UpdatedAt,
	}
}

func orderDest(o *Order) []any {
	return []any{
		&o.ID, &o.OrderID, &o.UserID, &o.Type, &o.SourceCartID, &o.Address, &o.IsAppOrder, &o.AbandonedOrder,
		&o.Status, &o.ShippingStatus, &o.CourierStatus, &o.PaymentStatus, &o.PaymentMethod,
		&o.OrderAmount, &o.Subtotal, &o.GST, &o.DeliveryCharge, &o.Discount,
		&o.CancellationReason, &o.StockDeducted, &o.StockRestored,
		&o.AWBCode, &o.ReturnAWB, &o.CourierName, &o.ShipmentID, &o.ProviderOrderID,
		&o.PickupScheduled, &o.PickupDate, &o.PickupTokenNumber, &o.PickupSlot, &o.ExpectedDeliveryDate,
		&o.Scans, &o.ShippingLabelURL, &o.ShippingManifestURL,
		&o.CourierAssignedAt, &o.PickedUpAt, &o.DeliveredAt, &o.RTOInitiatedAt, &o.RTODeliveredAt,
		&o.CreatedAt, &o.UpdatedAt,
	}
}

func lookupClause(l Lookup) (string, string, error) {
	if l.Empty() {
		return "", "", validation("order lookup needs an id, awb or provider order id")
	}
	switch {
	case l.ID != "":
		return "id", l.ID, nil
	case l.AWB != "":
		return "awb_code", l.AWB, nil
	case l.ProviderOrderID != "":
		return "provider_order_id", l.ProviderOrderID, nil
	}
	return "return_awb", l.ReturnAWB, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Create inserts the order and its items; stock is deducted in the same transaction
// when o.StockDeducted is set.
func (r *Repo) Create(ctx context.Context, o *Order) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, insertOrderSQL, orderArgs(o)...); err != nil {
		if isUniqueViolation(err) {
			return conflict("order %s already exists", o.OrderID)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	for i, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, position, product_id, variant, quantity, price)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			o.ID, i, it.ProductID, string(it.VariantName), it.Quantity, it.Price,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	if o.StockDeducted {
		if err := deductStock(ctx, tx, o); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *Repo) Get(ctx context.Context, id string) (*Order, error) {
	return r.Find(ctx, Lookup{ID: id})
}

func (r *Repo) Find(ctx context.Context, l Lookup) (*Order, error) {
	return loadOrder(ctx, r.DB, l, false)
}

func loadOrder(ctx context.Context, q querier, l Lookup, forUpdate bool) (*Order, error) {
	col, val, err := lookupClause(l)
	if err != nil {
		return nil, err
	}
	sql := selectOrderSQL + ` WHERE ` + col + `=$1 LIMIT 1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	var o Order
	if err := q.QueryRow(ctx, sql, val).Scan(orderDest(&o)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("order not found")
		}
		return nil, fmt.Errorf("load order: %w", err)
	}
	if err := loadChildren(ctx, q, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func loadChildren(ctx context.Context, q querier, o *Order) error {
	rows, err := q.Query(ctx, `SELECT product_id, variant, quantity, price
	                           FROM order_items WHERE order_id=$1 ORDER BY position`, o.ID)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}
	o.Items = o.Items[:0]
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.VariantName, &it.Quantity, &it.Price); err != nil {
			rows.Close()
			return err
		}
		o.Items = append(o.Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.Query(ctx, `SELECT id, type, status, is_raised, is_resolved, reason, note, raised_at, resolved_at
	                          FROM order_requests WHERE order_id=$1 ORDER BY raised_at, id`, o.ID)
	if err != nil {
		return fmt.Errorf("load requests: %w", err)
	}
	defer rows.Close()
	o.Requests = o.Requests[:0]
	for rows.Next() {
		var rq Request
		if err := rows.Scan(&rq.ID, &rq.Type, &rq.Status, &rq.IsRaised, &rq.IsResolved,
			&rq.Reason, &rq.Note, &rq.RaisedAt, &rq.ResolvedAt); err != nil {
			return err
		}
		o.Requests = append(o.Requests, rq)
	}
	return rows.Err()
}

func (r *Repo) List(ctx context.Context, f Filter) ([]Order, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, fmt.Sprintf("type=$%d", len(args)))
	}
	if f.Abandoned != nil {
		args = append(args, *f.Abandoned)
		where = append(where, fmt.Sprintf("abandoned_order=$%d", len(args)))
	}
	sql := selectOrderSQL
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	sql += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(orderDest(&o)...); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := loadChildren(ctx, r.DB, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Mutate locks the order row (SELECT ... FOR UPDATE), so concurrent actions on one order
// are serialised and the check inside fn cannot race with another writer.
func (r *Repo) Mutate(ctx context.Context, l Lookup, fn MutateFunc) (*Order, Outcome, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, Outcome{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := loadOrder(ctx, tx, l, true)
	if err != nil {
		return nil, Outcome{}, err
	}
	out, err := fn(o)
	if err != nil {
		return o, out, err
	}
	if !out.Changed {
		return o, out, tx.Commit(ctx)
	}

	if out.RestockReason != "" {
		if err := restoreStock(ctx, tx, o, out.RestockReason); err != nil {
			return nil, out, err
		}
	}
	o.UpdatedAt = time.Now().UTC()
	if _, err := tx.Exec(ctx, updateOrderSQL, orderArgs(o)...); err != nil {
		return nil, out, fmt.Errorf("update order: %w", err)
	}
	if err := saveRequests(ctx, tx, o); err != nil {
		return nil, out, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, out, err
	}
	return o, out, nil
}

func saveRequests(ctx context.Context, tx pgx.Tx, o *Order) error {
	for _, rq := range o.Requests {
		_, err := tx.Exec(ctx, `
			INSERT INTO order_requests(id, order_id, type, status, is_raised, is_resolved, reason, note, raised_at, resolved_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (id) DO UPDATE
			SET status=EXCLUDED.status, is_resolved=EXCLUDED.is_resolved, note=EXCLUDED.note, resolved_at=EXCLUDED.resolved_at`,
			rq.ID, o.ID, string(rq.Type), string(rq.Status), rq.IsRaised, rq.IsResolved, rq.Reason, rq.Note, rq.RaisedAt, rq.ResolvedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return conflict("a %s request is already open for this order", rq.Type)
			}
			return fmt.Errorf("save request: %w", err)
		}
	}
	return nil
}

func (r *Repo) NextOrderNumber(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.QueryRow(ctx, `SELECT nextval('order_number_seq')`).Scan(&n)
	return n, err
}
