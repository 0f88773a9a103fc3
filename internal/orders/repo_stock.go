package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// StockShortfall describes one item that could not be taken from stock.
type StockShortfall struct {
	ProductID string      `json:"product_id"`
	Variant   VariantName `json:"variant,omitempty"`
	Required  int         `json:"required"`
	Available int         `json:"available"`
}

// deductStock locks each product (FOR UPDATE), takes the ordered quantity from the total and
// variant counters and records a ledger entry. Any shortfall aborts the whole order.
func deductStock(ctx context.Context, tx pgx.Tx, o *Order) error {
	var short []StockShortfall
	for _, it := range o.Items {
		available, err := lockCounter(ctx, tx, it.ProductID, it.VariantName)
		if err != nil {
			return err
		}
		if available < it.Quantity {
			short = append(short, StockShortfall{
				ProductID: it.ProductID, Variant: it.VariantName, Required: it.Quantity, Available: available,
			})
			continue
		}
		if err := applyDelta(ctx, tx, StockEntry{
			ProductID: it.ProductID,
			Variant:   it.VariantName,
			Delta:     -it.Quantity,
			Reason:    StockReasonPlaced,
			OrderID:   o.ID,
		}); err != nil {
			return err
		}
	}
	if len(short) > 0 {
		parts := make([]string, 0, len(short))
		for _, s := range short {
			parts = append(parts, fmt.Sprintf("%s/%s needs %d has %d", s.ProductID, s.Variant, s.Required, s.Available))
		}
		return conflict("insufficient stock: %s", strings.Join(parts, "; "))
	}
	return nil
}

// restoreStock credits every item of o back to stock. The caller guarantees it runs at most
// once per order (Order.StockRestored is persisted in the same transaction).
func restoreStock(ctx context.Context, tx pgx.Tx, o *Order, reason string) error {
	for _, it := range o.Items {
		if it.Quantity <= 0 {
			continue
		}
		if err := applyDelta(ctx, tx, StockEntry{
			ProductID: it.ProductID,
			Variant:   it.VariantName,
			Delta:     it.Quantity,
			Reason:    reason,
			OrderID:   o.ID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// lockCounter returns the on-hand quantity of the variant, or the product total when
// no variant is given, holding a row lock until the transaction ends.
func lockCounter(ctx context.Context, tx pgx.Tx, productID string, variant VariantName) (int, error) {
	var total int
	if err := tx.QueryRow(ctx, `SELECT total_stock FROM products WHERE id=$1 FOR UPDATE`, productID).Scan(&total); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, notFound("product not found: %s", productID)
		}
		return 0, err
	}
	if variant == "" {
		return total, nil
	}
	var qty int
	err := tx.QueryRow(ctx, `SELECT quantity FROM product_variants WHERE product_id=$1 AND variant=$2 FOR UPDATE`,
		productID, string(variant)).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return qty, err
}

// applyDelta appends the ledger entry and folds it into the product counters.
// The CHECK constraints on the counters reject anything that would go negative.
func applyDelta(ctx context.Context, tx pgx.Tx, e StockEntry) error {
	ct, err := tx.Exec(ctx, `UPDATE products SET total_stock = total_stock + $2, updated_at = now() WHERE id=$1`,
		e.ProductID, e.Delta)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return notFound("product not found: %s", e.ProductID)
	}
	if e.Variant != "" {
		if _, err := tx.Exec(ctx, `
			INSERT INTO product_variants(product_id, variant, quantity) VALUES ($1,$2,$3)
			ON CONFLICT (product_id, variant) DO UPDATE SET quantity = product_variants.quantity + EXCLUDED.quantity`,
			e.ProductID, string(e.Variant), e.Delta,
		); err != nil {
			return fmt.Errorf("update variant stock: %w", err)
		}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO stock_entries(id, product_id, variant, delta, vendor, purchase_price, reason, order_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.ProductID, string(e.Variant), e.Delta, e.Vendor, e.PurchasePrice, e.Reason, e.OrderID,
	); err != nil {
		return fmt.Errorf("insert stock entry: %w", err)
	}
	return nil
}

// AddStock records a vendor purchase (or a manual correction when Delta is negative).
func (r *Repo) AddStock(ctx context.Context, e StockEntry) (*Product, error) {
	if e.Delta == 0 {
		return nil, validation("stock delta must not be zero")
	}
	if e.Reason == "" {
		e.Reason = StockReasonPurchase
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	available, err := lockCounter(ctx, tx, e.ProductID, e.Variant)
	if err != nil {
		return nil, err
	}
	if available+e.Delta < 0 {
		return nil, conflict("stock for %s would become negative (%d%+d)", e.ProductID, available, e.Delta)
	}
	if err := applyDelta(ctx, tx, e); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return r.GetProduct(ctx, e.ProductID)
}

func (r *Repo) GetProduct(ctx context.Context, id string) (*Product, error) {
	ps, err := r.Products(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	p, ok := ps[id]
	if !ok {
		return nil, notFound("product not found: %s", id)
	}
	return &p, nil
}

// Products loads products with their variant counters, keyed by id.
func (r *Repo) Products(ctx context.Context, ids []string) (map[string]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, sku, name, price, total_stock, created_at, updated_at
	                              FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	out, err := scanProducts(rows)
	if err != nil {
		return nil, err
	}
	return out, r.loadVariants(ctx, out)
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, sku, name, price, total_stock, created_at, updated_at
	                              FROM products ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	byID, err := scanProducts(rows)
	if err != nil {
		return nil, err
	}
	if err := r.loadVariants(ctx, byID); err != nil {
		return nil, err
	}
	out := make([]Product, 0, len(byID))
	for _, p := range byID {
		out = append(out, p)
	}
	sortProducts(out)
	return out, nil
}

func sortProducts(ps []Product) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].SKU < ps[j].SKU })
}

func scanProducts(rows pgx.Rows) (map[string]Product, error) {
	defer rows.Close()
	out := map[string]Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.TotalStock, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Variants = VariantStock{}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (r *Repo) loadVariants(ctx context.Context, products map[string]Product) error {
	if len(products) == 0 {
		return nil
	}
	ids := make([]string, 0, len(products))
	for id := range products {
		ids = append(ids, id)
	}
	rows, err := r.DB.Query(ctx, `SELECT product_id, variant, quantity FROM product_variants WHERE product_id = ANY($1)`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			pid     string
			variant VariantName
			qty     int
		)
		if err := rows.Scan(&pid, &variant, &qty); err != nil {
			return err
		}
		products[pid].Variants[variant] = qty
	}
	return rows.Err()
}

// Ledger returns the stock entries of a product, newest first.
func (r *Repo) Ledger(ctx context.Context, productID string, since time.Time) ([]StockEntry, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, product_id, variant, delta, vendor, purchase_price, reason, order_id, created_at
		FROM stock_entries WHERE product_id=$1 AND created_at >= $2 ORDER BY created_at DESC`, productID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StockEntry
	for rows.Next() {
		var e StockEntry
		if err := rows.Scan(&e.ID, &e.ProductID, &e.Variant, &e.Delta, &e.Vendor, &e.PurchasePrice,
			&e.Reason, &e.OrderID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
