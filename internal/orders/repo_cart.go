package orders

import (
	"context"
	"time"
)

// IdleCarts returns non-empty carts untouched since before that have not yet been
// turned into an abandoned order.
func (r *Repo) IdleCarts(ctx context.Context, before time.Time, limit int) ([]Cart, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.Query(ctx, `
		SELECT c.id, c.user_id, c.updated_at
		FROM carts c
		WHERE c.updated_at < $1
		  AND EXISTS (SELECT 1 FROM cart_items i WHERE i.cart_id = c.id)
		  AND NOT EXISTS (SELECT 1 FROM orders o WHERE o.source_cart_id = c.id)
		ORDER BY c.updated_at
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	var carts []Cart
	for rows.Next() {
		var c Cart
		if err := rows.Scan(&c.ID, &c.UserID, &c.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		carts = append(carts, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range carts {
		items, err := r.DB.Query(ctx, `SELECT product_id, variant, quantity, price
		                               FROM cart_items WHERE cart_id=$1 ORDER BY position`, carts[i].ID)
		if err != nil {
			return nil, err
		}
		for items.Next() {
			var it Item
			if err := items.Scan(&it.ProductID, &it.VariantName, &it.Quantity, &it.Price); err != nil {
				items.Close()
				return nil, err
			}
			carts[i].Items = append(carts[i].Items, it)
		}
		items.Close()
		if err := items.Err(); err != nil {
			return nil, err
		}
	}
	return carts, nil
}
