// Package inventory is the stock ledger's write side: vendor purchases and manual corrections.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-commerce-orders/internal/orders"
	"github.com/ariefcatur/go-commerce-orders/internal/redisx"
)

// Ledger is satisfied by *orders.Repo.
type Ledger interface {
	AddStock(ctx context.Context, e orders.StockEntry) (*orders.Product, error)
	GetProduct(ctx context.Context, id string) (*orders.Product, error)
	ListProducts(ctx context.Context) ([]orders.Product, error)
	Ledger(ctx context.Context, productID string, since time.Time) ([]orders.StockEntry, error)
}

type Service struct {
	Repo  Ledger
	Redis redis.Cmdable // optional
	Log   *zap.SugaredLogger
}

type StockInput struct {
	ProductID     string             `json:"-"`
	Variant       orders.VariantName `json:"variant,omitempty"`
	Quantity      int                `json:"quantity"`
	Vendor        string             `json:"vendor,omitempty"`
	PurchasePrice decimal.Decimal    `json:"purchase_price"`
	Reason        string             `json:"reason,omitempty"`
	// IdempotencyKey deduplicates retried submissions for 24h.
	IdempotencyKey string `json:"-"`
}

// AddStock appends a ledger entry and folds it into the product counters. A repeated
// idempotency key returns the current product without writing again; replayed reports that.
func (s *Service) AddStock(ctx context.Context, in StockInput, role orders.Role) (p *orders.Product, replayed bool, err error) {
	if err := orders.Authorize(role, orders.ResourceStock); err != nil {
		return nil, false, err
	}
	if in.ProductID == "" {
		return nil, false, &orders.Error{Kind: orders.KindValidation, Msg: "product id is required"}
	}
	if in.PurchasePrice.IsNegative() {
		return nil, false, &orders.Error{Kind: orders.KindValidation, Msg: "purchase price must not be negative"}
	}

	var key string
	if in.IdempotencyKey != "" {
		key = fmt.Sprintf(redisx.KeyIdemStock, in.IdempotencyKey)
		won, err := redisx.Claim(ctx, s.Redis, key, redisx.TTLIdempotency)
		if err != nil {
			s.log().Warnw("stock idempotency unavailable", "error", err)
			won = true
		}
		if !won {
			p, err := s.Repo.GetProduct(ctx, in.ProductID)
			return p, true, err
		}
	}

	p, err = s.Repo.AddStock(ctx, orders.StockEntry{
		ProductID:     in.ProductID,
		Variant:       in.Variant,
		Delta:         in.Quantity,
		Vendor:        in.Vendor,
		PurchasePrice: in.PurchasePrice,
		Reason:        in.Reason,
	})
	if err != nil {
		if key != "" {
			redisx.Release(ctx, s.Redis, key)
		}
		return nil, false, err
	}
	s.log().Infow("stock added", "product_id", p.ID, "variant", in.Variant, "delta", in.Quantity, "total_stock", p.TotalStock)
	return p, false, nil
}

func (s *Service) Products(ctx context.Context) ([]orders.Product, error) {
	return s.Repo.ListProducts(ctx)
}

func (s *Service) Product(ctx context.Context, id string) (*orders.Product, error) {
	return s.Repo.GetProduct(ctx, id)
}

// History returns the ledger entries of a product written since the given time.
func (s *Service) History(ctx context.Context, productID string, since time.Time) ([]orders.StockEntry, error) {
	if _, err := s.Repo.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.Repo.Ledger(ctx, productID, since)
}

func (s *Service) log() *zap.SugaredLogger {
	if s.Log != nil {
		return s.Log
	}
	return zap.S()
}
