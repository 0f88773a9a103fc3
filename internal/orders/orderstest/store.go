// Package orderstest provides an in-memory orders.Store for tests.
package orderstest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-commerce-orders/internal/orders"
)

// Store keeps orders, products and carts in maps guarded by one mutex, which gives Mutate
// the same per-order serialisation the Postgres row lock provides.
type Store struct {
	mu       sync.Mutex
	seq      int64
	orders   map[string]*orders.Order
	products map[string]*orders.Product
	carts    map[string]orders.Cart
	Ledger   []orders.StockEntry

	// Restocks counts stock restorations applied by Mutate.
	Restocks int
	// Writes counts Mutate calls that persisted a change.
	Writes int
	// FailWrites makes every persisting Mutate return this error.
	FailWrites error
}

var _ orders.Store = (*Store)(nil)

var errNotFound = &orders.Error{Kind: orders.KindNotFound, Msg: "order not found"}

func New() *Store {
	return &Store{
		orders:   map[string]*orders.Order{},
		products: map[string]*orders.Product{},
		carts:    map[string]orders.Cart{},
	}
}

func (s *Store) AddProduct(p orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Variants == nil {
		p.Variants = orders.VariantStock{}
	}
	s.products[p.ID] = &p
}

func (s *Store) Product(id string) orders.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := *s.products[id]
	p.Variants = orders.VariantStock{}
	for k, v := range s.products[id].Variants {
		p.Variants[k] = v
	}
	return p
}

func (s *Store) AddCart(c orders.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[c.ID] = c
}

// Put stores o as is, bypassing stock deduction.
func (s *Store) Put(o *orders.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = clone(o)
}

func clone(o *orders.Order) *orders.Order {
	c := *o
	c.Items = append([]orders.Item(nil), o.Items...)
	c.Requests = append([]orders.Request(nil), o.Requests...)
	c.Scans = append([]orders.Scan(nil), o.Scans...)
	return &c
}

func (s *Store) Create(_ context.Context, o *orders.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.orders {
		if existing.OrderID == o.OrderID {
			return &orders.Error{Kind: orders.KindConflict, Msg: "order already exists"}
		}
		if o.SourceCartID != "" && existing.SourceCartID == o.SourceCartID {
			return &orders.Error{Kind: orders.KindConflict, Msg: "cart already converted"}
		}
	}
	if o.StockDeducted {
		for _, it := range o.Items {
			if s.available(it) < it.Quantity {
				return &orders.Error{Kind: orders.KindConflict, Msg: "insufficient stock: " + it.ProductID}
			}
		}
		for _, it := range o.Items {
			s.apply(it, -it.Quantity, orders.StockReasonPlaced, o.ID)
		}
	}
	s.orders[o.ID] = clone(o)
	return nil
}

func (s *Store) available(it orders.Item) int {
	p, ok := s.products[it.ProductID]
	if !ok {
		return 0
	}
	if it.VariantName == "" {
		return p.TotalStock
	}
	return p.Variants[it.VariantName]
}

func (s *Store) apply(it orders.Item, delta int, reason, orderID string) {
	p, ok := s.products[it.ProductID]
	if !ok {
		return
	}
	p.TotalStock += delta
	if it.VariantName != "" {
		p.Variants[it.VariantName] += delta
	}
	s.Ledger = append(s.Ledger, orders.StockEntry{
		ProductID: it.ProductID, Variant: it.VariantName, Delta: delta, Reason: reason, OrderID: orderID,
	})
}

func (s *Store) Get(ctx context.Context, id string) (*orders.Order, error) {
	return s.Find(ctx, orders.Lookup{ID: id})
}

func (s *Store) find(l orders.Lookup) *orders.Order {
	if l.ID != "" {
		return s.orders[l.ID]
	}
	for _, o := range s.orders {
		switch {
		case l.AWB != "" && o.AWBCode == l.AWB,
			l.AWB == "" && l.ProviderOrderID != "" && o.ProviderOrderID == l.ProviderOrderID,
			l.AWB == "" && l.ProviderOrderID == "" && l.ReturnAWB != "" && o.ReturnAWB == l.ReturnAWB:
			return o
		}
	}
	return nil
}

func (s *Store) Find(_ context.Context, l orders.Lookup) (*orders.Order, error) {
	if l.Empty() {
		return nil, &orders.Error{Kind: orders.KindValidation, Msg: "empty lookup"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.find(l)
	if o == nil {
		return nil, errNotFound
	}
	return clone(o), nil
}

func (s *Store) List(_ context.Context, f orders.Filter) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.Order
	for _, o := range s.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.Type != "" && o.Type != f.Type {
			continue
		}
		if f.Abandoned != nil && o.AbandonedOrder != *f.Abandoned {
			continue
		}
		out = append(out, *clone(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) Mutate(_ context.Context, l orders.Lookup, fn orders.MutateFunc) (*orders.Order, orders.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.find(l)
	if cur == nil {
		return nil, orders.Outcome{}, errNotFound
	}
	o := clone(cur)
	out, err := fn(o)
	if err != nil {
		return o, out, err
	}
	if !out.Changed {
		return o, out, nil
	}
	if s.FailWrites != nil {
		return nil, out, s.FailWrites
	}
	seen := map[orders.RequestType]bool{}
	for _, r := range o.Requests {
		if r.Status != orders.RequestPending {
			continue
		}
		if seen[r.Type] {
			return nil, out, &orders.Error{Kind: orders.KindConflict, Msg: "request already open"}
		}
		seen[r.Type] = true
	}
	if out.RestockReason != "" {
		for _, it := range o.Items {
			s.apply(it, it.Quantity, out.RestockReason, o.ID)
		}
		s.Restocks++
	}
	s.Writes++
	s.orders[o.ID] = clone(o)
	return o, out, nil
}

func (s *Store) NextOrderNumber(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq, nil
}

func (s *Store) Products(_ context.Context, ids []string) (map[string]orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]orders.Product{}
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = *p
		}
	}
	return out, nil
}

func (s *Store) IdleCarts(_ context.Context, before time.Time, limit int) ([]orders.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	converted := map[string]bool{}
	for _, o := range s.orders {
		if o.SourceCartID != "" {
			converted[o.SourceCartID] = true
		}
	}
	var out []orders.Cart
	for _, c := range s.carts {
		if c.UpdatedAt.Before(before) && len(c.Items) > 0 && !converted[c.ID] {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
