package orders

import (
	"context"
	"time"
)

// Lookup selects one order. The first non-empty field wins, in declaration order.
type Lookup struct {
	ID              string
	AWB             string
	ProviderOrderID string
	ReturnAWB       string
}

func (l Lookup) Empty() bool {
	return l.ID == "" && l.AWB == "" && l.ProviderOrderID == "" && l.ReturnAWB == ""
}

// Outcome describes what a MutateFunc did to the order it was handed.
type Outcome struct {
	Changed    bool
	PrevStatus Status
	// RestockReason is set when the items must be credited back to stock in the same write.
	RestockReason string
	Raised        *Request
	Resolved      []Request
}

func (o Outcome) StatusChanged(cur Status) bool { return o.PrevStatus != "" && o.PrevStatus != cur }

// MutateFunc edits the order in place. Returning an error aborts the write.
type MutateFunc func(o *Order) (Outcome, error)

type Filter struct {
	Status    Status
	Type      OrderType
	Abandoned *bool
	Limit     int
	Offset    int
}

type Store interface {
	// Create inserts the order. When o.StockDeducted is set the item quantities are
	// taken from stock in the same transaction; a shortfall is a Conflict.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Find(ctx context.Context, l Lookup) (*Order, error)
	List(ctx context.Context, f Filter) ([]Order, error)
	// Mutate loads the order under a row lock, applies fn and persists the result atomically,
	// including any stock restoration the Outcome asks for.
	Mutate(ctx context.Context, l Lookup, fn MutateFunc) (*Order, Outcome, error)
	NextOrderNumber(ctx context.Context) (int64, error)
	Products(ctx context.Context, ids []string) (map[string]Product, error)
	IdleCarts(ctx context.Context, before time.Time, limit int) ([]Cart, error)
}
