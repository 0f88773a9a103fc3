package orders

import "github.com/shopspring/decimal"

// Pricing holds the rates used to derive order financials.
type Pricing struct {
	GSTRate               decimal.Decimal
	FreeDeliveryThreshold decimal.Decimal
	DeliveryCharge        decimal.Decimal
}

type Financials struct {
	Subtotal       decimal.Decimal
	GST            decimal.Decimal
	DeliveryCharge decimal.Decimal
	Discount       decimal.Decimal
	OrderAmount    decimal.Decimal
}

// Quote derives the financials of an item snapshot. The discount is capped at the subtotal
// and in-store (Pos) orders never pay delivery.
func (p Pricing) Quote(items []Item, discount decimal.Decimal, t OrderType) Financials {
	var f Financials
	for _, it := range items {
		f.Subtotal = f.Subtotal.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	f.Subtotal = f.Subtotal.Round(2)
	f.GST = f.Subtotal.Mul(p.GSTRate).Round(2)

	if t != TypePos && f.Subtotal.LessThan(p.FreeDeliveryThreshold) {
		f.DeliveryCharge = p.DeliveryCharge.Round(2)
	}
	if discount.IsPositive() {
		f.Discount = decimal.Min(discount, f.Subtotal).Round(2)
	}
	f.OrderAmount = f.Subtotal.Add(f.GST).Add(f.DeliveryCharge).Sub(f.Discount)
	return f
}

func (f Financials) apply(o *Order) {
	o.Subtotal = f.Subtotal
	o.GST = f.GST
	o.DeliveryCharge = f.DeliveryCharge
	o.Discount = f.Discount
	o.OrderAmount = f.OrderAmount
}
