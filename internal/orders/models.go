package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// VariantName identifies a product variant ("M", "Red/XL"); keys of VariantStock.
type VariantName string

// VariantStock holds on-hand units per variant.
type VariantStock map[VariantName]int

type Product struct {
	ID         string          `json:"id"`
	SKU        string          `json:"sku"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	TotalStock int             `json:"total_stock"`
	Variants   VariantStock    `json:"variants"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// StockEntry is an immutable ledger row. Product counters are a cache of the ledger sum.
type StockEntry struct {
	ID            string          `json:"id"`
	ProductID     string          `json:"product_id"`
	Variant       VariantName     `json:"variant,omitempty"`
	Delta         int             `json:"delta"`
	Vendor        string          `json:"vendor,omitempty"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	Reason        string          `json:"reason"`
	OrderID       string          `json:"order_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

const (
	StockReasonPurchase  = "purchase"
	StockReasonPlaced    = "order_placed"
	StockReasonCancelled = "order_cancelled"
	StockReasonReturned  = "order_returned"
)

// Item is the price/quantity snapshot taken when the order was placed.
type Item struct {
	ProductID   string          `json:"product_id"`
	VariantName VariantName     `json:"variant_name,omitempty"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

type Request struct {
	ID         string        `json:"id"`
	Type       RequestType   `json:"type"`
	Status     RequestStatus `json:"status"`
	IsRaised   bool          `json:"is_raised"`
	IsResolved bool          `json:"is_resolved"`
	Reason     string        `json:"reason,omitempty"`
	Note       string        `json:"note,omitempty"`
	RaisedAt   time.Time     `json:"raised_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}

// Scan is one raw tracking event reported by the courier.
type Scan struct {
	Date     string `json:"date"`
	Activity string `json:"activity"`
	Location string `json:"location"`
	Status   string `json:"sr-status-label,omitempty"`
}

type Address struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email,omitempty"`
	Line1   string `json:"line1"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
	Country string `json:"country"`
}

type Order struct {
	ID           string    `json:"id"`
	OrderID      string    `json:"order_id"`
	UserID       string    `json:"user_id,omitempty"`
	Type         OrderType `json:"type"`
	SourceCartID string    `json:"source_cart_id,omitempty"`
	Address      Address   `json:"address"`

	IsAppOrder     bool `json:"is_app_order"`
	AbandonedOrder bool `json:"abandoned_order"`

	Status         Status         `json:"status"`
	ShippingStatus ShippingStatus `json:"shipping_status"`
	CourierStatus  string         `json:"courier_status,omitempty"`
	PaymentStatus  PaymentStatus  `json:"payment_status"`
	PaymentMethod  PaymentMethod  `json:"payment_method"`

	OrderAmount    decimal.Decimal `json:"order_amount"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	GST            decimal.Decimal `json:"gst"`
	DeliveryCharge decimal.Decimal `json:"delivery_charge"`
	Discount       decimal.Decimal `json:"discount"`

	Items    []Item    `json:"items"`
	Requests []Request `json:"requests"`

	CancellationReason string `json:"cancellation_reason,omitempty"`
	StockDeducted      bool   `json:"stock_deducted"`
	StockRestored      bool   `json:"stock_restored"`

	AWBCode              string     `json:"awb_code,omitempty"`
	ReturnAWB            string     `json:"return_awb,omitempty"`
	CourierName          string     `json:"courier_name,omitempty"`
	ShipmentID           string     `json:"shipment_id,omitempty"`
	ProviderOrderID      string     `json:"provider_order_id,omitempty"`
	PickupScheduled      bool       `json:"pickup_scheduled"`
	PickupDate           *time.Time `json:"pickup_date,omitempty"`
	PickupTokenNumber    string     `json:"pickup_token_number,omitempty"`
	PickupSlot           string     `json:"pickup_slot,omitempty"`
	ExpectedDeliveryDate *time.Time `json:"expected_delivery_date,omitempty"`
	Scans                []Scan     `json:"scans,omitempty"`
	ShippingLabelURL     string     `json:"shipping_label_url,omitempty"`
	ShippingManifestURL  string     `json:"shipping_manifest_url,omitempty"`
	CourierAssignedAt    *time.Time `json:"courier_assigned_at,omitempty"`
	PickedUpAt           *time.Time `json:"picked_up_at,omitempty"`
	DeliveredAt          *time.Time `json:"delivered_at,omitempty"`
	RTOInitiatedAt       *time.Time `json:"rto_initiated_at,omitempty"`
	RTODeliveredAt       *time.Time `json:"rto_delivered_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Cart struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Items     []Item    `json:"items"`
	UpdatedAt time.Time `json:"updated_at"`
}

// openRequest returns the pending request of type t, if any.
func (o *Order) openRequest(t RequestType) *Request {
	for i := range o.Requests {
		r := &o.Requests[i]
		if r.Type == t && r.Status == RequestPending {
			return r
		}
	}
	return nil
}

// hasLive reports whether a request of type t exists that was not rejected.
func (o *Order) hasLive(t RequestType) bool {
	for _, r := range o.Requests {
		if r.Type == t && r.Status != RequestRejected {
			return true
		}
	}
	return false
}

func (o *Order) hasAny(t RequestType) bool {
	for _, r := range o.Requests {
		if r.Type == t {
			return true
		}
	}
	return false
}

func timePtr(t time.Time) *time.Time { return &t }
