package orders

import "strings"

type Status string

const (
	StatusNew       Status = "New"
	StatusAccepted  Status = "Accepted"
	StatusRejected  Status = "Rejected"
	StatusCancelled Status = "Cancelled"
	StatusShipped   Status = "Shipped"
	StatusDelivered Status = "Delivered"
	StatusReturned  Status = "Returned"
	StatusReplaced  Status = "Replaced"
	StatusHold      Status = "Hold"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusAccepted, StatusRejected, StatusCancelled, StatusShipped,
		StatusDelivered, StatusReturned, StatusReplaced, StatusHold:
		return true
	}
	return false
}

// Terminal states absorb every later signal.
func (s Status) Terminal() bool {
	switch s {
	case StatusCancelled, StatusRejected, StatusReturned, StatusReplaced:
		return true
	}
	return false
}

// preDelivery reports whether a courier progress event may still move the order to Shipped.
func (s Status) preDelivery() bool {
	return s == StatusNew || s == StatusAccepted || s == StatusShipped
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "Pending"
	PaymentPaid     PaymentStatus = "Paid"
	PaymentRefunded PaymentStatus = "Refunded"
)

type PaymentMethod string

const (
	PaymentCOD     PaymentMethod = "COD"
	PaymentPrepaid PaymentMethod = "Prepaid"
)

type OrderType string

const (
	TypeRegular OrderType = "Regular"
	TypePos     OrderType = "Pos"
)

type RequestType string

const (
	RequestCancel   RequestType = "Cancel"
	RequestReturn   RequestType = "Return"
	RequestWarranty RequestType = "Warranty"
)

func (t RequestType) Valid() bool {
	return t == RequestCancel || t == RequestReturn || t == RequestWarranty
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "Pending"
	RequestRejected RequestStatus = "Rejected"
	RequestApproved RequestStatus = "Approved"
)

// ShippingStatus is the closed vocabulary the courier's free-text statuses are folded into.
// The provider's verbatim text is kept separately in Order.CourierStatus.
type ShippingStatus string

const (
	ShipPending            ShippingStatus = "Pending"
	ShipCourierAssigned    ShippingStatus = "Courier Assigned"
	ShipPickupScheduled    ShippingStatus = "Pickup Scheduled"
	ShipPickedUp           ShippingStatus = "Picked Up"
	ShipShipped            ShippingStatus = "Shipped"
	ShipInTransit          ShippingStatus = "In Transit"
	ShipOutForPickup       ShippingStatus = "Out For Pickup"
	ShipOutForDelivery     ShippingStatus = "Out For Delivery"
	ShipDelivered          ShippingStatus = "Delivered"
	ShipCancelled          ShippingStatus = "Cancelled"
	ShipRTOInitiated       ShippingStatus = "RTO Initiated"
	ShipRTOInTransit       ShippingStatus = "RTO In Transit"
	ShipRTODelivered       ShippingStatus = "RTO Delivered"
	ShipRTOAcknowledged    ShippingStatus = "RTO Acknowledged"
	ShipReturnDelivered    ShippingStatus = "Return Delivered"
	ShipReturnAcknowledged ShippingStatus = "Return Acknowledged"
	ShipOther              ShippingStatus = "Other"
)

// providerStatuses maps every normalised courier string we have seen to the closed enum.
var providerStatuses = map[string]ShippingStatus{
	"PENDING":             ShipPending,
	"NEW":                 ShipPending,
	"AWB ASSIGNED":        ShipCourierAssigned,
	"COURIER ASSIGNED":    ShipCourierAssigned,
	"PICKUP SCHEDULED":    ShipPickupScheduled,
	"PICKUP GENERATED":    ShipPickupScheduled,
	"PICKUP QUEUED":       ShipPickupScheduled,
	"PICKED UP":           ShipPickedUp,
	"SHIPPED":             ShipShipped,
	"IN TRANSIT":          ShipInTransit,
	"OUT FOR PICKUP":      ShipOutForPickup,
	"OUT FOR DELIVERY":    ShipOutForDelivery,
	"DELIVERED":           ShipDelivered,
	"CANCELED":            ShipCancelled,
	"CANCELLED":           ShipCancelled,
	"RTO INITIATED":       ShipRTOInitiated,
	"RTO IN TRANSIT":      ShipRTOInTransit,
	"RTO":                 ShipRTOInTransit,
	"RTO DELIVERED":       ShipRTODelivered,
	"RTO ACKNOWLEDGED":    ShipRTOAcknowledged,
	"RETURN DELIVERED":    ShipReturnDelivered,
	"RETURN ACKNOWLEDGED": ShipReturnAcknowledged,
}

// NormalizeCourierStatus upper-cases the provider text, turns '_' and '-' into spaces
// and collapses whitespace, so "rto_in-transit " becomes "RTO IN TRANSIT".
func NormalizeCourierStatus(raw string) string {
	s := strings.ToUpper(raw)
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// ParseShippingStatus maps provider text (raw or normalised) to the closed enum.
func ParseShippingStatus(raw string) ShippingStatus {
	if s, ok := providerStatuses[NormalizeCourierStatus(raw)]; ok {
		return s
	}
	return ShipOther
}

// postPickup is true once the parcel is physically with the courier.
func (s ShippingStatus) postPickup() bool {
	return s == ShipPickedUp || s == ShipShipped || s == ShipInTransit
}

// prePickup lists the shipping states in which a customer may still cancel.
func (s ShippingStatus) prePickup() bool {
	return s == ShipPending || s == ShipCourierAssigned || s == ShipPickupScheduled || s == ""
}
