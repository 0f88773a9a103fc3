package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

// ID is a provider identifier. The API sends the same field as a number or a string.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes numeric ids as numbers, which is what the provider expects.
func (id ID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

type OrderItem struct {
	Name         string `json:"name"`
	SKU          string `json:"sku"`
	Units        int    `json:"units"`
	SellingPrice string `json:"selling_price"`
}

type CreateShipmentRequest struct {
	OrderID           string      `json:"order_id"`
	OrderDate         string      `json:"order_date"`
	PickupLocation    string      `json:"pickup_location"`
	BillingName       string      `json:"billing_customer_name"`
	BillingAddress    string      `json:"billing_address"`
	BillingAddress2   string      `json:"billing_address_2,omitempty"`
	BillingCity       string      `json:"billing_city"`
	BillingPincode    string      `json:"billing_pincode"`
	BillingState      string      `json:"billing_state"`
	BillingCountry    string      `json:"billing_country"`
	BillingEmail      string      `json:"billing_email,omitempty"`
	BillingPhone      string      `json:"billing_phone"`
	ShippingIsBilling bool        `json:"shipping_is_billing"`
	Items             []OrderItem `json:"order_items"`
	PaymentMethod     string      `json:"payment_method"`
	SubTotal          string      `json:"sub_total"`
	Length            float64     `json:"length"`
	Breadth           float64     `json:"breadth"`
	Height            float64     `json:"height"`
	Weight            float64     `json:"weight"`
}

type CreateShipmentResponse struct {
	OrderID    ID     `json:"order_id"`
	ShipmentID ID     `json:"shipment_id"`
	Status     string `json:"status"`
	AWBCode    string `json:"awb_code"`
}

// CreateShipment registers the order with the provider and returns its ids.
func (c *Client) CreateShipment(ctx context.Context, req CreateShipmentRequest) (*CreateShipmentResponse, error) {
	if req.PickupLocation == "" {
		req.PickupLocation = c.cfg.PickupLocation
	}
	var out CreateShipmentResponse
	if err := c.do(ctx, "create_shipment", http.MethodPost, "/orders/create/adhoc", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type AWBAssignment struct {
	AWBCode     string `json:"awb_code"`
	CourierName string `json:"courier_name"`
	ShipmentID  ID     `json:"shipment_id"`
	OrderID     ID     `json:"order_id"`
}

type assignAWBResponse struct {
	AssignStatus int `json:"awb_assign_status"`
	Response     struct {
		Data AWBAssignment `json:"data"`
	} `json:"response"`
}

// AssignAWB asks the provider to pick a courier and allocate a waybill for the shipment.
func (c *Client) AssignAWB(ctx context.Context, shipmentID string) (*AWBAssignment, error) {
	var out assignAWBResponse
	in := map[string]any{"shipment_id": ID(shipmentID)}
	if err := c.do(ctx, "assign_awb", http.MethodPost, "/courier/assign/awb", in, &out); err != nil {
		return nil, err
	}
	if out.AssignStatus != 1 || out.Response.Data.AWBCode == "" {
		b, _ := json.Marshal(out)
		return nil, &Error{Op: "assign_awb", StatusCode: http.StatusOK, Body: b}
	}
	return &out.Response.Data, nil
}

type Pickup struct {
	ScheduledDate string `json:"pickup_scheduled_date"`
	TokenNumber   string `json:"pickup_token_number"`
	Slot          string `json:"pickup_slot,omitempty"`
}

type generatePickupResponse struct {
	PickupStatus int    `json:"pickup_status"`
	Response     Pickup `json:"response"`
}

func (c *Client) GeneratePickup(ctx context.Context, shipmentID string) (*Pickup, error) {
	var out generatePickupResponse
	in := map[string]any{"shipment_id": []ID{ID(shipmentID)}}
	if err := c.do(ctx, "generate_pickup", http.MethodPost, "/courier/generate/pickup", in, &out); err != nil {
		return nil, err
	}
	if out.PickupStatus != 1 {
		b, _ := json.Marshal(out)
		return nil, &Error{Op: "generate_pickup", StatusCode: http.StatusOK, Body: b}
	}
	return &out.Response, nil
}

type ShipmentDetail struct {
	ID                  ID     `json:"id"`
	AWB                 string `json:"awb"`
	Courier             string `json:"courier"`
	PickupScheduledDate string `json:"pickup_scheduled_date"`
	PickupTokenNumber   string `json:"pickup_token_number"`
	EDD                 string `json:"etd"`
}

type OrderDetail struct {
	ID       ID             `json:"id"`
	Status   string         `json:"status"`
	Shipment ShipmentDetail `json:"shipments"`
}

// PickupScheduled reports whether the provider already booked a pickup on its own.
func (d *OrderDetail) PickupScheduled() bool {
	return d.Shipment.PickupScheduledDate != ""
}

// OrderDetail fetches the provider's view of an order.
func (c *Client) OrderDetail(ctx context.Context, providerOrderID string) (*OrderDetail, error) {
	var out struct {
		Data OrderDetail `json:"data"`
	}
	if err := c.do(ctx, "order_detail", http.MethodGet, "/orders/show/"+url.PathEscape(providerOrderID), nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (c *Client) GenerateLabel(ctx context.Context, shipmentID string) (string, error) {
	var out struct {
		LabelCreated int    `json:"label_created"`
		LabelURL     string `json:"label_url"`
		Response     string `json:"response"`
	}
	in := map[string]any{"shipment_id": []ID{ID(shipmentID)}}
	if err := c.do(ctx, "generate_label", http.MethodPost, "/courier/generate/label", in, &out); err != nil {
		return "", err
	}
	if out.LabelURL == "" {
		return "", &Error{Op: "generate_label", StatusCode: http.StatusOK, Body: []byte(out.Response)}
	}
	return out.LabelURL, nil
}

func (c *Client) GenerateManifest(ctx context.Context, shipmentID string) (string, error) {
	var out struct {
		Status      int    `json:"status"`
		ManifestURL string `json:"manifest_url"`
	}
	in := map[string]any{"shipment_id": []ID{ID(shipmentID)}}
	if err := c.do(ctx, "generate_manifest", http.MethodPost, "/manifests/generate", in, &out); err != nil {
		return "", err
	}
	if out.ManifestURL == "" {
		return "", &Error{Op: "generate_manifest", StatusCode: http.StatusOK, Body: []byte("no manifest url")}
	}
	return out.ManifestURL, nil
}

type TrackActivity struct {
	Date     string `json:"date"`
	Activity string `json:"activity"`
	Location string `json:"location"`
	Status   string `json:"sr-status-label"`
}

type Tracking struct {
	TrackStatus    int             `json:"track_status"`
	ShipmentStatus json.RawMessage `json:"shipment_status"`
	CurrentStatus  string          `json:"current_status,omitempty"`
	ETD            string          `json:"etd"`
	TrackURL       string          `json:"track_url"`
	ShipmentTrack  []struct {
		AWBCode       string `json:"awb_code"`
		CourierName   string `json:"courier_name"`
		CurrentStatus string `json:"current_status"`
		DeliveredDate string `json:"delivered_date"`
	} `json:"shipment_track"`
	Activities []TrackActivity `json:"shipment_track_activities"`
}

// Status returns the latest status the tracking payload reports.
func (t *Tracking) Status() string {
	if t.CurrentStatus != "" {
		return t.CurrentStatus
	}
	if len(t.ShipmentTrack) > 0 {
		return t.ShipmentTrack[0].CurrentStatus
	}
	return ""
}

type trackResponse struct {
	TrackingData Tracking `json:"tracking_data"`
}

func (c *Client) TrackByAWB(ctx context.Context, awb string) (*Tracking, error) {
	var out trackResponse
	if err := c.do(ctx, "track_awb", http.MethodGet, "/courier/track/awb/"+url.PathEscape(awb), nil, &out); err != nil {
		return nil, err
	}
	return &out.TrackingData, nil
}

func (c *Client) TrackByShipment(ctx context.Context, shipmentID string) (*Tracking, error) {
	var out trackResponse
	if err := c.do(ctx, "track_shipment", http.MethodGet, "/courier/track/shipment/"+url.PathEscape(shipmentID), nil, &out); err != nil {
		return nil, err
	}
	return &out.TrackingData, nil
}
