package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-commerce-orders/internal/orders"
	"github.com/ariefcatur/go-commerce-orders/internal/shipping"
)

type OrdersHandler struct {
	Orders   *orders.Service
	Shipping *shipping.Dispatcher // optional; shipment routes answer 503 without it
	Log      *zap.SugaredLogger
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.placeOrder)
	r.Get("/orders", h.listOrders)
	r.Route("/orders/{id}", func(r chi.Router) {
		r.Get("/", h.getOrder)
		r.Get("/status", h.getStatus)
		r.Post("/actions/{action}", h.changeStatus)
		r.Post("/requests", h.raiseRequest)
		r.Post("/requests/{type}/reject", h.rejectRequest)
		r.Post("/shipment", h.ship)
		r.Post("/shipment/label", h.label)
		r.Post("/shipment/manifest", h.manifest)
		r.Get("/tracking", h.tracking)
	})
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var in orders.PlaceOrderInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.PlaceOrder(ctx, in)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orders.Filter{
		Status: orders.Status(q.Get("status")),
		Type:   orders.OrderType(q.Get("type")),
	}
	if v := q.Get("abandoned"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(w, "abandoned must be a boolean")
			return
		}
		f.Abandoned = &b
	}
	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				badRequest(w, name+" must be a non-negative integer")
				return
			}
			*dst = n
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	list, err := h.Orders.List(ctx, f)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	v, err := h.Orders.Status(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) changeStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decode(r, &body); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	a := orders.Action(chi.URLParam(r, "action"))
	o, err := h.Orders.ChangeStatus(ctx, chi.URLParam(r, "id"), a, role(r), body.Reason)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) raiseRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type   orders.RequestType `json:"type"`
		Reason string             `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.RaiseRequest(ctx, chi.URLParam(r, "id"), body.Type, body.Reason, role(r))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) rejectRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Note string `json:"note"`
	}
	if err := decode(r, &body); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	t := orders.RequestType(chi.URLParam(r, "type"))
	o, err := h.Orders.RejectRequest(ctx, chi.URLParam(r, "id"), t, role(r), body.Note)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) shippingReady(w http.ResponseWriter) bool {
	if h.Shipping == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "courier not configured", Code: http.StatusServiceUnavailable})
		return false
	}
	return true
}

// ship books the order with the courier now instead of waiting for the worker.
func (h *OrdersHandler) ship(w http.ResponseWriter, r *http.Request) {
	if !h.shippingReady(w) {
		return
	}
	if err := orders.Authorize(role(r), orders.ResourceShipment); err != nil {
		writeError(w, h.Log, err)
		return
	}
	o, err := h.Shipping.Ship(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) label(w http.ResponseWriter, r *http.Request) {
	if !h.shippingReady(w) {
		return
	}
	o, err := h.Shipping.Label(r.Context(), chi.URLParam(r, "id"), role(r))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": o.OrderID, "label_url": o.ShippingLabelURL})
}

func (h *OrdersHandler) manifest(w http.ResponseWriter, r *http.Request) {
	if !h.shippingReady(w) {
		return
	}
	o, err := h.Shipping.Manifest(r.Context(), chi.URLParam(r, "id"), role(r))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": o.OrderID, "manifest_url": o.ShippingManifestURL})
}

func (h *OrdersHandler) tracking(w http.ResponseWriter, r *http.Request) {
	if !h.shippingReady(w) {
		return
	}
	t, err := h.Shipping.Tracking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
