package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-commerce-orders/internal/orders"
	"github.com/ariefcatur/go-commerce-orders/internal/orders/orderstest"
	"github.com/ariefcatur/go-commerce-orders/internal/shipping"
)

const secret = "s3cret"

type testServer struct {
	router http.Handler
	store  *orderstest.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := zap.NewNop().Sugar()
	store := orderstest.New()
	store.AddProduct(orders.Product{
		ID: "p-1", SKU: "TEE", Name: "Tee", Price: decimal.NewFromInt(250), TotalStock: 5,
		Variants: orders.VariantStock{"M": 5},
	})
	svc := &orders.Service{
		Store: store,
		Log:   log,
		Pricing: orders.Pricing{
			GSTRate:               decimal.RequireFromString("0.18"),
			FreeDeliveryThreshold: decimal.NewFromInt(499),
			DeliveryCharge:        decimal.NewFromInt(49),
		},
		Now: func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) },
	}
	r := NewRouter(log)
	(&OrdersHandler{Orders: svc, Log: log}).Register(r)
	(&WebhookHandler{Reconciler: &shipping.Reconciler{Orders: svc, Log: log}, Secret: secret, Log: log}).Register(r)
	return &testServer{router: r, store: store}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) place(t *testing.T) orders.Order {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/orders",
		`{"user_id":"u-1","address":{"name":"Asha","city":"Pune"},"items":[{"product_id":"p-1","variant_name":"M","quantity":2}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[orders.Order](t, rec)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestPlaceAndGetOrder(t *testing.T) {
	s := newTestServer(t)
	o := s.place(t)
	assert.Equal(t, orders.StatusNew, o.Status)
	assert.Equal(t, "590", o.OrderAmount.String())

	rec := s.do(t, http.MethodGet, "/orders/"+o.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, o.OrderID, decodeBody[orders.Order](t, rec).OrderID)

	rec = s.do(t, http.MethodGet, "/orders/"+o.ID+"/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.StatusNew, decodeBody[orders.StatusView](t, rec).Status)
}

func TestErrorBodies(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/orders/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"order not found","code":404}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/orders", `{"items":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 400, decodeBody[errorBody](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/orders", `{"items":[{"product_id":"p-1","variant_name":"M","quantity":9}]}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, "/orders?status=Lost", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/orders?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpstreamErrorCarriesProviderBody(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, zap.NewNop().Sugar(), orders.Upstream("courier assign_awb: status 422", []byte(`{"message":"not serviceable"}`)))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"courier assign_awb: status 422","code":502,"provider":{"message":"not serviceable"}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	writeError(rec, zap.NewNop().Sugar(), errors.New("pool closed"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error","code":500}`, rec.Body.String())
}

func TestActionsNeedOperatorRole(t *testing.T) {
	s := newTestServer(t)
	o := s.place(t)

	rec := s.do(t, http.MethodPost, "/orders/"+o.ID+"/actions/accept", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/orders/"+o.ID+"/actions/accept", "", "X-Role", "staff")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, orders.StatusAccepted, decodeBody[orders.Order](t, rec).Status)

	rec = s.do(t, http.MethodPost, "/orders/"+o.ID+"/actions/deliver", "", "X-Role", "staff")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelRequestFlow(t *testing.T) {
	s := newTestServer(t)
	o := s.place(t)

	rec := s.do(t, http.MethodPost, "/orders/"+o.ID+"/requests", `{"type":"Cancel","reason":"changed my mind"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/orders/"+o.ID+"/requests", `{"type":"Cancel","reason":"again"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/orders/"+o.ID+"/requests/Cancel/reject", `{"note":"already packed"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/orders/"+o.ID+"/requests/Cancel/reject", `{"note":"already packed"}`, "X-Role", "admin")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[orders.Order](t, rec)
	require.Len(t, got.Requests, 1)
	assert.Equal(t, orders.RequestRejected, got.Requests[0].Status)
}

func TestShipmentRoutesWithoutCourier(t *testing.T) {
	s := newTestServer(t)
	o := s.place(t)
	rec := s.do(t, http.MethodGet, "/orders/"+o.ID+"/tracking", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCourierWebhook(t *testing.T) {
	s := newTestServer(t)
	o := s.place(t)
	shipped := o
	shipped.Status = orders.StatusShipped
	shipped.ShippingStatus = orders.ShipInTransit
	shipped.AWBCode = "AWB1"
	s.store.Put(&shipped)

	t.Run("wrong key", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/webhooks/courier", `{"awb":"AWB1","current_status":"DELIVERED"}`, "X-Api-Key", "nope")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
	t.Run("unknown order", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/webhooks/courier", `{"awb":"OTHER","current_status":"DELIVERED"}`, "X-Api-Key", secret)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"unknown"}`, rec.Body.String())
	})
	t.Run("garbage is acknowledged", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/webhooks/courier", `{"awb":`, "X-Api-Key", secret)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ignored"}`, rec.Body.String())
	})
	t.Run("delivered", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/webhooks/courier", `{"awb":"AWB1","current_status":"DELIVERED"}`, "X-Api-Key", secret)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"updated","order_id":"`+o.OrderID+`"}`, rec.Body.String())
	})
	t.Run("persistence failure", func(t *testing.T) {
		s.store.FailWrites = errors.New("db down")
		defer func() { s.store.FailWrites = nil }()
		rec := s.do(t, http.MethodPost, "/webhooks/courier", `{"awb":"AWB1","current_status":"RTO INITIATED"}`, "X-Api-Key", secret)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
