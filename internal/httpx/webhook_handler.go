package httpx

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-commerce-orders/internal/shipping"
)

// WebhookHandler receives courier status pushes. The courier treats anything but 200 as a
// failed delivery and retries, so only persistence failures answer otherwise.
type WebhookHandler struct {
	Reconciler *shipping.Reconciler
	// Secret is compared with the X-Api-Key header. An empty secret rejects every call.
	Secret string
	Log    *zap.SugaredLogger
}

func (h *WebhookHandler) Register(r chi.Router) {
	r.Post("/webhooks/courier", h.courier)
}

func (h *WebhookHandler) courier(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("X-Api-Key")
	if h.Secret == "" || subtle.ConstantTimeCompare([]byte(key), []byte(h.Secret)) != 1 {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "invalid webhook key", Code: http.StatusForbidden})
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unreadable body", Code: http.StatusBadRequest})
		return
	}
	var p shipping.WebhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.Log.Warnw("undecodable courier webhook", "error", err, "body", string(raw))
		writeJSON(w, http.StatusOK, shipping.Outcome{Status: shipping.ResultIgnored})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Reconciler.Handle(ctx, p)
	if err != nil {
		h.Log.Errorw("courier webhook not persisted", "awb", p.AWB, "status", p.Status(), "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "update not persisted", Code: http.StatusInternalServerError})
		return
	}
	writeJSON(w, http.StatusOK, res)
}
