package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-commerce-orders/internal/orders"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error    string          `json:"error"`
	Code     int             `json:"code"`
	Provider json.RawMessage `json:"provider,omitempty"`
}

func statusFor(k orders.Kind) int {
	switch k {
	case orders.KindValidation:
		return http.StatusBadRequest
	case orders.KindConflict:
		return http.StatusConflict
	case orders.KindNotFound:
		return http.StatusNotFound
	case orders.KindForbidden:
		return http.StatusForbidden
	case orders.KindUpstream:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError maps domain kinds to status codes. Anything unclassified is a 500 and its
// message is not echoed to the caller.
func writeError(w http.ResponseWriter, log *zap.SugaredLogger, err error) {
	var de *orders.Error
	if !errors.As(err, &de) {
		log.Errorw("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: http.StatusInternalServerError})
		return
	}
	code := statusFor(de.Kind)
	body := errorBody{Error: de.Msg, Code: code}
	if de.Kind == orders.KindUpstream && len(de.Payload) > 0 {
		if json.Valid(de.Payload) {
			body.Provider = de.Payload
		} else {
			body.Provider, _ = json.Marshal(string(de.Payload))
		}
	}
	writeJSON(w, code, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: http.StatusBadRequest})
}

func role(r *http.Request) orders.Role {
	return orders.ParseRole(r.Header.Get("X-Role"))
}

// decode reads an optional JSON body; an empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
