package interfaces

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"boxoffice/internal/pkg/fault"
	"boxoffice/internal/service/booking/application"
)

// HTTPHandler exposes booking confirmation over a small JSON facade.
type HTTPHandler struct {
	svc *application.Service
}

// NewHTTPHandler wraps the service.
func NewHTTPHandler(svc *application.Service) *HTTPHandler {
	return &HTTPHandler{svc: svc}
}

// Register mounts the routes.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/bookings/confirm", h.confirm)
}

type confirmRequest struct {
	ReservationID string            `json:"reservation_id"`
	PaymentMethod string            `json:"payment_method,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (h *HTTPHandler) confirm(w http.ResponseWriter, r *http.Request) {
	owner := r.Header.Get("X-Caller-ID")
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "caller id required")
		return
	}
	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey == "" {
		writeError(w, http.StatusBadRequest, "Idempotency-Key header required")
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.svc.Confirm(r.Context(), application.ConfirmInput{
		ReservationID:  req.ReservationID,
		OwnerID:        owner,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: idemKey,
		Metadata:       req.Metadata,
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeFault(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch fault.KindOf(err) {
	case fault.KindNotFound:
		status = http.StatusNotFound
	case fault.KindConflict:
		status = http.StatusConflict
	case fault.KindInvalidState:
		status = http.StatusUnprocessableEntity
	case fault.KindExternalFailure:
		status = http.StatusPaymentRequired
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
