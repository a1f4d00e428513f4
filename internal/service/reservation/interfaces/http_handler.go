package interfaces

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"boxoffice/internal/pkg/fault"
	"boxoffice/internal/service/reservation/application"
)

// HTTPHandler exposes the reservation engine over a small JSON facade.
// Authentication and tenancy live in front of this process; the caller
// id arrives in a header set by that layer.
type HTTPHandler struct {
	svc *application.Service
}

// NewHTTPHandler wraps the service.
func NewHTTPHandler(svc *application.Service) *HTTPHandler {
	return &HTTPHandler{svc: svc}
}

// Register mounts the routes.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/reservations", h.create)
	mux.HandleFunc("POST /v1/reservations/{id}/cancel", h.cancel)
}

type createRequest struct {
	EventID    string `json:"event_id"`
	Selections []struct {
		UnitID          string `json:"unit_id"`
		ExpectedVersion int64  `json:"expected_version"`
	} `json:"units,omitempty"`
	SectionID string `json:"section_id,omitempty"`
	Quantity  int    `json:"quantity,omitempty"`
}

type createResponse struct {
	ReservationID    string                   `json:"reservation_id,omitempty"`
	ReservedUnitIDs  []string                 `json:"reserved_unit_ids"`
	ExpiresAt        time.Time                `json:"expires_at"`
	ExpiresInSeconds int                      `json:"expires_in_seconds"`
	FailedUnits      []application.FailedUnit `json:"failed_units,omitempty"`
}

func (h *HTTPHandler) create(w http.ResponseWriter, r *http.Request) {
	owner := r.Header.Get("X-Caller-ID")
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "caller id required")
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var result *application.CreateResult
	var err error
	if len(req.Selections) > 0 {
		in := application.CreateInput{EventID: req.EventID, OwnerID: owner}
		for _, sel := range req.Selections {
			in.Selections = append(in.Selections, application.UnitSelection{
				UnitID:          sel.UnitID,
				ExpectedVersion: sel.ExpectedVersion,
			})
		}
		result, err = h.svc.Create(r.Context(), in)
	} else {
		// General admission: a section and a quantity resolve to
		// concrete units server-side.
		result, err = h.svc.CreateBySection(r.Context(), req.EventID, req.SectionID, req.Quantity, owner)
	}
	if err != nil {
		writeFault(w, err)
		return
	}

	writeJSON(w, http.StatusOK, createResponse{
		ReservationID:    result.ReservationID,
		ReservedUnitIDs:  result.ReservedUnitIDs,
		ExpiresAt:        result.ExpiresAt,
		ExpiresInSeconds: int(time.Until(result.ExpiresAt).Seconds()),
		FailedUnits:      result.FailedUnits,
	})
}

func (h *HTTPHandler) cancel(w http.ResponseWriter, r *http.Request) {
	owner := r.Header.Get("X-Caller-ID")
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "caller id required")
		return
	}

	if err := h.svc.Cancel(r.Context(), r.PathValue("id"), owner); err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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
