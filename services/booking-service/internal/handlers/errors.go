package handlers

import (
	"errors"
	"net/http"

	"github.com/agendaly/agendaly/libs/httpx"
	"github.com/agendaly/agendaly/services/booking-service/internal/availability"
	"github.com/agendaly/agendaly/services/booking-service/internal/booking"
	"github.com/agendaly/agendaly/services/booking-service/internal/storage"
)

type rejectionBody struct {
	Error      string `json:"error"`
	Reason     string `json:"reason"`
	Message    string `json:"message"`
	ConflictAt string `json:"conflict_at,omitempty"`
}

// writeError maps booking errors onto HTTP statuses. Anything unrecognised is
// logged and returned as a bare 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rejected *booking.RejectedError
	switch {
	case errors.As(err, &rejected):
		v := rejected.Verdict
		body := rejectionBody{Error: "booking_rejected", Reason: string(v.Reason), Message: v.Message()}
		status := http.StatusUnprocessableEntity
		if v.Reason == availability.ReasonSlotConflict {
			status = http.StatusConflict
			body.ConflictAt = v.ConflictStart.String()
		}
		httpx.WriteJSON(w, status, body)
	case errors.Is(err, booking.ErrInvalidInput):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case storage.IsMalformedID(err):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_input", "malformed id")
	case errors.Is(err, booking.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "")
	case errors.Is(err, booking.ErrInvalidTransition):
		httpx.WriteError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, booking.ErrNoStaffAvailable):
		httpx.WriteError(w, http.StatusConflict, "no_staff_available", err.Error())
	case errors.Is(err, booking.ErrInPast):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "in_past", err.Error())
	default:
		h.logger.Error("request failed",
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"err", err,
		)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "")
	}
}
