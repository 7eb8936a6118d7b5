package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/md-rashed-zaman/tenantbook/libs/auth"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/model"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errForbidden = errors.New("forbidden")

// classify maps a domain error to its status and stable code. Unknown
// errors are internal and their text is not echoed to the client.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrTenantNotFound):
		return http.StatusNotFound, "tenant_not_found"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrInvalidEventType):
		return http.StatusUnprocessableEntity, "invalid_event_type"
	case errors.Is(err, model.ErrSlotUnavailable):
		return http.StatusConflict, "slot_unavailable"
	case errors.Is(err, model.ErrHolidayConflict):
		return http.StatusConflict, "holiday_conflict"
	case errors.Is(err, model.ErrChangeWindowClosed):
		return http.StatusConflict, "change_window_closed"
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errForbidden):
		return http.StatusForbidden, "forbidden"
	}
	return http.StatusInternalServerError, "internal"
}

func (h *BookingHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "err", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}

// badRequest reports malformed input that never reached the core.
func (h *BookingHandler) badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Code: "validation_error", Message: msg}})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: errorDetail{Code: "method_not_allowed", Message: "method not allowed"}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
