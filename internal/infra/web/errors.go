package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"recurrent-billing/internal/domain"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrCapabilityNotSupported):
		return http.StatusNotImplemented, "capability_not_supported"
	case errors.Is(err, domain.ErrNotStoppable),
		errors.Is(err, domain.ErrNotReactivable),
		errors.Is(err, domain.ErrChargeInProgress),
		errors.Is(err, domain.ErrNotChargeable),
		errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrRefundFailed), errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusBadGateway, "gateway_error"
	case errors.Is(err, domain.ErrTokenInvalid),
		errors.Is(err, domain.ErrPaymentNotRefundable),
		errors.Is(err, domain.ErrRefundExceedsAmount),
		errors.Is(err, domain.ErrPaymentNotPaid),
		errors.Is(err, domain.ErrUnresolvableCharge):
		return http.StatusUnprocessableEntity, "unprocessable"
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}
