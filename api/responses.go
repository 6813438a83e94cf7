package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xraph/market"
)

type successEnvelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, successEnvelope{Data: data})
}

// errorStatus maps market errors onto HTTP status codes and stable codes.
func errorStatus(err error) (int, string) {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, market.ErrUnauthorized):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, market.ErrUnknownItem),
		errors.Is(err, market.ErrItemNotFound),
		errors.Is(err, market.ErrIndexOutOfRange),
		errors.Is(err, market.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, market.ErrInsufficientStock),
		errors.Is(err, market.ErrTreasuryChanged):
		return http.StatusConflict, "conflict"
	case errors.Is(err, market.ErrInsufficientPayment):
		return http.StatusPaymentRequired, "insufficient_payment"
	case errors.Is(err, market.ErrInvalidInput),
		errors.Is(err, market.ErrCurrencyMismatch):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, market.ErrTransferFailed):
		return http.StatusBadGateway, "transfer_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	payload := errorEnvelope{Error: apiError{Code: code, Message: err.Error()}}

	var reqErr *requestError
	if errors.As(err, &reqErr) {
		payload.Error.Details = reqErr.details
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("api: request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		payload.Error.Message = "internal error"
	}
	writeJSON(w, status, payload)
}
