package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/EngLamisKhaled/Flashsale/internal/domain"
)

const (
	codeMethodNotAllowed   = "method_not_allowed"
	codeNotFound           = "not_found"
	codeInvalidRequestBody = "invalid_request_body"
	codeForbidden          = "forbidden"
	codeTransient          = "transient"
	codeInternalError      = "internal_error"
)

// domainCodes pairs each sentinel with its wire code, checked in order.
var domainCodes = []struct {
	err  error
	code string
}{
	{domain.ErrInvalidQuantity, "invalid_quantity"},
	{domain.ErrInvalidID, "invalid_id"},
	{domain.ErrInvalidOutcome, "invalid_outcome"},
	{domain.ErrIdempotencyKeyRequired, "idempotency_key_required"},
	{domain.ErrInvalidPayload, "invalid_payload"},
	{domain.ErrProductNameRequired, "product_name_required"},
	{domain.ErrInvalidStock, "invalid_stock"},
	{domain.ErrInvalidPrice, "invalid_price"},
	{domain.ErrTimeRequired, "time_required"},
	{domain.ErrProductNotFound, "product_not_found"},
	{domain.ErrHoldNotFound, "hold_not_found"},
	{domain.ErrOrderNotFound, "order_not_found"},
	{domain.ErrInsufficientStock, "insufficient_stock"},
	{domain.ErrHoldNotActive, "hold_not_active"},
	{domain.ErrHoldExpired, "hold_expired"},
	{domain.ErrInvalidTransition, "invalid_transition"},
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{
		Error: msg,
		Code:  code,
	})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

// writeServiceError maps a service error onto a status code. The message is
// the sentinel's, never the wrapped chain, so driver details stay internal.
func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrTransient) || domain.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, codeTransient, "temporarily unavailable, retry")
		return
	}

	status := http.StatusInternalServerError
	switch {
	case domain.IsValidation(err):
		status = http.StatusBadRequest
	case domain.IsNotFound(err):
		status = http.StatusNotFound
	case domain.IsConflict(err):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		writeError(w, status, codeInternalError, "internal error")
		return
	}

	for _, dc := range domainCodes {
		if errors.Is(err, dc.err) {
			writeError(w, status, dc.code, dc.err.Error())
			return
		}
	}
	writeError(w, status, codeInternalError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
