package api

import (
	"context"
	"errors"
	"net/http"

	"agri-token-ledger/internal/coordinator"
	"agri-token-ledger/internal/distribution"
	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/reconciler"
	"agri-token-ledger/internal/storage"
)

// errorBody is the JSON body of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Outcome string `json:"outcome,omitempty"`
}

// statusFor maps a domain or store error to its HTTP status.
func statusFor(err error) (int, errorBody) {
	body := errorBody{Error: err.Error()}

	var (
		invalid  *domain.ValidationError
		capacity *domain.CapacityError
		conflict *domain.ReconciliationConflict
		chainErr *domain.ChainCallError
	)
	switch {
	case errors.As(err, &invalid):
		body.Field = invalid.Field
		return http.StatusBadRequest, body
	case errors.As(err, &capacity):
		return http.StatusConflict, body
	case errors.As(err, &conflict):
		body.Outcome = string(conflict.Reason)
		switch conflict.Reason {
		case domain.ConflictBadSignature:
			return http.StatusUnauthorized, body
		case domain.ConflictBufferFull:
			return http.StatusServiceUnavailable, body
		}
		return http.StatusConflict, body
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, body
	case errors.Is(err, storage.ErrIllegalTransition),
		errors.Is(err, storage.ErrDuplicateKey),
		errors.Is(err, coordinator.ErrNotPending),
		errors.Is(err, distribution.ErrJobRunning):
		return http.StatusConflict, body
	case errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest, body
	case errors.As(err, &chainErr):
		return http.StatusBadGateway, body
	case errors.Is(err, reconciler.ErrNotRunning), errors.Is(err, distribution.ErrClosed):
		return http.StatusServiceUnavailable, body
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, body
	}
	return http.StatusInternalServerError, errorBody{Error: "internal error"}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, body := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", code, "error", err)
	}
	respondWithJSON(w, code, body)
}
