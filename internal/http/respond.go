package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/storefront/internal/domain"
)

const maxRequestBodySize = 1 << 20 // 1MB

type ErrorResponse struct {
	Success   bool                     `json:"success"`
	Error     string                   `json:"error"`
	Code      string                   `json:"code,omitempty"`
	Details   string                   `json:"details,omitempty"`
	ProductID int64                    `json:"product_id,omitempty"`
	Fields    []domain.ValidationError `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", slog.Any("error", err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

// handleServiceError converts the domain error taxonomy to HTTP status codes.
func handleServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var (
		stock      *domain.InsufficientStockError
		validation domain.ValidationErrors
		field      domain.ValidationError
	)

	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.As(err, &stock):
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error:     err.Error(),
			Code:      "insufficient_stock",
			ProductID: stock.ProductID,
		})
	case errors.Is(err, domain.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "product_not_found", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrEmptyCart):
		respondError(w, http.StatusConflict, "empty_cart", err.Error())
	case errors.Is(err, domain.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.As(err, &validation):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  domain.ErrValidation.Error(),
			Code:   "validation_failed",
			Fields: validation,
		})
	case errors.As(err, &field):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  domain.ErrValidation.Error(),
			Code:   "validation_failed",
			Fields: []domain.ValidationError{field},
		})
	case errors.Is(err, domain.ErrIllegalTransition):
		respondError(w, http.StatusConflict, "illegal_transition", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path), slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
