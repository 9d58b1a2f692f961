package api

import (
	"errors"
	"net/http"

	"pharmaledger/m/internal/ledger"
	"pharmaledger/m/internal/service"
	"pharmaledger/m/pkg/logger"
)

// respondErr maps ledger and service errors onto HTTP responses.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr  *ledger.ValidationError
		stock *ledger.InsufficientStockError
		line  *ledger.LineError
	)
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
	case errors.As(err, &stock):
		field := ""
		if errors.As(err, &line) {
			field = line.Field
		}
		respondJSON(w, http.StatusConflict, map[string]interface{}{
			"error":      stock.Error(),
			"field":      field,
			"product_id": stock.ProductID,
			"requested":  stock.Requested,
			"available":  stock.Available,
		})
	case errors.Is(err, ledger.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrConflict):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrInvalidAdjustment):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "invalid credentials")
	default:
		logger.Log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
