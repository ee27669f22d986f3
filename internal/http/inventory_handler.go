package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/storefront/internal/inventory"
	"github.com/go-chi/chi/v5"
)

type InventoryHandler struct {
	ledger  *inventory.Ledger
	timeout time.Duration
	logger  *slog.Logger
}

func NewInventoryHandler(ledger *inventory.Ledger, timeout time.Duration, logger *slog.Logger) *InventoryHandler {
	return &InventoryHandler{
		ledger:  ledger,
		timeout: timeout,
		logger:  logger,
	}
}

type StockResponseDTO struct {
	ProductID     int64 `json:"product_id"`
	StockQuantity int   `json:"stock_quantity"`
}

type RestockRequestDTO struct {
	Quantity int `json:"quantity"`
}

// GET /api/v1/admin/inventory/{product_id}
func (h *InventoryHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := parseProductID(w, r)
	if !ok {
		return
	}

	stock, err := h.ledger.Stock(ctx, productID)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, StockResponseDTO{ProductID: productID, StockQuantity: stock})
}

// POST /api/v1/admin/inventory/{product_id}/restock
func (h *InventoryHandler) Restock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := parseProductID(w, r)
	if !ok {
		return
	}

	var req RestockRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.ledger.Increment(ctx, productID, req.Quantity); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	stock, err := h.ledger.Stock(ctx, productID)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, StockResponseDTO{ProductID: productID, StockQuantity: stock})
}

func parseProductID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return 0, false
	}
	return productID, true
}
