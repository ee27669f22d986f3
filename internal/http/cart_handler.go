package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/storefront/internal/cart"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type CartHandler struct {
	carts   *cart.Service
	timeout time.Duration
	logger  *slog.Logger
}

func NewCartHandler(carts *cart.Service, timeout time.Duration, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
		logger:  logger,
	}
}

type AddItemRequestDTO struct {
	ProductID int64 `json:"product_id"`
	Quantity  *int  `json:"quantity,omitempty"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type AddItemResponseDTO struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	CartItemCount int    `json:"cart_item_count"`
}

type UpdateQuantityResponseDTO struct {
	Success       bool            `json:"success"`
	ItemTotal     decimal.Decimal `json:"item_total"`
	CartTotal     decimal.Decimal `json:"cart_total"`
	CartItemCount int             `json:"cart_item_count"`
}

type RemoveItemResponseDTO struct {
	Success       bool            `json:"success"`
	CartTotal     decimal.Decimal `json:"cart_total"`
	CartItemCount int             `json:"cart_item_count"`
}

type CountResponseDTO struct {
	Count int `json:"count"`
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req AddItemRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}

	summary, err := h.carts.AddItem(ctx, userID, req.ProductID, qty)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, AddItemResponseDTO{
		Success:       true,
		Message:       "Product added to cart",
		CartItemCount: summary.ItemCount,
	})
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	view, err := h.carts.GetCartView(ctx, userID)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// PUT /api/v1/cart/items/{item_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	itemID, ok := parseItemID(w, r)
	if !ok {
		return
	}

	var req UpdateQuantityRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	totals, err := h.carts.UpdateQuantity(ctx, userID, itemID, req.Quantity)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, UpdateQuantityResponseDTO{
		Success:       true,
		ItemTotal:     totals.ItemTotal,
		CartTotal:     totals.CartTotal,
		CartItemCount: totals.ItemCount,
	})
}

// DELETE /api/v1/cart/items/{item_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	itemID, ok := parseItemID(w, r)
	if !ok {
		return
	}

	totals, err := h.carts.RemoveItem(ctx, userID, itemID)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, RemoveItemResponseDTO{
		Success:       true,
		CartTotal:     totals.CartTotal,
		CartItemCount: totals.ItemCount,
	})
}

// GET /api/v1/cart/count
func (h *CartHandler) Count(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	count, err := h.carts.ItemCount(ctx, getUserIDFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, CountResponseDTO{Count: count})
}

func parseItemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "item_id"), 10, 64)
	if err != nil || itemID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_item_id", "item_id must be a positive integer")
		return 0, false
	}
	return itemID, true
}
