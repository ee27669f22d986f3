package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/cart"
	"github.com/fjod/storefront/internal/checkout"
	"github.com/fjod/storefront/internal/inventory"
	"github.com/fjod/storefront/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Services struct {
	Cart      *cart.Service
	Checkout  *checkout.Service
	Orders    *orders.Service
	Inventory *inventory.Ledger
}

func NewRouter(svc Services, timeout time.Duration, logger *slog.Logger) http.Handler {
	cartHandler := NewCartHandler(svc.Cart, timeout, logger)
	checkoutHandler := NewCheckoutHandler(svc.Checkout, timeout, logger)
	ordersHandler := NewOrdersHandler(svc.Orders, timeout, logger)
	inventoryHandler := NewInventoryHandler(svc.Inventory, timeout, logger)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(Identity)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartHandler.GetCart)
			r.Get("/count", cartHandler.Count)
			r.Post("/items", cartHandler.AddItem)
			r.Put("/items/{item_id}", cartHandler.UpdateQuantity)
			r.Delete("/items/{item_id}", cartHandler.RemoveItem)
		})

		r.Post("/checkout", checkoutHandler.PlaceOrder)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordersHandler.ListOrders)
			r.Get("/{order_id}", ordersHandler.GetOrder)
			r.Post("/{order_id}/cancel", ordersHandler.CancelOrder)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Get("/orders", ordersHandler.ListAllOrders)
			r.Get("/orders/{order_id}", ordersHandler.OrderDetails)
			r.Patch("/orders/{order_id}/status", ordersHandler.UpdateStatus)
			r.Get("/inventory/{product_id}", inventoryHandler.GetStock)
			r.Post("/inventory/{product_id}/restock", inventoryHandler.Restock)
		})
	})

	return r
}
