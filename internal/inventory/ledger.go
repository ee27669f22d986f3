// Package inventory owns product stock. Every change is a conditional update
// evaluated by the store, never a read-modify-write in Go.
package inventory

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/repository"
)

type Ledger struct {
	store  repository.Store
	logger *slog.Logger
}

func NewLedger(store repository.Store, logger *slog.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// CheckAvailable reports whether qty units are in stock right now. It is
// advisory and reserves nothing.
func (l *Ledger) CheckAvailable(ctx context.Context, productID int64, qty int) (bool, error) {
	if !domain.ValidQuantity(qty) {
		return false, domain.ErrInvalidQuantity
	}
	stock, err := l.Stock(ctx, productID)
	if err != nil {
		return false, err
	}
	return qty <= stock, nil
}

// Stock returns the current stock of a product.
func (l *Ledger) Stock(ctx context.Context, productID int64) (int, error) {
	p, err := l.store.GetProduct(ctx, productID)
	if err != nil {
		return 0, mapError(err, productID, "get product")
	}
	return p.StockQuantity, nil
}

// Decrement takes qty units or fails with *domain.InsufficientStockError.
func (l *Ledger) Decrement(ctx context.Context, productID int64, qty int) error {
	return l.store.InTx(ctx, func(q repository.Queries) error {
		return Decrement(ctx, q, productID, qty)
	})
}

// Increment returns qty units to stock.
func (l *Ledger) Increment(ctx context.Context, productID int64, qty int) error {
	err := l.store.InTx(ctx, func(q repository.Queries) error {
		return Increment(ctx, q, productID, qty)
	})
	if err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "stock incremented", slog.Int64("product_id", productID), slog.Int("quantity", qty))
	return nil
}

// Decrement is the transaction-scoped form used by checkout.
func Decrement(ctx context.Context, q repository.Queries, productID int64, qty int) error {
	if !domain.ValidQuantity(qty) {
		return domain.ErrInvalidQuantity
	}
	if err := q.DecrementStock(ctx, productID, qty); err != nil {
		return mapError(err, productID, "decrement stock")
	}
	return nil
}

// Increment is the transaction-scoped form used by order cancellation.
func Increment(ctx context.Context, q repository.Queries, productID int64, qty int) error {
	if !domain.ValidQuantity(qty) {
		return domain.ErrInvalidQuantity
	}
	if err := q.IncrementStock(ctx, productID, qty); err != nil {
		return mapError(err, productID, "increment stock")
	}
	return nil
}

func mapError(err error, productID int64, op string) error {
	switch {
	case errors.Is(err, repository.ErrInsufficientStock):
		return &domain.InsufficientStockError{ProductID: productID}
	case errors.Is(err, repository.ErrProductNotFound):
		return domain.ErrProductNotFound
	case errors.Is(err, repository.ErrStockOverflow):
		return domain.ErrInvalidQuantity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return domain.NewPersistenceError(op, err)
	}
}
