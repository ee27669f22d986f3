package orders

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/inventory"
	"github.com/fjod/storefront/internal/repository"
	"github.com/google/uuid"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

type Service struct {
	store  repository.Store
	clock  domain.Clock
	logger *slog.Logger
}

func NewService(store repository.Store, clock domain.Clock, logger *slog.Logger) *Service {
	return &Service{store: store, clock: clock, logger: logger}
}

// GetOrder returns the order only to its owner. Anyone else gets ErrNotFound.
func (s *Service) GetOrder(ctx context.Context, userID string, orderID uuid.UUID) (*domain.Order, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}

	o, err := s.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return o, nil
}

// FindOrder returns any order by id without an ownership check. Admin only.
func (s *Service) FindOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.Classify("get order", err)
	}
	return o, nil
}

// ListOrders is the user's order history, newest first.
func (s *Service) ListOrders(ctx context.Context, userID string) ([]*domain.Order, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}

	list, err := s.store.ListOrdersByUserID(ctx, userID)
	if err != nil {
		return nil, domain.Classify("list orders", err)
	}
	return nonNil(list), nil
}

// ListAllOrders is the back-office listing, newest first.
func (s *Service) ListAllOrders(ctx context.Context, limit int) ([]*domain.Order, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}

	list, err := s.store.ListOrders(ctx, limit)
	if err != nil {
		return nil, domain.Classify("list all orders", err)
	}
	return nonNil(list), nil
}

// UpdateStatus moves an order along its lifecycle. Cancelling puts every
// ordered unit back into stock in the same transaction.
func (s *Service) UpdateStatus(ctx context.Context, orderID uuid.UUID, to domain.OrderStatus) (*domain.Order, error) {
	return s.transition(ctx, orderID, to, func(*domain.Order) error { return nil })
}

// Cancel lets the owner cancel an order that has not been delivered.
func (s *Service) Cancel(ctx context.Context, userID string, orderID uuid.UUID) (*domain.Order, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	return s.transition(ctx, orderID, domain.OrderStatusCancelled, func(o *domain.Order) error {
		if o.UserID != userID {
			return domain.ErrNotFound
		}
		return nil
	})
}

func (s *Service) transition(ctx context.Context, orderID uuid.UUID, to domain.OrderStatus, authorize func(*domain.Order) error) (*domain.Order, error) {
	if !to.IsValid() {
		return nil, domain.ValidationErrors{{Field: "status", Message: fmt.Sprintf("unknown status %q", to)}}
	}

	var updated *domain.Order
	var from domain.OrderStatus
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		o, err := q.LockOrder(ctx, orderID)
		if errors.Is(err, repository.ErrOrderNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := authorize(o); err != nil {
			return err
		}

		from = o.Status
		if !domain.CanTransitionTo(from, to) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, from, to)
		}

		restock := to == domain.OrderStatusCancelled
		if restock {
			items := slices.Clone(o.Items)
			slices.SortFunc(items, func(a, b domain.OrderItem) int {
				return cmp.Compare(a.ProductID, b.ProductID)
			})
			for _, it := range items {
				if err := inventory.Increment(ctx, q, it.ProductID, it.Quantity); err != nil {
					return err
				}
			}
		}

		now := s.clock.Now()
		if err := q.UpdateOrderStatus(ctx, o.ID, to, now); err != nil {
			return err
		}

		payload, err := json.Marshal(domain.OrderStatusChangedEvent{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			From:        from,
			To:          to,
			Restocked:   restock,
			ChangedAt:   now,
		})
		if err != nil {
			return fmt.Errorf("marshal status changed event: %w", err)
		}
		if err := q.InsertOutboxEvent(ctx, &repository.OutboxEvent{
			AggregateID: o.ID.String(),
			EventType:   domain.EventOrderStatusChanged,
			Payload:     payload,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		o.Status = to
		o.UpdatedAt = now
		updated = o
		return nil
	})
	if err != nil {
		err = domain.Classify("update order status", err)
		if errors.Is(err, domain.ErrPersistence) {
			s.logger.ErrorContext(ctx, "order status change failed",
				slog.String("order_id", orderID.String()), slog.Any("error", err))
		}
		return nil, err
	}

	s.logger.InfoContext(ctx, "order status changed",
		slog.String("order_id", orderID.String()),
		slog.String("from", from.String()),
		slog.String("to", to.String()))
	return updated, nil
}

func nonNil(list []*domain.Order) []*domain.Order {
	if list == nil {
		return []*domain.Order{}
	}
	return list
}
