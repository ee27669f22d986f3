// Package checkout turns a cart into an order inside a single transaction.
package checkout

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/inventory"
	"github.com/fjod/storefront/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const DefaultMaxAttempts = 3

// CartInvalidator drops cached cart views.
type CartInvalidator interface {
	Invalidate(userID string)
}

type PlacedOrder struct {
	OrderID     uuid.UUID       `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type Service struct {
	store       repository.Store
	carts       CartInvalidator
	numbers     OrderNumberGenerator
	clock       domain.Clock
	logger      *slog.Logger
	maxAttempts int
}

func NewService(
	store repository.Store,
	carts CartInvalidator,
	numbers OrderNumberGenerator,
	clock domain.Clock,
	logger *slog.Logger,
	maxAttempts int,
) *Service {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Service{
		store:       store,
		carts:       carts,
		numbers:     numbers,
		clock:       clock,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// PlaceOrder converts the user's cart into a PENDING order. On failure no
// order exists, stock is untouched and the cart keeps its items.
func (s *Service) PlaceOrder(ctx context.Context, userID string, info domain.ShippingInfo) (*PlacedOrder, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}

	if err := s.ensureCartNotEmpty(ctx, userID); err != nil {
		return nil, err
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		placed, err := s.placeOnce(ctx, userID, info)
		if err == nil {
			s.carts.Invalidate(userID)
			s.logger.InfoContext(ctx, "order placed",
				slog.String("user_id", userID),
				slog.String("order_id", placed.OrderID.String()),
				slog.String("order_number", placed.OrderNumber),
				slog.String("total_amount", placed.TotalAmount.StringFixed(2)),
				slog.Int("attempt", attempt))
			return placed, nil
		}
		if !errors.Is(err, domain.ErrOrderNumberCollision) {
			err = domain.Classify("place order", err)
			if errors.Is(err, domain.ErrPersistence) {
				s.logger.ErrorContext(ctx, "checkout failed", slog.String("user_id", userID), slog.Any("error", err))
			}
			return nil, err
		}
		s.logger.WarnContext(ctx, "order number collision, retrying",
			slog.String("user_id", userID), slog.Int("attempt", attempt))
	}

	err := domain.NewPersistenceError("place order", fmt.Errorf("%w after %d attempts", domain.ErrOrderNumberCollision, s.maxAttempts))
	s.logger.ErrorContext(ctx, "checkout failed", slog.String("user_id", userID), slog.Any("error", err))
	return nil, err
}

func (s *Service) ensureCartNotEmpty(ctx context.Context, userID string) error {
	cart, err := s.store.GetCartByUserID(ctx, userID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return domain.ErrEmptyCart
	}
	if err != nil {
		return domain.Classify("load cart", err)
	}

	lines, err := s.store.ListCartLines(ctx, cart.ID)
	if err != nil {
		return domain.Classify("load cart lines", err)
	}
	if len(lines) == 0 {
		return domain.ErrEmptyCart
	}
	return nil
}

func (s *Service) placeOnce(ctx context.Context, userID string, info domain.ShippingInfo) (*PlacedOrder, error) {
	var placed *PlacedOrder
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		cart, err := q.GetCartByUserID(ctx, userID)
		if errors.Is(err, repository.ErrCartNotFound) {
			return domain.ErrEmptyCart
		}
		if err != nil {
			return err
		}
		if err := q.LockCart(ctx, cart.ID); err != nil {
			return err
		}

		// stock may have moved since the items were added
		lines, err := q.ListCartLines(ctx, cart.ID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return domain.ErrEmptyCart
		}
		for _, l := range lines {
			if !l.IsActive {
				return domain.ErrProductNotFound
			}
			if l.Quantity > l.StockQuantity {
				return &domain.InsufficientStockError{ProductID: l.ProductID}
			}
		}

		order := s.buildOrder(userID, info, lines)
		if err := order.Reconcile(); err != nil {
			return fmt.Errorf("reconcile order: %w", err)
		}

		if err := q.InsertOrder(ctx, order); err != nil {
			if errors.Is(err, repository.ErrDuplicateOrderNumber) {
				return domain.ErrOrderNumberCollision
			}
			return err
		}
		for i := range order.Items {
			if err := q.InsertOrderItem(ctx, &order.Items[i]); err != nil {
				return err
			}
		}

		// product rows are locked in id order so concurrent checkouts cannot deadlock
		byProduct := slices.Clone(lines)
		slices.SortFunc(byProduct, func(a, b domain.CartLine) int {
			return cmp.Compare(a.ProductID, b.ProductID)
		})
		for _, l := range byProduct {
			if err := inventory.Decrement(ctx, q, l.ProductID, l.Quantity); err != nil {
				return err
			}
		}

		if _, err := q.ClearCartItems(ctx, cart.ID); err != nil {
			return err
		}
		if err := q.TouchCart(ctx, cart.ID, order.CreatedAt); err != nil {
			return err
		}

		payload, err := json.Marshal(domain.NewOrderPlacedEvent(order))
		if err != nil {
			return fmt.Errorf("marshal order placed event: %w", err)
		}
		if err := q.InsertOutboxEvent(ctx, &repository.OutboxEvent{
			AggregateID: order.ID.String(),
			EventType:   domain.EventOrderPlaced,
			Payload:     payload,
			CreatedAt:   order.CreatedAt,
		}); err != nil {
			return err
		}

		placed = &PlacedOrder{OrderID: order.ID, OrderNumber: order.OrderNumber, TotalAmount: order.TotalAmount}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return placed, nil
}

func (s *Service) buildOrder(userID string, info domain.ShippingInfo, lines []domain.CartLine) *domain.Order {
	now := s.clock.Now()
	order := &domain.Order{
		ID:              uuid.New(),
		UserID:          userID,
		OrderNumber:     s.numbers.Next(now),
		TotalAmount:     decimal.Zero,
		Status:          domain.OrderStatusPending,
		ShippingAddress: info.ShippingAddress(),
		PhoneNumber:     strings.TrimSpace(info.PhoneNumber),
		Notes:           strings.TrimSpace(info.Notes),
		PaymentMethod:   strings.TrimSpace(info.PaymentMethod),
		OrderDate:       now,
		CreatedAt:       now,
		UpdatedAt:       now,
		Items:           make([]domain.OrderItem, 0, len(lines)),
	}
	for _, l := range lines {
		it := domain.NewOrderItem(order.ID, l)
		order.Items = append(order.Items, it)
		order.TotalAmount = order.TotalAmount.Add(it.TotalPrice)
	}
	return order
}
