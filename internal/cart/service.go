// Package cart maintains the single cart of each user. Stock checks here are
// advisory: nothing is reserved until checkout.
package cart

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/repository"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// CartSummary is returned by AddItem.
type CartSummary struct {
	CartID    int64 `json:"cart_id"`
	ItemCount int   `json:"cart_item_count"`
}

// Totals is returned by UpdateQuantity and RemoveItem.
type Totals struct {
	ItemTotal decimal.Decimal `json:"item_total"`
	CartTotal decimal.Decimal `json:"cart_total"`
	ItemCount int             `json:"cart_item_count"`
}

type Service struct {
	store  repository.Store
	cache  cache.CartCache
	clock  domain.Clock
	logger *slog.Logger
	sfg    singleflight.Group // Prevents cache stampede
}

func NewService(store repository.Store, cartCache cache.CartCache, clock domain.Clock, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		cache:  cartCache,
		clock:  clock,
		logger: logger,
	}
}

// GetOrCreateCart returns the user's cart, creating it on first use. Racing
// creators converge on the same row.
func (s *Service) GetOrCreateCart(ctx context.Context, userID string) (*domain.Cart, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}

	var cart *domain.Cart
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		c, err := GetOrCreate(ctx, q, userID, s.clock.Now())
		cart = c
		return err
	})
	if err != nil {
		return nil, domain.Classify("get or create cart", err)
	}
	return cart, nil
}

// GetOrCreate is the transaction-scoped form of GetOrCreateCart.
func GetOrCreate(ctx context.Context, q repository.Queries, userID string, now time.Time) (*domain.Cart, error) {
	c, err := q.GetCartByUserID(ctx, userID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, repository.ErrCartNotFound) {
		return nil, err
	}

	c, err = q.CreateCart(ctx, userID, now)
	if errors.Is(err, repository.ErrDuplicateCart) {
		// lost the race; the winner's row is committed by now
		return q.GetCartByUserID(ctx, userID)
	}
	return c, err
}

func (s *Service) AddItem(ctx context.Context, userID string, productID int64, qty int) (CartSummary, error) {
	if userID == "" {
		return CartSummary{}, domain.ErrUnauthenticated
	}
	if !domain.ValidQuantity(qty) {
		return CartSummary{}, domain.ErrInvalidQuantity
	}

	var summary CartSummary
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		p, err := loadProduct(ctx, q, productID)
		if err != nil {
			return err
		}
		if qty > p.StockQuantity {
			return &domain.InsufficientStockError{ProductID: productID}
		}

		now := s.clock.Now()
		cart, err := GetOrCreate(ctx, q, userID, now)
		if err != nil {
			return err
		}
		if err := q.LockCart(ctx, cart.ID); err != nil {
			return err
		}

		existing, err := q.FindCartItem(ctx, cart.ID, productID)
		switch {
		case err == nil:
			merged := existing.Quantity + qty
			if merged > p.StockQuantity {
				return &domain.InsufficientStockError{ProductID: productID}
			}
			if err := q.UpdateCartItemQuantity(ctx, existing.ID, merged); err != nil {
				return err
			}
		case errors.Is(err, repository.ErrItemNotFound):
			item := &domain.CartItem{CartID: cart.ID, ProductID: productID, Quantity: qty, CreatedAt: now}
			if err := q.InsertCartItem(ctx, item); err != nil {
				return err
			}
		default:
			return err
		}

		if err := q.TouchCart(ctx, cart.ID, now); err != nil {
			return err
		}

		lines, err := q.ListCartLines(ctx, cart.ID)
		if err != nil {
			return err
		}
		_, count := domain.CartTotals(lines)
		summary = CartSummary{CartID: cart.ID, ItemCount: count}
		return nil
	})
	if err != nil {
		return CartSummary{}, s.fail(ctx, "add item", userID, err)
	}

	s.invalidateCache(userID)
	return summary, nil
}

func (s *Service) UpdateQuantity(ctx context.Context, userID string, cartItemID int64, newQty int) (Totals, error) {
	if userID == "" {
		return Totals{}, domain.ErrUnauthenticated
	}

	var totals Totals
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		cart, item, err := lockOwnedItem(ctx, q, userID, cartItemID)
		if err != nil {
			return err
		}
		if !domain.ValidQuantity(newQty) {
			return domain.ErrInvalidQuantity
		}

		p, err := q.GetProduct(ctx, item.ProductID)
		if err != nil {
			return err
		}
		if newQty > p.StockQuantity {
			return &domain.InsufficientStockError{ProductID: item.ProductID}
		}

		if err := q.UpdateCartItemQuantity(ctx, item.ID, newQty); err != nil {
			return err
		}
		if err := q.TouchCart(ctx, cart.ID, s.clock.Now()); err != nil {
			return err
		}

		totals, err = cartTotals(ctx, q, cart.ID, item.ID)
		return err
	})
	if err != nil {
		return Totals{}, s.fail(ctx, "update quantity", userID, err)
	}

	s.invalidateCache(userID)
	return totals, nil
}

func (s *Service) RemoveItem(ctx context.Context, userID string, cartItemID int64) (Totals, error) {
	if userID == "" {
		return Totals{}, domain.ErrUnauthenticated
	}

	var totals Totals
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		cart, item, err := lockOwnedItem(ctx, q, userID, cartItemID)
		if err != nil {
			return err
		}
		if err := q.DeleteCartItem(ctx, item.ID); err != nil {
			return err
		}
		if err := q.TouchCart(ctx, cart.ID, s.clock.Now()); err != nil {
			return err
		}

		totals, err = cartTotals(ctx, q, cart.ID, 0)
		return err
	})
	if err != nil {
		return Totals{}, s.fail(ctx, "remove item", userID, err)
	}

	s.invalidateCache(userID)
	return totals, nil
}

// GetCartView returns the display projection of the user's cart. A user
// without a cart gets an empty view. Only the cart rows come from the cache;
// prices and stock are read live on every call.
func (s *Service) GetCartView(ctx context.Context, userID string) (*domain.CartSnapshot, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}

	// Use singleflight to prevent multiple concurrent cache misses for same key
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		contents, err := s.cache.Get(ctx, userID)
		if err == nil {
			return contents, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.WarnContext(ctx, "cache get error", slog.String("user_id", userID), slog.Any("error", err))
		}

		contents, err = s.loadContents(ctx, userID)
		if err != nil {
			return nil, err
		}

		setCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if errSet := s.cache.Set(setCtx, userID, contents); errSet != nil {
			s.logger.WarnContext(ctx, "cache set error", slog.String("user_id", userID), slog.Any("error", errSet))
		}
		return contents, nil
	})
	if err != nil {
		return nil, domain.Classify("get cart view", err)
	}

	contents := v.(*domain.CartContents)
	if contents.Cart == nil {
		return domain.NewCartSnapshot(userID, nil, nil), nil
	}

	products, err := s.store.GetProducts(ctx, contents.ProductIDs())
	if err != nil {
		return nil, domain.Classify("get cart view", err)
	}
	lines := domain.JoinCartLines(contents.Items, products)
	return domain.NewCartSnapshot(userID, contents.Cart, lines), nil
}

func (s *Service) loadContents(ctx context.Context, userID string) (*domain.CartContents, error) {
	cart, err := s.store.GetCartByUserID(ctx, userID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return &domain.CartContents{}, nil
	}
	if err != nil {
		return nil, err
	}

	items, err := s.store.ListCartItems(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	return &domain.CartContents{Cart: cart, Items: items}, nil
}

// ItemCount is the sum of quantities in the user's cart, 0 for anonymous
// users and users without a cart.
func (s *Service) ItemCount(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, nil
	}
	view, err := s.GetCartView(ctx, userID)
	if err != nil {
		return 0, err
	}
	return view.ItemCount, nil
}

// Invalidate drops the cached view of a user's cart. Checkout calls it after
// clearing the cart.
func (s *Service) Invalidate(userID string) {
	s.invalidateCache(userID)
}

func (s *Service) invalidateCache(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.logger.Warn("cache invalidate error", slog.String("user_id", userID), slog.Any("error", err))
	}
}

func (s *Service) fail(ctx context.Context, op, userID string, err error) error {
	err = domain.Classify(op, mapRepoError(err))
	if errors.Is(err, domain.ErrPersistence) {
		s.logger.ErrorContext(ctx, op+" failed", slog.String("user_id", userID), slog.Any("error", err))
	}
	return err
}

func loadProduct(ctx context.Context, q repository.Queries, productID int64) (*domain.Product, error) {
	p, err := q.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !p.Purchasable() {
		return nil, domain.ErrProductNotFound
	}
	return p, nil
}

// lockOwnedItem locks the user's cart and then returns the item if it is in
// that cart. The cart lock comes first, as in AddItem and checkout.
func lockOwnedItem(ctx context.Context, q repository.Queries, userID string, itemID int64) (*domain.Cart, *domain.CartItem, error) {
	cart, err := q.GetCartByUserID(ctx, userID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return nil, nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if err := q.LockCart(ctx, cart.ID); err != nil {
		return nil, nil, err
	}

	item, err := q.GetCartItemForUser(ctx, userID, itemID)
	if errors.Is(err, repository.ErrItemNotFound) {
		return nil, nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return cart, item, nil
}

func cartTotals(ctx context.Context, q repository.Queries, cartID, itemID int64) (Totals, error) {
	lines, err := q.ListCartLines(ctx, cartID)
	if err != nil {
		return Totals{}, err
	}

	total, count := domain.CartTotals(lines)
	t := Totals{ItemTotal: decimal.Zero, CartTotal: total, ItemCount: count}
	for _, l := range lines {
		if l.ItemID == itemID {
			t.ItemTotal = l.Subtotal()
		}
	}
	return t, nil
}

func mapRepoError(err error) error {
	switch {
	case errors.Is(err, repository.ErrProductNotFound):
		return domain.ErrProductNotFound
	case errors.Is(err, repository.ErrItemNotFound), errors.Is(err, repository.ErrCartNotFound):
		return domain.ErrNotFound
	case errors.Is(err, repository.ErrInsufficientStock):
		return domain.ErrInsufficientStock
	}
	return err
}
