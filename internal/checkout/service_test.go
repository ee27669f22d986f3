package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/cart"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/repository"
	"github.com/fjod/storefront/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const (
	productA int64 = 1
	productB int64 = 2
)

var checkoutTime = time.Date(2025, 6, 1, 15, 4, 5, 0, time.UTC)

type fixture struct {
	store    repository.Store
	mem      *store.MemoryStore
	carts    *cart.Service
	checkout *Service
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setup seeds A (stock 10, price 100) and B (stock 1, price 50).
func setup(t *testing.T, numbers OrderNumberGenerator, wrap func(*store.MemoryStore) repository.Store) *fixture {
	mem := store.NewMemoryStore()
	t.Cleanup(func() { mem.Close() })
	mem.SetProduct(domain.Product{ID: productA, Name: "A", Price: decimal.RequireFromString("100.00"), StockQuantity: 10, IsActive: true})
	mem.SetProduct(domain.Product{ID: productB, Name: "B", Price: decimal.RequireFromString("50.00"), StockQuantity: 1, IsActive: true})

	var st repository.Store = mem
	if wrap != nil {
		st = wrap(mem)
	}
	if numbers == nil {
		numbers = NewTimestampGenerator()
	}

	clock := domain.FixedClock{T: checkoutTime}
	carts := cart.NewService(mem, cache.NoopCache{}, clock, discardLogger())
	return &fixture{
		store:    st,
		mem:      mem,
		carts:    carts,
		checkout: NewService(st, carts, numbers, clock, discardLogger(), 3),
	}
}

func shipping() domain.ShippingInfo {
	return domain.ShippingInfo{
		FirstName:     "Grace",
		LastName:      "Hopper",
		Email:         "grace@example.com",
		PhoneNumber:   "555-0199",
		Address:       "1 Navy Way",
		City:          "Arlington",
		Notes:         "leave at the door",
		PaymentMethod: "cash_on_delivery",
	}
}

func (f *fixture) fillCart(t *testing.T, userID string) {
	_, err := f.carts.AddItem(context.Background(), userID, productA, 2)
	require.NoError(t, err)
	_, err = f.carts.AddItem(context.Background(), userID, productB, 1)
	require.NoError(t, err)
}

func (f *fixture) stock(t *testing.T, productID int64) int {
	p, err := f.mem.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return p.StockQuantity
}

func (f *fixture) cartCount(t *testing.T, userID string) int {
	n, err := f.carts.ItemCount(context.Background(), userID)
	require.NoError(t, err)
	return n
}

func TestPlaceOrder_Success(t *testing.T) {
	f := setup(t, nil, nil)
	ctx := context.Background()
	f.fillCart(t, "u1")

	placed, err := f.checkout.PlaceOrder(ctx, "u1", shipping())
	require.NoError(t, err)
	assert.Regexp(t, orderNumberPattern, placed.OrderNumber)
	assert.Equal(t, "ORD20250601150405-", placed.OrderNumber[:18])
	assert.True(t, decimal.RequireFromString("250.00").Equal(placed.TotalAmount))

	assert.Equal(t, 8, f.stock(t, productA))
	assert.Equal(t, 0, f.stock(t, productB))
	assert.Equal(t, 0, f.cartCount(t, "u1"))

	order, err := f.mem.GetOrder(ctx, placed.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, "1 Navy Way, Arlington", order.ShippingAddress)
	assert.Equal(t, checkoutTime, order.OrderDate)
	require.Len(t, order.Items, 2)
	assert.NoError(t, order.Reconcile())

	// the cart row survives, empty
	c, err := f.mem.GetCartByUserID(ctx, "u1")
	require.NoError(t, err)
	lines, err := f.mem.ListCartLines(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, lines)

	events, err := f.mem.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventOrderPlaced, events[0].EventType)
	assert.Equal(t, placed.OrderID.String(), events[0].AggregateID)

	var ev domain.OrderPlacedEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &ev))
	assert.Equal(t, placed.OrderNumber, ev.OrderNumber)
	assert.Len(t, ev.Items, 2)
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	f := setup(t, nil, nil)
	ctx := context.Background()

	// no cart at all
	_, err := f.checkout.PlaceOrder(ctx, "u1", shipping())
	assert.ErrorIs(t, err, domain.ErrEmptyCart)

	// cart that was emptied
	_, err = f.carts.AddItem(ctx, "u1", productA, 1)
	require.NoError(t, err)
	view, err := f.carts.GetCartView(ctx, "u1")
	require.NoError(t, err)
	_, err = f.carts.RemoveItem(ctx, "u1", view.Lines[0].ItemID)
	require.NoError(t, err)

	_, err = f.checkout.PlaceOrder(ctx, "u1", domain.ShippingInfo{})
	assert.ErrorIs(t, err, domain.ErrEmptyCart)

	assert.Equal(t, 0, f.mem.CountOrders())
	assert.Equal(t, 10, f.stock(t, productA))
}

func TestPlaceOrder_Unauthenticated(t *testing.T) {
	f := setup(t, nil, nil)
	_, err := f.checkout.PlaceOrder(context.Background(), "", shipping())
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestPlaceOrder_ValidationLeavesCart(t *testing.T) {
	f := setup(t, nil, nil)
	f.fillCart(t, "u1")

	info := shipping()
	info.Email = "grace-at-example"
	info.City = ""

	_, err := f.checkout.PlaceOrder(context.Background(), "u1", info)
	require.ErrorIs(t, err, domain.ErrValidation)

	var verrs domain.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs, 2)

	assert.Equal(t, 0, f.mem.CountOrders())
	assert.Equal(t, 3, f.cartCount(t, "u1"))
	assert.Equal(t, 10, f.stock(t, productA))
}

func TestPlaceOrder_StockDepletedBeforeCheckout(t *testing.T) {
	f := setup(t, nil, nil)
	ctx := context.Background()
	f.fillCart(t, "u1")

	// another session buys the last B
	require.NoError(t, f.mem.DecrementStock(ctx, productB, 1))

	_, err := f.checkout.PlaceOrder(ctx, "u1", shipping())
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, productB, stockErr.ProductID)

	assert.Equal(t, 10, f.stock(t, productA))
	assert.Equal(t, 3, f.cartCount(t, "u1"))
	assert.Equal(t, 0, f.mem.CountOrders())
}

type failingStore struct {
	*store.MemoryStore
	failProduct int64
}

func (s *failingStore) InTx(ctx context.Context, fn func(q repository.Queries) error) error {
	return s.MemoryStore.InTx(ctx, func(q repository.Queries) error {
		return fn(&failingQueries{Queries: q, failProduct: s.failProduct})
	})
}

type failingQueries struct {
	repository.Queries
	failProduct int64
}

func (q *failingQueries) DecrementStock(ctx context.Context, productID int64, qty int) error {
	if productID == q.failProduct {
		return repository.ErrInsufficientStock
	}
	return q.Queries.DecrementStock(ctx, productID, qty)
}

func TestPlaceOrder_DecrementFailureIsAtomic(t *testing.T) {
	f := setup(t, nil, func(m *store.MemoryStore) repository.Store {
		return &failingStore{MemoryStore: m, failProduct: productB}
	})
	ctx := context.Background()
	f.fillCart(t, "u1")

	_, err := f.checkout.PlaceOrder(ctx, "u1", shipping())
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, productB, stockErr.ProductID)

	assert.Equal(t, 10, f.stock(t, productA))
	assert.Equal(t, 1, f.stock(t, productB))
	assert.Equal(t, 0, f.mem.CountOrders())
	assert.Equal(t, 3, f.cartCount(t, "u1"))

	events, err := f.mem.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPlaceOrder_UsesPriceAtCheckout(t *testing.T) {
	f := setup(t, nil, nil)
	ctx := context.Background()

	_, err := f.carts.AddItem(ctx, "u1", productA, 3)
	require.NoError(t, err)
	f.mem.SetProduct(domain.Product{ID: productA, Name: "A", Price: decimal.RequireFromString("80.50"), StockQuantity: 10, IsActive: true})

	placed, err := f.checkout.PlaceOrder(ctx, "u1", shipping())
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("241.50").Equal(placed.TotalAmount))

	order, err := f.mem.GetOrder(ctx, placed.OrderID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("80.50").Equal(order.Items[0].UnitPrice))
}

func TestPlaceOrder_InactiveProduct(t *testing.T) {
	f := setup(t, nil, nil)
	ctx := context.Background()
	f.fillCart(t, "u1")

	f.mem.SetProduct(domain.Product{ID: productB, Name: "B", Price: decimal.RequireFromString("50.00"), StockQuantity: 1, IsActive: false})

	_, err := f.checkout.PlaceOrder(ctx, "u1", shipping())
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
	assert.Equal(t, 3, f.cartCount(t, "u1"))
}

type scriptedNumbers struct {
	mu      sync.Mutex
	numbers []string
	calls   int
}

func (s *scriptedNumbers) Next(time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.numbers[min(s.calls, len(s.numbers)-1)]
	s.calls++
	return n
}

func TestPlaceOrder_RetriesOnNumberCollision(t *testing.T) {
	numbers := &scriptedNumbers{numbers: []string{"ORD-X", "ORD-X", "ORD-Y"}}
	f := setup(t, numbers, nil)
	ctx := context.Background()

	_, err := f.carts.AddItem(ctx, "u1", productA, 1)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, "u2", productA, 2)
	require.NoError(t, err)

	first, err := f.checkout.PlaceOrder(ctx, "u1", shipping())
	require.NoError(t, err)
	assert.Equal(t, "ORD-X", first.OrderNumber)

	second, err := f.checkout.PlaceOrder(ctx, "u2", shipping())
	require.NoError(t, err)
	assert.Equal(t, "ORD-Y", second.OrderNumber)

	assert.Equal(t, 3, numbers.calls)
	assert.Equal(t, 7, f.stock(t, productA))
	assert.Equal(t, 2, f.mem.CountOrders())
}

func TestPlaceOrder_CollisionsExhausted(t *testing.T) {
	numbers := &scriptedNumbers{numbers: []string{"ORD-X"}}
	f := setup(t, numbers, nil)
	ctx := context.Background()

	_, err := f.carts.AddItem(ctx, "u1", productA, 1)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, "u2", productA, 1)
	require.NoError(t, err)

	_, err = f.checkout.PlaceOrder(ctx, "u1", shipping())
	require.NoError(t, err)

	_, err = f.checkout.PlaceOrder(ctx, "u2", shipping())
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.ErrorIs(t, err, domain.ErrOrderNumberCollision)

	assert.Equal(t, 1, f.cartCount(t, "u2"))
	assert.Equal(t, 9, f.stock(t, productA))
}

func TestPlaceOrder_SameSecondNumbersDiffer(t *testing.T) {
	f := setup(t, nil, nil)
	ctx := context.Background()

	_, err := f.carts.AddItem(ctx, "u1", productA, 1)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, "u2", productA, 1)
	require.NoError(t, err)

	a, err := f.checkout.PlaceOrder(ctx, "u1", shipping())
	require.NoError(t, err)
	b, err := f.checkout.PlaceOrder(ctx, "u2", shipping())
	require.NoError(t, err)

	assert.NotEqual(t, a.OrderNumber, b.OrderNumber)
	assert.Equal(t, a.OrderNumber[:17], b.OrderNumber[:17])
}

func TestPlaceOrder_ConcurrentCheckoutsNeverOversell(t *testing.T) {
	f := setup(t, nil, nil)
	ctx := context.Background()

	// ten buyers, five units of A
	f.mem.SetProduct(domain.Product{ID: productA, Name: "A", Price: decimal.RequireFromString("100.00"), StockQuantity: 5, IsActive: true})
	users := []string{"b0", "b1", "b2", "b3", "b4", "b5", "b6", "b7", "b8", "b9"}
	for _, u := range users {
		_, err := f.carts.AddItem(ctx, u, productA, 1)
		require.NoError(t, err)
	}

	var mu sync.Mutex
	placed, outOfStock := 0, 0
	var g errgroup.Group
	for _, u := range users {
		u := u
		g.Go(func() error {
			_, err := f.checkout.PlaceOrder(ctx, u, shipping())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				placed++
			case errors.Is(err, domain.ErrInsufficientStock):
				outOfStock++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 5, placed)
	assert.Equal(t, 5, outOfStock)
	assert.Equal(t, 0, f.stock(t, productA))
	assert.Equal(t, 5, f.mem.CountOrders())
}
