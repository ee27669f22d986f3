package store

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *MemoryStore {
	store := NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	store.SetProduct(domain.Product{ID: 1, Name: "Widget", Price: decimal.NewFromInt(10), StockQuantity: 100, IsActive: true})
	store.SetProduct(domain.Product{ID: 2, Name: "Gadget", Price: decimal.NewFromInt(25), StockQuantity: 5, IsActive: true})
	return store
}

func TestMemoryStore_DecrementStock(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.DecrementStock(ctx, 2, 5))
	assert.ErrorIs(t, store.DecrementStock(ctx, 2, 1), repository.ErrInsufficientStock)
	assert.ErrorIs(t, store.DecrementStock(ctx, 42, 1), repository.ErrProductNotFound)

	p, err := store.GetProduct(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, p.StockQuantity)
}

func TestMemoryStore_IncrementStockOverflow(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.IncrementStock(ctx, 1, math.MaxInt), repository.ErrStockOverflow)
	assert.ErrorIs(t, store.IncrementStock(ctx, 1, domain.MaxQuantity-99), repository.ErrStockOverflow)
	require.NoError(t, store.IncrementStock(ctx, 1, domain.MaxQuantity-100))

	p, err := store.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.MaxQuantity, p.StockQuantity)
}

func TestMemoryStore_ListCartItemsAndGetProducts(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	cart, err := store.CreateCart(ctx, "u1", now)
	require.NoError(t, err)
	require.NoError(t, store.InsertCartItem(ctx, &domain.CartItem{CartID: cart.ID, ProductID: 2, Quantity: 1, CreatedAt: now.Add(time.Second)}))
	require.NoError(t, store.InsertCartItem(ctx, &domain.CartItem{CartID: cart.ID, ProductID: 1, Quantity: 4, CreatedAt: now}))

	items, err := store.ListCartItems(ctx, cart.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(1), items[0].ProductID)
	assert.Equal(t, int64(2), items[1].ProductID)

	products, err := store.GetProducts(ctx, []int64{2, 77})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Gadget", products[0].Name)
}

func TestMemoryStore_ConcurrentDecrement(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	// 10 goroutines each try to take 20 of 100.
	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.InTx(ctx, func(q repository.Queries) error {
				return q.DecrementStock(ctx, 1, 20)
			})
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, repository.ErrInsufficientStock)
		}
	}
	assert.Equal(t, 5, succeeded)

	p, err := store.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, p.StockQuantity)
}

func TestMemoryStore_InTx_RollsBack(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	boom := errors.New("boom")

	err := store.InTx(ctx, func(q repository.Queries) error {
		cart, err := q.CreateCart(ctx, "u1", now)
		if err != nil {
			return err
		}
		if err := q.InsertCartItem(ctx, &domain.CartItem{CartID: cart.ID, ProductID: 1, Quantity: 1, CreatedAt: now}); err != nil {
			return err
		}
		if err := q.DecrementStock(ctx, 1, 50); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.GetCartByUserID(ctx, "u1")
	assert.ErrorIs(t, err, repository.ErrCartNotFound)
	p, err := store.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 100, p.StockQuantity)
}

func TestMemoryStore_InTx_CancelledContext(t *testing.T) {
	store := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	err := store.InTx(ctx, func(q repository.Queries) error {
		if err := q.DecrementStock(ctx, 1, 1); err != nil {
			return err
		}
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	p, err := store.GetProduct(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 100, p.StockQuantity)
}

func TestMemoryStore_CartOwnership(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	cart, err := store.CreateCart(ctx, "owner", now)
	require.NoError(t, err)
	_, err = store.CreateCart(ctx, "owner", now)
	assert.ErrorIs(t, err, repository.ErrDuplicateCart)

	item := &domain.CartItem{CartID: cart.ID, ProductID: 2, Quantity: 3, CreatedAt: now}
	require.NoError(t, store.InsertCartItem(ctx, item))

	_, err = store.GetCartItemForUser(ctx, "intruder", item.ID)
	assert.ErrorIs(t, err, repository.ErrItemNotFound)

	got, err := store.GetCartItemForUser(ctx, "owner", item.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Quantity)

	lines, err := store.ListCartLines(ctx, cart.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "Gadget", lines[0].ProductName)
	assert.True(t, decimal.NewFromInt(75).Equal(lines[0].Subtotal()))
}

func TestMemoryStore_OrderNumberUnique(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	o := &domain.Order{ID: uuid.New(), UserID: "a", OrderNumber: "ORD1", Status: domain.OrderStatusPending, OrderDate: now}
	require.NoError(t, store.InsertOrder(ctx, o))

	dup := &domain.Order{ID: uuid.New(), UserID: "b", OrderNumber: "ORD1", Status: domain.OrderStatusPending, OrderDate: now}
	assert.ErrorIs(t, store.InsertOrder(ctx, dup), repository.ErrDuplicateOrderNumber)
	assert.Equal(t, 1, store.CountOrders())
}

func TestMemoryStore_Outbox(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.InsertOutboxEvent(ctx, &repository.OutboxEvent{AggregateID: "x", EventType: "order.placed", Payload: []byte(`{}`)}))
	}

	events, err := store.GetUnprocessedEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)

	require.NoError(t, store.MarkEventAsProcessed(ctx, events[0].ID, time.Now()))
	events, err = store.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}
