package repository

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (*Repository, func()) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &Credentials{
		Host:              host,
		Port:              port.Int(),
		User:              "testuser",
		Password:          "testpass",
		DBName:            "testdb",
		MigrationsDirPath: "./migrations",
	}

	repo, err := NewRepository(ctx, creds)
	require.NoError(t, err)

	err = repo.RunMigrations(creds)
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return repo, cleanup
}

func seedProduct(t *testing.T, repo *Repository, slug string, price string, stock int) *domain.Product {
	p := &domain.Product{
		Name:          "Product " + slug,
		Slug:          slug,
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
		IsActive:      true,
	}
	require.NoError(t, repo.CreateProduct(context.Background(), p))
	return p
}

func TestDecrementStock_Conditional(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	p := seedProduct(t, repo, "widget", "10.00", 3)

	require.NoError(t, repo.DecrementStock(ctx, p.ID, 2))
	err := repo.DecrementStock(ctx, p.ID, 2)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	got, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.StockQuantity)

	assert.ErrorIs(t, repo.DecrementStock(ctx, 999999, 1), ErrProductNotFound)
}

func TestIncrementStock_Overflow(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	p := seedProduct(t, repo, "bolt", "0.10", 5)

	assert.ErrorIs(t, repo.IncrementStock(ctx, p.ID, math.MaxInt32), ErrStockOverflow)
	assert.ErrorIs(t, repo.IncrementStock(ctx, p.ID, math.MaxInt), ErrStockOverflow)

	got, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.StockQuantity)
}

func TestDecrementStock_ConcurrentNeverNegative(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	p := seedProduct(t, repo, "hot-item", "5.00", 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.DecrementStock(ctx, p.ID, 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 0, got.StockQuantity)
}

func TestCreateCart_OnePerUser(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Now().UTC()

	c, err := repo.CreateCart(ctx, "user-1", now)
	require.NoError(t, err)
	assert.NotZero(t, c.ID)

	_, err = repo.CreateCart(ctx, "user-1", now)
	assert.ErrorIs(t, err, ErrDuplicateCart)

	got, err := repo.GetCartByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	_, err = repo.GetCartByUserID(ctx, "nobody")
	assert.ErrorIs(t, err, ErrCartNotFound)
}

func TestCartItems_OwnershipAndLines(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Now().UTC()

	p := seedProduct(t, repo, "mug", "12.50", 10)
	cart, err := repo.CreateCart(ctx, "owner", now)
	require.NoError(t, err)

	item := &domain.CartItem{CartID: cart.ID, ProductID: p.ID, Quantity: 2, CreatedAt: now}
	require.NoError(t, repo.InsertCartItem(ctx, item))

	_, err = repo.GetCartItemForUser(ctx, "intruder", item.ID)
	assert.ErrorIs(t, err, ErrItemNotFound)

	err = repo.InTx(ctx, func(q Queries) error {
		found, err := q.GetCartItemForUser(ctx, "owner", item.ID)
		if err != nil {
			return err
		}
		return q.UpdateCartItemQuantity(ctx, found.ID, 4)
	})
	require.NoError(t, err)

	lines, err := repo.ListCartLines(ctx, cart.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 4, lines[0].Quantity)
	assert.Equal(t, "Product mug", lines[0].ProductName)
	assert.True(t, decimal.RequireFromString("50.00").Equal(lines[0].Subtotal()))

	n, err := repo.ClearCartItems(ctx, cart.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestInTx_RollsBackOnError(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	p := seedProduct(t, repo, "lamp", "30.00", 5)
	boom := errors.New("boom")

	err := repo.InTx(ctx, func(q Queries) error {
		if err := q.DecrementStock(ctx, p.ID, 5); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.StockQuantity)
}

func TestInTx_RollsBackOnPanic(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	p := seedProduct(t, repo, "vase", "20.00", 4)
	repo.db.SetMaxOpenConns(1)

	assert.PanicsWithValue(t, "boom", func() {
		_ = repo.InTx(ctx, func(q Queries) error {
			if err := q.DecrementStock(ctx, p.ID, 4); err != nil {
				return err
			}
			panic("boom")
		})
	})

	// with a single connection this blocks forever if the tx leaked
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	got, err := repo.GetProduct(queryCtx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.StockQuantity)
}

func TestCartItemsAndProducts_Lookup(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	first := seedProduct(t, repo, "pen", "1.50", 100)
	second := seedProduct(t, repo, "ink", "4.00", 20)
	cart, err := repo.CreateCart(ctx, "writer", now)
	require.NoError(t, err)

	require.NoError(t, repo.InsertCartItem(ctx, &domain.CartItem{CartID: cart.ID, ProductID: second.ID, Quantity: 1, CreatedAt: now}))
	require.NoError(t, repo.InsertCartItem(ctx, &domain.CartItem{CartID: cart.ID, ProductID: first.ID, Quantity: 3, CreatedAt: now.Add(time.Second)}))

	items, err := repo.ListCartItems(ctx, cart.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, second.ID, items[0].ProductID)
	assert.Equal(t, 3, items[1].Quantity)

	products, err := repo.GetProducts(ctx, []int64{first.ID, second.ID, 999999})
	require.NoError(t, err)
	assert.Len(t, products, 2)

	products, err = repo.GetProducts(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, products)
}

func newOrder(userID, number string, at time.Time) *domain.Order {
	return &domain.Order{
		ID:              uuid.New(),
		UserID:          userID,
		OrderNumber:     number,
		TotalAmount:     decimal.RequireFromString("25.00"),
		Status:          domain.OrderStatusPending,
		ShippingAddress: "1 Main St, Springfield",
		PhoneNumber:     "555-0100",
		PaymentMethod:   "card",
		OrderDate:       at,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
}

func TestOrders_InsertGetList(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	p := seedProduct(t, repo, "book", "12.50", 10)

	first := newOrder("buyer", "ORD20250101120000-AAAAAAAA", now.Add(-time.Hour))
	second := newOrder("buyer", "ORD20250101130000-BBBBBBBB", now)

	for _, o := range []*domain.Order{first, second} {
		err := repo.InTx(ctx, func(q Queries) error {
			if err := q.InsertOrder(ctx, o); err != nil {
				return err
			}
			return q.InsertOrderItem(ctx, &domain.OrderItem{
				OrderID:     o.ID,
				ProductID:   p.ID,
				ProductName: p.Name,
				Quantity:    2,
				UnitPrice:   p.Price,
				TotalPrice:  decimal.RequireFromString("25.00"),
			})
		})
		require.NoError(t, err)
	}

	got, err := repo.GetOrder(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.OrderNumber, got.OrderNumber)
	require.Len(t, got.Items, 1)
	assert.NoError(t, got.Reconcile())

	list, err := repo.ListOrdersByUserID(ctx, "buyer")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	all, err := repo.ListOrders(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = repo.GetOrder(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestInsertOrder_DuplicateNumber(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.InsertOrder(ctx, newOrder("a", "ORD20250101120000-SAME0000", now)))
	err := repo.InsertOrder(ctx, newOrder("b", "ORD20250101120000-SAME0000", now))
	assert.ErrorIs(t, err, ErrDuplicateOrderNumber)
}

func TestOutbox_RoundTrip(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	ev := &OutboxEvent{
		AggregateID: "order-1",
		EventType:   "order.placed",
		Payload:     json.RawMessage(`{"order_id":"order-1"}`),
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, repo.InsertOutboxEvent(ctx, ev))
	assert.NotZero(t, ev.ID)

	events, err := repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"order_id":"order-1"}`, string(events[0].Payload))

	require.NoError(t, repo.MarkEventAsProcessed(ctx, ev.ID, time.Now().UTC()))
	events, err = repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}
