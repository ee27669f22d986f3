package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrProductNotFound      = errors.New("product not found")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrStockOverflow        = errors.New("stock quantity out of range")
	ErrCartNotFound         = errors.New("cart not found")
	ErrItemNotFound         = errors.New("cart item not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrDuplicateCart        = errors.New("cart for this user already exists")
	ErrDuplicateOrderNumber = errors.New("order with this number already exists")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// OutboxEvent is a row of the transactional outbox. It is written in the same
// transaction as the state change it describes.
type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     json.RawMessage
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// Queries is every statement the storefront runs. Implementations are bound
// either to a transaction or to the pool.
type Queries interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	// GetProducts returns the rows that exist among ids, in no particular order.
	GetProducts(ctx context.Context, ids []int64) ([]domain.Product, error)
	// DecrementStock subtracts qty iff the current stock covers it, in one
	// conditional update. Returns ErrInsufficientStock otherwise.
	DecrementStock(ctx context.Context, productID int64, qty int) error
	IncrementStock(ctx context.Context, productID int64, qty int) error

	GetCartByUserID(ctx context.Context, userID string) (*domain.Cart, error)
	// CreateCart returns ErrDuplicateCart when another cart for userID won.
	CreateCart(ctx context.Context, userID string, now time.Time) (*domain.Cart, error)
	// LockCart takes the row lock that serializes mutations of one cart.
	LockCart(ctx context.Context, cartID int64) error
	TouchCart(ctx context.Context, cartID int64, now time.Time) error
	FindCartItem(ctx context.Context, cartID, productID int64) (*domain.CartItem, error)
	// GetCartItemForUser returns ErrItemNotFound unless the item sits in userID's cart.
	GetCartItemForUser(ctx context.Context, userID string, itemID int64) (*domain.CartItem, error)
	InsertCartItem(ctx context.Context, item *domain.CartItem) error
	UpdateCartItemQuantity(ctx context.Context, itemID int64, qty int) error
	DeleteCartItem(ctx context.Context, itemID int64) error
	ClearCartItems(ctx context.Context, cartID int64) (int64, error)
	// ListCartItems returns the cart's items oldest first.
	ListCartItems(ctx context.Context, cartID int64) ([]domain.CartItem, error)
	ListCartLines(ctx context.Context, cartID int64) ([]domain.CartLine, error)

	// InsertOrder returns ErrDuplicateOrderNumber on an order number clash.
	InsertOrder(ctx context.Context, order *domain.Order) error
	InsertOrderItem(ctx context.Context, item *domain.OrderItem) error
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	LockOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListOrdersByUserID(ctx context.Context, userID string) ([]*domain.Order, error)
	ListOrders(ctx context.Context, limit int) ([]*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus, now time.Time) error

	InsertOutboxEvent(ctx context.Context, event *OutboxEvent) error
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64, now time.Time) error
}

// Store hands out Queries. InTx runs fn in one transaction and commits only
// if fn returns nil.
type Store interface {
	Queries
	InTx(ctx context.Context, fn func(q Queries) error) error
	Close() error
}
