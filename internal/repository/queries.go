package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
}

type rowScanner interface {
	Scan(dest ...any) error
}

// products

func (q *queries) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	query := `SELECT id, name, slug, price, stock_quantity, is_active, created_at, updated_at
	          FROM products WHERE id = $1`

	var p domain.Product
	err := q.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.Slug,
		&p.Price,
		&p.StockQuantity,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product by id: %w", err)
	}
	return &p, nil
}

func (q *queries) GetProducts(ctx context.Context, ids []int64) ([]domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT id, name, slug, price, stock_quantity, is_active, created_at, updated_at
	          FROM products WHERE id = ANY($1::bigint[])`

	rows, err := q.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query products by ids: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(
			&p.ID,
			&p.Name,
			&p.Slug,
			&p.Price,
			&p.StockQuantity,
			&p.IsActive,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return products, nil
}

func (q *queries) DecrementStock(ctx context.Context, productID int64, qty int) error {
	query := `UPDATE products SET stock_quantity = stock_quantity - $2, updated_at = NOW()
	          WHERE id = $1 AND stock_quantity >= $2`

	res, err := q.db.ExecContext(ctx, query, productID, qty)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decrement stock rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	exists, err := q.productExists(ctx, productID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrProductNotFound
	}
	return ErrInsufficientStock
}

func (q *queries) IncrementStock(ctx context.Context, productID int64, qty int) error {
	query := `UPDATE products SET stock_quantity = stock_quantity + $2, updated_at = NOW() WHERE id = $1`

	res, err := q.db.ExecContext(ctx, query, productID, qty)
	if isOutOfRange(err) {
		return ErrStockOverflow
	}
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("increment stock rows affected: %w", err)
	} else if n == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (q *queries) productExists(ctx context.Context, productID int64) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query product exists: %w", err)
	}
	return exists, nil
}

// carts

func (q *queries) GetCartByUserID(ctx context.Context, userID string) (*domain.Cart, error) {
	query := `SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1`

	var c domain.Cart
	err := q.db.QueryRowContext(ctx, query, userID).Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cart by user id: %w", err)
	}
	return &c, nil
}

func (q *queries) CreateCart(ctx context.Context, userID string, now time.Time) (*domain.Cart, error) {
	query := `INSERT INTO carts (user_id, created_at, updated_at) VALUES ($1, $2, $2)
	          ON CONFLICT (user_id) DO NOTHING
	          RETURNING id, user_id, created_at, updated_at`

	var c domain.Cart
	err := q.db.QueryRowContext(ctx, query, userID, now).Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDuplicateCart
	}
	if err != nil {
		return nil, fmt.Errorf("insert cart: %w", err)
	}
	return &c, nil
}

func (q *queries) LockCart(ctx context.Context, cartID int64) error {
	var id int64
	err := q.db.QueryRowContext(ctx, `SELECT id FROM carts WHERE id = $1 FOR UPDATE`, cartID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrCartNotFound
	}
	if err != nil {
		return fmt.Errorf("lock cart: %w", err)
	}
	return nil
}

func (q *queries) TouchCart(ctx context.Context, cartID int64, now time.Time) error {
	if _, err := q.db.ExecContext(ctx, `UPDATE carts SET updated_at = $2 WHERE id = $1`, cartID, now); err != nil {
		return fmt.Errorf("touch cart: %w", err)
	}
	return nil
}

func (q *queries) FindCartItem(ctx context.Context, cartID, productID int64) (*domain.CartItem, error) {
	query := `SELECT id, cart_id, product_id, quantity, created_at
	          FROM cart_items WHERE cart_id = $1 AND product_id = $2`

	it, err := scanCartItem(q.db.QueryRowContext(ctx, query, cartID, productID))
	if err != nil {
		return nil, fmt.Errorf("query cart item: %w", err)
	}
	return it, nil
}

func (q *queries) GetCartItemForUser(ctx context.Context, userID string, itemID int64) (*domain.CartItem, error) {
	query := `SELECT ci.id, ci.cart_id, ci.product_id, ci.quantity, ci.created_at
	          FROM cart_items ci JOIN carts c ON c.id = ci.cart_id
	          WHERE ci.id = $1 AND c.user_id = $2
	          FOR UPDATE OF ci`

	it, err := scanCartItem(q.db.QueryRowContext(ctx, query, itemID, userID))
	if err != nil {
		return nil, fmt.Errorf("query cart item for user: %w", err)
	}
	return it, nil
}

func scanCartItem(row rowScanner) (*domain.CartItem, error) {
	var it domain.CartItem
	err := row.Scan(&it.ID, &it.CartID, &it.ProductID, &it.Quantity, &it.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (q *queries) InsertCartItem(ctx context.Context, item *domain.CartItem) error {
	query := `INSERT INTO cart_items (cart_id, product_id, quantity, created_at)
	          VALUES ($1, $2, $3, $4) RETURNING id`

	err := q.db.QueryRowContext(ctx, query, item.CartID, item.ProductID, item.Quantity, item.CreatedAt).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("insert cart item: %w", err)
	}
	return nil
}

func (q *queries) UpdateCartItemQuantity(ctx context.Context, itemID int64, qty int) error {
	res, err := q.db.ExecContext(ctx, `UPDATE cart_items SET quantity = $2 WHERE id = $1`, itemID, qty)
	if err != nil {
		return fmt.Errorf("update cart item quantity: %w", err)
	}
	return expectOneRow(res, ErrItemNotFound)
}

func (q *queries) DeleteCartItem(ctx context.Context, itemID int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM cart_items WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	return expectOneRow(res, ErrItemNotFound)
}

func (q *queries) ClearCartItems(ctx context.Context, cartID int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	if err != nil {
		return 0, fmt.Errorf("clear cart items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear cart items rows affected: %w", err)
	}
	return n, nil
}

func (q *queries) ListCartItems(ctx context.Context, cartID int64) ([]domain.CartItem, error) {
	query := `SELECT id, cart_id, product_id, quantity, created_at
	          FROM cart_items WHERE cart_id = $1
	          ORDER BY created_at, id`

	rows, err := q.db.QueryContext(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer rows.Close()

	var items []domain.CartItem
	for rows.Next() {
		it, err := scanCartItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

func (q *queries) ListCartLines(ctx context.Context, cartID int64) ([]domain.CartLine, error) {
	query := `SELECT ci.id, ci.product_id, p.name, p.price, p.stock_quantity, p.is_active, ci.quantity, ci.created_at
	          FROM cart_items ci JOIN products p ON p.id = ci.product_id
	          WHERE ci.cart_id = $1
	          ORDER BY ci.created_at, ci.id`

	rows, err := q.db.QueryContext(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("query cart lines: %w", err)
	}
	defer rows.Close()

	var lines []domain.CartLine
	for rows.Next() {
		var l domain.CartLine
		if err := rows.Scan(
			&l.ItemID,
			&l.ProductID,
			&l.ProductName,
			&l.UnitPrice,
			&l.StockQuantity,
			&l.IsActive,
			&l.Quantity,
			&l.AddedAt,
		); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return lines, nil
}

// orders

const orderColumns = `id, user_id, order_number, total_amount, status, shipping_address,
	phone_number, notes, payment_method, order_date, created_at, updated_at`

func (q *queries) InsertOrder(ctx context.Context, o *domain.Order) error {
	query := `INSERT INTO orders (` + orderColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := q.db.ExecContext(ctx, query,
		o.ID,
		o.UserID,
		o.OrderNumber,
		o.TotalAmount,
		o.Status,
		o.ShippingAddress,
		o.PhoneNumber,
		o.Notes,
		o.PaymentMethod,
		o.OrderDate,
		o.CreatedAt,
		o.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "orders_order_number_key") {
			return ErrDuplicateOrderNumber
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (q *queries) InsertOrderItem(ctx context.Context, it *domain.OrderItem) error {
	query := `INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price, total_price)
	          VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`

	err := q.db.QueryRowContext(ctx, query,
		it.OrderID,
		it.ProductID,
		it.ProductName,
		it.Quantity,
		it.UnitPrice,
		it.TotalPrice,
	).Scan(&it.ID)
	if err != nil {
		return fmt.Errorf("insert order item: %w", err)
	}
	return nil
}

func (q *queries) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return q.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (q *queries) LockOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return q.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (q *queries) getOrder(ctx context.Context, query string, id uuid.UUID) (*domain.Order, error) {
	o, err := scanOrder(q.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}
	if err := q.attachItems(ctx, []*domain.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (q *queries) ListOrdersByUserID(ctx context.Context, userID string) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY order_date DESC, created_at DESC`
	return q.listOrders(ctx, query, userID)
}

func (q *queries) ListOrders(ctx context.Context, limit int) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY order_date DESC, created_at DESC LIMIT $1`
	return q.listOrders(ctx, query, limit)
}

func (q *queries) listOrders(ctx context.Context, query string, args ...any) ([]*domain.Order, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	if err := q.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.OrderNumber,
		&o.TotalAmount,
		&o.Status,
		&o.ShippingAddress,
		&o.PhoneNumber,
		&o.Notes,
		&o.PaymentMethod,
		&o.OrderDate,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// attachItems loads the items of all given orders in one round trip.
func (q *queries) attachItems(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]string, 0, len(orders))
	byID := make(map[uuid.UUID]*domain.Order, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID.String())
		byID[o.ID] = o
		o.Items = []domain.OrderItem{}
	}

	query := `SELECT id, order_id, product_id, product_name, quantity, unit_price, total_price
	          FROM order_items WHERE order_id = ANY($1::uuid[]) ORDER BY id`

	rows, err := q.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(
			&it.ID,
			&it.OrderID,
			&it.ProductID,
			&it.ProductName,
			&it.Quantity,
			&it.UnitPrice,
			&it.TotalPrice,
		); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		if o, ok := byID[it.OrderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("row iteration error: %w", err)
	}
	return nil
}

func (q *queries) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus, now time.Time) error {
	res, err := q.db.ExecContext(ctx, `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`, id, status, now)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return expectOneRow(res, ErrOrderNotFound)
}

// outbox

func (q *queries) InsertOutboxEvent(ctx context.Context, ev *OutboxEvent) error {
	query := `INSERT INTO outbox_events (aggregate_id, event_type, payload, created_at)
	          VALUES ($1, $2, $3, $4) RETURNING id`

	err := q.db.QueryRowContext(ctx, query, ev.AggregateID, ev.EventType, string(ev.Payload), ev.CreatedAt).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (q *queries) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `SELECT id, aggregate_id, event_type, payload, created_at
	          FROM outbox_events WHERE processed_at IS NULL
	          ORDER BY id LIMIT $1`

	rows, err := q.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var ev OutboxEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.AggregateID, &ev.EventType, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		ev.Payload = payload
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (q *queries) MarkEventAsProcessed(ctx context.Context, id int64, now time.Time) error {
	if _, err := q.db.ExecContext(ctx, `UPDATE outbox_events SET processed_at = $2 WHERE id = $1`, id, now); err != nil {
		return fmt.Errorf("mark outbox event processed: %w", err)
	}
	return nil
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// CreateProduct inserts a catalog row. The catalog is owned elsewhere; this
// exists for seeding.
func (q *queries) CreateProduct(ctx context.Context, p *domain.Product) error {
	query := `INSERT INTO products (name, slug, price, stock_quantity, is_active)
	          VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at, updated_at`

	err := q.db.QueryRowContext(ctx, query, p.Name, p.Slug, p.Price, p.StockQuantity, p.IsActive).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}
