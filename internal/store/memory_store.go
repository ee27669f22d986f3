package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/repository"
	"github.com/google/uuid"
)

// state is everything the store holds. Transactions work on a copy and swap
// it in on success.
type state struct {
	products    map[int64]domain.Product
	carts       map[int64]domain.Cart
	cartsByUser map[string]int64
	cartItems   map[int64]domain.CartItem
	orders      map[uuid.UUID]domain.Order
	orderItems  map[uuid.UUID][]domain.OrderItem
	outbox      []repository.OutboxEvent

	nextCartID      int64
	nextCartItemID  int64
	nextOrderItemID int64
	nextEventID     int64
}

func newState() *state {
	return &state{
		products:    make(map[int64]domain.Product),
		carts:       make(map[int64]domain.Cart),
		cartsByUser: make(map[string]int64),
		cartItems:   make(map[int64]domain.CartItem),
		orders:      make(map[uuid.UUID]domain.Order),
		orderItems:  make(map[uuid.UUID][]domain.OrderItem),
	}
}

func (s *state) clone() *state {
	c := *s
	c.products = maps.Clone(s.products)
	c.carts = maps.Clone(s.carts)
	c.cartsByUser = maps.Clone(s.cartsByUser)
	c.cartItems = maps.Clone(s.cartItems)
	c.orders = maps.Clone(s.orders)
	c.orderItems = make(map[uuid.UUID][]domain.OrderItem, len(s.orderItems))
	for k, v := range s.orderItems {
		c.orderItems[k] = slices.Clone(v)
	}
	c.outbox = slices.Clone(s.outbox)
	return &c
}

// MemoryStore implements repository.Store in process memory. Transactions are
// serialized by a single mutex, which gives the same all-or-nothing and
// conditional-decrement guarantees as the Postgres store.
type MemoryStore struct {
	*memQueries
	mu sync.Mutex
	st *state
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{st: newState()}
	s.memQueries = &memQueries{store: s}
	return s
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(q repository.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&memQueries{tx: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

// SetProduct creates or replaces a catalog row.
func (s *MemoryStore) SetProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	s.st.products[p.ID] = p
}

// CountCarts returns how many carts belong to userID.
func (s *MemoryStore) CountCarts(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.st.carts {
		if c.UserID == userID {
			n++
		}
	}
	return n
}

// CountOrders returns the number of stored orders.
func (s *MemoryStore) CountOrders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.orders)
}

func (s *MemoryStore) Close() error {
	return nil
}

// memQueries runs against either a transaction's working copy (tx) or the
// live state under the store lock (store).
type memQueries struct {
	store *MemoryStore
	tx    *state
}

func (q *memQueries) acquire() (*state, func()) {
	if q.tx != nil {
		return q.tx, func() {}
	}
	q.store.mu.Lock()
	return q.store.st, q.store.mu.Unlock
}

func (q *memQueries) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	st, release := q.acquire()
	defer release()

	p, ok := st.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	return &p, nil
}

func (q *memQueries) GetProducts(_ context.Context, ids []int64) ([]domain.Product, error) {
	st, release := q.acquire()
	defer release()

	var products []domain.Product
	for _, id := range ids {
		if p, ok := st.products[id]; ok {
			products = append(products, p)
		}
	}
	return products, nil
}

func (q *memQueries) DecrementStock(_ context.Context, productID int64, qty int) error {
	st, release := q.acquire()
	defer release()

	p, ok := st.products[productID]
	if !ok {
		return repository.ErrProductNotFound
	}
	if p.StockQuantity < qty {
		return repository.ErrInsufficientStock
	}
	p.StockQuantity -= qty
	p.UpdatedAt = time.Now().UTC()
	st.products[productID] = p
	return nil
}

func (q *memQueries) IncrementStock(_ context.Context, productID int64, qty int) error {
	st, release := q.acquire()
	defer release()

	p, ok := st.products[productID]
	if !ok {
		return repository.ErrProductNotFound
	}
	if qty < 0 || qty > domain.MaxQuantity-p.StockQuantity {
		return repository.ErrStockOverflow
	}
	p.StockQuantity += qty
	p.UpdatedAt = time.Now().UTC()
	st.products[productID] = p
	return nil
}

func (q *memQueries) GetCartByUserID(_ context.Context, userID string) (*domain.Cart, error) {
	st, release := q.acquire()
	defer release()

	id, ok := st.cartsByUser[userID]
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	c := st.carts[id]
	return &c, nil
}

func (q *memQueries) CreateCart(_ context.Context, userID string, now time.Time) (*domain.Cart, error) {
	st, release := q.acquire()
	defer release()

	if _, ok := st.cartsByUser[userID]; ok {
		return nil, repository.ErrDuplicateCart
	}
	st.nextCartID++
	c := domain.Cart{ID: st.nextCartID, UserID: userID, CreatedAt: now, UpdatedAt: now}
	st.carts[c.ID] = c
	st.cartsByUser[userID] = c.ID
	return &c, nil
}

func (q *memQueries) LockCart(_ context.Context, cartID int64) error {
	st, release := q.acquire()
	defer release()

	if _, ok := st.carts[cartID]; !ok {
		return repository.ErrCartNotFound
	}
	return nil
}

func (q *memQueries) TouchCart(_ context.Context, cartID int64, now time.Time) error {
	st, release := q.acquire()
	defer release()

	c, ok := st.carts[cartID]
	if !ok {
		return repository.ErrCartNotFound
	}
	c.UpdatedAt = now
	st.carts[cartID] = c
	return nil
}

func (q *memQueries) FindCartItem(_ context.Context, cartID, productID int64) (*domain.CartItem, error) {
	st, release := q.acquire()
	defer release()

	for _, it := range st.cartItems {
		if it.CartID == cartID && it.ProductID == productID {
			return &it, nil
		}
	}
	return nil, repository.ErrItemNotFound
}

func (q *memQueries) GetCartItemForUser(_ context.Context, userID string, itemID int64) (*domain.CartItem, error) {
	st, release := q.acquire()
	defer release()

	it, ok := st.cartItems[itemID]
	if !ok {
		return nil, repository.ErrItemNotFound
	}
	if c, ok := st.carts[it.CartID]; !ok || c.UserID != userID {
		return nil, repository.ErrItemNotFound
	}
	return &it, nil
}

func (q *memQueries) InsertCartItem(_ context.Context, item *domain.CartItem) error {
	st, release := q.acquire()
	defer release()

	st.nextCartItemID++
	item.ID = st.nextCartItemID
	st.cartItems[item.ID] = *item
	return nil
}

func (q *memQueries) UpdateCartItemQuantity(_ context.Context, itemID int64, qty int) error {
	st, release := q.acquire()
	defer release()

	it, ok := st.cartItems[itemID]
	if !ok {
		return repository.ErrItemNotFound
	}
	it.Quantity = qty
	st.cartItems[itemID] = it
	return nil
}

func (q *memQueries) DeleteCartItem(_ context.Context, itemID int64) error {
	st, release := q.acquire()
	defer release()

	if _, ok := st.cartItems[itemID]; !ok {
		return repository.ErrItemNotFound
	}
	delete(st.cartItems, itemID)
	return nil
}

func (q *memQueries) ClearCartItems(_ context.Context, cartID int64) (int64, error) {
	st, release := q.acquire()
	defer release()

	var n int64
	for id, it := range st.cartItems {
		if it.CartID == cartID {
			delete(st.cartItems, id)
			n++
		}
	}
	return n, nil
}

func (q *memQueries) ListCartItems(_ context.Context, cartID int64) ([]domain.CartItem, error) {
	st, release := q.acquire()
	defer release()

	var items []domain.CartItem
	for _, it := range st.cartItems {
		if it.CartID == cartID {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (q *memQueries) ListCartLines(_ context.Context, cartID int64) ([]domain.CartLine, error) {
	st, release := q.acquire()
	defer release()

	var lines []domain.CartLine
	for _, it := range st.cartItems {
		if it.CartID != cartID {
			continue
		}
		p := st.products[it.ProductID]
		lines = append(lines, domain.CartLine{
			ItemID:        it.ID,
			ProductID:     it.ProductID,
			ProductName:   p.Name,
			UnitPrice:     p.Price,
			StockQuantity: p.StockQuantity,
			IsActive:      p.IsActive,
			Quantity:      it.Quantity,
			AddedAt:       it.CreatedAt,
		})
	}
	sort.Slice(lines, func(i, j int) bool {
		if !lines[i].AddedAt.Equal(lines[j].AddedAt) {
			return lines[i].AddedAt.Before(lines[j].AddedAt)
		}
		return lines[i].ItemID < lines[j].ItemID
	})
	return lines, nil
}

func (q *memQueries) InsertOrder(_ context.Context, o *domain.Order) error {
	st, release := q.acquire()
	defer release()

	for _, existing := range st.orders {
		if existing.OrderNumber == o.OrderNumber {
			return repository.ErrDuplicateOrderNumber
		}
	}
	stored := *o
	stored.Items = nil
	st.orders[o.ID] = stored
	return nil
}

func (q *memQueries) InsertOrderItem(_ context.Context, it *domain.OrderItem) error {
	st, release := q.acquire()
	defer release()

	if _, ok := st.orders[it.OrderID]; !ok {
		return repository.ErrOrderNotFound
	}
	st.nextOrderItemID++
	it.ID = st.nextOrderItemID
	st.orderItems[it.OrderID] = append(st.orderItems[it.OrderID], *it)
	return nil
}

func (q *memQueries) GetOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	st, release := q.acquire()
	defer release()
	return st.order(id)
}

func (q *memQueries) LockOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return q.GetOrder(ctx, id)
}

func (st *state) order(id uuid.UUID) (*domain.Order, error) {
	o, ok := st.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	o.Items = slices.Clone(st.orderItems[id])
	if o.Items == nil {
		o.Items = []domain.OrderItem{}
	}
	return &o, nil
}

func (q *memQueries) ListOrdersByUserID(_ context.Context, userID string) ([]*domain.Order, error) {
	st, release := q.acquire()
	defer release()

	return st.listOrders(func(o domain.Order) bool { return o.UserID == userID }, 0), nil
}

func (q *memQueries) ListOrders(_ context.Context, limit int) ([]*domain.Order, error) {
	st, release := q.acquire()
	defer release()

	return st.listOrders(func(domain.Order) bool { return true }, limit), nil
}

func (st *state) listOrders(keep func(domain.Order) bool, limit int) []*domain.Order {
	var out []*domain.Order
	for id, o := range st.orders {
		if keep(o) {
			full, _ := st.order(id)
			out = append(out, full)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OrderDate.Equal(out[j].OrderDate) {
			return out[i].OrderDate.After(out[j].OrderDate)
		}
		return strings.Compare(out[i].OrderNumber, out[j].OrderNumber) > 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (q *memQueries) UpdateOrderStatus(_ context.Context, id uuid.UUID, status domain.OrderStatus, now time.Time) error {
	st, release := q.acquire()
	defer release()

	o, ok := st.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	o.Status = status
	o.UpdatedAt = now
	st.orders[id] = o
	return nil
}

func (q *memQueries) InsertOutboxEvent(_ context.Context, ev *repository.OutboxEvent) error {
	st, release := q.acquire()
	defer release()

	st.nextEventID++
	ev.ID = st.nextEventID
	stored := *ev
	stored.Payload = slices.Clone(ev.Payload)
	st.outbox = append(st.outbox, stored)
	return nil
}

func (q *memQueries) GetUnprocessedEvents(_ context.Context, limit int) ([]*repository.OutboxEvent, error) {
	st, release := q.acquire()
	defer release()

	var out []*repository.OutboxEvent
	for _, ev := range st.outbox {
		if ev.ProcessedAt != nil {
			continue
		}
		e := ev
		out = append(out, &e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (q *memQueries) MarkEventAsProcessed(_ context.Context, id int64, now time.Time) error {
	st, release := q.acquire()
	defer release()

	for i := range st.outbox {
		if st.outbox[i].ID == id {
			t := now
			st.outbox[i].ProcessedAt = &t
			return nil
		}
	}
	return nil
}
