package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Cart struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CartItem struct {
	ID        int64     `json:"id"`
	CartID    int64     `json:"cart_id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}

// CartLine is a cart item joined with the live product row.
type CartLine struct {
	ItemID        int64           `json:"item_id"`
	ProductID     int64           `json:"product_id"`
	ProductName   string          `json:"product_name"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	StockQuantity int             `json:"stock_quantity"`
	IsActive      bool            `json:"is_active"`
	Quantity      int             `json:"quantity"`
	AddedAt       time.Time       `json:"added_at"`
}

func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// CartSnapshotLine is the display form of a CartLine.
type CartSnapshotLine struct {
	CartLine
	LineTotal decimal.Decimal `json:"line_total"`
}

// CartSnapshot is the read-only cart view handed to the presentation layer.
type CartSnapshot struct {
	CartID    int64              `json:"cart_id,omitempty"`
	UserID    string             `json:"user_id"`
	Lines     []CartSnapshotLine `json:"lines"`
	Total     decimal.Decimal    `json:"total"`
	ItemCount int                `json:"item_count"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// NewCartSnapshot builds a view from a cart and its lines. A nil cart yields
// the empty view for a user who has never added anything.
func NewCartSnapshot(userID string, cart *Cart, lines []CartLine) *CartSnapshot {
	s := &CartSnapshot{
		UserID: userID,
		Lines:  make([]CartSnapshotLine, 0, len(lines)),
		Total:  decimal.Zero,
	}
	if cart != nil {
		s.CartID = cart.ID
		s.UpdatedAt = cart.UpdatedAt
	}
	for _, l := range lines {
		lt := l.Subtotal()
		s.Lines = append(s.Lines, CartSnapshotLine{CartLine: l, LineTotal: lt})
		s.Total = s.Total.Add(lt)
		s.ItemCount += l.Quantity
	}
	return s
}

// CartTotals sums lines into the grand total and the item count.
func CartTotals(lines []CartLine) (decimal.Decimal, int) {
	total := decimal.Zero
	count := 0
	for _, l := range lines {
		total = total.Add(l.Subtotal())
		count += l.Quantity
	}
	return total, count
}

// CartContents is a cart and its items without any product data. A nil Cart
// means the user has none yet.
type CartContents struct {
	Cart  *Cart      `json:"cart,omitempty"`
	Items []CartItem `json:"items"`
}

// ProductIDs lists the distinct products referenced by the items.
func (c *CartContents) ProductIDs() []int64 {
	ids := make([]int64, 0, len(c.Items))
	seen := make(map[int64]bool, len(c.Items))
	for _, it := range c.Items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			ids = append(ids, it.ProductID)
		}
	}
	return ids
}

// JoinCartLines pairs each item with its product, keeping item order. Items
// whose product is gone are dropped, as an inner join would.
func JoinCartLines(items []CartItem, products []Product) []CartLine {
	byID := make(map[int64]Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	lines := make([]CartLine, 0, len(items))
	for _, it := range items {
		p, ok := byID[it.ProductID]
		if !ok {
			continue
		}
		lines = append(lines, CartLine{
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
	return lines
}
