package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// MaxQuantity bounds every stock level and line quantity to the INTEGER columns
// that store them.
const MaxQuantity = math.MaxInt32

// ValidQuantity reports whether qty fits in 1..MaxQuantity.
func ValidQuantity(qty int) bool {
	return qty >= 1 && qty <= MaxQuantity
}

// Product is the catalog row as seen by the cart and checkout code.
// Only StockQuantity is written here, and only through the inventory ledger.
type Product struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Slug          string          `json:"slug"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Purchasable reports whether the product can be put into a cart or an order.
func (p *Product) Purchasable() bool {
	return p != nil && p.IsActive
}
