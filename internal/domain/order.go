package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderItem struct {
	ID          int64           `json:"id"`
	OrderID     uuid.UUID       `json:"order_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

type Order struct {
	ID              uuid.UUID       `json:"id"`
	UserID          string          `json:"user_id"`
	OrderNumber     string          `json:"order_number"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Status          OrderStatus     `json:"status"`
	ShippingAddress string          `json:"shipping_address"`
	PhoneNumber     string          `json:"phone_number"`
	Notes           string          `json:"notes,omitempty"`
	PaymentMethod   string          `json:"payment_method"`
	OrderDate       time.Time       `json:"order_date"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Items           []OrderItem     `json:"items"`
}

// NewOrderItem freezes a cart line at its current price.
func NewOrderItem(orderID uuid.UUID, line CartLine) OrderItem {
	return OrderItem{
		OrderID:     orderID,
		ProductID:   line.ProductID,
		ProductName: line.ProductName,
		Quantity:    line.Quantity,
		UnitPrice:   line.UnitPrice,
		TotalPrice:  line.Subtotal(),
	}
}

// Reconcile checks that every item total is quantity * unit price and that
// the order total is the sum of the item totals.
func (o *Order) Reconcile() error {
	sum := decimal.Zero
	for _, it := range o.Items {
		if it.Quantity < 1 {
			return fmt.Errorf("order item for product %d: quantity %d", it.ProductID, it.Quantity)
		}
		want := it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		if !it.TotalPrice.Equal(want) {
			return fmt.Errorf("order item for product %d: total %s, want %s", it.ProductID, it.TotalPrice, want)
		}
		sum = sum.Add(it.TotalPrice)
	}
	if !o.TotalAmount.Equal(sum) {
		return fmt.Errorf("order total %s, items sum to %s", o.TotalAmount, sum)
	}
	return nil
}
