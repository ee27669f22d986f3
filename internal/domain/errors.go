package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnauthenticated      = errors.New("user is not authenticated")
	ErrProductNotFound      = errors.New("product not found")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrInvalidQuantity      = errors.New("quantity must be between 1 and 2147483647")
	ErrEmptyCart            = errors.New("cart is empty, nothing to checkout")
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("not found")
	ErrOrderNumberCollision = errors.New("order number already taken")
	ErrPersistence          = errors.New("persistence failure")
	ErrIllegalTransition    = errors.New("illegal transition of order status")
)

// InsufficientStockError names the product that ran out.
type InsufficientStockError struct {
	ProductID int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d", e.ProductID)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ValidationErrors carries every failing field of one request.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Error())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (v ValidationErrors) Is(target error) bool {
	return target == ErrValidation
}

// PersistenceError wraps a storage failure with the operation that hit it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func NewPersistenceError(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

var classified = []error{
	ErrUnauthenticated,
	ErrProductNotFound,
	ErrInsufficientStock,
	ErrInvalidQuantity,
	ErrEmptyCart,
	ErrValidation,
	ErrNotFound,
	ErrPersistence,
	ErrIllegalTransition,
}

// Classify returns err unchanged when it already belongs to the taxonomy above
// or is a context error, and wraps it in a PersistenceError otherwise.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	for _, target := range classified {
		if errors.Is(err, target) {
			return err
		}
	}
	return NewPersistenceError(op, err)
}
