package orders

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyOrder          = errors.New("order must have at least one item")
	ErrOrderNotFound       = errors.New("order not found")
	ErrInvalidStatus       = errors.New("invalid order status")
	ErrInvalidPayment      = errors.New("invalid payment method")
	ErrMissingShipping     = errors.New("shipping address is required")
	ErrConflict            = errors.New("order modified concurrently, retry")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrDuplicateExternalID = errors.New("order with this external id already exists")
)

type InvalidQuantityError struct {
	ProductID string
	Qty       int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %d for product %s", e.Qty, e.ProductID)
}

type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", name, e.Requested, e.Available)
}

type NotCancellableError struct {
	OrderID string
	Status  Status
}

func (e *NotCancellableError) Error() string {
	return fmt.Sprintf("cannot cancel order %s with status %s", e.OrderID, e.Status)
}

type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %s to %s", e.From, e.To)
}
