package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order.
type Status string

// StatusPendingPayment is the state of a freshly placed order. Payment
// capture happens outside this service.
const StatusPendingPayment Status = "pending_payment"

var (
	// ErrNotFound is returned when no order matches a lookup.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicateIdempotencyKey is returned by Repository.Create when another
	// order already holds the idempotency key.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// Order represents a placed customer order with pricing and discount details.
type Order struct {
	ID             string
	IdempotencyKey string
	UserID         string
	Items          []OrderItem
	Subtotal       decimal.Decimal
	Discounts      decimal.Decimal
	Shipping       decimal.Decimal
	Total          decimal.Decimal
	CouponID       string
	CouponCode     string
	FreeShipping   bool
	Status         Status
	CreatedAt      time.Time
}

// OrderItem represents a single line item in an order. FreeQuantity of the
// Quantity units are granted by a coupon at zero price.
type OrderItem struct {
	ProductID    string          `json:"product_id"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	FreeQuantity int             `json:"free_quantity,omitempty"`
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create persists the order, decrements stock for every unit and records
	// the coupon redemption, all in one transaction. It returns an
	// *OutOfStockError when stock ran out concurrently and a
	// *CouponRejectedError when concurrent redemptions used up the coupon.
	Create(ctx context.Context, order *Order) error
	// FindByIdempotencyKey returns ErrNotFound when no order holds the key.
	FindByIdempotencyKey(ctx context.Context, key string) (*Order, error)
}
