package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (id, idempotency_key, user_id, items, subtotal, discounts,
		shipping, total, coupon_id, coupon_code, free_shipping, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	decrementStockSQL = `UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2`

	getStockSQL = `SELECT stock FROM products WHERE id = $1`

	lockCouponLimitsSQL = `SELECT total_usage_limit, customer_usage_limit FROM coupons WHERE id = $1 FOR UPDATE`

	createRedemptionSQL = `INSERT INTO coupon_redemptions (coupon_id, order_id, user_id, amount)
		VALUES ($1, $2, $3, $4)`

	getOrderByIdempotencyKeySQL = `SELECT id, COALESCE(idempotency_key, ''), user_id, items, subtotal,
		discounts, shipping, total, COALESCE(coupon_id, ''), coupon_code, free_shipping, status, created_at
		FROM orders WHERE idempotency_key = $1`

	idempotencyKeyConstraint = "orders_idempotency_key_key"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order in one transaction: the order row with its
// items as JSONB, a guarded stock decrement per line and, when a coupon was
// applied, a redemption row. The coupon row stays locked until commit, so
// concurrent checkouts see each other's redemptions when usage limits are
// re-checked.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if o.CouponID != "" {
			if err := checkRedemptionLimits(ctx, tx, o); err != nil {
				return err
			}
		}

		_, err := tx.Exec(ctx, createOrderSQL,
			o.ID, nullString(o.IdempotencyKey), o.UserID, itemsJSON, o.Subtotal, o.Discounts,
			o.Shipping, o.Total, nullString(o.CouponID), o.CouponCode, o.FreeShipping, string(o.Status), o.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err, idempotencyKeyConstraint) {
				return order.ErrDuplicateIdempotencyKey
			}
			return fmt.Errorf("creating order %q: %w", o.ID, err)
		}

		for _, it := range o.Items {
			tag, err := tx.Exec(ctx, decrementStockSQL, it.ProductID, it.Quantity)
			if err != nil {
				return fmt.Errorf("decrementing stock of %q: %w", it.ProductID, err)
			}
			if tag.RowsAffected() == 0 {
				var available int
				if err := tx.QueryRow(ctx, getStockSQL, it.ProductID).Scan(&available); err != nil {
					return fmt.Errorf("reading stock of %q: %w", it.ProductID, err)
				}
				return &order.OutOfStockError{ProductID: it.ProductID, Requested: it.Quantity, Available: available}
			}
		}

		if o.CouponID != "" {
			if _, err := tx.Exec(ctx, createRedemptionSQL, o.CouponID, o.ID, o.UserID, o.Discounts); err != nil {
				return fmt.Errorf("recording redemption of %q: %w", o.CouponCode, err)
			}
		}
		return nil
	})
}

// checkRedemptionLimits locks the coupon row and counts its redemptions
// inside tx. Exhausted limits are reported as *order.CouponRejectedError.
func checkRedemptionLimits(ctx context.Context, tx pgx.Tx, o *order.Order) error {
	var totalLimit, customerLimit int
	if err := tx.QueryRow(ctx, lockCouponLimitsSQL, o.CouponID).Scan(&totalLimit, &customerLimit); err != nil {
		return fmt.Errorf("locking coupon %q: %w", o.CouponCode, err)
	}

	reject := func(reason coupon.Reason) error {
		return &order.CouponRejectedError{Code: o.CouponCode, Result: coupon.Reject(reason)}
	}
	if totalLimit > 0 {
		var n int64
		if err := tx.QueryRow(ctx, countRedemptionsSQL, o.CouponID, "").Scan(&n); err != nil {
			return fmt.Errorf("counting redemptions of %q: %w", o.CouponCode, err)
		}
		if n >= int64(totalLimit) {
			return reject(coupon.ReasonUsageLimitReached)
		}
	}
	if customerLimit > 0 && o.UserID != "" {
		var n int64
		if err := tx.QueryRow(ctx, countRedemptionsSQL, o.CouponID, o.UserID).Scan(&n); err != nil {
			return fmt.Errorf("counting redemptions of %q by %q: %w", o.CouponCode, o.UserID, err)
		}
		if n >= int64(customerLimit) {
			return reject(coupon.ReasonCustomerUsageLimitReached)
		}
	}
	return nil
}

// FindByIdempotencyKey returns the order created under key, or
// order.ErrNotFound.
func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, key string) (*order.Order, error) {
	var (
		o         order.Order
		status    string
		itemsJSON []byte
	)
	err := r.pool.QueryRow(ctx, getOrderByIdempotencyKeySQL, key).Scan(
		&o.ID, &o.IdempotencyKey, &o.UserID, &itemsJSON, &o.Subtotal,
		&o.Discounts, &o.Shipping, &o.Total, &o.CouponID, &o.CouponCode, &o.FreeShipping, &status, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("finding order by idempotency key: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshaling items of order %q: %w", o.ID, err)
	}
	o.Status = order.Status(status)
	return &o, nil
}
