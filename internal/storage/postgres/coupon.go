package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/coupon"
)

const (
	couponColumns = `id, code, description, discount_type, discount_value,
		buy_mode, buy_target_id, buy_quantity, get_target_id, get_quantity, max_free_quantity,
		minimum_amount, applicable_products, applicable_categories, applicable_users,
		total_usage_limit, customer_usage_limit, start_date, end_date, is_active`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = UPPER($1)`

	countRedemptionsSQL = `SELECT count(*) FROM coupon_redemptions
		WHERE coupon_id = $1 AND ($2::text = '' OR user_id = $2)`

	upsertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (code) DO UPDATE SET
			description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value,
			buy_mode = EXCLUDED.buy_mode,
			buy_target_id = EXCLUDED.buy_target_id,
			buy_quantity = EXCLUDED.buy_quantity,
			get_target_id = EXCLUDED.get_target_id,
			get_quantity = EXCLUDED.get_quantity,
			max_free_quantity = EXCLUDED.max_free_quantity,
			minimum_amount = EXCLUDED.minimum_amount,
			applicable_products = EXCLUDED.applicable_products,
			applicable_categories = EXCLUDED.applicable_categories,
			applicable_users = EXCLUDED.applicable_users,
			total_usage_limit = EXCLUDED.total_usage_limit,
			customer_usage_limit = EXCLUDED.customer_usage_limit,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			is_active = EXCLUDED.is_active`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its normalized code regardless of its
// active flag; activity is an evaluation concern. Returns coupon.ErrNotFound
// when no coupon holds the code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, coupon.NormalizeCode(code))
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	rec, err := pgx.CollectExactlyOneRow(rows, scanCouponRecord)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return rec.Coupon()
}

// CountRedemptions counts redemptions of the coupon, narrowed to one user
// when userID is non-empty.
func (r *CouponRepository) CountRedemptions(ctx context.Context, couponID, userID string) (int, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, countRedemptionsSQL, couponID, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting redemptions of coupon %q: %w", couponID, err)
	}
	return int(n), nil
}

// Upsert inserts the coupon or replaces the definition stored under its code.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	if _, err := r.pool.Exec(ctx, upsertCouponSQL, couponArgs(c)...); err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

// UpsertBatch upserts all coupons in a single round trip.
func (r *CouponRepository) UpsertBatch(ctx context.Context, coupons []*coupon.Coupon) error {
	if len(coupons) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range coupons {
		batch.Queue(upsertCouponSQL, couponArgs(c)...)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d coupons: %w", len(coupons), err)
	}
	return nil
}

func couponArgs(c *coupon.Coupon) []any {
	rec := coupon.RecordOf(c)
	return []any{
		rec.ID, rec.Code, rec.Description, string(rec.DiscountType), rec.DiscountValue,
		string(rec.BuyMode), rec.BuyTargetID, rec.BuyQuantity, rec.GetTargetID, rec.GetQuantity, rec.MaxFreeQuantity,
		rec.MinimumAmount, textArray(rec.ApplicableProducts), textArray(rec.ApplicableCategories), textArray(rec.ApplicableUsers),
		rec.TotalUsageLimit, rec.CustomerUsageLimit, rec.StartDate, rec.EndDate, rec.IsActive,
	}
}

func scanCouponRecord(row pgx.CollectableRow) (coupon.Record, error) {
	var (
		rec          coupon.Record
		discountType string
		buyMode      string
	)
	err := row.Scan(
		&rec.ID, &rec.Code, &rec.Description, &discountType, &rec.DiscountValue,
		&buyMode, &rec.BuyTargetID, &rec.BuyQuantity, &rec.GetTargetID, &rec.GetQuantity, &rec.MaxFreeQuantity,
		&rec.MinimumAmount, &rec.ApplicableProducts, &rec.ApplicableCategories, &rec.ApplicableUsers,
		&rec.TotalUsageLimit, &rec.CustomerUsageLimit, &rec.StartDate, &rec.EndDate, &rec.IsActive,
	)
	rec.DiscountType = coupon.Kind(discountType)
	rec.BuyMode = coupon.BuyMode(buyMode)
	return rec, err
}

// textArray keeps NOT NULL TEXT[] columns from receiving NULL for nil slices.
func textArray(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
