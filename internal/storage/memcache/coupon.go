// Package memcache provides in-process caching decorators for repositories.
package memcache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/xenking/storefront/internal/domain/coupon"
)

const (
	// DefaultTTL is how long a coupon definition is served from memory.
	DefaultTTL = 30 * time.Second
	// DefaultCleanupInterval is how often expired definitions are evicted.
	DefaultCleanupInterval = 5 * time.Minute
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository memoises coupon definitions looked up by code. Redemption
// counts always go to the underlying repository.
type CouponRepository struct {
	next  coupon.Repository
	cache *gocache.Cache
}

// NewCouponRepository wraps next with a TTL cache. Non-positive durations
// fall back to the defaults.
func NewCouponRepository(next coupon.Repository, ttl, cleanup time.Duration) *CouponRepository {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if cleanup <= 0 {
		cleanup = DefaultCleanupInterval
	}
	return &CouponRepository{
		next:  next,
		cache: gocache.New(ttl, cleanup),
	}
}

// FindByCode serves the coupon from memory when present. Lookup errors,
// including coupon.ErrNotFound, are never cached.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	key := coupon.NormalizeCode(code)
	if v, ok := r.cache.Get(key); ok {
		return v.(*coupon.Coupon), nil
	}

	c, err := r.next.FindByCode(ctx, key)
	if err != nil {
		return nil, err
	}
	r.cache.SetDefault(key, c)
	return c, nil
}

// CountRedemptions delegates to the underlying repository so usage limits
// are always checked against current counts.
func (r *CouponRepository) CountRedemptions(ctx context.Context, couponID, userID string) (int, error) {
	return r.next.CountRedemptions(ctx, couponID, userID)
}
