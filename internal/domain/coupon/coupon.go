package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind is the discount type stored alongside a coupon.
type Kind string

const (
	KindPercentage   Kind = "PERCENTAGE"
	KindFixedAmount  Kind = "FIXED_AMOUNT"
	KindFreeShipping Kind = "FREE_SHIPPING"
	KindBuyXGetY     Kind = "BUY_X_GET_Y"
)

// BuyMode selects how a BUY_X_GET_Y coupon matches cart lines.
type BuyMode string

const (
	// BuyModeCategory matches lines by category ID.
	BuyModeCategory BuyMode = "CATEGORY"
	// BuyModeProduct matches lines by exact product ID.
	BuyModeProduct BuyMode = "PRODUCT"
	// BuyModeConditionalFree makes every unit of a category free once a
	// category or minimum-amount condition holds.
	BuyModeConditionalFree BuyMode = "CONDITIONAL_FREE"
)

var (
	// ErrNotFound is returned by a Repository when no coupon has the given code.
	ErrNotFound = errors.New("coupon not found")
	// ErrMalformedCoupon marks a coupon record whose fields do not fit its
	// discount type. It is a data-integrity error, not a validation result.
	ErrMalformedCoupon = errors.New("malformed coupon")
)

// Discount is the type-specific part of a coupon. The set of implementations
// is closed: Percentage, FixedAmount, FreeShipping, BuyXGetY and
// ConditionalFree.
type Discount interface {
	Kind() Kind
	discount()
}

// Percentage takes Value percent off the subtotal.
type Percentage struct {
	Value decimal.Decimal
}

// FixedAmount takes Value off the subtotal, never below zero.
type FixedAmount struct {
	Value decimal.Decimal
}

// FreeShipping waives shipping. The waiver itself is applied at checkout.
type FreeShipping struct{}

// BuyXGetY grants GetQuantity free units of GetTargetID for every
// BuyQuantity units of BuyTargetID in the cart.
type BuyXGetY struct {
	Mode        BuyMode // BuyModeCategory or BuyModeProduct
	BuyTargetID string
	BuyQuantity int
	GetTargetID string
	GetQuantity int
}

// ConditionalFree makes all units of GetCategoryID free when the cart holds
// at least one unit of BuyCategoryID, or when the subtotal reaches the
// coupon's MinimumAmount.
type ConditionalFree struct {
	BuyCategoryID string
	GetCategoryID string
}

func (Percentage) Kind() Kind { return KindPercentage }
func (FixedAmount) Kind() Kind { return KindFixedAmount }
func (FreeShipping) Kind() Kind { return KindFreeShipping }
func (BuyXGetY) Kind() Kind { return KindBuyXGetY }
func (ConditionalFree) Kind() Kind { return KindBuyXGetY }

func (Percentage) discount() {}
func (FixedAmount) discount() {}
func (FreeShipping) discount() {}
func (BuyXGetY) discount() {}
func (ConditionalFree) discount() {}

// Coupon is a redeemable discount rule.
type Coupon struct {
	ID          string
	Code        string
	Description string
	Discount    Discount

	// MaxFreeQuantity caps the free units granted by buy-X-get-Y coupons.
	// Zero means uncapped.
	MaxFreeQuantity int
	// MinimumAmount is a gate on the subtotal, except for ConditionalFree
	// where it is one of the two OR'd conditions.
	MinimumAmount decimal.NullDecimal

	ApplicableProducts   []string
	ApplicableCategories []string
	ApplicableUsers      []string

	// Zero means unlimited.
	TotalUsageLimit    int
	CustomerUsageLimit int

	StartDate *time.Time
	EndDate   *time.Time
	IsActive  bool
}

// NormalizeCode returns the canonical form of a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate reports whether the coupon's fields fit its discount type.
func (c *Coupon) Validate() error {
	if c.Code == "" {
		return errors.Wrap(ErrMalformedCoupon, "empty code")
	}
	if c.MaxFreeQuantity < 0 {
		return errors.Wrapf(ErrMalformedCoupon, "%s: negative max free quantity", c.Code)
	}
	if c.MinimumAmount.Valid && c.MinimumAmount.Decimal.IsNegative() {
		return errors.Wrapf(ErrMalformedCoupon, "%s: negative minimum amount", c.Code)
	}
	if c.StartDate != nil && c.EndDate != nil && c.EndDate.Before(*c.StartDate) {
		return errors.Wrapf(ErrMalformedCoupon, "%s: end date before start date", c.Code)
	}

	switch d := c.Discount.(type) {
	case nil:
		return errors.Wrapf(ErrMalformedCoupon, "%s: missing discount", c.Code)
	case Percentage:
		if d.Value.IsNegative() {
			return errors.Wrapf(ErrMalformedCoupon, "%s: negative percentage", c.Code)
		}
	case FixedAmount:
		if d.Value.IsNegative() {
			return errors.Wrapf(ErrMalformedCoupon, "%s: negative amount", c.Code)
		}
	case FreeShipping:
	case BuyXGetY:
		if d.Mode != BuyModeCategory && d.Mode != BuyModeProduct {
			return errors.Wrapf(ErrMalformedCoupon, "%s: buy mode %q", c.Code, d.Mode)
		}
		if d.BuyTargetID == "" || d.GetTargetID == "" {
			return errors.Wrapf(ErrMalformedCoupon, "%s: buy and get targets required", c.Code)
		}
		if d.BuyQuantity <= 0 || d.GetQuantity <= 0 {
			return errors.Wrapf(ErrMalformedCoupon, "%s: buy and get quantities must be positive", c.Code)
		}
	case ConditionalFree:
		if d.GetCategoryID == "" {
			return errors.Wrapf(ErrMalformedCoupon, "%s: reward category required", c.Code)
		}
	default:
		return errors.Wrapf(ErrMalformedCoupon, "%s: unsupported discount %T", c.Code, d)
	}
	return nil
}

// Item is a cart line as seen by the evaluator.
type Item struct {
	ProductID  string
	CategoryID string
	Price      decimal.Decimal
	Quantity   int
}

// Cart is an immutable snapshot of a cart at evaluation time.
type Cart struct {
	Subtotal decimal.Decimal
	Items    []Item
	UserID   string
}

// NewCart builds a Cart and computes its subtotal from the lines.
func NewCart(userID string, items []Item) Cart {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return Cart{Subtotal: subtotal, Items: items, UserID: userID}
}

// FreeItem is a number of units of a product the cart receives at zero price.
type FreeItem struct {
	ProductID string
	Quantity  int
}

// Redemption records a coupon used by an order.
type Redemption struct {
	CouponID string
	OrderID  string
	UserID   string
	Amount   decimal.Decimal
}

// Repository provides coupon lookup and redemption counts.
type Repository interface {
	// FindByCode returns ErrNotFound when no coupon matches (case-insensitive).
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// CountRedemptions counts redemptions of the coupon, restricted to userID
	// when it is non-empty.
	CountRedemptions(ctx context.Context, couponID, userID string) (int, error)
}
