package coupon

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ValidateForCart checks whether c can be redeemed against cart at time now
// and computes what it grants. Eligibility failures are reported through the
// Result; an error is returned only for a malformed coupon.
//
// Redemption limits are not checked here, see Service.Check.
func ValidateForCart(c *Coupon, cart Cart, now time.Time) (Result, error) {
	if c == nil {
		return Result{}, errors.Wrap(ErrMalformedCoupon, "nil coupon")
	}
	if err := c.Validate(); err != nil {
		return Result{}, err
	}
	if r, ok := checkGates(c, cart, now); !ok {
		return Reject(r), nil
	}
	return compute(c, cart), nil
}

// CalculateDiscount returns the monetary discount c grants for cart. It is
// meant to be called after ValidateForCart accepted the same cart and shares
// its computation, so the charged amount always equals the validated one.
func CalculateDiscount(c *Coupon, cart Cart) (decimal.Decimal, error) {
	if c == nil {
		return decimal.Zero, errors.Wrap(ErrMalformedCoupon, "nil coupon")
	}
	if err := c.Validate(); err != nil {
		return decimal.Zero, err
	}
	return compute(c, cart).DiscountAmount, nil
}

func checkGates(c *Coupon, cart Cart, now time.Time) (Reason, bool) {
	if !c.IsActive {
		return ReasonInactive, false
	}
	if c.StartDate != nil && now.Before(*c.StartDate) {
		return ReasonNotStarted, false
	}
	if c.EndDate != nil && now.After(*c.EndDate) {
		return ReasonExpired, false
	}

	_, conditional := c.Discount.(ConditionalFree)
	if c.MinimumAmount.Valid && !conditional && cart.Subtotal.LessThan(c.MinimumAmount.Decimal) {
		return ReasonMinimumNotMet, false
	}

	if len(c.ApplicableUsers) > 0 && !lo.Contains(c.ApplicableUsers, cart.UserID) {
		return ReasonUserNotEligible, false
	}
	if len(c.ApplicableProducts) > 0 && !lo.Some(c.ApplicableProducts, cart.ProductIDs()) {
		return ReasonNoApplicableProducts, false
	}
	if len(c.ApplicableCategories) > 0 && !lo.Some(c.ApplicableCategories, cart.CategoryIDs()) {
		return ReasonNoApplicableCategories, false
	}
	return "", true
}

// compute assumes c passed Validate.
func compute(c *Coupon, cart Cart) Result {
	res := Result{Valid: true, DiscountAmount: decimal.Zero}

	switch d := c.Discount.(type) {
	case Percentage:
		amount := cart.Subtotal.Mul(d.Value).Div(hundred)
		res.DiscountAmount = clamp(amount, cart.Subtotal)
	case FixedAmount:
		res.DiscountAmount = clamp(d.Value, cart.Subtotal)
	case FreeShipping:
		res.FreeShipping = true
	case BuyXGetY:
		res.FreeItems = buyXGetY(d, c.MaxFreeQuantity, cart)
	case ConditionalFree:
		res.FreeItems = conditionalFree(d, c, cart)
	}

	res.DiscountAmount = res.DiscountAmount.Truncate(2)
	return res
}

func buyXGetY(d BuyXGetY, maxFree int, cart Cart) []FreeItem {
	match := matchCategory
	if d.Mode == BuyModeProduct {
		match = matchProduct
	}

	bought := 0
	for _, it := range cart.Items {
		if match(it, d.BuyTargetID) {
			bought += it.Quantity
		}
	}
	if bought < d.BuyQuantity {
		return nil
	}

	budget := (bought / d.BuyQuantity) * d.GetQuantity
	return allocate(cart.Items, d.GetTargetID, match, capFree(budget, maxFree))
}

func conditionalFree(d ConditionalFree, c *Coupon, cart Cart) []FreeItem {
	satisfied := false
	if d.BuyCategoryID != "" {
		for _, it := range cart.Items {
			if it.CategoryID == d.BuyCategoryID && it.Quantity > 0 {
				satisfied = true
				break
			}
		}
	}
	if !satisfied && c.MinimumAmount.Valid && cart.Subtotal.GreaterThanOrEqual(c.MinimumAmount.Decimal) {
		satisfied = true
	}
	if !satisfied {
		return nil
	}

	available := 0
	for _, it := range cart.Items {
		if it.CategoryID == d.GetCategoryID {
			available += it.Quantity
		}
	}
	return allocate(cart.Items, d.GetCategoryID, matchCategory, capFree(available, c.MaxFreeQuantity))
}

// allocate hands out budget free units across lines matching target, in cart
// order, never more than a line holds.
func allocate(items []Item, target string, match func(Item, string) bool, budget int) []FreeItem {
	var free []FreeItem
	for _, it := range items {
		if budget <= 0 {
			break
		}
		if !match(it, target) || it.Quantity <= 0 {
			continue
		}
		n := min(it.Quantity, budget)
		free = append(free, FreeItem{ProductID: it.ProductID, Quantity: n})
		budget -= n
	}
	return free
}

func capFree(n, maxFree int) int {
	if maxFree > 0 && n > maxFree {
		return maxFree
	}
	return n
}

func matchCategory(it Item, id string) bool { return it.CategoryID == id }
func matchProduct(it Item, id string) bool { return it.ProductID == id }

// clamp bounds amount to [0, upper].
func clamp(amount, upper decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	if upper.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(amount, upper)
}

// ProductIDs returns the distinct product IDs in the cart in first-seen order.
func (c Cart) ProductIDs() []string {
	return lo.Uniq(lo.Map(c.Items, func(it Item, _ int) string { return it.ProductID }))
}

// CategoryIDs returns the distinct non-empty category IDs in the cart.
func (c Cart) CategoryIDs() []string {
	ids := lo.Map(c.Items, func(it Item, _ int) string { return it.CategoryID })
	return lo.Uniq(lo.Compact(ids))
}
