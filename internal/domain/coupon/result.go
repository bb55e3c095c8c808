package coupon

import "github.com/shopspring/decimal"

// Reason identifies why a coupon was rejected.
type Reason string

const (
	ReasonNotFound                  Reason = "COUPON_NOT_FOUND"
	ReasonInactive                  Reason = "COUPON_INACTIVE"
	ReasonNotStarted                Reason = "COUPON_NOT_STARTED"
	ReasonExpired                   Reason = "COUPON_EXPIRED"
	ReasonMinimumNotMet             Reason = "MINIMUM_NOT_MET"
	ReasonUserNotEligible           Reason = "USER_NOT_ELIGIBLE"
	ReasonNoApplicableProducts      Reason = "NO_APPLICABLE_PRODUCTS"
	ReasonNoApplicableCategories    Reason = "NO_APPLICABLE_CATEGORIES"
	ReasonUsageLimitReached         Reason = "USAGE_LIMIT_REACHED"
	ReasonCustomerUsageLimitReached Reason = "CUSTOMER_USAGE_LIMIT_REACHED"
)

var reasonMessages = map[Reason]string{
	ReasonNotFound:                  "coupon not found",
	ReasonInactive:                  "coupon inactive",
	ReasonNotStarted:                "not yet valid",
	ReasonExpired:                   "expired",
	ReasonMinimumNotMet:             "minimum amount not met",
	ReasonUserNotEligible:           "not eligible for this user",
	ReasonNoApplicableProducts:      "no applicable products in cart",
	ReasonNoApplicableCategories:    "no applicable categories in cart",
	ReasonUsageLimitReached:         "coupon usage limit reached",
	ReasonCustomerUsageLimitReached: "coupon already used the maximum number of times by this customer",
}

// Message returns the user-facing text for the reason.
func (r Reason) Message() string {
	if m, ok := reasonMessages[r]; ok {
		return m
	}
	return string(r)
}

// Result is the outcome of evaluating a coupon against a cart.
type Result struct {
	Valid  bool
	Reason Reason
	Error  string

	// DiscountAmount is subtracted from the order total. It is zero for
	// coupons whose benefit is free shipping or free items.
	DiscountAmount decimal.Decimal
	FreeItems      []FreeItem
	FreeShipping   bool
}

// Reject builds an invalid Result for the reason.
func Reject(r Reason) Result {
	return Result{
		Reason:         r,
		Error:          r.Message(),
		DiscountAmount: decimal.Zero,
	}
}

// FreeQuantity returns the total number of free units granted.
func (r Result) FreeQuantity() int {
	n := 0
	for _, fi := range r.FreeItems {
		n += fi.Quantity
	}
	return n
}
