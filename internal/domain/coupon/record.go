package coupon

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Record is the flat, storage-shaped form of a coupon: every discount
// variant's fields side by side, keyed by DiscountType and BuyMode.
type Record struct {
	ID                   string
	Code                 string
	Description          string
	DiscountType         Kind
	DiscountValue        decimal.Decimal
	BuyMode              BuyMode
	BuyTargetID          string
	BuyQuantity          int
	GetTargetID          string
	GetQuantity          int
	MaxFreeQuantity      int
	MinimumAmount        decimal.NullDecimal
	ApplicableProducts   []string
	ApplicableCategories []string
	ApplicableUsers      []string
	TotalUsageLimit      int
	CustomerUsageLimit   int
	StartDate            *time.Time
	EndDate              *time.Time
	IsActive             bool
}

// Coupon converts the record into a Coupon, keeping only the fields that
// belong to its discount type, and validates the result.
func (r Record) Coupon() (*Coupon, error) {
	c := &Coupon{
		ID:                   r.ID,
		Code:                 NormalizeCode(r.Code),
		Description:          r.Description,
		MaxFreeQuantity:      r.MaxFreeQuantity,
		MinimumAmount:        r.MinimumAmount,
		ApplicableProducts:   r.ApplicableProducts,
		ApplicableCategories: r.ApplicableCategories,
		ApplicableUsers:      r.ApplicableUsers,
		TotalUsageLimit:      r.TotalUsageLimit,
		CustomerUsageLimit:   r.CustomerUsageLimit,
		StartDate:            r.StartDate,
		EndDate:              r.EndDate,
		IsActive:             r.IsActive,
	}

	switch r.DiscountType {
	case KindPercentage:
		c.Discount = Percentage{Value: r.DiscountValue}
	case KindFixedAmount:
		c.Discount = FixedAmount{Value: r.DiscountValue}
	case KindFreeShipping:
		c.Discount = FreeShipping{}
	case KindBuyXGetY:
		switch r.BuyMode {
		case BuyModeCategory, BuyModeProduct:
			c.Discount = BuyXGetY{
				Mode:        r.BuyMode,
				BuyTargetID: r.BuyTargetID,
				BuyQuantity: r.BuyQuantity,
				GetTargetID: r.GetTargetID,
				GetQuantity: r.GetQuantity,
			}
		case BuyModeConditionalFree:
			c.Discount = ConditionalFree{
				BuyCategoryID: r.BuyTargetID,
				GetCategoryID: r.GetTargetID,
			}
		default:
			return nil, errors.Wrapf(ErrMalformedCoupon, "%s: buy mode %q", r.Code, r.BuyMode)
		}
	default:
		return nil, errors.Wrapf(ErrMalformedCoupon, "%s: discount type %q", r.Code, r.DiscountType)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// RecordOf flattens c back into a Record.
func RecordOf(c *Coupon) Record {
	r := Record{
		ID:                   c.ID,
		Code:                 c.Code,
		Description:          c.Description,
		DiscountValue:        decimal.Zero,
		MaxFreeQuantity:      c.MaxFreeQuantity,
		MinimumAmount:        c.MinimumAmount,
		ApplicableProducts:   c.ApplicableProducts,
		ApplicableCategories: c.ApplicableCategories,
		ApplicableUsers:      c.ApplicableUsers,
		TotalUsageLimit:      c.TotalUsageLimit,
		CustomerUsageLimit:   c.CustomerUsageLimit,
		StartDate:            c.StartDate,
		EndDate:              c.EndDate,
		IsActive:             c.IsActive,
	}
	if c.Discount != nil {
		r.DiscountType = c.Discount.Kind()
	}

	switch d := c.Discount.(type) {
	case Percentage:
		r.DiscountValue = d.Value
	case FixedAmount:
		r.DiscountValue = d.Value
	case BuyXGetY:
		r.BuyMode = d.Mode
		r.BuyTargetID = d.BuyTargetID
		r.BuyQuantity = d.BuyQuantity
		r.GetTargetID = d.GetTargetID
		r.GetQuantity = d.GetQuantity
	case ConditionalFree:
		r.BuyMode = BuyModeConditionalFree
		r.BuyTargetID = d.BuyCategoryID
		r.GetTargetID = d.GetCategoryID
	}
	return r
}
