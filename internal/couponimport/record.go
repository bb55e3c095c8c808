package couponimport

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/coupon"
)

// record is one JSON line of an import file.
type record struct {
	ID                   string              `validate:"omitempty,max=64"`
	Code                 string              `validate:"required,max=64"`
	Description          string              `validate:"max=512"`
	DiscountType         string              `validate:"required,oneof=PERCENTAGE FIXED_AMOUNT FREE_SHIPPING BUY_X_GET_Y"`
	DiscountValue        decimal.Decimal
	BuyMode              string `validate:"required_if=DiscountType BUY_X_GET_Y,omitempty,oneof=CATEGORY PRODUCT CONDITIONAL_FREE"`
	BuyTargetID          string `validate:"max=64"`
	BuyQuantity          int    `validate:"gte=0"`
	GetTargetID          string `validate:"max=64"`
	GetQuantity          int    `validate:"gte=0"`
	MaxFreeQuantity      int    `validate:"gte=0"`
	MinimumAmount        decimal.NullDecimal
	ApplicableProducts   []string `validate:"dive,required"`
	ApplicableCategories []string `validate:"dive,required"`
	ApplicableUsers      []string `validate:"dive,required"`
	TotalUsageLimit      int      `validate:"gte=0"`
	CustomerUsageLimit   int      `validate:"gte=0"`
	StartDate            *time.Time
	EndDate              *time.Time
	IsActive             *bool
}

// codeNamespace derives stable coupon IDs from codes when a record has none.
var codeNamespace = uuid.MustParse("5b0e9b36-6f0c-4b8e-9d8c-2a4c3f1e7a10")

// coupon validates r and converts it into a domain coupon.
func (r *record) coupon(v *validator.Validate) (*coupon.Coupon, error) {
	if err := v.Struct(r); err != nil {
		return nil, errors.Wrap(err, "validate")
	}

	code := coupon.NormalizeCode(r.Code)
	id := r.ID
	if id == "" {
		id = uuid.NewSHA1(codeNamespace, []byte(code)).String()
	}
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}

	return coupon.Record{
		ID:                   id,
		Code:                 code,
		Description:          r.Description,
		DiscountType:         coupon.Kind(r.DiscountType),
		DiscountValue:        r.DiscountValue,
		BuyMode:              coupon.BuyMode(r.BuyMode),
		BuyTargetID:          r.BuyTargetID,
		BuyQuantity:          r.BuyQuantity,
		GetTargetID:          r.GetTargetID,
		GetQuantity:          r.GetQuantity,
		MaxFreeQuantity:      r.MaxFreeQuantity,
		MinimumAmount:        r.MinimumAmount,
		ApplicableProducts:   r.ApplicableProducts,
		ApplicableCategories: r.ApplicableCategories,
		ApplicableUsers:      r.ApplicableUsers,
		TotalUsageLimit:      r.TotalUsageLimit,
		CustomerUsageLimit:   r.CustomerUsageLimit,
		StartDate:            r.StartDate,
		EndDate:              r.EndDate,
		IsActive:             active,
	}.Coupon()
}

// decodeRecord parses one JSON object. Unknown fields are skipped.
func decodeRecord(data []byte) (record, error) {
	var r record
	d := jx.DecodeBytes(data)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			r.ID, err = d.Str()
		case "code":
			r.Code, err = d.Str()
		case "description":
			r.Description, err = d.Str()
		case "discountType":
			r.DiscountType, err = d.Str()
		case "discountValue":
			r.DiscountValue, err = decodeDecimal(d)
		case "buyMode":
			r.BuyMode, err = d.Str()
		case "buyTargetId":
			r.BuyTargetID, err = d.Str()
		case "buyQuantity":
			r.BuyQuantity, err = d.Int()
		case "getTargetId":
			r.GetTargetID, err = d.Str()
		case "getQuantity":
			r.GetQuantity, err = d.Int()
		case "maxFreeQuantity":
			r.MaxFreeQuantity, err = d.Int()
		case "minimumAmount":
			if d.Next() == jx.Null {
				return d.Null()
			}
			r.MinimumAmount.Decimal, err = decodeDecimal(d)
			r.MinimumAmount.Valid = err == nil
		case "applicableProducts":
			r.ApplicableProducts, err = decodeStrings(d)
		case "applicableCategories":
			r.ApplicableCategories, err = decodeStrings(d)
		case "applicableUsers":
			r.ApplicableUsers, err = decodeStrings(d)
		case "totalUsageLimit":
			r.TotalUsageLimit, err = d.Int()
		case "customerUsageLimit":
			r.CustomerUsageLimit, err = d.Int()
		case "startDate":
			r.StartDate, err = decodeTime(d)
		case "endDate":
			r.EndDate, err = decodeTime(d)
		case "isActive":
			var v bool
			v, err = d.Bool()
			r.IsActive = &v
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, string(key))
		}
		return nil
	})
	return r, err
}

// decodeDecimal accepts both JSON numbers and numeric strings.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	}
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var out []string
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		out = append(out, s)
		return err
	})
	return out, err
}

func decodeTime(d *jx.Decoder) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ParseCoupon decodes and validates a single coupon object in the import
// line format.
func ParseCoupon(data []byte) (*coupon.Coupon, error) {
	r, err := decodeRecord(data)
	if err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	return r.coupon(validator.New(validator.WithRequiredStructEnabled()))
}
