package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
)

// unableToValidate is reported for every failure that is not a coupon
// rejection: unknown products, broken coupon definitions, storage errors.
const unableToValidate = "unable to validate coupon"

// freeItemView is a free item enriched for display.
type freeItemView struct {
	coupon.FreeItem
	ProductName  string
	CategoryName string
}

// ValidateCoupon evaluates a coupon against a cart without placing an order.
// It answers 200 for every well-formed request; only a malformed body is 400.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCartRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	res, free, err := h.validateCoupon(ctx, req)
	if err != nil {
		zctx.From(ctx).Warn("Coupon validation failed",
			zap.String("coupon", req.CouponCode),
			zap.Error(err),
		)
		res = coupon.Result{Error: unableToValidate, DiscountAmount: decimal.Zero}
		free = nil
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeValidation(e, res, free)
	})
}

func (h *Handler) validateCoupon(ctx context.Context, req cartRequest) (coupon.Result, []freeItemView, error) {
	cart, products, err := h.orders.BuildCart(ctx, req.UserID, req.Items)
	if err != nil {
		return coupon.Result{}, nil, errors.Wrap(err, "build cart")
	}

	res, _, err := h.coupons.Check(ctx, req.CouponCode, cart)
	if err != nil {
		return coupon.Result{}, nil, errors.Wrap(err, "check coupon")
	}
	if len(res.FreeItems) == 0 {
		return res, nil, nil
	}

	categories, err := h.products.ListCategories(ctx)
	if err != nil {
		return coupon.Result{}, nil, errors.Wrap(err, "list categories")
	}
	names := product.CategoryNames(categories)
	byID := product.Index(products)

	free := make([]freeItemView, len(res.FreeItems))
	for i, fi := range res.FreeItems {
		p := byID[fi.ProductID]
		free[i] = freeItemView{
			FreeItem:     fi,
			ProductName:  p.Name,
			CategoryName: names[p.CategoryID],
		}
	}
	return res, free, nil
}

func encodeValidation(e *jx.Encoder, res coupon.Result, free []freeItemView) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("valid", func(e *jx.Encoder) { e.Bool(res.Valid) })
		if res.Reason != "" {
			str(e, "reason", string(res.Reason))
		}
		if res.Error != "" {
			str(e, "error", res.Error)
		}
		e.Field("discountAmount", func(e *jx.Encoder) { money(e, res.DiscountAmount) })
		e.Field("freeShipping", func(e *jx.Encoder) { e.Bool(res.FreeShipping) })
		e.Field("freeItems", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, fi := range free {
					e.Obj(func(e *jx.Encoder) {
						str(e, "productId", fi.ProductID)
						e.Field("quantity", func(e *jx.Encoder) { e.Int(fi.Quantity) })
						str(e, "productName", fi.ProductName)
						str(e, "categoryName", fi.CategoryName)
					})
				}
			})
		})
	})
}
