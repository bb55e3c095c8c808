package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/order"
)

// IdempotencyKeyHeader lets clients retry order placement safely.
const IdempotencyKeyHeader = "Idempotency-Key"

// PlaceOrder prices and persists an order.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCartRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.orders.PlaceOrder(r.Context(), order.PlaceOrderRequest{
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
		UserID:         req.UserID,
		Items:          req.Items,
		CouponCode:     req.CouponCode,
	})
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}

	categories, err := h.categoryNames(r)
	if err != nil {
		internalError(w, r, "List categories", err)
		return
	}

	if result.Reused {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		h.encodeOrder(e, result, categories)
	})
}

// writeOrderError maps domain errors to HTTP responses.
func (h *Handler) writeOrderError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		iqErr  *order.InvalidQuantityError
		pnfErr *order.ProductNotFoundError
		oosErr *order.OutOfStockError
		crErr  *order.CouponRejectedError
	)
	switch {
	case errors.Is(err, order.ErrEmptyItems):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &iqErr), errors.As(err, &pnfErr), errors.As(err, &oosErr):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &crErr):
		writeJSON(w, http.StatusUnprocessableEntity, func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("code", func(e *jx.Encoder) { e.Int(http.StatusUnprocessableEntity) })
				str(e, "message", crErr.Result.Error)
				str(e, "reason", string(crErr.Result.Reason))
			})
		})
	default:
		internalError(w, r, "Place order", err)
	}
}

func (h *Handler) encodeOrder(e *jx.Encoder, res *order.PlaceOrderResult, categories map[string]string) {
	o := res.Order
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", o.ID)
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						str(e, "productId", it.ProductID)
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("unitPrice", func(e *jx.Encoder) { money(e, it.UnitPrice) })
						if it.FreeQuantity > 0 {
							e.Field("freeQuantity", func(e *jx.Encoder) { e.Int(it.FreeQuantity) })
						}
					})
				}
			})
		})
		e.Field("products", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, p := range res.Products {
					h.encodeProduct(e, p, categories)
				}
			})
		})
		e.Field("subtotal", func(e *jx.Encoder) { money(e, o.Subtotal) })
		e.Field("discounts", func(e *jx.Encoder) { money(e, o.Discounts) })
		e.Field("shipping", func(e *jx.Encoder) { money(e, o.Shipping) })
		e.Field("total", func(e *jx.Encoder) { money(e, o.Total) })
		if o.CouponCode != "" {
			str(e, "couponCode", o.CouponCode)
		}
		e.Field("freeShipping", func(e *jx.Encoder) { e.Bool(o.FreeShipping) })
		str(e, "status", string(o.Status))
		str(e, "createdAt", o.CreatedAt.Format(time.RFC3339))
	})
}
