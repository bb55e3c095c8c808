package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems      = fmt.Errorf("items required")
	ErrInvalidQuantity = fmt.Errorf("quantity must be greater than 0")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

func (e *InvalidQuantityError) Unwrap() error { return ErrInvalidQuantity }

// OutOfStockError indicates there are not enough units of a product.
type OutOfStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("product %s: requested %d, %d in stock", e.ProductID, e.Requested, e.Available)
}

// CouponRejectedError indicates the requested coupon does not apply to the cart.
type CouponRejectedError struct {
	Code   string
	Result coupon.Result
}

func (e *CouponRejectedError) Error() string {
	return fmt.Sprintf("coupon %s rejected: %s", e.Code, e.Result.Error)
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	IdempotencyKey string
	UserID         string
	Items          []LineRequest
	CouponCode     string
}

// LineRequest is a requested product quantity.
type LineRequest struct {
	ProductID string
	Quantity  int
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order    *Order
	Products []product.Product
	// Reused is set when the order was found by its idempotency key.
	Reused bool
}

// Config holds checkout pricing parameters.
type Config struct {
	// ShippingFee is charged unless waived.
	ShippingFee decimal.Decimal
	// FreeShippingThreshold waives shipping for subtotals at or above it.
	// Zero disables the threshold.
	FreeShippingThreshold decimal.Decimal
}

// Service encapsulates order placement business logic.
type Service struct {
	cfg      Config
	products product.Repository
	coupons  coupon.Checker
	orders   Repository
	now      func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	cfg Config,
	products product.Repository,
	coupons coupon.Checker,
	orders Repository,
) *Service {
	return &Service{
		cfg:      cfg,
		products: products,
		coupons:  coupons,
		orders:   orders,
		now:      time.Now,
	}
}

// BuildCart validates the requested lines, merges repeated products and
// prices them from the catalog. The returned products are in cart order.
// Stock is not checked.
func (s *Service) BuildCart(ctx context.Context, userID string, items []LineRequest) (coupon.Cart, []product.Product, error) {
	if err := checkLines(items); err != nil {
		return coupon.Cart{}, nil, err
	}

	lines := mergeLines(items)
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return coupon.Cart{}, nil, errors.Wrap(err, "get products")
	}
	byID := product.Index(fetched)

	products := make([]product.Product, 0, len(lines))
	cartItems := make([]coupon.Item, 0, len(lines))
	for _, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok {
			return coupon.Cart{}, nil, &ProductNotFoundError{ProductID: l.ProductID}
		}
		products = append(products, p)
		cartItems = append(cartItems, coupon.Item{
			ProductID:  p.ID,
			CategoryID: p.CategoryID,
			Price:      p.Price,
			Quantity:   l.Quantity,
		})
	}
	return coupon.NewCart(userID, cartItems), products, nil
}

// PlaceOrder validates items, prices them from the catalog, applies the
// coupon, and persists the order together with stock and redemption updates.
// A request carrying an idempotency key that was already used returns the
// existing order.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	if err := checkLines(req.Items); err != nil {
		return nil, err
	}
	if req.IdempotencyKey != "" {
		if res, err := s.reuse(ctx, req.IdempotencyKey); err != nil || res != nil {
			return res, err
		}
	}

	cart, products, err := s.BuildCart(ctx, req.UserID, req.Items)
	if err != nil {
		return nil, err
	}
	for i, p := range products {
		if want := cart.Items[i].Quantity; p.Stock < want {
			return nil, &OutOfStockError{ProductID: p.ID, Requested: want, Available: p.Stock}
		}
	}

	o := &Order{
		ID:             uuid.New().String(),
		IdempotencyKey: req.IdempotencyKey,
		UserID:         req.UserID,
		Items:          make([]OrderItem, len(cart.Items)),
		Subtotal:       cart.Subtotal.Round(2),
		Discounts:      decimal.Zero,
		Status:         StatusPendingPayment,
		CreatedAt:      s.now().UTC(),
	}
	for i, it := range cart.Items {
		o.Items[i] = OrderItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.Price}
	}

	if req.CouponCode != "" {
		if err := s.applyCoupon(ctx, req.CouponCode, cart, o); err != nil {
			return nil, err
		}
	}

	o.Shipping = s.shipping(cart.Subtotal, o.FreeShipping)

	// Total = subtotal - discounts, floored at zero, plus shipping.
	total := cart.Subtotal.Sub(o.Discounts)
	if total.IsNegative() {
		total = decimal.Zero
	}
	o.Total = total.Add(o.Shipping).Round(2)
	o.Discounts = o.Discounts.Round(2)

	if err := s.orders.Create(ctx, o); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			if res, rerr := s.reuse(ctx, req.IdempotencyKey); rerr != nil || res != nil {
				return res, rerr
			}
		}
		return nil, errors.Wrap(err, "create order")
	}

	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("coupon", o.CouponCode),
		zap.Stringer("subtotal", o.Subtotal),
		zap.Stringer("discounts", o.Discounts),
		zap.Stringer("total", o.Total),
	)

	return &PlaceOrderResult{
		Order:    o,
		Products: products,
	}, nil
}

// applyCoupon evaluates the coupon and folds its benefit into o. Free units
// are accounted as discounts at their unit price.
func (s *Service) applyCoupon(ctx context.Context, code string, cart coupon.Cart, o *Order) error {
	res, c, err := s.coupons.Check(ctx, code, cart)
	if err != nil {
		return errors.Wrap(err, "check coupon")
	}
	if !res.Valid {
		return &CouponRejectedError{Code: coupon.NormalizeCode(code), Result: res}
	}

	amount, err := coupon.CalculateDiscount(c, cart)
	if err != nil {
		return errors.Wrap(err, "calculate discount")
	}

	freeValue := decimal.Zero
	for _, fi := range res.FreeItems {
		for i := range o.Items {
			if o.Items[i].ProductID != fi.ProductID {
				continue
			}
			o.Items[i].FreeQuantity += fi.Quantity
			freeValue = freeValue.Add(o.Items[i].UnitPrice.Mul(decimal.NewFromInt(int64(fi.Quantity))))
			break
		}
	}

	o.CouponID = c.ID
	o.CouponCode = c.Code
	o.FreeShipping = res.FreeShipping
	o.Discounts = amount.Add(freeValue)
	return nil
}

func (s *Service) shipping(subtotal decimal.Decimal, waived bool) decimal.Decimal {
	if waived {
		return decimal.Zero
	}
	if s.cfg.FreeShippingThreshold.IsPositive() && subtotal.GreaterThanOrEqual(s.cfg.FreeShippingThreshold) {
		return decimal.Zero
	}
	return s.cfg.ShippingFee
}

func (s *Service) reuse(ctx context.Context, key string) (*PlaceOrderResult, error) {
	existing, err := s.orders.FindByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "find order by idempotency key")
	}

	ids := make([]string, len(existing.Items))
	for i, it := range existing.Items {
		ids[i] = it.ProductID
	}
	products, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := product.Index(products)
	ordered := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			ordered = append(ordered, p)
		}
	}

	zctx.From(ctx).Info("Order reused", zap.String("order_id", existing.ID))
	return &PlaceOrderResult{Order: existing, Products: ordered, Reused: true}, nil
}

func checkLines(items []LineRequest) error {
	if len(items) == 0 {
		return ErrEmptyItems
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			return &InvalidQuantityError{ProductID: item.ProductID}
		}
	}
	return nil
}

// mergeLines folds repeated products into one line, keeping first-seen order.
func mergeLines(items []LineRequest) []LineRequest {
	idx := make(map[string]int, len(items))
	lines := make([]LineRequest, 0, len(items))
	for _, it := range items {
		if i, ok := idx[it.ProductID]; ok {
			lines[i].Quantity += it.Quantity
			continue
		}
		idx[it.ProductID] = len(lines)
		lines = append(lines, it)
	}
	return lines
}
