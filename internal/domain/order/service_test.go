package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID   map[string]*product.Product
	getErr error
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	return nil, nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockProductRepo) ListCategories(_ context.Context) ([]product.Category, error) {
	return nil, nil
}

// mockChecker evaluates the configured coupon with the real evaluator.
type mockChecker struct {
	coupon *coupon.Coupon
	err    error
	cart   coupon.Cart
}

func (m *mockChecker) Check(_ context.Context, _ string, cart coupon.Cart) (coupon.Result, *coupon.Coupon, error) {
	m.cart = cart
	if m.err != nil {
		return coupon.Result{}, nil, m.err
	}
	if m.coupon == nil {
		return coupon.Reject(coupon.ReasonNotFound), nil, nil
	}
	res, err := coupon.ValidateForCart(m.coupon, cart, time.Now())
	return res, m.coupon, err
}

type mockOrderRepo struct {
	lastOrder *Order
	byKey     map[string]*Order
	err       error
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	m.lastOrder = o
	return m.err
}

func (m *mockOrderRepo) FindByIdempotencyKey(_ context.Context, key string) (*Order, error) {
	if o, ok := m.byKey[key]; ok {
		return o, nil
	}
	return nil, ErrNotFound
}

// --- Helpers ---

func newTestProduct(id, category string, price decimal.Decimal) product.Product {
	return product.Product{
		ID:         id,
		Name:       "Product " + id,
		Price:      price,
		CategoryID: category,
		Stock:      100,
	}
}

func newProductRepo(products ...product.Product) *mockProductRepo {
	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return &mockProductRepo{byID: byID}
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newTestService(products *mockProductRepo, checker coupon.Checker, orders Repository) *Service {
	return NewService(Config{
		ShippingFee:           dec("4.99"),
		FreeShippingThreshold: dec("100"),
	}, products, checker, orders)
}

// --- Tests ---

func TestPlaceOrder_EmptyItems(t *testing.T) {
	svc := newTestService(newProductRepo(), &mockChecker{}, &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{})
	require.ErrorIs(t, err, ErrEmptyItems)
}

func TestPlaceOrder_InvalidQuantity(t *testing.T) {
	p1 := newTestProduct("p1", "cat", decimal.NewFromInt(10))
	svc := newTestService(newProductRepo(p1), &mockChecker{}, &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []LineRequest{{ProductID: "p1", Quantity: 0}},
	})

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "p1", iqErr.ProductID)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestPlaceOrder_ProductNotFound(t *testing.T) {
	svc := newTestService(newProductRepo(), &mockChecker{}, &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []LineRequest{{ProductID: "missing", Quantity: 1}},
	})

	var pnfErr *ProductNotFoundError
	require.ErrorAs(t, err, &pnfErr)
	assert.Equal(t, "missing", pnfErr.ProductID)
}

func TestPlaceOrder_OutOfStock(t *testing.T) {
	p1 := newTestProduct("p1", "cat", decimal.NewFromInt(10))
	p1.Stock = 2
	svc := newTestService(newProductRepo(p1), &mockChecker{}, &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []LineRequest{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p1", Quantity: 1},
		},
	})

	var oosErr *OutOfStockError
	require.ErrorAs(t, err, &oosErr)
	assert.Equal(t, 3, oosErr.Requested)
	assert.Equal(t, 2, oosErr.Available)
}

func TestPlaceOrder_NoCoupon(t *testing.T) {
	p1 := newTestProduct("p1", "cat", dec("10.00"))
	p2 := newTestProduct("p2", "cat", dec("20.00"))
	orders := &mockOrderRepo{}
	svc := newTestService(newProductRepo(p1, p2), &mockChecker{}, orders)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []LineRequest{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 1},
		},
	})

	require.NoError(t, err)
	assert.True(t, dec("40.00").Equal(result.Order.Subtotal))
	assert.True(t, dec("4.99").Equal(result.Order.Shipping))
	assert.True(t, dec("44.99").Equal(result.Order.Total))
	assert.True(t, decimal.Zero.Equal(result.Order.Discounts))
	assert.Equal(t, StatusPendingPayment, result.Order.Status)
	assert.Len(t, result.Products, 2)
	assert.Same(t, result.Order, orders.lastOrder)
}

func TestPlaceOrder_FreeShippingThreshold(t *testing.T) {
	p1 := newTestProduct("p1", "cat", dec("50.00"))
	svc := newTestService(newProductRepo(p1), &mockChecker{}, &mockOrderRepo{})

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []LineRequest{{ProductID: "p1", Quantity: 2}},
	})

	require.NoError(t, err)
	assert.True(t, decimal.Zero.Equal(result.Order.Shipping))
	assert.True(t, dec("100").Equal(result.Order.Total))
}

func TestPlaceOrder_WithCoupons(t *testing.T) {
	tests := []struct {
		name          string
		coupon        *coupon.Coupon
		wantDiscounts string
		wantShipping  string
		wantTotal     string
		wantFree      map[string]int
	}{
		{
			name: "fixed amount",
			coupon: &coupon.Coupon{
				ID: "c1", Code: "SAVE5", IsActive: true,
				Discount: coupon.FixedAmount{Value: dec("5")},
			},
			wantDiscounts: "5",
			wantShipping:  "4.99",
			wantTotal:     "39.99",
		},
		{
			name: "free shipping",
			coupon: &coupon.Coupon{
				ID: "c2", Code: "SHIP", IsActive: true,
				Discount: coupon.FreeShipping{},
			},
			wantDiscounts: "0",
			wantShipping:  "0",
			wantTotal:     "40",
		},
		{
			name: "buy two widgets get a gadget",
			coupon: &coupon.Coupon{
				ID: "c3", Code: "B2G1", IsActive: true,
				Discount: coupon.BuyXGetY{
					Mode:        coupon.BuyModeProduct,
					BuyTargetID: "p1",
					BuyQuantity: 2,
					GetTargetID: "p2",
					GetQuantity: 1,
				},
			},
			wantDiscounts: "20",
			wantShipping:  "4.99",
			wantTotal:     "24.99",
			wantFree:      map[string]int{"p2": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p1 := newTestProduct("p1", "widgets", dec("10.00"))
			p2 := newTestProduct("p2", "gadgets", dec("20.00"))
			checker := &mockChecker{coupon: tt.coupon}
			svc := newTestService(newProductRepo(p1, p2), checker, &mockOrderRepo{})

			result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
				UserID: "u1",
				Items: []LineRequest{
					{ProductID: "p1", Quantity: 2},
					{ProductID: "p2", Quantity: 1},
				},
				CouponCode: "code",
			})

			require.NoError(t, err)
			o := result.Order
			assert.True(t, dec(tt.wantDiscounts).Equal(o.Discounts), "discounts %s", o.Discounts)
			assert.True(t, dec(tt.wantShipping).Equal(o.Shipping), "shipping %s", o.Shipping)
			assert.True(t, dec(tt.wantTotal).Equal(o.Total), "total %s", o.Total)
			assert.Equal(t, tt.coupon.ID, o.CouponID)
			assert.Equal(t, tt.coupon.Code, o.CouponCode)
			for _, it := range o.Items {
				assert.Equal(t, tt.wantFree[it.ProductID], it.FreeQuantity, it.ProductID)
			}

			assert.Equal(t, "u1", checker.cart.UserID)
			assert.Equal(t, "widgets", checker.cart.Items[0].CategoryID)
		})
	}
}

func TestPlaceOrder_CouponRejected(t *testing.T) {
	p1 := newTestProduct("p1", "cat", dec("10.00"))
	checker := &mockChecker{coupon: &coupon.Coupon{
		ID: "c1", Code: "BIG", IsActive: true,
		Discount:      coupon.FixedAmount{Value: dec("5")},
		MinimumAmount: decimal.NewNullDecimal(dec("100")),
	}}
	orders := &mockOrderRepo{}
	svc := newTestService(newProductRepo(p1), checker, orders)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:      []LineRequest{{ProductID: "p1", Quantity: 1}},
		CouponCode: "big",
	})

	var rejErr *CouponRejectedError
	require.ErrorAs(t, err, &rejErr)
	assert.Equal(t, "BIG", rejErr.Code)
	assert.Equal(t, coupon.ReasonMinimumNotMet, rejErr.Result.Reason)
	assert.Nil(t, orders.lastOrder)
}

func TestPlaceOrder_UnknownCoupon(t *testing.T) {
	p1 := newTestProduct("p1", "cat", dec("10.00"))
	svc := newTestService(newProductRepo(p1), &mockChecker{}, &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:      []LineRequest{{ProductID: "p1", Quantity: 1}},
		CouponCode: "BOGUS",
	})

	var rejErr *CouponRejectedError
	require.ErrorAs(t, err, &rejErr)
	assert.Equal(t, coupon.ReasonNotFound, rejErr.Result.Reason)
}

func TestPlaceOrder_CouponCheckError(t *testing.T) {
	p1 := newTestProduct("p1", "cat", dec("10.00"))
	svc := newTestService(newProductRepo(p1), &mockChecker{err: errors.New("db down")}, &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:      []LineRequest{{ProductID: "p1", Quantity: 1}},
		CouponCode: "X",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "check coupon")
}

func TestPlaceOrder_IdempotentReuse(t *testing.T) {
	p1 := newTestProduct("p1", "cat", dec("10.00"))
	existing := &Order{
		ID:             "order-1",
		IdempotencyKey: "key-1",
		Items:          []OrderItem{{ProductID: "p1", Quantity: 1, UnitPrice: dec("10.00")}},
		Total:          dec("14.99"),
	}
	orders := &mockOrderRepo{byKey: map[string]*Order{"key-1": existing}}
	svc := newTestService(newProductRepo(p1), &mockChecker{}, orders)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		IdempotencyKey: "key-1",
		Items:          []LineRequest{{ProductID: "p1", Quantity: 5}},
	})

	require.NoError(t, err)
	assert.True(t, result.Reused)
	assert.Same(t, existing, result.Order)
	require.Len(t, result.Products, 1)
	assert.Nil(t, orders.lastOrder, "no new order must be written")
}

func TestPlaceOrder_IdempotencyKeyRace(t *testing.T) {
	p1 := newTestProduct("p1", "cat", dec("10.00"))
	winner := &Order{ID: "order-w", IdempotencyKey: "key-2"}
	orders := &raceOrderRepo{winner: winner}
	svc := newTestService(newProductRepo(p1), &mockChecker{}, orders)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		IdempotencyKey: "key-2",
		Items:          []LineRequest{{ProductID: "p1", Quantity: 1}},
	})

	require.NoError(t, err)
	assert.True(t, result.Reused)
	assert.Equal(t, "order-w", result.Order.ID)
}

// raceOrderRepo reports a concurrent insert of the same idempotency key.
type raceOrderRepo struct {
	mockOrderRepo
	winner  *Order
	created bool
}

func (r *raceOrderRepo) Create(_ context.Context, _ *Order) error {
	r.created = true
	return ErrDuplicateIdempotencyKey
}

func (r *raceOrderRepo) FindByIdempotencyKey(_ context.Context, _ string) (*Order, error) {
	if !r.created {
		return nil, ErrNotFound
	}
	return r.winner, nil
}

func TestPlaceOrder_OrderCreateError(t *testing.T) {
	p1 := newTestProduct("p1", "cat", decimal.NewFromInt(10))
	svc := newTestService(
		newProductRepo(p1),
		&mockChecker{},
		&mockOrderRepo{err: errors.New("db write failed")},
	)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []LineRequest{{ProductID: "p1", Quantity: 1}},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "create order")
}

func TestPlaceOrder_StockRace(t *testing.T) {
	p1 := newTestProduct("p1", "cat", decimal.NewFromInt(10))
	svc := newTestService(
		newProductRepo(p1),
		&mockChecker{},
		&mockOrderRepo{err: &OutOfStockError{ProductID: "p1", Requested: 1}},
	)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []LineRequest{{ProductID: "p1", Quantity: 1}},
	})

	var oosErr *OutOfStockError
	require.ErrorAs(t, err, &oosErr)
}

func TestPlaceOrder_RedemptionLimitRace(t *testing.T) {
	p1 := newTestProduct("p1", "cat", decimal.NewFromInt(10))
	c := &coupon.Coupon{
		ID: "c1", Code: "ONCE", IsActive: true, TotalUsageLimit: 1,
		Discount: coupon.Percentage{Value: decimal.NewFromInt(10)},
	}
	orders := &mockOrderRepo{err: &CouponRejectedError{
		Code:   "ONCE",
		Result: coupon.Reject(coupon.ReasonUsageLimitReached),
	}}
	svc := newTestService(newProductRepo(p1), &mockChecker{coupon: c}, orders)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:      []LineRequest{{ProductID: "p1", Quantity: 1}},
		CouponCode: "once",
	})

	var crErr *CouponRejectedError
	require.ErrorAs(t, err, &crErr)
	assert.Equal(t, coupon.ReasonUsageLimitReached, crErr.Result.Reason)
	require.NotNil(t, orders.lastOrder)
	assert.Equal(t, "c1", orders.lastOrder.CouponID)
}

func TestBuildCart(t *testing.T) {
	p1 := newTestProduct("p1", "catA", dec("10.00"))
	p2 := newTestProduct("p2", "catB", dec("2.50"))
	p2.Stock = 0
	svc := newTestService(newProductRepo(p1, p2), &mockChecker{}, &mockOrderRepo{})

	cart, products, err := svc.BuildCart(context.Background(), "u1", []LineRequest{
		{ProductID: "p2", Quantity: 3},
		{ProductID: "p1", Quantity: 1},
		{ProductID: "p2", Quantity: 1},
	})
	require.NoError(t, err)

	// Stock is not a concern when only pricing the cart.
	require.Len(t, cart.Items, 2)
	assert.Equal(t, "p2", cart.Items[0].ProductID)
	assert.Equal(t, 4, cart.Items[0].Quantity)
	assert.Equal(t, "catB", cart.Items[0].CategoryID)
	assert.Equal(t, "p1", cart.Items[1].ProductID)
	assert.True(t, dec("20.00").Equal(cart.Subtotal))
	assert.Equal(t, "u1", cart.UserID)
	assert.Equal(t, []string{"p2", "p1"}, []string{products[0].ID, products[1].ID})
}
