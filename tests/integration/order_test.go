//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"sync"
	"testing"
)

// Matches SHOP_CHECKOUT_SHIPPING_FEE in docker-compose.test.yml.
const shippingFee = 5.0

const testAPIKey = "apitest"

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func placeOrder(t *testing.T, req orderRequest, wantStatus int) *http.Response {
	t.Helper()

	resp := doPostWithAuth(t, "/api/order", req, testAPIKey)
	if resp.StatusCode != wantStatus {
		resp.Body.Close()
		t.Fatalf("expected %d, got %d", wantStatus, resp.StatusCode)
	}
	return resp
}

func TestPlaceOrder_NoAuth(t *testing.T) {
	req := orderRequest{
		Items: []orderItemRequest{{ProductID: "1", Quantity: 1}},
	}
	resp := doPost(t, "/api/order", req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestPlaceOrder_InvalidKey(t *testing.T) {
	req := orderRequest{
		Items: []orderItemRequest{{ProductID: "1", Quantity: 1}},
	}
	resp := doPostWithAuth(t, "/api/order", req, "wrong-key")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestPlaceOrder_EmptyItems(t *testing.T) {
	resp := placeOrder(t, orderRequest{Items: []orderItemRequest{}}, http.StatusBadRequest)
	resp.Body.Close()
}

func TestPlaceOrder_InvalidQuantity(t *testing.T) {
	resp := placeOrder(t, orderRequest{
		Items: []orderItemRequest{{ProductID: "1", Quantity: 0}},
	}, http.StatusUnprocessableEntity)
	resp.Body.Close()
}

func TestPlaceOrder_InvalidProduct(t *testing.T) {
	resp := placeOrder(t, orderRequest{
		Items: []orderItemRequest{{ProductID: "999", Quantity: 1}},
	}, http.StatusUnprocessableEntity)
	resp.Body.Close()
}

func TestPlaceOrder_OutOfStock(t *testing.T) {
	resp := placeOrder(t, orderRequest{
		Items: []orderItemRequest{{ProductID: "9", Quantity: 100_000}},
	}, http.StatusUnprocessableEntity)
	resp.Body.Close()
}

func TestPlaceOrder_SingleItem(t *testing.T) {
	resp := placeOrder(t, orderRequest{
		Items: []orderItemRequest{{ProductID: "1", Quantity: 1}}, // Waffle $6.50
	}, http.StatusOK)
	defer resp.Body.Close()

	order := decodeJSON[orderResponse](t, resp)
	if order.Subtotal != 6.5 {
		t.Errorf("subtotal: got %v, want 6.5", order.Subtotal)
	}
	if order.Discounts != 0 {
		t.Errorf("discounts: got %v, want 0", order.Discounts)
	}
	if order.Shipping != shippingFee {
		t.Errorf("shipping: got %v, want %v", order.Shipping, shippingFee)
	}
	if order.Total != 6.5+shippingFee {
		t.Errorf("total: got %v, want %v", order.Total, 6.5+shippingFee)
	}
	if order.Status != "pending_payment" {
		t.Errorf("status: got %q, want pending_payment", order.Status)
	}
}

func TestPlaceOrder_MultipleItems(t *testing.T) {
	resp := placeOrder(t, orderRequest{
		Items: []orderItemRequest{
			{ProductID: "1", Quantity: 2}, // 2x Waffle $6.50 = $13.00
			{ProductID: "2", Quantity: 1}, // 1x Creme Brulee $7.00
		},
	}, http.StatusOK)
	defer resp.Body.Close()

	order := decodeJSON[orderResponse](t, resp)
	if order.Total != 20+shippingFee {
		t.Errorf("total: got %v, want %v", order.Total, 20+shippingFee)
	}
}

func TestPlaceOrder_FreeShippingThreshold(t *testing.T) {
	resp := placeOrder(t, orderRequest{
		Items: []orderItemRequest{{ProductID: "3", Quantity: 7}}, // 7x Macaron $8.00 = $56.00
	}, http.StatusOK)
	defer resp.Body.Close()

	order := decodeJSON[orderResponse](t, resp)
	if order.Shipping != 0 {
		t.Errorf("shipping: got %v, want 0", order.Shipping)
	}
	if order.Total != 56 {
		t.Errorf("total: got %v, want 56", order.Total)
	}
}

func TestPlaceOrder_Percentage(t *testing.T) {
	resp := placeOrder(t, orderRequest{
		Items:      []orderItemRequest{{ProductID: "3", Quantity: 3}}, // 3x Macaron $8.00 = $24.00
		CouponCode: "happyhours",
	}, http.StatusOK)
	defer resp.Body.Close()

	order := decodeJSON[orderResponse](t, resp)
	// 24.00 * 18% = 4.32
	if order.Discounts != 4.32 {
		t.Errorf("discounts: got %v, want 4.32", order.Discounts)
	}
	// 24.00 - 4.32 + 5.00 = 24.68
	if order.Total != 24.68 {
		t.Errorf("total: got %v, want 24.68", order.Total)
	}
	if order.CouponCode != "HAPPYHOURS" {
		t.Errorf("couponCode: got %q, want HAPPYHOURS", order.CouponCode)
	}
}

func TestPlaceOrder_MinimumNotMet(t *testing.T) {
	resp := placeOrder(t, orderRequest{
		Items:      []orderItemRequest{{ProductID: "3", Quantity: 1}},
		CouponCode: "HAPPYHOURS",
	}, http.StatusUnprocessableEntity)
	defer resp.Body.Close()

	body := decodeJSON[couponErrorResponse](t, resp)
	if body.Reason != "MINIMUM_NOT_MET" {
		t.Errorf("reason: got %q, want MINIMUM_NOT_MET", body.Reason)
	}
}

func TestPlaceOrder_BuyXGetY(t *testing.T) {
	resp := placeOrder(t, orderRequest{
		Items:      []orderItemRequest{{ProductID: "1", Quantity: 3}}, // 3x Waffle $6.50 = $19.50
		CouponCode: "WAFFLE2GET1",
	}, http.StatusOK)
	defer resp.Body.Close()

	order := decodeJSON[orderResponse](t, resp)
	if len(order.Items) != 1 || order.Items[0].FreeQuantity != 1 {
		t.Fatalf("expected one free waffle, got %+v", order.Items)
	}
	if order.Discounts != 6.5 {
		t.Errorf("discounts: got %v, want 6.5", order.Discounts)
	}
	// 19.50 - 6.50 + 5.00 = 18.00
	if order.Total != 18 {
		t.Errorf("total: got %v, want 18", order.Total)
	}
}

func TestPlaceOrder_FreeShippingCoupon(t *testing.T) {
	resp := placeOrder(t, orderRequest{
		Items:      []orderItemRequest{{ProductID: "5", Quantity: 1}}, // Baklava $4.00
		CouponCode: "FREESHIP",
	}, http.StatusOK)
	defer resp.Body.Close()

	order := decodeJSON[orderResponse](t, resp)
	if !order.FreeShipping || order.Shipping != 0 {
		t.Errorf("shipping: got %v (free=%v), want waived", order.Shipping, order.FreeShipping)
	}
	if order.Total != 4 {
		t.Errorf("total: got %v, want 4", order.Total)
	}
}

func TestPlaceOrder_InvalidCoupon(t *testing.T) {
	resp := placeOrder(t, orderRequest{
		Items:      []orderItemRequest{{ProductID: "1", Quantity: 1}},
		CouponCode: "NONEXISTENT",
	}, http.StatusUnprocessableEntity)
	defer resp.Body.Close()

	body := decodeJSON[couponErrorResponse](t, resp)
	if body.Reason != "COUPON_NOT_FOUND" {
		t.Errorf("reason: got %q, want COUPON_NOT_FOUND", body.Reason)
	}
}

func TestPlaceOrder_InactiveCoupon(t *testing.T) {
	resp := placeOrder(t, orderRequest{
		Items:      []orderItemRequest{{ProductID: "1", Quantity: 1}},
		CouponCode: "EXPIRED",
	}, http.StatusUnprocessableEntity)
	defer resp.Body.Close()

	body := decodeJSON[couponErrorResponse](t, resp)
	if body.Reason != "COUPON_INACTIVE" {
		t.Errorf("reason: got %q, want COUPON_INACTIVE", body.Reason)
	}
}

func TestPlaceOrder_CustomerUsageLimit(t *testing.T) {
	req := orderRequest{
		Items:      []orderItemRequest{{ProductID: "4", Quantity: 6}}, // 6x Tiramisu $5.50 = $33.00
		CouponCode: "FIVEOFF",
		UserID:     "integration-usage-limit",
	}

	first := placeOrder(t, req, http.StatusOK)
	first.Body.Close()

	second := placeOrder(t, req, http.StatusUnprocessableEntity)
	defer second.Body.Close()

	body := decodeJSON[couponErrorResponse](t, second)
	if body.Reason != "CUSTOMER_USAGE_LIMIT_REACHED" {
		t.Errorf("reason: got %q, want CUSTOMER_USAGE_LIMIT_REACHED", body.Reason)
	}
}

func TestPlaceOrder_TotalUsageLimitUnderConcurrency(t *testing.T) {
	req := orderRequest{
		Items:      []orderItemRequest{{ProductID: "6", Quantity: 1}},
		CouponCode: "ONCEONLY",
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}

	const parallel = 4
	var (
		wg       sync.WaitGroup
		statuses [parallel]int
		reasons  [parallel]string
		errs     [parallel]error
	)
	for i := range parallel {
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses[i], reasons[i], errs[i] = postOrderRaw(data)
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}

	accepted := 0
	for i, status := range statuses {
		switch status {
		case http.StatusOK:
			accepted++
		case http.StatusUnprocessableEntity:
			if reasons[i] != "USAGE_LIMIT_REACHED" {
				t.Errorf("request %d: reason %q, want USAGE_LIMIT_REACHED", i, reasons[i])
			}
		default:
			t.Errorf("request %d: unexpected status %d", i, status)
		}
	}
	if accepted != 1 {
		t.Fatalf("accepted %d orders for a single-use coupon, want 1", accepted)
	}
}

// postOrderRaw places an order without touching testing.T so it can run in
// a goroutine. It returns the status and, for 422 responses, the reason.
func postOrderRaw(body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, baseURL+"/api/order", bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api_key", testAPIKey)

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		return resp.StatusCode, "", nil
	}
	var body422 couponErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body422); err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, body422.Reason, nil
}

func TestPlaceOrder_IdempotencyKey(t *testing.T) {
	req := orderRequest{
		Items: []orderItemRequest{{ProductID: "7", Quantity: 1}},
	}
	headers := map[string]string{
		"api_key":         testAPIKey,
		"Idempotency-Key": "integration-idempotency-1",
	}

	first := doPostWithHeaders(t, "/api/order", req, headers)
	defer first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", first.StatusCode)
	}
	original := decodeJSON[orderResponse](t, first)

	second := doPostWithHeaders(t, "/api/order", req, headers)
	defer second.Body.Close()
	if second.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", second.StatusCode)
	}
	if second.Header.Get("Idempotent-Replayed") != "true" {
		t.Error("Idempotent-Replayed header not set on replay")
	}
	replayed := decodeJSON[orderResponse](t, second)
	if replayed.ID != original.ID {
		t.Errorf("replayed order id: got %q, want %q", replayed.ID, original.ID)
	}
}

func TestPlaceOrder_ResponseStructure(t *testing.T) {
	resp := placeOrder(t, orderRequest{
		Items: []orderItemRequest{{ProductID: "1", Quantity: 1}},
	}, http.StatusOK)
	defer resp.Body.Close()

	order := decodeJSON[orderResponse](t, resp)

	if !uuidPattern.MatchString(order.ID) {
		t.Errorf("order ID %q is not a valid UUID", order.ID)
	}
	if len(order.Items) != 1 {
		t.Errorf("expected 1 item, got %d", len(order.Items))
	}
	if order.Items[0].UnitPrice != 6.5 {
		t.Errorf("unitPrice: got %v, want 6.5", order.Items[0].UnitPrice)
	}
	if len(order.Products) != 1 {
		t.Fatalf("expected 1 product, got %d", len(order.Products))
	}

	product := order.Products[0]
	if product.ID != "1" {
		t.Errorf("product id: got %q, want %q", product.ID, "1")
	}
	if product.Name == "" {
		t.Error("product name is empty")
	}
	if product.Price <= 0 {
		t.Errorf("product price: got %v, want > 0", product.Price)
	}
}
