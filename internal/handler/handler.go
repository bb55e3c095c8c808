// Package handler serves the storefront JSON API over net/http.
package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to image paths in product responses.
	ImageBaseURL string
	// APIKeyPepper is the HMAC key API keys are hashed with.
	APIKeyPepper []byte
}

// Handler implements the storefront endpoints, delegating business logic to
// the domain services.
type Handler struct {
	products     product.Repository
	coupons      coupon.Checker
	orders       *order.Service
	auth         *Authenticator
	imageBaseURL string
}

// New constructs a Handler with the required domain dependencies.
func New(
	cfg Config,
	products product.Repository,
	coupons coupon.Checker,
	orders *order.Service,
	apikeys auth.Repository,
) *Handler {
	return &Handler{
		products:     products,
		coupons:      coupons,
		orders:       orders,
		auth:         NewAuthenticator(apikeys, cfg.APIKeyPepper),
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/product", h.ListProducts)
	mux.HandleFunc("GET /api/product/{productId}", h.GetProduct)
	mux.HandleFunc("GET /api/category", h.ListCategories)
	mux.HandleFunc("POST /api/coupon/validate", h.ValidateCoupon)
	mux.Handle("POST /api/order", h.auth.Require(ScopeCreateOrder, http.HandlerFunc(h.PlaceOrder)))
}

// VerifyAPIKey reports the ID of the stored API key matching key. The rate
// limiter uses it to give each verified key its own budget.
func (h *Handler) VerifyAPIKey(ctx context.Context, key string) (string, bool) {
	return h.auth.KeyID(ctx, key)
}

// internalError logs err and answers 500 without leaking details.
func internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	zctx.From(r.Context()).Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}
