package handler

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	gocache "github.com/patrickmn/go-cache"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "api_key"

// ScopeCreateOrder permits placing orders.
const ScopeCreateOrder = "create_order"

var (
	errUnauthorized = errors.New("unauthorized")
	errForbidden    = errors.New("forbidden")
)

type apiKeyCtxKey struct{}

// APIKeyFromContext returns the key that authenticated the request, if any.
func APIKeyFromContext(ctx context.Context) (*auth.APIKeyInfo, bool) {
	info, ok := ctx.Value(apiKeyCtxKey{}).(*auth.APIKeyInfo)
	return info, ok
}

// verifiedKeyTTL bounds how long a revoked key keeps its own rate limit budget.
const verifiedKeyTTL = time.Minute

// Authenticator resolves API keys by their HMAC-SHA256 hash.
type Authenticator struct {
	apikeys  auth.Repository
	pepper   []byte
	verified *gocache.Cache
}

// NewAuthenticator creates an Authenticator with the given API key
// repository and HMAC pepper.
func NewAuthenticator(apikeys auth.Repository, pepper []byte) *Authenticator {
	return &Authenticator{
		apikeys:  apikeys,
		pepper:   pepper,
		verified: gocache.New(verifiedKeyTTL, 2*verifiedKeyTTL),
	}
}

// Authenticate looks up key and compares the stored hash in constant time.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error) {
	if key == "" {
		return nil, errUnauthorized
	}
	hash := auth.HashKey(a.pepper, key)

	info, err := a.apikeys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		return nil, errors.Wrap(err, "find api key")
	}
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, errUnauthorized
	}
	return info, nil
}

// KeyID returns the ID of the stored key matching key. Only verified keys are
// remembered, so unknown keys always reach the repository and report false.
func (a *Authenticator) KeyID(ctx context.Context, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	hash := auth.HashKeyHex(a.pepper, key)
	if id, ok := a.verified.Get(hash); ok {
		return id.(string), true
	}
	info, err := a.Authenticate(ctx, key)
	if err != nil {
		return "", false
	}
	a.verified.SetDefault(hash, info.ID)
	return info.ID, true
}

// Require admits requests whose api_key header authenticates and, when the
// key lists scopes, includes scope.
func (a *Authenticator) Require(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		info, err := a.Authenticate(ctx, r.Header.Get(APIKeyHeader))
		if err != nil {
			zctx.From(ctx).Debug("API key rejected", zap.Error(err))
			writeError(w, http.StatusUnauthorized, errUnauthorized.Error())
			return
		}
		if len(info.Scopes) > 0 && !lo.Contains(info.Scopes, scope) {
			writeError(w, http.StatusForbidden, errForbidden.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, apiKeyCtxKey{}, info)))
	})
}
