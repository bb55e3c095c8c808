package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window. Zero disables limiting.
	Max    int
	Window time.Duration
	// KeyFunc identifies the client. Defaults to ClientKey.
	KeyFunc func(*http.Request) string
}

// window holds request counts of the current and previous fixed windows.
type window struct {
	prev      float64
	curr      float64
	currStart time.Time
}

type rateLimiter struct {
	max    int
	window time.Duration
	key    func(*http.Request) string

	mu sync.Mutex
	// windows expire after two idle windows; go-cache's janitor evicts them.
	windows *gocache.Cache
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientKey
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &rateLimiter{
		max:     cfg.Max,
		window:  cfg.Window,
		key:     cfg.KeyFunc,
		windows: gocache.New(2*cfg.Window, 2*cfg.Window),
	}
}

// allow records a request for key at now and reports whether it fits the
// limit, how many requests remain and when the current window ends.
func (rl *rateLimiter) allow(key string, now time.Time) (remaining int, resetAt time.Time, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	var w *window
	if v, found := rl.windows.Get(key); found {
		w = v.(*window)
	} else {
		w = &window{currStart: now.Truncate(rl.window)}
	}

	switch elapsed := now.Sub(w.currStart); {
	case elapsed >= 2*rl.window:
		w.prev, w.curr = 0, 0
		w.currStart = now.Truncate(rl.window)
	case elapsed >= rl.window:
		w.prev, w.curr = w.curr, 0
		w.currStart = now.Truncate(rl.window)
	}
	rl.windows.SetDefault(key, w)

	// The previous window counts in proportion to its overlap with the
	// sliding window ending now.
	overlap := 1 - now.Sub(w.currStart).Seconds()/rl.window.Seconds()
	estimate := w.prev*math.Max(overlap, 0) + w.curr
	resetAt = w.currStart.Add(rl.window)

	if estimate >= float64(rl.max) {
		return 0, resetAt, false
	}
	w.curr++
	return max(int(float64(rl.max)-estimate-1), 0), resetAt, true
}

// RateLimit enforces a per-client sliding window limit. Rejected requests get
// 429 with a Retry-After header and a JSON error body. All responses carry
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	rl := newRateLimiter(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, resetAt, ok := rl.allow(rl.key(r), time.Now())

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(rl.max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !ok {
				retry := max(time.Until(resetAt), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientKey identifies the client by the first X-Forwarded-For hop, then
// X-Real-IP, then the connection's remote address.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// KeyVerifier resolves an api_key header value to the ID of the stored key
// it matches. It reports false for keys that are not stored.
type KeyVerifier func(ctx context.Context, key string) (id string, ok bool)

// APIKeyOrClient keys callers presenting a verified api_key by the key's ID,
// so clients sharing an address do not share a budget. Missing or unknown
// keys fall back to ClientKey.
func APIKeyOrClient(verify KeyVerifier) func(*http.Request) string {
	return func(r *http.Request) string {
		if key := r.Header.Get("api_key"); key != "" && verify != nil {
			if id, ok := verify(r.Context(), key); ok {
				return "key:" + id
			}
		}
		return "ip:" + ClientKey(r)
	}
}
