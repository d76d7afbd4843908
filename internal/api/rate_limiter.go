package api

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/alpaca-lotto/internal/metrics"
	"github.com/alpaca-lotto/internal/types"
)

// RateLimiter enforces a per-client request rate. Clients are keyed by IP;
// a reverse proxy can override the key via X-Forwarded-For and grant the
// paid tier via X-User-Tier.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex

	freeLimit rate.Limit
	paidLimit rate.Limit
	burst     int
}

// NewRateLimiter creates a rate limiter allowing rps requests per second per
// free-tier client with the given burst size. Paid-tier clients get paidRPS;
// a non-positive paidRPS falls back to the free rate.
func NewRateLimiter(rps, paidRPS float64, burst int) *RateLimiter {
	if rps <= 0 {
		rps = 10
	}
	if paidRPS <= 0 {
		paidRPS = rps
	}
	if burst <= 0 {
		burst = 20
	}
	return &RateLimiter{
		limiters:  make(map[string]*rate.Limiter),
		freeLimit: rate.Limit(rps),
		paidLimit: rate.Limit(paidRPS),
		burst:     burst,
	}
}

// getLimiter returns the rate limiter for one client key. The tier decides
// the rate when the limiter is first created.
func (rl *RateLimiter) getLimiter(key string, tier types.UserTier) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	limit := rl.freeLimit
	if tier == types.TierPaid {
		limit = rl.paidLimit
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check in case another goroutine created it
	if limiter, exists := rl.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(limit, rl.burst)
	rl.limiters[key] = limiter

	return limiter
}

// Allow reports whether the client may proceed with one more request.
func (rl *RateLimiter) Allow(key string, tier types.UserTier) bool {
	return rl.getLimiter(key, tier).Allow()
}

// clientKey identifies the requesting client. The first X-Forwarded-For hop
// wins when present; otherwise the connection's remote host.
func clientKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first := strings.TrimSpace(strings.Split(forwarded, ",")[0]); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// clientTier reads the tier granted by the gateway. Unknown or missing
// values are free tier; this header is trusted upstream, not client input.
func clientTier(r *http.Request) types.UserTier {
	if tier := types.UserTier(r.Header.Get("X-User-Tier")); tier == types.TierPaid {
		return tier
	}
	return types.TierFree
}

// RateLimitMiddleware creates a middleware that enforces rate limiting.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tier := clientTier(r)
			if !rl.Allow(string(tier)+":"+clientKey(r), tier) {
				metrics.RateLimitedRequests.Inc()
				w.Header().Set("Retry-After", "1")
				respondError(w, http.StatusTooManyRequests, "Rate limit exceeded, try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
