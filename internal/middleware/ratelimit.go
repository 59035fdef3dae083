package middleware

import (
	"fmt"
	"net/http"
	"time"

	"ubipay/pkg/cache"
	"ubipay/pkg/logger"
)

// RateLimiter applies a fixed-window limit per client IP and route prefix.
type RateLimiter struct {
	cache  cache.Cache
	limit  int
	window time.Duration
	prefix string
	logger logger.Logger
}

func NewRateLimiter(c cache.Cache, prefix string, limit int, window time.Duration, log logger.Logger) *RateLimiter {
	return &RateLimiter{
		cache:  c,
		limit:  limit,
		window: window,
		prefix: prefix,
		logger: log,
	}
}

func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := fmt.Sprintf("ratelimit:%s:%s", rl.prefix, clientIP(r))

		count, err := rl.cache.Increment(r.Context(), key)
		if err != nil {
			rl.logger.Error("Rate limit counter failed", map[string]interface{}{"key": key, "error": err.Error()})
			jsonError(w, http.StatusServiceUnavailable, "Service unavailable")
			return
		}
		if count == 1 {
			if err := rl.cache.Expire(r.Context(), key, rl.window); err != nil {
				rl.logger.Error("Rate limit expiry failed", map[string]interface{}{"key": key, "error": err.Error()})
				jsonError(w, http.StatusServiceUnavailable, "Service unavailable")
				return
			}
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.limit))
		if count > int64(rl.limit) {
			w.Header().Set("X-RateLimit-Remaining", "0")
			jsonError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", int64(rl.limit)-count))

		next.ServeHTTP(w, r)
	})
}
