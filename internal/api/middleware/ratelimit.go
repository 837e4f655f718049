package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/cvscreen/internal/api/response"
	"github.com/kiranshivaraju/cvscreen/internal/cache"
)

const (
	defaultRequestsPerMinute = 60
	window                   = time.Minute
)

// Counter is the slice of the cache the limiter needs.
type Counter interface {
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RateLimit provides fixed-window rate limiting per client via Redis.
type RateLimit struct {
	counter        Counter
	requestsPerMin int
}

// NewRateLimit creates a new RateLimit middleware.
func NewRateLimit(c Counter, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{counter: c, requestsPerMin: requestsPerMin}
}

// Limit counts requests per client within the current minute. Requests
// without a client identity, or arriving while Redis is down, pass through.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, ok := GetClient(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		count, err := rl.counter.IncrWithExpiry(r.Context(), cache.RateLimitKey(client), window)
		if err != nil {
			slog.Warn("rate limit check failed, allowing request", "client", client, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.requestsPerMin - int(count)
		if remaining < 0 {
			remaining = 0
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(window).Unix(), 10))

		if count > int64(rl.requestsPerMin) {
			w.Header().Set("Retry-After", "60")
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
