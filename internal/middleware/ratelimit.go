package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// RateLimitWindow is the counting window per IP.
	RateLimitWindow = 120 * time.Second
	// RateLimitMaxRequests is the maximum number of requests allowed in the window.
	RateLimitMaxRequests = 60
	// RateLimitKeyPrefix is the Redis key prefix for rate limiting.
	RateLimitKeyPrefix = "ratelimit:"
	// BlockedIPKeyPrefix is the Redis key prefix for blocked IPs.
	BlockedIPKeyPrefix = "blocked_ip:"
	// BlockedIPDuration is how long an IP stays blocked.
	BlockedIPDuration = 24 * time.Hour
)

// RateLimiter is a Redis-backed per-IP limiter that blocks abusive IPs for
// BlockedIPDuration once they exceed the window limit. Redis failures fail
// open: a broken limiter must not take the API down with it.
type RateLimiter struct {
	client *redis.Client
}

// NewRateLimiter wraps an already-connected Redis client.
func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// Middleware enforces the limit.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ipAddress := clientIP(r)

		blocked, err := rl.IsIPBlocked(ctx, ipAddress)
		if err == nil && blocked {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"success":false,"message":"Your IP has been temporarily blocked due to excessive requests. Please try again later."}`))
			return
		}

		rateLimitKey := RateLimitKeyPrefix + ipAddress
		newCount, err := rl.client.Incr(ctx, rateLimitKey).Result()
		if err != nil {
			// Redis down: allow the request.
			next.ServeHTTP(w, r)
			return
		}
		if newCount == 1 {
			rl.client.Expire(ctx, rateLimitKey, RateLimitWindow)
		}

		if newCount > RateLimitMaxRequests {
			rl.client.Set(ctx, BlockedIPKeyPrefix+ipAddress, "1", BlockedIPDuration)

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(fmt.Sprintf(`{"success":false,"message":"Rate limit exceeded. Your IP has been temporarily blocked. Please try again later.","retry_after":%d}`, int(RateLimitWindow.Seconds()))))
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(RateLimitMaxRequests))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(int64(RateLimitMaxRequests)-newCount, 10))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(RateLimitWindow).Unix(), 10))

		next.ServeHTTP(w, r)
	})
}

// IsIPBlocked checks if an IP is currently blocked.
func (rl *RateLimiter) IsIPBlocked(ctx context.Context, ipAddress string) (bool, error) {
	count, err := rl.client.Exists(ctx, BlockedIPKeyPrefix+ipAddress).Result()
	return count > 0, err
}
