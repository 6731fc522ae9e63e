// internal/middleware/rate.go
package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/SHANKHAN254/fys-investment-bot/pkg/cache"
	"github.com/SHANKHAN254/fys-investment-bot/pkg/response"

	"go.uber.org/zap"
)

const rateNamespace = "bot:rate"

// RateLimiter counts requests per client in redis and blocks a client for
// blockDuration once it exceeds limit within window. Redis errors fail open.
func RateLimiter(c *cache.Cache, limit int, window, blockDuration time.Duration, keyPrefix string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 500*time.Millisecond)
			defer cancel()

			key := keyPrefix + ":" + clientID(r)
			blockKey := key + ":blocked"

			if blocked, err := c.Get(ctx, rateNamespace, blockKey); err == nil && blocked == "1" {
				ttl, _ := c.GetTTL(ctx, rateNamespace, blockKey)
				w.Header().Set("Retry-After", strconv.Itoa(int(ttl.Seconds())))
				response.Error(w, http.StatusTooManyRequests, "Too Many Requests. Try again in "+ttl.String())
				return
			}

			count, err := c.IncrWithExpire(ctx, rateNamespace, key, window)
			if err != nil {
				logger.Debug("rate limiter unavailable, allowing request", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			if count > int64(limit) {
				_ = c.Set(ctx, rateNamespace, blockKey, "1", blockDuration)
				logger.Warn("client rate limited",
					zap.String("key", key),
					zap.Int64("count", count))
				w.Header().Set("Retry-After", strconv.Itoa(int(blockDuration.Seconds())))
				response.Error(w, http.StatusTooManyRequests, "Too Many Requests. Blocked for "+blockDuration.String())
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limit-int(count)))
			next.ServeHTTP(w, r)
		})
	}
}

// clientID prefers the authenticated admin, then the first forwarded address.
func clientID(r *http.Request) string {
	if id, ok := GetAdminID(r.Context()); ok && id != "" {
		return "uid:" + id
	}
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.RemoteAddr
	}
	return "ip:" + strings.TrimSpace(strings.Split(ip, ",")[0])
}
