// ratelimit.go - Redis fixed-window rate limiter
package api

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// RateLimiter counts requests per client in Redis. When Redis is unreachable
// requests are let through.
type RateLimiter struct {
	redis  redis.Cmdable
	limit  int
	window time.Duration
	prefix string
	logger *slog.Logger
}

// NewRateLimiter creates a limiter allowing limit requests per window.
func NewRateLimiter(client redis.Cmdable, limit int, window time.Duration, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		redis:  client,
		limit:  limit,
		window: window,
		prefix: "ratelimit:generate:",
		logger: logger,
	}
}

// Middleware returns the Echo middleware.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			id := c.RealIP()
			if id == "" {
				id = "anonymous"
			}
			key := rl.prefix + id

			count, err := rl.redis.Incr(ctx, key).Result()
			if err != nil {
				rl.logger.Debug("rate limiter unavailable", slog.Any("error", err))
				return next(c)
			}
			if count == 1 {
				// a counter without a ttl would never reset
				if err := rl.redis.Expire(ctx, key, rl.window).Err(); err != nil {
					rl.logger.Debug("rate limiter expire failed", slog.Any("error", err))
					rl.redis.Del(ctx, key)
					return next(c)
				}
			}

			ttl, _ := rl.redis.TTL(ctx, key).Result()
			reset := int(ttl.Seconds())
			if reset < 0 {
				reset = 0
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
			h.Set("X-RateLimit-Reset", strconv.Itoa(reset))

			if count > int64(rl.limit) {
				h.Set("X-RateLimit-Remaining", "0")
				h.Set("Retry-After", fmt.Sprintf("%d", reset))
				return NewTooManyRequestsError(reset)
			}
			h.Set("X-RateLimit-Remaining", strconv.Itoa(rl.limit-int(count)))
			return next(c)
		}
	}
}
