package middleware

import (
	"math"
	"strconv"

	"github.com/labstack/echo/v4"

	"chatsync/internal/infrastructure/ratelimit"
	"chatsync/pkg/errors"
	"chatsync/pkg/logger"
	"chatsync/pkg/response"
)

// RateLimit throttles every request per client IP. Per-action limits for
// sends and flushes are applied by the handlers on top of this.
func RateLimit(limiter *ratelimit.RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Websocket upgrades and scrapes are long-lived or internal.
			if c.Path() == "/metrics" || c.Request().Header.Get("Upgrade") != "" {
				return next(c)
			}

			ip := c.RealIP()
			if ok, wait := limiter.Allow(ip, ratelimit.ActionRequest); !ok {
				retry := int(math.Ceil(wait.Seconds()))
				logger.Warn("RATE LIMIT: blocked request from %s (retry in %ds)", ip, retry)
				c.Response().Header().Set("Retry-After", strconv.Itoa(retry))
				return response.Error(c, errors.TooManyRequests("Rate limit exceeded"))
			}

			return next(c)
		}
	}
}
