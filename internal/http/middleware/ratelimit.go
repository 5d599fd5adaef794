package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jmehdipour/crm-gateway/internal/model"
	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig config for Redis-based RPS limiter.
type RateLimitConfig struct {
	Redis          *redis.Client
	RPS            int           // 0 disables limiting
	Burst          int           // extra requests allowed per window
	KeyPrefix      string        // e.g. "rl:actor:"
	Window         time.Duration // usually 1s
	RetryAfterHint bool          // set Retry-After header when limited
}

// RateLimitMiddleware applies a fixed-window limit per actor (per client IP
// when unauthenticated).
func RateLimitMiddleware(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl:actor:"
	}
	limit := int64(cfg.RPS + max(cfg.Burst, 0))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.RPS <= 0 || cfg.Redis == nil {
				// no limit configured or redis missing (dev): allow
				return next(c)
			}

			who, ok := ActorFromCtx(c)
			if !ok {
				who = "ip:" + c.RealIP()
			}

			now := time.Now()
			window := now.UnixNano() / int64(cfg.Window)
			key := cfg.KeyPrefix + who + ":" + strconv.FormatInt(window, 10)

			ctx := c.Request().Context()
			pipe := cfg.Redis.Pipeline()
			cnt := pipe.Incr(ctx, key)
			pipe.Expire(ctx, key, cfg.Window*2)
			if _, err := pipe.Exec(ctx); err != nil {
				// fail open
				return next(c)
			}

			if cnt.Val() > limit {
				if cfg.RetryAfterHint {
					remain := cfg.Window - time.Duration(now.UnixNano()%int64(cfg.Window))
					secs := int((remain + time.Second - 1) / time.Second)
					c.Response().Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				}
				return c.JSON(http.StatusTooManyRequests, model.ErrorResult{Result: model.ResultError, Message: "rate limited"})
			}
			return next(c)
		}
	}
}
