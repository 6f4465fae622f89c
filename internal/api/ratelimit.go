package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/victorivanov/backchannel/internal/redis"
)

// RateRule is a named fixed-window budget. Routes sharing a rule share the
// caller's budget.
type RateRule struct {
	Name   string
	Limit  int
	Window time.Duration
}

var (
	// RuleAPI covers every authenticated route.
	RuleAPI = RateRule{Name: "api", Limit: 120, Window: time.Minute}
	// RuleSend covers message creation across all channels.
	RuleSend = RateRule{Name: "send", Limit: 30, Window: 10 * time.Second}
	// RuleTyping covers typing upserts and deletes. Clients refresh at most
	// every couple of seconds, so this only stops runaway loops.
	RuleTyping = RateRule{Name: "typing", Limit: 60, Window: time.Minute}
)

// RateLimitMiddleware counts requests against rule per user, or per IP for
// unauthenticated callers, in Redis. Redis failures let the request through.
func RateLimitMiddleware(redisClient *redis.Client, rule RateRule) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var key string
			if uid, ok := c.Get("user_id").(int64); ok {
				key = fmt.Sprintf("rl:%s:user:%d", rule.Name, uid)
			} else {
				key = fmt.Sprintf("rl:%s:ip:%s", rule.Name, c.RealIP())
			}

			allowed, count, ttlMs, err := redisClient.CheckRateLimit(c.Request().Context(), key, rule.Limit, rule.Window)
			if err != nil {
				slog.Warn("rate limit check failed", "rule", rule.Name, "error", err)
				return next(c)
			}

			remaining := max(int64(rule.Limit)-count, 0)
			resetAt := time.Now().Add(time.Duration(ttlMs) * time.Millisecond).Unix()

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(rule.Limit))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))
			h.Set("X-RateLimit-Bucket", rule.Name)

			if !allowed {
				h.Set("Retry-After", strconv.FormatInt((ttlMs+999)/1000, 10))
				return errorJSON(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, please try again later")
			}
			return next(c)
		}
	}
}
