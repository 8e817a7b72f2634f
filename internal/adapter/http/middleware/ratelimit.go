package middleware

import (
	"strconv"
	"time"

	"farm-payments/internal/core/ports"
	"farm-payments/pkg/apperror"
	"farm-payments/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RateLimitRule is a fixed-window budget for one endpoint group.
type RateLimitRule struct {
	Limit  int64
	Window time.Duration
}

// DefaultRateLimitRules returns the per-group budgets. requests is the
// configured general budget for reads.
func DefaultRateLimitRules(requests int, window time.Duration) map[string]RateLimitRule {
	if requests <= 0 {
		requests = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return map[string]RateLimitRule{
		"reads":        {Limit: int64(requests), Window: window},
		"transactions": {Limit: 60, Window: time.Minute},
		"refunds":      {Limit: 20, Window: time.Minute},
		"invoices":     {Limit: 60, Window: time.Minute},
		"payroll":      {Limit: 10, Window: time.Minute},
		"callbacks":    {Limit: 1200, Window: time.Minute},
	}
}

// RateLimiter rejects requests over rule with RATE_001. Store errors let the request through.
func RateLimiter(store ports.RateLimitStore, group string, rule RateLimitRule, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := identifier(c) + ":" + group

		result, err := store.Allow(c.Request.Context(), key, rule.Limit, rule.Window)
		if err != nil {
			log.Warn().Err(err).Str("group", group).Msg("rate limit check failed, allowing request")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

		if !result.Allowed {
			retryAfter := result.ResetAt - time.Now().Unix()
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			response.Error(c, apperror.ErrRateLimitExceeded())
			c.Abort()
			return
		}
		c.Next()
	}
}

// identifier keys authenticated callers by user, providers by name, everyone else by address.
func identifier(c *gin.Context) string {
	if id, ok := UserID(c); ok {
		return "user:" + id.String()
	}
	if p := c.GetHeader(HeaderProvider); p != "" {
		return "provider:" + p
	}
	return "ip:" + c.ClientIP()
}
