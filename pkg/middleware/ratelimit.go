package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/securitieslending/pkg/logger"
	"github.com/wyfcoding/securitieslending/pkg/ratelimit"
)

// RateLimitMiddleware 按 X-Client-ID（缺省为客户端 IP）限流，limiter 为 nil 时不限流
func RateLimitMiddleware(limiter ratelimit.CallerLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		caller := c.GetHeader("X-Client-ID")
		if caller == "" {
			caller = c.ClientIP()
		}

		res, err := limiter.Allow(c.Request.Context(), caller)
		if err != nil {
			// 限流组件故障时放行，决策本身仍然 fail-closed
			logger.Warn(c.Request.Context(), "rate limiter unavailable", "caller", caller, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Burst))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			c.Header("Retry-After", strconv.FormatInt(res.RetryAfterSeconds(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"caller":      caller,
				"retry_after": res.RetryAfter.String(),
			})
			return
		}
		c.Next()
	}
}
