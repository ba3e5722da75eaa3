package middleware

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/authd/internal/service"
	appErrors "github.com/noah-isme/authd/pkg/errors"
	"github.com/noah-isme/authd/pkg/ratelimit"
	"github.com/noah-isme/authd/pkg/response"
)

// RateLimit gates a route by client IP. Limiter errors let the request through.
func RateLimit(limiter ratelimit.Limiter, route string, metrics *service.MetricsService, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		decision, err := limiter.Check(c.Request.Context(), route, c.ClientIP())
		if err != nil {
			logger.Warn("rate limiter unavailable, allowing request", zap.String("route", route), zap.Error(err))
			c.Next()
			return
		}
		if decision.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			metrics.RecordRateLimit(route, decision.Allowed)
		}

		if !decision.Allowed {
			seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			response.Abort(c, appErrors.Clone(appErrors.ErrRateLimited, ""))
			return
		}

		c.Next()
	}
}
