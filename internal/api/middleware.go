package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/r3nzsec/irflow-timeline/internal/ratelimit"
)

// APIKeyAuthMiddleware returns middleware that checks for a valid API
// key. The health endpoint is exempt. No-op if apiKey is empty.
func APIKeyAuthMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		// Health endpoint is always accessible
		if c.Request.URL.Path == "/api/v1/health" {
			c.Next()
			return
		}

		// Check Authorization: Bearer <key>
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && parts[1] == apiKey {
				c.Next()
				return
			}
		}

		// Check X-API-Key header
		if c.GetHeader("X-API-Key") == apiKey {
			c.Next()
			return
		}

		UnauthorizedError(c, "Invalid or missing API key")
		c.Abort()
	}
}

// routeToEndpoint maps API routes to rate-limit endpoint names.
func routeToEndpoint(path string) string {
	switch {
	case strings.Contains(path, "/analytics/"):
		return "analytics"
	case strings.Contains(path, "/query") || strings.Contains(path, "/values") || strings.Contains(path, "/groups"):
		return "query"
	case strings.Contains(path, "/import"):
		return "import"
	case strings.Contains(path, "/export") || strings.Contains(path, "/report"):
		return "export"
	default:
		return ""
	}
}

// RateLimitMiddleware rejects requests that exhaust their token bucket.
func RateLimitMiddleware(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		result := limiter.Allow(routeToEndpoint(c.Request.URL.Path))
		if !result.Allowed {
			retryAfter := int(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			TooManyRequestsError(c, fmt.Sprintf(
				"Rate limit exceeded for %s. Retry after %d seconds.", result.LimitType, retryAfter))
			c.Abort()
			return
		}

		c.Next()
	}
}
