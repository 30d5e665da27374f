package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tapanjo92/v4-getcomplical-sub000/internal/authz"
)

const decisionKey = "authz_decision"

// APIKeyHeader carries the caller's key; a bearer Authorization header
// is accepted as an alternative.
const APIKeyHeader = "X-Api-Key"

// Authorization runs every inbound request through the authorization
// engine. Denied requests are answered here; admitted requests carry
// the decision context to the next hop. Either way the final outcome is
// reported back once the response is written.
func Authorization(authorizer *authz.Authorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := GetRequestID(c)
		endpoint := c.Request.URL.Path
		method := c.Request.Method

		meta := authz.RequestMetadata{
			RequestID: requestID,
			Endpoint:  endpoint,
			Method:    method,
			SourceIP:  c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		}

		decision := authorizer.Authorize(c.Request.Context(), extractAPIKey(c), meta)

		if decision.Allow || decision.RateLimited() {
			ctx := decision.Context
			c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", ctx.Limit))
			c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", ctx.Remaining))
			c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", ctx.ResetsAt.Unix()))
			c.Header("X-RateLimit-Tier", ctx.Tier)
		}

		if !decision.Allow {
			if decision.RateLimited() {
				c.Header("Retry-After", fmt.Sprintf("%d", decision.RetryAfterSeconds))
				c.JSON(http.StatusTooManyRequests, gin.H{
					"error":       "Rate limit exceeded",
					"limit":       decision.Context.Limit,
					"retry_after": decision.RetryAfterSeconds,
				})
			} else {
				c.JSON(http.StatusUnauthorized, gin.H{
					"error": "Invalid API key",
				})
			}
			c.Abort()
			authorizer.RecordOutcome(requestID, c.Writer.Status(), int(time.Since(start).Milliseconds()), endpoint, method)
			return
		}

		c.Set(decisionKey, decision)

		// Decision context travels as string pairs to the next hop.
		for k, v := range decision.ContextMap() {
			c.Request.Header.Set("X-Context-"+k, v)
		}

		c.Next()

		authorizer.RecordOutcome(requestID, c.Writer.Status(), int(time.Since(start).Milliseconds()), endpoint, method)
	}
}

// GetDecision returns the Allow decision attached to the request.
func GetDecision(c *gin.Context) (authz.Decision, bool) {
	if v, ok := c.Get(decisionKey); ok {
		if d, ok := v.(authz.Decision); ok {
			return d, true
		}
	}
	return authz.Decision{}, false
}

func extractAPIKey(c *gin.Context) string {
	if key := c.GetHeader(APIKeyHeader); key != "" {
		return strings.TrimSpace(key)
	}

	auth := c.GetHeader("Authorization")
	if parts := strings.SplitN(auth, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}

	return ""
}
