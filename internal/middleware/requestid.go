package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDKey = "request_id"

// RequestID assigns each request a uuid, echoed back to the client and
// used to correlate the authorization decision with its outcome.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New()
		c.Set(requestIDKey, id)
		c.Header("X-Request-Id", id.String())
		c.Next()
	}
}

// GetRequestID returns the request's uuid, or uuid.Nil when the
// middleware did not run.
func GetRequestID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get(requestIDKey); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}
