package middleware

import (
	"github.com/MrEthical07/paradox"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderRequestID carries the request correlation id in both directions.
const HeaderRequestID = "X-Request-ID"

const requestIDKey = "paradox_request_id"

// RequestContext reuses a well-formed inbound X-Request-ID or mints a UUID,
// echoes it on the response, and stores request id, client IP and User-Agent
// in the request context.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(HeaderRequestID, id)

		ctx := paradox.WithRequestID(c.Request.Context(), id)
		ctx = paradox.WithClientIP(ctx, c.ClientIP())
		if ua := c.Request.UserAgent(); ua != "" {
			ctx = paradox.WithUserAgent(ctx, truncate(ua, 256))
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RequestID returns the id assigned by [RequestContext].
func RequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func validRequestID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for i := 0; i < len(id); i++ {
		ch := id[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '-', ch == '_', ch == '.':
		default:
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
