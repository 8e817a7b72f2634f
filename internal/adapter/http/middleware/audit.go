package middleware

import (
	"farm-payments/internal/core/ports"
	"farm-payments/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-ID"
	CtxRequestID    = response.RequestIDKey
)

// RequestContext tags the request with an id and carries the client address
// into the request context, where audit entries pick it up.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(CtxRequestID, id)
		c.Header(HeaderRequestID, id)

		c.Request = c.Request.WithContext(ports.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}
