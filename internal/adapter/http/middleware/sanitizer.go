package middleware

import (
	"net/http"
	"strings"

	"farm-payments/pkg/apperror"
	"farm-payments/pkg/response"

	"github.com/gin-gonic/gin"
)

// MaxBodySize caps the request body; reads past maxBytes fail and binding reports it.
func MaxBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// RequireJSON rejects write requests whose body is not JSON.
func RequireJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			if c.Request.ContentLength != 0 && !strings.HasPrefix(c.ContentType(), "application/json") {
				response.Error(c, apperror.New(apperror.CodeValidation, "Content-Type must be application/json", http.StatusUnsupportedMediaType))
				c.Abort()
				return
			}
		}
		c.Next()
	}
}
