package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIKeyHeader carries the shared secret
const APIKeyHeader = "x-guardian-api-key"

// AuthMiddleware rejects requests whose API key header does not match apiKey.
// With an empty apiKey every request is rejected.
func AuthMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader(APIKeyHeader)
		if apiKey == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error: "Unauthorized",
				Code:  CodeUnauthorized,
			})
			return
		}
		c.Next()
	}
}
