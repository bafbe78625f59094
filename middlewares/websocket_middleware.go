package middlewares

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// WebSocketAuthMiddleware membaca token dari query ?token= karena browser tidak
// bisa mengirim header Authorization saat upgrade.
func WebSocketAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if token == "" {
			unauthorized(c, "token tidak ditemukan")
			return
		}
		if !setClaims(c, token) {
			return
		}
		c.Next()
	}
}
