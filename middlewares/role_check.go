package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/table-sync/utils"
)

// RequireRole hanya meloloskan role yang disebut; admin selalu lolos.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRole := c.GetString(CtxRole)
		if userRole == "" {
			unauthorized(c, "unauthorized")
			return
		}
		if userRole == utils.RoleAdmin {
			c.Next()
			return
		}
		for _, role := range roles {
			if userRole == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, utils.JSONResponse{
			Status:  false,
			Message: "access denied for role " + userRole,
			Code:    "forbidden",
		})
	}
}
