package middlewares

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/table-sync/utils"
)

// Key context yang diisi middleware auth
const (
	CtxUserID       = "userID"
	CtxRestaurantID = "restaurantID"
	CtxRole         = "role"
)

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, utils.JSONResponse{
		Status:  false,
		Message: message,
		Code:    "unauthorized",
	})
}

func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "Authorization header missing")
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			unauthorized(c, "format token tidak valid")
			return
		}
		if !setClaims(c, strings.TrimPrefix(authHeader, "Bearer ")) {
			return
		}
		c.Next()
	}
}

func setClaims(c *gin.Context, tokenString string) bool {
	claims, err := utils.ParseToken(tokenString)
	if err != nil {
		unauthorized(c, "Invalid or expired token")
		return false
	}
	if claims.UserID == 0 || claims.RestaurantID == 0 {
		unauthorized(c, "Invalid user or restaurant in token")
		return false
	}

	c.Set(CtxUserID, claims.UserID)
	c.Set(CtxRestaurantID, claims.RestaurantID)
	c.Set(CtxRole, claims.Role)
	return true
}

// RestaurantID mengambil restoran staff dari context yang sudah diautentikasi.
func RestaurantID(c *gin.Context) (uint, error) {
	id := c.GetUint(CtxRestaurantID)
	if id == 0 {
		return 0, errors.New("restaurant scope missing")
	}
	return id, nil
}

// UserID bernilai nil bila request tidak diautentikasi.
func UserID(c *gin.Context) *uint {
	id := c.GetUint(CtxUserID)
	if id == 0 {
		return nil
	}
	return &id
}
