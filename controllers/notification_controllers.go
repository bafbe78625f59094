package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/table-sync/middlewares"
	"github.com/yeremiapane/table-sync/services"
	"github.com/yeremiapane/table-sync/utils"
)

type NotificationController struct {
	Notifications *services.NotificationService
}

func NewNotificationController(notifications *services.NotificationService) *NotificationController {
	return &NotificationController{Notifications: notifications}
}

// GetNotifications -> ?unread=true&limit=50
func (nc *NotificationController) GetNotifications(c *gin.Context) {
	restaurantID, err := middlewares.RestaurantID(c)
	if err != nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	unreadOnly := c.Query("unread") == "true"
	limit, _ := strconv.Atoi(c.Query("limit"))

	notifs, err := nc.Notifications.List(c.Request.Context(), restaurantID, unreadOnly, limit)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "All notifications", notifs)
}

// MarkAsRead
func (nc *NotificationController) MarkAsRead(c *gin.Context) {
	restaurantID, err := middlewares.RestaurantID(c)
	if err != nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	id, ok := parseID(c, "notif_id")
	if !ok {
		return
	}

	if err := nc.Notifications.MarkRead(c.Request.Context(), restaurantID, id); err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Notification marked as read", gin.H{"notif_id": id})
}
