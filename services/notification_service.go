package services

import (
	"context"
	"time"

	"github.com/yeremiapane/table-sync/hub"
	"github.com/yeremiapane/table-sync/models"
	"github.com/yeremiapane/table-sync/repository"
	"github.com/yeremiapane/table-sync/utils"
	"gorm.io/datatypes"
)

type AdminNotification struct {
	ID        uint                   `json:"id"`
	Kind      string                 `json:"kind"`
	TableID   uint                   `json:"tableId"`
	OrderID   *uint                  `json:"orderId,omitempty"`
	Message   string                 `json:"message"`
	Detail    map[string]interface{} `json:"detail"`
	Timestamp time.Time              `json:"timestamp"`
}

// NotificationService menyimpan notifikasi staff lalu mengirimnya ke socket admin restoran.
type NotificationService struct {
	repo *repository.Repository
	hub  *hub.Hub
}

func NewNotificationService(repo *repository.Repository, h *hub.Hub) *NotificationService {
	return &NotificationService{repo: repo, hub: h}
}

// Notify tetap mengirim ke socket admin walaupun penyimpanan gagal; error penyimpanan dikembalikan.
func (s *NotificationService) Notify(ctx context.Context, restaurantID uint, kind string, tableID uint, orderID *uint, message string, detail map[string]interface{}) error {
	n := models.Notification{
		RestaurantID: restaurantID,
		Kind:         kind,
		TableID:      tableID,
		OrderID:      orderID,
		Message:      message,
		Detail:       datatypes.JSONMap(detail),
		CreatedAt:    time.Now(),
	}
	err := s.repo.AppendNotification(ctx, &n)
	if err != nil {
		utils.ErrorLogger.Errorf("Error saving %s notification for table %d: %v", kind, tableID, err)
	}

	if detail == nil {
		detail = map[string]interface{}{}
	}
	s.hub.BroadcastAdmin(restaurantID, hub.Message{
		Type: hub.EventAdminNotification,
		Payload: AdminNotification{
			ID:        n.ID,
			Kind:      kind,
			TableID:   tableID,
			OrderID:   orderID,
			Message:   message,
			Detail:    detail,
			Timestamp: n.CreatedAt,
		},
	})
	return err
}

func (s *NotificationService) List(ctx context.Context, restaurantID uint, unreadOnly bool, limit int) ([]models.Notification, error) {
	return s.repo.ListNotifications(ctx, restaurantID, unreadOnly, limit)
}

func (s *NotificationService) MarkRead(ctx context.Context, restaurantID, notificationID uint) error {
	return s.repo.MarkNotificationRead(ctx, restaurantID, notificationID)
}
