package repository

import (
	"context"

	"github.com/yeremiapane/table-sync/models"
)

func (r *Repository) AppendNotification(ctx context.Context, n *models.Notification) error {
	return wrap(r.db.WithContext(ctx).Create(n).Error, models.ErrNotFound)
}

func (r *Repository) ListNotifications(ctx context.Context, restaurantID uint, unreadOnly bool, limit int) ([]models.Notification, error) {
	var notifications []models.Notification
	q := r.db.WithContext(ctx).Where("restaurant_id = ?", restaurantID)
	if unreadOnly {
		q = q.Where("`read` = ?", false)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if err := q.Order("id DESC").Limit(limit).Find(&notifications).Error; err != nil {
		return nil, wrap(err, models.ErrNotFound)
	}
	return notifications, nil
}

func (r *Repository) MarkNotificationRead(ctx context.Context, restaurantID, notificationID uint) error {
	res := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND restaurant_id = ?", notificationID, restaurantID).
		Update("read", true)
	if res.Error != nil {
		return models.Transient(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}
