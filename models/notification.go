package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	NotificationOrderConfirmed     = "order_confirmed"
	NotificationConfirmationExpire = "confirmation_expired"
	NotificationPaymentReceived    = "payment_received"
	NotificationOrderPaid          = "order_paid"
	NotificationCallStaff          = "call_staff"
	NotificationPaymentRequested   = "payment_requested"
)

type Notification struct {
	ID           uint              `gorm:"primaryKey" json:"id"`
	RestaurantID uint              `gorm:"not null;index" json:"restaurant_id"`
	Kind         string            `gorm:"type:varchar(50);not null" json:"kind"`
	TableID      uint              `gorm:"not null" json:"table_id"`
	OrderID      *uint             `json:"order_id,omitempty"`
	Message      string            `gorm:"type:text;not null" json:"message"`
	Detail       datatypes.JSONMap `json:"detail,omitempty"`
	Read         bool              `gorm:"not null;default:false" json:"read"`
	CreatedAt    time.Time         `gorm:"not null" json:"created_at"`
}
