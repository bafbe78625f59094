package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ItemStatePending   = "pending"
	ItemStatePreparing = "preparing"
	ItemStateDelivered = "delivered"
	ItemStateServed    = "served"
	ItemStateCancelled = "cancelled"
)

func ValidItemState(state string) bool {
	switch state {
	case ItemStatePending, ItemStatePreparing, ItemStateDelivered, ItemStateServed, ItemStateCancelled:
		return true
	}
	return false
}

// OrderItem adalah satu baris pesanan. OwnerLabel berisi nama peserta,
// atau StaffOwnerLabel untuk item yang diinput staff.
type OrderItem struct {
	ID                    uint                      `gorm:"primaryKey" json:"id"`
	OrderID               uint                      `gorm:"not null;index" json:"order_id"`
	Order                 Order                     `gorm:"foreignKey:OrderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	MenuID                uint                      `gorm:"not null" json:"menu_id"`
	OwnerLabel            string                    `gorm:"type:varchar(100);not null;default:''" json:"owner_label"`
	Quantity              int                       `gorm:"not null" json:"quantity"`
	UnitPrice             Money                     `gorm:"type:decimal(10,2);not null" json:"unit_price"`
	ExcludedIngredientIDs datatypes.JSONSlice[uint] `json:"excluded_ingredient_ids"`
	Notes                 string                    `gorm:"type:text" json:"notes"`
	State                 string                    `gorm:"type:varchar(20);not null;default:'pending'" json:"state"`
	CreatedAt             time.Time                 `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time                 `gorm:"not null" json:"updated_at"`
}

func (i OrderItem) Billable() bool {
	return i.State != ItemStateCancelled && i.Quantity > 0
}

func (i OrderItem) LineTotal() Money {
	return i.UnitPrice.Mul(i.Quantity)
}
