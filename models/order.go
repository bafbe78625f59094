package models

import (
	"fmt"
	"time"
)

const (
	OrderStatePending   = "pending"
	OrderStatePreparing = "preparing"
	OrderStateDelivered = "delivered"
	OrderStateServed    = "served"
	OrderStateClosed    = "closed"
)

type Order struct {
	ID         uint        `gorm:"primaryKey" json:"id"`
	TableID    uint        `gorm:"not null;index" json:"table_id"`
	Table      Table       `gorm:"foreignKey:TableID" json:"-"`
	State      string      `gorm:"type:varchar(20);not null;default:'pending';index" json:"state"`
	Total      Money       `gorm:"type:decimal(10,2);not null;default:0" json:"total"`
	ClosedAt   *time.Time  `json:"closed_at,omitempty"`
	CreatedAt  time.Time   `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time   `gorm:"not null" json:"updated_at"`
	OrderItems []OrderItem `gorm:"foreignKey:OrderID" json:"order_items"`
}

func (o *Order) IsClosed() bool {
	return o.State == OrderStateClosed
}

// GatewayOrderID membuat order_id unik untuk satu percobaan pembayaran di gateway.
func (o *Order) GatewayOrderID(attempt string) string {
	return fmt.Sprintf("TS-%d-%d-%s", o.TableID, o.ID, attempt)
}

// RecomputeTotal menjumlahkan item yang masih ditagih.
func RecomputeTotal(items []OrderItem) Money {
	var total Money
	for _, item := range items {
		if item.Billable() {
			total += item.LineTotal()
		}
	}
	return total
}

// DeriveOrderState menghitung status order dari status item setelah diubah staff.
// Order yang masih pending atau sudah closed tidak disentuh.
func DeriveOrderState(current string, items []OrderItem) string {
	if current == OrderStatePending || current == OrderStateClosed {
		return current
	}
	active := 0
	served := 0
	delivered := 0
	for _, item := range items {
		switch item.State {
		case ItemStateCancelled:
			continue
		case ItemStateServed:
			served++
		case ItemStateDelivered:
			delivered++
		}
		active++
	}
	switch {
	case active == 0:
		return current
	case served == active:
		return OrderStateServed
	case served+delivered == active:
		return OrderStateDelivered
	}
	return OrderStatePreparing
}
