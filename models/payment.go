package models

import (
	"time"
)

const (
	PaymentMethodCash    = "cash"
	PaymentMethodGateway = "gateway"
)

const (
	PaymentStatePending     = "pending"
	PaymentStatePendingCash = "pending_cash"
	PaymentStatePaid        = "paid"
	PaymentStateFailed      = "failed"
)

// Payment adalah satu percobaan pembayaran untuk satu obligation key.
// Paling banyak satu record per (order_id, obligation_key) yang boleh berstatus paid.
type Payment struct {
	ID             uint          `json:"id" gorm:"primaryKey"`
	OrderID        uint          `json:"order_id" gorm:"not null;index:idx_payment_order_key"`
	Order          Order         `json:"-" gorm:"foreignKey:OrderID"`
	ObligationKey  ObligationKey `json:"obligation_key" gorm:"type:varchar(120);not null;index:idx_payment_order_key"`
	Amount         Money         `json:"amount" gorm:"type:decimal(10,2);not null"`
	Method         string        `json:"method" gorm:"type:varchar(20);not null"`
	State          string        `json:"state" gorm:"type:varchar(20);not null;default:'pending';index"`
	CorrelationRef string        `json:"correlation_ref,omitempty" gorm:"type:varchar(512);index"`
	GatewayRef     string        `json:"gateway_ref,omitempty" gorm:"type:varchar(100);index"`
	PaymentID      string        `json:"payment_id,omitempty" gorm:"type:varchar(100)"`
	QRImageURL     string        `json:"qr_image_url,omitempty"`
	PaidAt         *time.Time    `json:"paid_at,omitempty"`
	VerifiedBy     *uint         `json:"verified_by,omitempty"`
	ExpiredAt      *time.Time    `json:"expired_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

func (p Payment) Live() bool {
	return p.State == PaymentStatePending || p.State == PaymentStatePendingCash
}
