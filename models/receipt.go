package models

import "time"

// Receipt adalah struk untuk satu pembayar. Tidak disimpan: selalu dihitung dari
// item order dan record pembayaran yang sudah paid.
type Receipt struct {
	ReceiptNumber    string        `json:"receipt_number"`
	OrderID          uint          `json:"order_id"`
	TableNumber      string        `json:"table_number"`
	Payer            ObligationKey `json:"payer"`
	PayerLabel       string        `json:"payer_label"`
	Items            []ReceiptItem `json:"items"`
	Total            Money         `json:"total"`
	PaymentMethod    string        `json:"payment_method"`
	PaymentReference string        `json:"payment_reference,omitempty"`
	PaidAt           *time.Time    `json:"paid_at,omitempty"`
}

type ReceiptItem struct {
	MenuID    uint   `json:"menu_id"`
	MenuName  string `json:"menu_name"`
	Quantity  int    `json:"quantity"`
	UnitPrice Money  `json:"unit_price"`
	Subtotal  Money  `json:"subtotal"`
	Notes     string `json:"notes,omitempty"`
}
