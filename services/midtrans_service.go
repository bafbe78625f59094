package services

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/yeremiapane/table-sync/models"
	"github.com/yeremiapane/table-sync/utils"
)

// PaymentGateway adalah gateway pembayaran asinkron (QRIS) yang hasilnya datang lewat webhook.
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Status(ctx context.Context, gatewayRef string) (*GatewayStatus, error)
}

type ChargeRequest struct {
	GatewayOrderID string
	Amount         models.Money
	Description    string
}

type ChargeResult struct {
	GatewayRef    string     `json:"gatewayRef"`
	TransactionID string     `json:"transactionId"`
	QRImageURL    string     `json:"qrImageUrl,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

type GatewayStatus struct {
	GatewayRef    string
	TransactionID string
	Outcome       string
	Amount        models.Money
}

// MidtransConfig holds Midtrans configuration
type MidtransConfig struct {
	ServerKey     string
	ClientKey     string
	IsProduction  bool
	ExpiryMinutes int
}

// MidtransService handles Midtrans API interactions
type MidtransService struct {
	config *MidtransConfig
	client coreapi.Client
}

func NewMidtransService(config *MidtransConfig) *MidtransService {
	ms := &MidtransService{config: config}
	env := midtrans.Sandbox
	if config.IsProduction {
		env = midtrans.Production
	}
	ms.client.New(config.ServerKey, env)
	return ms
}

// ValidateConfig validates Midtrans configuration
func (ms *MidtransService) ValidateConfig() error {
	if ms.config.ServerKey == "" {
		return fmt.Errorf("MIDTRANS_SERVER_KEY is not set")
	}
	if ms.config.ClientKey == "" {
		return fmt.Errorf("MIDTRANS_CLIENT_KEY is not set")
	}
	if ms.config.ExpiryMinutes <= 0 {
		return fmt.Errorf("payment expiry must be positive")
	}
	return nil
}

// Charge membuat transaksi QRIS. Midtrans hanya menerima rupiah bulat.
func (ms *MidtransService) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.Amount <= 0 || req.Amount.Cents()%100 != 0 {
		return nil, fmt.Errorf("%w: gateway amount %s must be a positive whole number", models.ErrInvalidState, req.Amount)
	}
	gross := req.Amount.Cents() / 100
	chargeReq := &coreapi.ChargeReq{
		PaymentType: coreapi.PaymentTypeQris,
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.GatewayOrderID,
			GrossAmt: gross,
		},
		Items: &[]midtrans.ItemDetails{{
			ID:    req.GatewayOrderID,
			Name:  req.Description,
			Price: gross,
			Qty:   1,
		}},
		CustomExpiry: &coreapi.CustomExpiry{
			ExpiryDuration: ms.config.ExpiryMinutes,
			Unit:           "minute",
		},
	}

	resp, mErr := ms.client.ChargeTransaction(chargeReq)
	if mErr != nil {
		return nil, models.Transient(fmt.Errorf("midtrans charge %s: %s", req.GatewayOrderID, mErr.Message))
	}
	if len(resp.StatusCode) > 0 && resp.StatusCode[0] != '2' {
		return nil, models.Transient(fmt.Errorf("midtrans charge %s: %s %s", req.GatewayOrderID, resp.StatusCode, resp.StatusMessage))
	}

	result := &ChargeResult{GatewayRef: req.GatewayOrderID, TransactionID: resp.TransactionID}
	for _, action := range resp.Actions {
		if action.Name == "generate-qr-code" {
			result.QRImageURL = action.URL
		}
	}
	expiresAt := time.Now().Add(time.Duration(ms.config.ExpiryMinutes) * time.Minute)
	result.ExpiresAt = &expiresAt

	utils.InfoLogger.Infof("Created Midtrans transaction %s for order ref %s", resp.TransactionID, req.GatewayOrderID)
	return result, nil
}

// Status checks transaction status from Midtrans
func (ms *MidtransService) Status(ctx context.Context, gatewayRef string) (*GatewayStatus, error) {
	resp, mErr := ms.client.CheckTransaction(gatewayRef)
	if mErr != nil {
		return nil, models.Transient(fmt.Errorf("midtrans status %s: %s", gatewayRef, mErr.Message))
	}
	status := &GatewayStatus{
		GatewayRef:    gatewayRef,
		TransactionID: resp.TransactionID,
		Outcome:       MapMidtransOutcome(resp.TransactionStatus, resp.FraudStatus),
	}
	if resp.GrossAmount != "" {
		amount, err := models.ParseMoney(resp.GrossAmount)
		if err != nil {
			return nil, fmt.Errorf("midtrans status %s: %w", gatewayRef, err)
		}
		status.Amount = amount
	}
	return status, nil
}

// ValidateSignature validates Midtrans signature
func (ms *MidtransService) ValidateSignature(orderID, statusCode, grossAmount, signature string) bool {
	hash := sha512.Sum512([]byte(orderID + statusCode + grossAmount + ms.config.ServerKey))
	expected := hex.EncodeToString(hash[:])
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// MapMidtransOutcome memetakan transaction_status Midtrans ke hasil pembayaran internal.
// String kosong berarti status tidak dikenal.
func MapMidtransOutcome(transactionStatus, fraudStatus string) string {
	switch transactionStatus {
	case "capture":
		switch fraudStatus {
		case "challenge":
			return OutcomePending
		case "deny":
			return OutcomeRejected
		}
		return OutcomeApproved
	case "settlement":
		return OutcomeApproved
	case "pending", "authorize":
		return OutcomePending
	case "deny", "failure":
		return OutcomeRejected
	case "cancel":
		return OutcomeCancelled
	case "expire":
		return OutcomeExpired
	case "refund", "partial_refund", "chargeback", "partial_chargeback":
		return OutcomeRefunded
	default:
		return ""
	}
}

// MidtransNotification adalah body HTTP notification dari Midtrans.
type MidtransNotification struct {
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	StatusCode        string `json:"status_code" binding:"required"`
	OrderID           string `json:"order_id" binding:"required"`
	GrossAmount       string `json:"gross_amount" binding:"required"`
	SignatureKey      string `json:"signature_key" binding:"required"`
	PaymentType       string `json:"payment_type"`
}
