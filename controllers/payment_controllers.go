package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/table-sync/middlewares"
	"github.com/yeremiapane/table-sync/models"
	"github.com/yeremiapane/table-sync/services"
	"github.com/yeremiapane/table-sync/utils"
)

// SignatureValidator memeriksa signature_key notifikasi Midtrans.
type SignatureValidator interface {
	ValidateSignature(orderID, statusCode, grossAmount, signature string) bool
}

type PaymentController struct {
	Session *services.SessionService
	// Midtrans nil bila gateway tidak dikonfigurasi
	Midtrans     SignatureValidator
	Monitor      *services.PaymentMonitor
	ClientKey    string
	IsProduction bool
}

func NewPaymentController(session *services.SessionService, midtrans SignatureValidator, monitor *services.PaymentMonitor) *PaymentController {
	return &PaymentController{Session: session, Midtrans: midtrans, Monitor: monitor}
}

// acknowledge selalu membalas 200 agar gateway tidak mengirim ulang tanpa henti;
// kegagalan hanya dicatat di log.
func acknowledge(c *gin.Context, status string) {
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// PaymentWebhook -> POST /payments/webhook {paymentId, correlationRef, outcome, amount}
func (pc *PaymentController) PaymentWebhook(c *gin.Context) {
	var hook services.PaymentWebhook
	if err := c.ShouldBindJSON(&hook); err != nil {
		utils.ErrorLogger.Warnf("Malformed payment webhook: %v", err)
		acknowledge(c, "rejected")
		return
	}

	result, err := pc.Session.HandlePaymentWebhook(c.Request.Context(), hook)
	if err != nil {
		utils.ErrorLogger.WithFields(logrus.Fields{
			"payment_id": hook.PaymentID,
			"outcome":    hook.Outcome,
		}).Errorf("Error handling payment webhook: %v", err)
		acknowledge(c, "error")
		return
	}
	acknowledge(c, result.Status)
}

// MidtransNotification -> POST /payments/midtrans/notification
func (pc *PaymentController) MidtransNotification(c *gin.Context) {
	if pc.Midtrans == nil {
		utils.ErrorLogger.Warn("Midtrans notification received but gateway is not configured")
		acknowledge(c, "ignored")
		return
	}

	var n services.MidtransNotification
	if err := c.ShouldBindJSON(&n); err != nil {
		utils.ErrorLogger.Warnf("Malformed Midtrans notification: %v", err)
		acknowledge(c, "rejected")
		return
	}
	log := utils.InfoLogger.WithFields(logrus.Fields{
		"gateway_ref":        n.OrderID,
		"transaction_status": n.TransactionStatus,
	})
	if !pc.Midtrans.ValidateSignature(n.OrderID, n.StatusCode, n.GrossAmount, n.SignatureKey) {
		log.Warn("Midtrans notification with invalid signature")
		acknowledge(c, "rejected")
		return
	}

	outcome := services.MapMidtransOutcome(n.TransactionStatus, n.FraudStatus)
	if outcome == "" {
		log.Warn("Unknown Midtrans transaction status")
		acknowledge(c, "ignored")
		return
	}
	amount, err := models.ParseMoney(n.GrossAmount)
	if err != nil {
		log.Warnf("Invalid gross amount: %v", err)
		acknowledge(c, "rejected")
		return
	}

	result, err := pc.Session.HandleGatewayNotification(c.Request.Context(), n.OrderID, n.TransactionID, outcome, amount)
	if err != nil {
		log.Errorf("Error handling Midtrans notification: %v", err)
		acknowledge(c, "error")
		return
	}
	log.WithField("result", result.Status).Info("Midtrans notification handled")
	acknowledge(c, result.Status)
}

// ConfirmCashPayment -> staff menerima uang tunai untuk satu obligation key
func (pc *PaymentController) ConfirmCashPayment(c *gin.Context) {
	orderID, ok := parseID(c, "order_id")
	if !ok || !authorizeOrder(c, pc.Session, orderID) {
		return
	}
	var body struct {
		Key models.ObligationKey `json:"key"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondBadRequest(c, err)
		return
	}
	if body.Key.IsZero() {
		utils.RespondBadRequest(c, errors.New("key is required"))
		return
	}

	table, err := pc.Session.ConfirmCashPayment(c.Request.Context(), orderID, body.Key, middlewares.UserID(c))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Cash payment confirmed", table)
}

// GetMidtransConfig returns the Midtrans configuration for client-side
func (pc *PaymentController) GetMidtransConfig(c *gin.Context) {
	utils.RespondJSON(c, http.StatusOK, "Midtrans configuration", gin.H{
		"enabled":       pc.Midtrans != nil,
		"client_key":    pc.ClientKey,
		"is_production": pc.IsProduction,
	})
}

// GetPaymentMetrics -> metrik payment monitor untuk staff
func (pc *PaymentController) GetPaymentMetrics(c *gin.Context) {
	if pc.Monitor == nil {
		utils.RespondJSON(c, http.StatusOK, "Payment monitor disabled", nil)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Payment metrics", pc.Monitor.GetMetrics())
}
