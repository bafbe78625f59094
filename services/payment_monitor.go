package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/table-sync/models"
	"github.com/yeremiapane/table-sync/repository"
	"github.com/yeremiapane/table-sync/utils"
)

// WebhookHandler menerima hasil pembayaran, baik dari webhook maupun dari hasil polling.
type WebhookHandler interface {
	HandlePaymentWebhook(ctx context.Context, hook PaymentWebhook) (*ReconcileResult, error)
}

// PaymentMetrics menyimpan metrik terkait pembayaran
type PaymentMetrics struct {
	Sweeps        int64     `json:"sweeps"`
	Checked       int64     `json:"checked"`
	Settled       int64     `json:"settled"`
	Failed        int64     `json:"failed"`
	StillPending  int64     `json:"stillPending"`
	GatewayErrors int64     `json:"gatewayErrors"`
	LastSweep     time.Time `json:"lastSweep"`
}

// PaymentMonitor memeriksa percobaan gateway yang webhook-nya tidak kunjung datang.
type PaymentMonitor struct {
	repo       *repository.Repository
	gateway    PaymentGateway
	handler    WebhookHandler
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	now        func() time.Time

	mutex   sync.Mutex
	metrics PaymentMetrics
}

// NewPaymentMonitor membuat instance baru PaymentMonitor
func NewPaymentMonitor(repo *repository.Repository, gateway PaymentGateway, handler WebhookHandler, interval, staleAfter time.Duration) *PaymentMonitor {
	return &PaymentMonitor{
		repo:       repo,
		gateway:    gateway,
		handler:    handler,
		interval:   interval,
		staleAfter: staleAfter,
		batchSize:  100,
		now:        time.Now,
	}
}

// Start menjalankan sweep berkala sampai ctx selesai.
func (pm *PaymentMonitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(pm.interval)
		defer ticker.Stop()
		utils.InfoLogger.Infof("Payment monitor started (interval %s)", pm.interval)
		for {
			select {
			case <-ctx.Done():
				utils.InfoLogger.Info("Payment monitor stopped")
				return
			case <-ticker.C:
				pm.Sweep(ctx)
			}
		}
	}()
}

// Sweep memproses satu batch percobaan yang menggantung dan mengembalikan jumlah
// percobaan yang statusnya berubah.
func (pm *PaymentMonitor) Sweep(ctx context.Context) int {
	stale, err := pm.repo.ListStaleGatewayPayments(ctx, pm.now().Add(-pm.staleAfter), pm.batchSize)
	if err != nil {
		utils.ErrorLogger.Errorf("Error listing stale gateway payments: %v", err)
		return 0
	}

	// satu percobaan bisa mencakup beberapa record dengan ref yang sama
	type attempt struct {
		ref        string
		gatewayRef string
		amount     models.Money
		expiredAt  *time.Time
	}
	var order []string
	attempts := make(map[string]*attempt)
	for _, rec := range stale {
		if rec.CorrelationRef == "" {
			continue
		}
		a, ok := attempts[rec.CorrelationRef]
		if !ok {
			a = &attempt{ref: rec.CorrelationRef}
			attempts[rec.CorrelationRef] = a
			order = append(order, rec.CorrelationRef)
		}
		a.amount += rec.Amount
		if rec.GatewayRef != "" {
			a.gatewayRef = rec.GatewayRef
		}
		if rec.ExpiredAt != nil {
			a.expiredAt = rec.ExpiredAt
		}
	}

	changed := 0
	for _, ref := range order {
		a := attempts[ref]
		if pm.check(ctx, a.ref, a.gatewayRef, a.amount, a.expiredAt) {
			changed++
		}
	}

	pm.mutex.Lock()
	pm.metrics.Sweeps++
	pm.metrics.LastSweep = pm.now()
	pm.mutex.Unlock()
	return changed
}

func (pm *PaymentMonitor) check(ctx context.Context, ref, gatewayRef string, amount models.Money, expiredAt *time.Time) bool {
	log := utils.InfoLogger.WithFields(logrus.Fields{"gateway_ref": gatewayRef})
	expired := expiredAt != nil && pm.now().After(*expiredAt)

	hook := PaymentWebhook{CorrelationRef: ref, Amount: amount, Outcome: OutcomePending}
	switch {
	case gatewayRef == "":
		// charge tidak pernah tercatat di gateway
		hook.Outcome = OutcomeExpired
	case pm.gateway != nil:
		status, err := pm.gateway.Status(ctx, gatewayRef)
		if err != nil {
			pm.record(func(m *PaymentMetrics) { m.GatewayErrors++ })
			if !expired {
				log.Warnf("Error checking gateway status: %v", err)
				return false
			}
			hook.Outcome = OutcomeExpired
			break
		}
		hook.PaymentID = status.TransactionID
		hook.Outcome = status.Outcome
		if status.Amount > 0 {
			hook.Amount = status.Amount
		}
	}
	if hook.Outcome == OutcomePending && expired {
		hook.Outcome = OutcomeExpired
	}
	if hook.PaymentID == "" {
		hook.PaymentID = "monitor-" + gatewayRef
	}

	pm.record(func(m *PaymentMetrics) { m.Checked++ })
	if hook.Outcome == OutcomePending || hook.Outcome == "" {
		pm.record(func(m *PaymentMetrics) { m.StillPending++ })
		return false
	}

	result, err := pm.handler.HandlePaymentWebhook(ctx, hook)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return false
		}
		utils.ErrorLogger.Errorf("Error reconciling stale payment %s: %v", gatewayRef, err)
		return false
	}
	if result.Status != ReconcileProcessed {
		return false
	}
	if hook.Outcome == OutcomeApproved {
		pm.record(func(m *PaymentMetrics) { m.Settled++ })
	} else {
		pm.record(func(m *PaymentMetrics) { m.Failed++ })
	}
	log.WithField("outcome", hook.Outcome).Info("Stale payment reconciled")
	return true
}

func (pm *PaymentMonitor) record(fn func(*PaymentMetrics)) {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	fn(&pm.metrics)
}

// GetMetrics mengembalikan metrik pembayaran saat ini
func (pm *PaymentMonitor) GetMetrics() PaymentMetrics {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	return pm.metrics
}
