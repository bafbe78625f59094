package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/table-sync/models"
	"github.com/yeremiapane/table-sync/repository"
	"github.com/yeremiapane/table-sync/utils"
)

// Hasil pembayaran dari gateway
const (
	OutcomeApproved  = "approved"
	OutcomeRejected  = "rejected"
	OutcomeCancelled = "cancelled"
	OutcomeRefunded  = "refunded"
	OutcomeExpired   = "expired"
	OutcomePending   = "pending"
)

// Status hasil reconcile
const (
	ReconcileProcessed        = "processed"
	ReconcileAlreadyProcessed = "already_processed"
	ReconcileIgnored          = "ignored"
)

var ErrUnknownOutcome = fmt.Errorf("%w: unknown payment outcome", models.ErrInvalidState)

type Quote struct {
	OrderID uint                   `json:"orderId"`
	Keys    []models.ObligationKey `json:"keys"`
	Lines   []models.Obligation    `json:"lines"`
	Amount  models.Money           `json:"amount"`
}

type ObligationStatus struct {
	Key      models.ObligationKey `json:"key"`
	Label    string               `json:"label"`
	Subtotal models.Money         `json:"subtotal"`
	Paid     models.Money         `json:"paid"`
	State    string               `json:"state"`
	Method   string               `json:"method,omitempty"`
	ItemIDs  []uint               `json:"itemIds"`
}

// ObligationTable adalah tabel tagihan lengkap sebuah order: semua key dari item
// saat ini, digabung dengan record pembayaran yang ada.
type ObligationTable struct {
	OrderID     uint               `json:"orderId"`
	Total       models.Money       `json:"total"`
	Paid        models.Money       `json:"paid"`
	Remaining   models.Money       `json:"remaining"`
	FullyPaid   bool               `json:"fullyPaid"`
	Obligations []ObligationStatus `json:"obligations"`
}

type ReconcileResult struct {
	Status    string           `json:"status"`
	Outcome   string           `json:"outcome"`
	OrderID   uint             `json:"orderId"`
	Records   []models.Payment `json:"records,omitempty"`
	Table     *ObligationTable `json:"table,omitempty"`
	FullyPaid bool             `json:"fullyPaid"`
}

// PaymentService mencocokkan percobaan dan hasil pembayaran dengan tagihan per pembayar.
type PaymentService struct {
	repo  *repository.Repository
	codec *CorrelationCodec
	now   func() time.Time
}

func NewPaymentService(repo *repository.Repository, codec *CorrelationCodec) *PaymentService {
	return &PaymentService{repo: repo, codec: codec, now: time.Now}
}

func dedupeKeys(keys []models.ObligationKey) []models.ObligationKey {
	seen := make(map[string]bool, len(keys))
	out := make([]models.ObligationKey, 0, len(keys))
	for _, key := range keys {
		if key.IsZero() || seen[key.Encode()] {
			continue
		}
		seen[key.Encode()] = true
		out = append(out, key)
	}
	return out
}

// Quote menjumlahkan subtotal key yang diminta dan menolak key yang sudah lunas.
func (s *PaymentService) Quote(ctx context.Context, orderID uint, keys []models.ObligationKey) (*Quote, error) {
	keys = dedupeKeys(keys)
	if len(keys) == 0 {
		return nil, models.ErrNothingToPay
	}
	items, err := s.repo.GetItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	payments, err := s.repo.ListPayments(ctx, orderID)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]models.Obligation)
	for _, ob := range models.DeriveObligations(items) {
		byKey[ob.Key.Encode()] = ob
	}
	paid := make(map[string]bool)
	for _, p := range payments {
		if p.State == models.PaymentStatePaid {
			paid[p.ObligationKey.Encode()] = true
		}
	}

	quote := &Quote{OrderID: orderID, Keys: keys}
	for _, key := range keys {
		if paid[key.Encode()] {
			return nil, fmt.Errorf("%w: %s", models.ErrAlreadyPaid, key)
		}
		ob, ok := byKey[key.Encode()]
		if !ok {
			return nil, fmt.Errorf("%w: no items for %s", models.ErrNothingToPay, key)
		}
		quote.Lines = append(quote.Lines, ob)
		quote.Amount += ob.Subtotal
	}
	return quote, nil
}

// Reserve membuat record pembayaran untuk sebuah quote. Percobaan gateway mendapat
// token korelasi; tunai menjadi pending_cash menunggu konfirmasi staff.
func (s *PaymentService) Reserve(ctx context.Context, quote *Quote, method string) (string, []models.Payment, error) {
	var ref, state string
	switch method {
	case models.PaymentMethodGateway:
		token, err := s.codec.Encode(quote.OrderID, quote.Keys)
		if err != nil {
			return "", nil, err
		}
		ref, state = token, models.PaymentStatePending
	case models.PaymentMethodCash:
		state = models.PaymentStatePendingCash
	default:
		return "", nil, fmt.Errorf("%w: unknown payment method %q", models.ErrInvalidState, method)
	}

	records := make([]models.Payment, 0, len(quote.Lines))
	for _, line := range quote.Lines {
		records = append(records, models.Payment{
			ObligationKey:  line.Key,
			Amount:         line.Subtotal,
			Method:         method,
			State:          state,
			CorrelationRef: ref,
		})
	}
	records, err := s.repo.ReservePayments(ctx, quote.OrderID, records)
	if err != nil {
		return "", nil, err
	}
	return ref, records, nil
}

// Reconcile menerapkan hasil gateway secara idempoten. Nominal yang dilaporkan hanya
// dicocokkan, tidak pernah dipakai menggantikan nominal yang tersimpan.
func (s *PaymentService) Reconcile(ctx context.Context, ref, outcome string, reported models.Money, paymentID string) (*ReconcileResult, error) {
	claims, err := s.codec.Decode(ref)
	if err != nil {
		return nil, err
	}
	records, err := s.repo.FindByCorrelation(ctx, ref)
	if err != nil {
		return nil, err
	}
	if records[0].OrderID != claims.OrderID {
		return nil, ErrInvalidCorrelation
	}

	log := utils.InfoLogger.WithFields(logrus.Fields{
		"order_id":   claims.OrderID,
		"payment_id": paymentID,
		"outcome":    outcome,
	})
	result := &ReconcileResult{Outcome: outcome, OrderID: claims.OrderID}
	for _, rec := range records {
		if rec.State == models.PaymentStatePaid {
			log.Info("Payment already processed")
			result.Status = ReconcileAlreadyProcessed
			return result, nil
		}
	}

	switch outcome {
	case OutcomeApproved:
		var expected models.Money
		for _, rec := range records {
			expected += rec.Amount
		}
		if reported != expected {
			log.WithFields(logrus.Fields{"expected": expected.String(), "reported": reported.String()}).
				Warn("Reported amount does not match stored amount")
			return nil, models.ErrAmountMismatch
		}
		settled, err := s.repo.SettleCorrelation(ctx, ref, paymentID, s.now())
		if errors.Is(err, models.ErrAlreadyProcessed) {
			result.Status = ReconcileAlreadyProcessed
			return result, nil
		}
		if err != nil {
			return nil, err
		}
		result.Records = settled
	case OutcomeRejected, OutcomeCancelled, OutcomeRefunded, OutcomeExpired:
		n, err := s.repo.FailCorrelation(ctx, ref)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			result.Status = ReconcileIgnored
			return result, nil
		}
		if result.Records, err = s.repo.FindByCorrelation(ctx, ref); err != nil {
			return nil, err
		}
	case OutcomePending:
		result.Status = ReconcileIgnored
		return result, nil
	default:
		return nil, ErrUnknownOutcome
	}

	result.Status = ReconcileProcessed
	table, err := s.ObligationTable(ctx, claims.OrderID)
	if err != nil {
		return nil, err
	}
	result.Table = table
	result.FullyPaid = table.FullyPaid
	log.WithField("fully_paid", table.FullyPaid).Info("Payment reconciled")
	return result, nil
}

// FailAttempt dipakai bila charge ke gateway gagal setelah record dibuat.
func (s *PaymentService) FailAttempt(ctx context.Context, ref string) error {
	_, err := s.repo.FailCorrelation(ctx, ref)
	return err
}

func (s *PaymentService) ConfirmCash(ctx context.Context, orderID uint, key models.ObligationKey, staffID *uint) (*models.Payment, error) {
	return s.repo.ConfirmCash(ctx, orderID, key, staffID)
}

func (s *PaymentService) ObligationTable(ctx context.Context, orderID uint) (*ObligationTable, error) {
	items, err := s.repo.GetItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	payments, err := s.repo.ListPayments(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return buildObligationTable(orderID, items, payments), nil
}

func buildObligationTable(orderID uint, items []models.OrderItem, payments []models.Payment) *ObligationTable {
	paid := make(map[string]models.Money)
	latest := make(map[string]models.Payment)
	for _, p := range payments {
		k := p.ObligationKey.Encode()
		if p.State == models.PaymentStatePaid {
			paid[k] += p.Amount
		}
		if cur, ok := latest[k]; !ok || p.ID > cur.ID {
			latest[k] = p
		}
	}

	obligations := models.DeriveObligations(items)
	table := &ObligationTable{OrderID: orderID, Obligations: make([]ObligationStatus, 0, len(obligations))}
	for _, ob := range obligations {
		k := ob.Key.Encode()
		status := ObligationStatus{
			Key:      ob.Key,
			Label:    ob.Key.String(),
			Subtotal: ob.Subtotal,
			Paid:     paid[k],
			State:    models.PaymentStatePending,
			ItemIDs:  ob.ItemIDs,
		}
		if last, ok := latest[k]; ok {
			status.Method = last.Method
			status.State = last.State
		}
		if status.Paid >= status.Subtotal {
			status.State = models.PaymentStatePaid
		} else if status.State == models.PaymentStatePaid {
			// lunas sebagian: item bertambah setelah dibayar
			status.State = models.PaymentStatePending
		}
		table.Total += ob.Subtotal
		if status.Paid > status.Subtotal {
			table.Paid += status.Subtotal
		} else {
			table.Paid += status.Paid
		}
		table.Obligations = append(table.Obligations, status)
	}
	table.Remaining = table.Total - table.Paid
	table.FullyPaid = isFullyPaid(table.Obligations)
	return table
}

// isFullyPaid: setiap key dari item saat ini sudah dibayar minimal sebesar subtotalnya.
// Order tanpa item yang ditagih belum dianggap lunas.
func isFullyPaid(obligations []ObligationStatus) bool {
	if len(obligations) == 0 {
		return false
	}
	for _, ob := range obligations {
		if ob.Paid < ob.Subtotal {
			return false
		}
	}
	return true
}

// KeyPaid bernilai true bila key sudah punya record paid; item key tersebut tidak boleh berubah lagi.
func (s *PaymentService) KeyPaid(ctx context.Context, orderID uint, key models.ObligationKey) (bool, error) {
	payments, err := s.repo.ListPayments(ctx, orderID)
	if err != nil {
		return false, err
	}
	for _, p := range payments {
		if p.State == models.PaymentStatePaid && p.ObligationKey == key {
			return true, nil
		}
	}
	return false, nil
}

func (s *PaymentService) IsFullyPaid(ctx context.Context, orderID uint) (bool, error) {
	table, err := s.ObligationTable(ctx, orderID)
	if err != nil {
		return false, err
	}
	return table.FullyPaid, nil
}
