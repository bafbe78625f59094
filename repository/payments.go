package repository

import (
	"context"
	"time"

	"github.com/yeremiapane/table-sync/models"
	"gorm.io/gorm"
)

var liveStates = []string{models.PaymentStatePending, models.PaymentStatePendingCash}

func (r *Repository) ListPayments(ctx context.Context, orderID uint) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id").Find(&payments).Error
	if err != nil {
		return nil, wrap(err, models.ErrPaymentNotFound)
	}
	return payments, nil
}

func (r *Repository) FindByCorrelation(ctx context.Context, ref string) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).Where("correlation_ref = ?", ref).Order("id").Find(&payments).Error
	if err != nil {
		return nil, wrap(err, models.ErrPaymentNotFound)
	}
	if len(payments) == 0 {
		return nil, models.ErrPaymentNotFound
	}
	return payments, nil
}

func (r *Repository) FindByGatewayRef(ctx context.Context, gatewayRef string) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).Where("gateway_ref = ?", gatewayRef).Order("id").Find(&payments).Error
	if err != nil {
		return nil, wrap(err, models.ErrPaymentNotFound)
	}
	if len(payments) == 0 {
		return nil, models.ErrPaymentNotFound
	}
	return payments, nil
}

func keyPaid(tx *gorm.DB, orderID uint, key models.ObligationKey, exceptID uint) (bool, error) {
	var count int64
	q := tx.Model(&models.Payment{}).
		Where("order_id = ? AND obligation_key = ? AND state = ?", orderID, key.Encode(), models.PaymentStatePaid)
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	if err := q.Count(&count).Error; err != nil {
		return false, models.Transient(err)
	}
	return count > 0, nil
}

func demoteLive(tx *gorm.DB, orderID uint, key models.ObligationKey, exceptID uint) error {
	q := tx.Model(&models.Payment{}).
		Where("order_id = ? AND obligation_key = ? AND state IN ?", orderID, key.Encode(), liveStates)
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	if err := q.Update("state", models.PaymentStateFailed).Error; err != nil {
		return models.Transient(err)
	}
	return nil
}

// ReservePayments membatalkan percobaan yang masih hidup untuk setiap key lalu
// menyimpan record baru. Semua record harus milik order yang sama.
func (r *Repository) ReservePayments(ctx context.Context, orderID uint, records []models.Payment) ([]models.Payment, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := lockOrder(tx, orderID)
		if err != nil {
			return err
		}
		if order.IsClosed() {
			return models.ErrOrderClosed
		}
		for i := range records {
			records[i].OrderID = orderID
			paid, err := keyPaid(tx, orderID, records[i].ObligationKey, 0)
			if err != nil {
				return err
			}
			if paid {
				return models.ErrAlreadyPaid
			}
			if err := demoteLive(tx, orderID, records[i].ObligationKey, 0); err != nil {
				return err
			}
			if err := tx.Create(&records[i]).Error; err != nil {
				return models.Transient(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// AttachGatewayDetails menyimpan referensi transaksi gateway ke semua record satu percobaan.
func (r *Repository) AttachGatewayDetails(ctx context.Context, ref, gatewayRef, qrURL string, expiresAt *time.Time) error {
	updates := map[string]interface{}{"gateway_ref": gatewayRef, "qr_image_url": qrURL}
	if expiresAt != nil {
		updates["expired_at"] = *expiresAt
	}
	err := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("correlation_ref = ?", ref).
		Updates(updates).Error
	return wrap(err, models.ErrPaymentNotFound)
}

// SettleCorrelation menandai semua record satu percobaan sebagai paid.
// Mengembalikan ErrAlreadyProcessed bila percobaan ini sudah pernah dilunasi,
// ErrAlreadyPaid bila key yang sama sudah lunas lewat percobaan lain.
func (r *Repository) SettleCorrelation(ctx context.Context, ref, paymentID string, paidAt time.Time) ([]models.Payment, error) {
	var settled []models.Payment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var records []models.Payment
		if err := tx.Where("correlation_ref = ?", ref).Order("id").Find(&records).Error; err != nil {
			return models.Transient(err)
		}
		if len(records) == 0 {
			return models.ErrPaymentNotFound
		}
		if _, err := lockOrder(tx, records[0].OrderID); err != nil {
			return err
		}

		for i := range records {
			rec := &records[i]
			paid, err := keyPaid(tx, rec.OrderID, rec.ObligationKey, rec.ID)
			if err != nil {
				return err
			}
			if paid {
				if rec.State == models.PaymentStateFailed {
					return models.ErrAttemptSuperseded
				}
				return models.ErrAlreadyPaid
			}
			res := tx.Model(&models.Payment{}).
				Where("id = ? AND state IN ?", rec.ID, []string{models.PaymentStatePending, models.PaymentStateFailed}).
				Updates(map[string]interface{}{
					"state":      models.PaymentStatePaid,
					"payment_id": paymentID,
					"paid_at":    paidAt,
				})
			if res.Error != nil {
				return models.Transient(res.Error)
			}
			if res.RowsAffected == 0 {
				return models.ErrAlreadyProcessed
			}
			if err := demoteLive(tx, rec.OrderID, rec.ObligationKey, rec.ID); err != nil {
				return err
			}
			rec.State = models.PaymentStatePaid
			rec.PaymentID = paymentID
			rec.PaidAt = &paidAt
		}
		settled = records
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settled, nil
}

// FailCorrelation memindahkan record pending satu percobaan ke failed.
func (r *Repository) FailCorrelation(ctx context.Context, ref string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("correlation_ref = ? AND state = ?", ref, models.PaymentStatePending).
		Update("state", models.PaymentStateFailed)
	if res.Error != nil {
		return 0, models.Transient(res.Error)
	}
	return res.RowsAffected, nil
}

// ConfirmCash dipakai staff setelah menerima uang tunai.
func (r *Repository) ConfirmCash(ctx context.Context, orderID uint, key models.ObligationKey, staffID *uint) (*models.Payment, error) {
	var record models.Payment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockOrder(tx, orderID); err != nil {
			return err
		}
		paid, err := keyPaid(tx, orderID, key, 0)
		if err != nil {
			return err
		}
		if paid {
			return models.ErrAlreadyPaid
		}
		err = tx.Where("order_id = ? AND obligation_key = ? AND state = ?", orderID, key.Encode(), models.PaymentStatePendingCash).
			Order("id DESC").
			First(&record).Error
		if err != nil {
			return wrap(err, models.ErrPaymentNotFound)
		}
		now := time.Now()
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND state = ?", record.ID, models.PaymentStatePendingCash).
			Updates(map[string]interface{}{
				"state":       models.PaymentStatePaid,
				"paid_at":     now,
				"verified_by": staffID,
			})
		if res.Error != nil {
			return models.Transient(res.Error)
		}
		if res.RowsAffected == 0 {
			return models.ErrAlreadyPaid
		}
		record.State = models.PaymentStatePaid
		record.PaidAt = &now
		record.VerifiedBy = staffID
		return demoteLive(tx, orderID, key, record.ID)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListStaleGatewayPayments mengambil percobaan gateway yang masih pending sejak sebelum `before`.
func (r *Repository) ListStaleGatewayPayments(ctx context.Context, before time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("method = ? AND state = ? AND created_at < ?", models.PaymentMethodGateway, models.PaymentStatePending, before).
		Order("id").
		Limit(limit).
		Find(&payments).Error
	if err != nil {
		return nil, wrap(err, models.ErrPaymentNotFound)
	}
	return payments, nil
}
