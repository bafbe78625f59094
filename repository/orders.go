package repository

import (
	"context"
	"errors"
	"time"

	"github.com/yeremiapane/table-sync/models"
	"gorm.io/gorm"
)

// OpenOrder mengembalikan order terakhir meja yang belum closed.
func (r *Repository) OpenOrder(ctx context.Context, tableID uint) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Where("table_id = ? AND state <> ?", tableID, models.OrderStateClosed).
		Order("id DESC").
		First(&order).Error
	if err != nil {
		return nil, wrap(err, models.ErrOrderNotFound)
	}
	return &order, nil
}

// GetOrCreateOpenOrder dipanggil saat client pertama kali bergabung ke meja.
func (r *Repository) GetOrCreateOpenOrder(ctx context.Context, tableID uint) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var table models.Table
		if err := tx.First(&table, tableID).Error; err != nil {
			return wrap(err, models.ErrTableNotFound)
		}
		err := tx.Where("table_id = ? AND state <> ?", tableID, models.OrderStateClosed).
			Order("id DESC").
			First(&order).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Transient(err)
		}
		order = models.Order{TableID: tableID, State: models.OrderStatePending}
		return wrap(tx.Create(&order).Error, models.ErrOrderNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrder memuat order beserta item-itemnya.
func (r *Repository) GetOrder(ctx context.Context, orderID uint) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("OrderItems", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&order, orderID).Error
	if err != nil {
		return nil, wrap(err, models.ErrOrderNotFound)
	}
	return &order, nil
}

func (r *Repository) GetItems(ctx context.Context, orderID uint) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id").Find(&items).Error
	if err != nil {
		return nil, wrap(err, models.ErrItemNotFound)
	}
	return items, nil
}

func (r *Repository) GetItem(ctx context.Context, orderID, itemID uint) (*models.OrderItem, error) {
	var item models.OrderItem
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&item, itemID).Error
	if err != nil {
		return nil, wrap(err, models.ErrItemNotFound)
	}
	return &item, nil
}

// mutateItems menjalankan fn di dalam transaksi setelah memastikan order belum closed,
// lalu menghitung ulang total order.
func (r *Repository) mutateItems(ctx context.Context, orderID uint, fn func(tx *gorm.DB, order *models.Order) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := lockOrder(tx, orderID)
		if err != nil {
			return err
		}
		if order.IsClosed() {
			return models.ErrOrderClosed
		}
		if err := fn(tx, order); err != nil {
			return err
		}
		_, err = recomputeTotal(tx, orderID)
		return err
	})
}

func recomputeTotal(tx *gorm.DB, orderID uint) (models.Money, error) {
	var items []models.OrderItem
	if err := tx.Where("order_id = ?", orderID).Find(&items).Error; err != nil {
		return 0, models.Transient(err)
	}
	total := models.RecomputeTotal(items)
	err := tx.Model(&models.Order{}).Where("id = ?", orderID).Update("total", total).Error
	if err != nil {
		return 0, models.Transient(err)
	}
	return total, nil
}

func (r *Repository) CreateItem(ctx context.Context, item *models.OrderItem) error {
	if item.Quantity <= 0 {
		return models.ErrInvalidQuantity
	}
	return r.mutateItems(ctx, item.OrderID, func(tx *gorm.DB, _ *models.Order) error {
		if item.State == "" {
			item.State = models.ItemStatePending
		}
		return wrap(tx.Create(item).Error, models.ErrItemNotFound)
	})
}

func (r *Repository) UpdateItemQuantity(ctx context.Context, orderID, itemID uint, qty int) error {
	if qty <= 0 {
		return models.ErrInvalidQuantity
	}
	return r.mutateItems(ctx, orderID, func(tx *gorm.DB, _ *models.Order) error {
		res := tx.Model(&models.OrderItem{}).
			Where("id = ? AND order_id = ?", itemID, orderID).
			Update("quantity", qty)
		if res.Error != nil {
			return models.Transient(res.Error)
		}
		if res.RowsAffected == 0 {
			return models.ErrItemNotFound
		}
		return nil
	})
}

func (r *Repository) DeleteItem(ctx context.Context, orderID, itemID uint) error {
	return r.mutateItems(ctx, orderID, func(tx *gorm.DB, _ *models.Order) error {
		res := tx.Where("order_id = ?", orderID).Delete(&models.OrderItem{}, itemID)
		if res.Error != nil {
			return models.Transient(res.Error)
		}
		if res.RowsAffected == 0 {
			return models.ErrItemNotFound
		}
		return nil
	})
}

// SetItemState dipakai staff (dapur/pelayan); status order diturunkan dari status item.
func (r *Repository) SetItemState(ctx context.Context, orderID, itemID uint, state string) error {
	if !models.ValidItemState(state) {
		return models.ErrInvalidItemState
	}
	return r.mutateItems(ctx, orderID, func(tx *gorm.DB, order *models.Order) error {
		res := tx.Model(&models.OrderItem{}).
			Where("id = ? AND order_id = ?", itemID, orderID).
			Update("state", state)
		if res.Error != nil {
			return models.Transient(res.Error)
		}
		if res.RowsAffected == 0 {
			return models.ErrItemNotFound
		}

		var items []models.OrderItem
		if err := tx.Where("order_id = ?", orderID).Find(&items).Error; err != nil {
			return models.Transient(err)
		}
		next := models.DeriveOrderState(order.State, items)
		if next == order.State {
			return nil
		}
		return wrap(tx.Model(order).Update("state", next).Error, models.ErrOrderNotFound)
	})
}

// ConfirmOrder mengirim semua item pending ke dapur. Order pending ikut menjadi
// preparing; order yang sudah delivered/served statusnya tidak diubah di sini.
// Update bersyarat pada item memastikan satu item hanya dikonfirmasi sekali.
func (r *Repository) ConfirmOrder(ctx context.Context, orderID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.First(&order, orderID).Error; err != nil {
			return wrap(err, models.ErrOrderNotFound)
		}
		if order.IsClosed() {
			return models.ErrOrderClosed
		}
		res := tx.Model(&models.OrderItem{}).
			Where("order_id = ? AND state = ? AND quantity > 0", orderID, models.ItemStatePending).
			Update("state", models.ItemStatePreparing)
		if res.Error != nil {
			return models.Transient(res.Error)
		}
		if res.RowsAffected == 0 {
			return models.ErrNoItems
		}
		err := tx.Model(&models.Order{}).
			Where("id = ? AND state = ?", orderID, models.OrderStatePending).
			Update("state", models.OrderStatePreparing).Error
		if err != nil {
			return models.Transient(err)
		}
		_, err = recomputeTotal(tx, orderID)
		return err
	})
}

func (r *Repository) CloseOrder(ctx context.Context, orderID uint) error {
	now := time.Now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Order{}).
			Where("id = ? AND state <> ?", orderID, models.OrderStateClosed).
			Updates(map[string]interface{}{"state": models.OrderStateClosed, "closed_at": now})
		if res.Error != nil {
			return models.Transient(res.Error)
		}
		if res.RowsAffected == 0 {
			var order models.Order
			if err := tx.First(&order, orderID).Error; err != nil {
				return wrap(err, models.ErrOrderNotFound)
			}
			return models.ErrOrderClosed
		}
		return nil
	})
}
