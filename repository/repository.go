package repository

import (
	"context"
	"errors"

	"github.com/yeremiapane/table-sync/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository adalah penyimpanan durable untuk meja, order, item, pembayaran dan notifikasi.
// Error storage selalu dibungkus models.Transient, baris yang tidak ada menjadi ErrNotFound.
type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate membuat semua tabel yang dipakai service.
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(
		&models.Table{},
		&models.Menu{},
		&models.Order{},
		&models.OrderItem{},
		&models.Payment{},
		&models.Notification{},
	)
}

func (r *Repository) DB() *gorm.DB {
	return r.db
}

func wrap(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrConflict) ||
		errors.Is(err, models.ErrInvalidState) || errors.Is(err, models.ErrTransient) {
		return err
	}
	return models.Transient(err)
}

func (r *Repository) GetTable(ctx context.Context, tableID uint) (*models.Table, error) {
	var table models.Table
	if err := r.db.WithContext(ctx).First(&table, tableID).Error; err != nil {
		return nil, wrap(err, models.ErrTableNotFound)
	}
	return &table, nil
}

func (r *Repository) ListTables(ctx context.Context, restaurantID uint) ([]models.Table, error) {
	var tables []models.Table
	err := r.db.WithContext(ctx).
		Where("restaurant_id = ?", restaurantID).
		Order("id").
		Find(&tables).Error
	if err != nil {
		return nil, wrap(err, models.ErrTableNotFound)
	}
	return tables, nil
}

func (r *Repository) GetProduct(ctx context.Context, menuID uint) (*models.Menu, error) {
	var menu models.Menu
	if err := r.db.WithContext(ctx).First(&menu, menuID).Error; err != nil {
		return nil, wrap(err, models.ErrProductNotFound)
	}
	if !menu.Available {
		return nil, models.ErrProductNotFound
	}
	return &menu, nil
}

// MenuNames dipakai untuk struk; menu yang sudah tidak tersedia tetap ikut.
func (r *Repository) MenuNames(ctx context.Context, ids []uint) (map[uint]string, error) {
	names := make(map[uint]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	var menus []models.Menu
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&menus).Error; err != nil {
		return nil, wrap(err, models.ErrProductNotFound)
	}
	for _, m := range menus {
		names[m.ID] = m.Name
	}
	return names, nil
}

// lockOrder mengunci baris order sampai transaksi selesai (mysql); sqlite mengabaikan klausa ini.
func lockOrder(tx *gorm.DB, orderID uint) (*models.Order, error) {
	var order models.Order
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, orderID).Error
	if err != nil {
		return nil, wrap(err, models.ErrOrderNotFound)
	}
	return &order, nil
}
