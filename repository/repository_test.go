package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/table-sync/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	repo := New(db)
	require.NoError(t, repo.Migrate())
	return repo
}

// seedOrder membuat meja, menu dan order dengan item Ana 2x5.00 dan Bob 1x10.00.
func seedOrder(t *testing.T, repo *Repository) (*models.Order, []models.OrderItem) {
	t.Helper()
	ctx := context.Background()
	table := models.Table{RestaurantID: 1, TableNumber: "A1"}
	require.NoError(t, repo.DB().Create(&table).Error)
	menu := models.Menu{RestaurantID: 1, Name: "Nasi Goreng", Price: models.NewMoney(5, 0), Available: true}
	require.NoError(t, repo.DB().Create(&menu).Error)

	order, err := repo.GetOrCreateOpenOrder(ctx, table.ID)
	require.NoError(t, err)

	ana := models.OrderItem{OrderID: order.ID, MenuID: menu.ID, OwnerLabel: "Ana", Quantity: 2, UnitPrice: models.NewMoney(5, 0)}
	bob := models.OrderItem{OrderID: order.ID, MenuID: menu.ID, OwnerLabel: "Bob", Quantity: 1, UnitPrice: models.NewMoney(10, 0)}
	require.NoError(t, repo.CreateItem(ctx, &ana))
	require.NoError(t, repo.CreateItem(ctx, &bob))

	order, err = repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	return order, order.OrderItems
}

func TestGetOrCreateOpenOrderReusesOpenOrder(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	order, _ := seedOrder(t, repo)

	again, err := repo.GetOrCreateOpenOrder(ctx, order.TableID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, again.ID)

	require.NoError(t, repo.CloseOrder(ctx, order.ID))
	fresh, err := repo.GetOrCreateOpenOrder(ctx, order.TableID)
	require.NoError(t, err)
	assert.NotEqual(t, order.ID, fresh.ID)
	assert.Equal(t, models.OrderStatePending, fresh.State)

	_, err = repo.GetOrCreateOpenOrder(ctx, 999)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestItemMutationsRecomputeTotal(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	order, items := seedOrder(t, repo)
	assert.Equal(t, models.NewMoney(20, 0), order.Total)

	require.NoError(t, repo.UpdateItemQuantity(ctx, order.ID, items[0].ID, 3))
	order, err := repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NewMoney(25, 0), order.Total)

	require.NoError(t, repo.DeleteItem(ctx, order.ID, items[1].ID))
	order, err = repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NewMoney(15, 0), order.Total)
	assert.Len(t, order.OrderItems, 1)

	assert.ErrorIs(t, repo.UpdateItemQuantity(ctx, order.ID, items[0].ID, 0), models.ErrInvalidState)
	assert.ErrorIs(t, repo.DeleteItem(ctx, order.ID, 12345), models.ErrNotFound)

	require.NoError(t, repo.CloseOrder(ctx, order.ID))
	assert.ErrorIs(t, repo.UpdateItemQuantity(ctx, order.ID, items[0].ID, 1), models.ErrOrderClosed)
	assert.ErrorIs(t, repo.CloseOrder(ctx, order.ID), models.ErrOrderClosed)
}

func TestConfirmOrderTransitionsOnce(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	order, _ := seedOrder(t, repo)

	require.NoError(t, repo.ConfirmOrder(ctx, order.ID))
	assert.ErrorIs(t, repo.ConfirmOrder(ctx, order.ID), models.ErrNoItems)

	order, err := repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatePreparing, order.State)
	for _, item := range order.OrderItems {
		assert.Equal(t, models.ItemStatePreparing, item.State)
	}
}

func TestConfirmOrderSendsLateItemsToKitchen(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	order, items := seedOrder(t, repo)
	require.NoError(t, repo.ConfirmOrder(ctx, order.ID))
	for _, item := range items {
		require.NoError(t, repo.SetItemState(ctx, order.ID, item.ID, models.ItemStateServed))
	}

	late := models.OrderItem{OrderID: order.ID, MenuID: items[0].MenuID, OwnerLabel: "Bob", Quantity: 1, UnitPrice: models.NewMoney(10, 0)}
	require.NoError(t, repo.CreateItem(ctx, &late))
	require.NoError(t, repo.ConfirmOrder(ctx, order.ID))

	stored, err := repo.GetItem(ctx, order.ID, late.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatePreparing, stored.State)

	// status order tidak diturunkan dari served
	order, err = repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStateServed, order.State)
	assert.Equal(t, models.NewMoney(30, 0), order.Total)

	require.NoError(t, repo.CloseOrder(ctx, order.ID))
	assert.ErrorIs(t, repo.ConfirmOrder(ctx, order.ID), models.ErrOrderClosed)
}

func TestSetItemStateDerivesOrderState(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	order, items := seedOrder(t, repo)
	require.NoError(t, repo.ConfirmOrder(ctx, order.ID))

	for _, item := range items {
		require.NoError(t, repo.SetItemState(ctx, order.ID, item.ID, models.ItemStateServed))
	}
	order, err := repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStateServed, order.State)

	assert.ErrorIs(t, repo.SetItemState(ctx, order.ID, items[0].ID, "burnt"), models.ErrInvalidState)
}

func TestReservePaymentsLeavesOneLiveRecordPerKey(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	order, _ := seedOrder(t, repo)
	ana := models.ByParticipant("Ana")

	for i := 0; i < 2; i++ {
		_, err := repo.ReservePayments(ctx, order.ID, []models.Payment{{
			ObligationKey:  ana,
			Amount:         models.NewMoney(10, 0),
			Method:         models.PaymentMethodGateway,
			State:          models.PaymentStatePending,
			CorrelationRef: uuid.NewString(),
		}})
		require.NoError(t, err)
	}

	payments, err := repo.ListPayments(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	live := 0
	for _, p := range payments {
		if p.State != models.PaymentStateFailed {
			live++
		}
		assert.Equal(t, ana, p.ObligationKey)
	}
	assert.Equal(t, 1, live)
}

func TestSettleCorrelationIsIdempotent(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	order, _ := seedOrder(t, repo)
	bob := models.ByParticipant("Bob")

	_, err := repo.ReservePayments(ctx, order.ID, []models.Payment{{
		ObligationKey: bob, Amount: models.NewMoney(10, 0), Method: models.PaymentMethodGateway,
		State: models.PaymentStatePending, CorrelationRef: "ref-1",
	}})
	require.NoError(t, err)

	settled, err := repo.SettleCorrelation(ctx, "ref-1", "pay-1", time.Now())
	require.NoError(t, err)
	require.Len(t, settled, 1)
	assert.Equal(t, models.PaymentStatePaid, settled[0].State)

	_, err = repo.SettleCorrelation(ctx, "ref-1", "pay-1", time.Now())
	assert.ErrorIs(t, err, models.ErrAlreadyProcessed)

	_, err = repo.ReservePayments(ctx, order.ID, []models.Payment{{
		ObligationKey: bob, Amount: models.NewMoney(10, 0), Method: models.PaymentMethodCash,
		State: models.PaymentStatePendingCash,
	}})
	assert.ErrorIs(t, err, models.ErrAlreadyPaid)

	_, err = repo.SettleCorrelation(ctx, "missing", "pay-2", time.Now())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSettleSupersededAttempt(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	order, _ := seedOrder(t, repo)
	ana := models.ByParticipant("Ana")

	reserve := func(ref string) {
		_, err := repo.ReservePayments(ctx, order.ID, []models.Payment{{
			ObligationKey: ana, Amount: models.NewMoney(10, 0), Method: models.PaymentMethodGateway,
			State: models.PaymentStatePending, CorrelationRef: ref,
		}})
		require.NoError(t, err)
	}
	reserve("old")
	reserve("new")

	// percobaan lama yang sudah digantikan tetap dilunasi bila uangnya masuk lebih dulu
	_, err := repo.SettleCorrelation(ctx, "old", "pay-old", time.Now())
	require.NoError(t, err)

	records, err := repo.FindByCorrelation(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStateFailed, records[0].State)

	_, err = repo.SettleCorrelation(ctx, "new", "pay-new", time.Now())
	assert.ErrorIs(t, err, models.ErrAttemptSuperseded)
}

func TestConfirmCash(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	order, _ := seedOrder(t, repo)
	ana := models.ByParticipant("Ana")

	_, err := repo.ConfirmCash(ctx, order.ID, ana, nil)
	assert.ErrorIs(t, err, models.ErrPaymentNotFound)

	_, err = repo.ReservePayments(ctx, order.ID, []models.Payment{{
		ObligationKey: ana, Amount: models.NewMoney(10, 0), Method: models.PaymentMethodCash,
		State: models.PaymentStatePendingCash,
	}})
	require.NoError(t, err)

	staff := uint(7)
	record, err := repo.ConfirmCash(ctx, order.ID, ana, &staff)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatePaid, record.State)
	require.NotNil(t, record.VerifiedBy)
	assert.Equal(t, staff, *record.VerifiedBy)

	_, err = repo.ConfirmCash(ctx, order.ID, ana, &staff)
	assert.ErrorIs(t, err, models.ErrAlreadyPaid)
}

func TestNotifications(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	orderID := uint(3)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.AppendNotification(ctx, &models.Notification{
			RestaurantID: 1, Kind: models.NotificationCallStaff, TableID: 2, OrderID: &orderID,
			Message: "Table A1 is calling staff",
		}))
	}
	require.NoError(t, repo.AppendNotification(ctx, &models.Notification{
		RestaurantID: 2, Kind: models.NotificationCallStaff, TableID: 9, Message: "other restaurant",
	}))

	list, err := repo.ListNotifications(ctx, 1, false, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)

	require.NoError(t, repo.MarkNotificationRead(ctx, 1, list[0].ID))
	unread, err := repo.ListNotifications(ctx, 1, true, 10)
	require.NoError(t, err)
	assert.Len(t, unread, 2)

	assert.ErrorIs(t, repo.MarkNotificationRead(ctx, 2, list[0].ID), models.ErrNotFound)
}
