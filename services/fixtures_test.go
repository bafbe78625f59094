package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/table-sync/models"
	"github.com/yeremiapane/table-sync/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestRepo(t *testing.T) *repository.Repository {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	repo := repository.New(db)
	require.NoError(t, repo.Migrate())
	return repo
}

func seedTable(t *testing.T, repo *repository.Repository, restaurantID uint, number string) *models.Table {
	t.Helper()
	table := models.Table{RestaurantID: restaurantID, TableNumber: number}
	require.NoError(t, repo.DB().Create(&table).Error)
	return &table
}

func seedMenu(t *testing.T, repo *repository.Repository, restaurantID uint, name string, price models.Money) *models.Menu {
	t.Helper()
	menu := models.Menu{RestaurantID: restaurantID, Name: name, Price: price, Available: true}
	require.NoError(t, repo.DB().Create(&menu).Error)
	return &menu
}

// seedItems membuat order terbuka di meja baru dengan item Ana 2x5.00 dan Bob 1x10.00.
func seedItems(t *testing.T, repo *repository.Repository) (*models.Order, map[string]models.OrderItem) {
	t.Helper()
	ctx := context.Background()
	table := seedTable(t, repo, 1, "A1")
	nasi := seedMenu(t, repo, 1, "Nasi Goreng", models.NewMoney(5, 0))
	teh := seedMenu(t, repo, 1, "Es Teh", models.NewMoney(10, 0))

	order, err := repo.GetOrCreateOpenOrder(ctx, table.ID)
	require.NoError(t, err)

	items := map[string]models.OrderItem{
		"Ana": {OrderID: order.ID, MenuID: nasi.ID, OwnerLabel: "Ana", Quantity: 2, UnitPrice: nasi.Price, State: models.ItemStatePending},
		"Bob": {OrderID: order.ID, MenuID: teh.ID, OwnerLabel: "Bob", Quantity: 1, UnitPrice: teh.Price, State: models.ItemStatePending},
	}
	for name, item := range items {
		require.NoError(t, repo.CreateItem(ctx, &item))
		items[name] = item
	}
	order, err = repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	return order, items
}

// fakeGateway mencatat setiap charge; status per gateway ref bisa diatur dari test.
type fakeGateway struct {
	mu        sync.Mutex
	charges   []ChargeRequest
	chargeErr error
	statuses  map[string]*GatewayStatus
	statusErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: map[string]*GatewayStatus{}}
}

func (g *fakeGateway) Charge(_ context.Context, req ChargeRequest) (*ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	g.charges = append(g.charges, req)
	expires := time.Now().Add(15 * time.Minute)
	return &ChargeResult{
		GatewayRef:    req.GatewayOrderID,
		TransactionID: fmt.Sprintf("trx-%d", len(g.charges)),
		QRImageURL:    "https://qr.example/" + req.GatewayOrderID,
		ExpiresAt:     &expires,
	}, nil
}

func (g *fakeGateway) Status(_ context.Context, gatewayRef string) (*GatewayStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	status, ok := g.statuses[gatewayRef]
	if !ok {
		return nil, errors.New("unknown transaction")
	}
	return status, nil
}

func (g *fakeGateway) setStatus(gatewayRef, outcome string, amount models.Money) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[gatewayRef] = &GatewayStatus{GatewayRef: gatewayRef, TransactionID: "trx-" + gatewayRef, Outcome: outcome, Amount: amount}
}

func (g *fakeGateway) lastCharge() ChargeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.charges[len(g.charges)-1]
}
