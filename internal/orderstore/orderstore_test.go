package orderstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ZigZagExchange/backend-sub000/pkg/errors"
	"github.com/ZigZagExchange/backend-sub000/pkg/models"
)

func newTestStore(t *testing.T) (*GormStore, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "orders.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Order{}, &models.Fill{}))
	return NewGormStore(db, zap.NewNop()), db
}

func seedOrder(t *testing.T, db *gorm.DB, orderID int64, status string) {
	t.Helper()
	require.NoError(t, db.Create(&models.Order{
		ChainID:       1,
		OrderID:       orderID,
		Owner:         "user-1",
		Market:        "ETH-USDT",
		Side:          models.SideAsk,
		Price:         decimal.RequireFromString("10"),
		BaseQuantity:  decimal.RequireFromString("1"),
		QuoteQuantity: decimal.RequireFromString("10"),
		RemainingBase: decimal.RequireFromString("1"),
		Status:        status,
	}).Error)
}

func TestReadOpenOrder(t *testing.T) {
	store, db := newTestStore(t)
	seedOrder(t, db, 1, models.OrderStatusOpen)

	order, err := store.ReadOpenOrder(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), order.OrderID)
	assert.Equal(t, "user-1", order.Owner)
	assert.True(t, order.RemainingBase.Equal(decimal.RequireFromString("1")))
}

func TestReadMissingOrderIsConflict(t *testing.T) {
	store, _ := newTestStore(t)

	order, err := store.ReadOpenOrder(context.Background(), 1, 404)
	require.Error(t, err)
	assert.Nil(t, order)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestReadNonOpenOrderIsConflict(t *testing.T) {
	store, db := newTestStore(t)
	seedOrder(t, db, 2, models.OrderStatusFilled)

	_, err := store.ReadOpenOrder(context.Background(), 1, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestTransitionToMatched(t *testing.T) {
	store, db := newTestStore(t)
	seedOrder(t, db, 3, models.OrderStatusOpen)
	ctx := context.Background()

	require.NoError(t, store.TransitionToMatched(ctx, 1, 3))

	var order models.Order
	require.NoError(t, db.Where("chainid = ? AND id = ?", 1, 3).First(&order).Error)
	assert.Equal(t, models.OrderStatusMatched, order.Status)

	// The guarded update makes the second transition lose.
	err := store.TransitionToMatched(ctx, 1, 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestTransitionCanceledOrderIsConflict(t *testing.T) {
	store, db := newTestStore(t)
	seedOrder(t, db, 4, models.OrderStatusCanceled)

	err := store.TransitionToMatched(context.Background(), 1, 4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestInsertFill(t *testing.T) {
	store, db := newTestStore(t)

	id, err := store.InsertFill(context.Background(), &models.Fill{
		ChainID: 1,
		OrderID: 5,
		Market:  "ETH-USDT",
		Side:    models.SideAsk,
		Amount:  decimal.RequireFromString("1"),
		Price:   decimal.RequireFromString("10.05"),
		MakerID: "maker-a",
		TakerID: "user-1",
		Status:  models.OrderStatusMatched,
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	var n int64
	require.NoError(t, db.Model(&models.Fill{}).Where("taker_order_id = ?", 5).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}
