// Package orderstore is the consumed contract of the authoritative order
// store. The continuous limit matching lives in the database; this core
// only reads open rows, transitions them to matched, and inserts fills.
package orderstore

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ZigZagExchange/backend-sub000/pkg/errors"
	"github.com/ZigZagExchange/backend-sub000/pkg/models"
)

// Store is the call contract against the authoritative order rows.
type Store interface {
	// ReadOpenOrder returns the order row when it is currently open.
	// A missing or non-open row is a Conflict.
	ReadOpenOrder(ctx context.Context, chainID, orderID int64) (*models.Order, error)

	// TransitionToMatched moves the row open -> matched, guarded by the
	// current status. Returns a Conflict when another caller got there
	// first.
	TransitionToMatched(ctx context.Context, chainID, orderID int64) error

	// InsertFill records a matched fill row and returns its id.
	InsertFill(ctx context.Context, fill *models.Fill) (int64, error)

	// Health pings the database.
	Health(ctx context.Context) error
}

// GormStore implements Store over the relational database.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	return &GormStore{db: db, logger: logger}
}

// Open dials postgres with pool settings from config.
func Open(dsn string, maxOpen, maxIdle int, maxLifetime time.Duration, logger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(maxLifetime)
	logger.Info("order store connected", zap.Int("max_open_conns", maxOpen))
	return db, nil
}

func (s *GormStore) ReadOpenOrder(ctx context.Context, chainID, orderID int64) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).
		Where("chainid = ? AND id = ?", chainID, orderID).
		First(&order).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errors.Conflict("order %d not found", orderID)
	}
	if err != nil {
		return nil, errors.Transient(err, "read order %d", orderID)
	}
	if order.Status != models.OrderStatusOpen {
		return nil, errors.Conflict("order %d is not open", orderID)
	}
	return &order, nil
}

func (s *GormStore) TransitionToMatched(ctx context.Context, chainID, orderID int64) error {
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("chainid = ? AND id = ? AND order_status = ?", chainID, orderID, models.OrderStatusOpen).
		Updates(map[string]interface{}{
			"order_status": models.OrderStatusMatched,
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return errors.Transient(res.Error, "transition order %d", orderID)
	}
	if res.RowsAffected == 0 {
		return errors.Conflict("order %d already consumed", orderID)
	}
	return nil
}

func (s *GormStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) InsertFill(ctx context.Context, fill *models.Fill) (int64, error) {
	fill.CreatedAt = time.Now()
	if err := s.db.WithContext(ctx).Create(fill).Error; err != nil {
		return 0, errors.Transient(err, "insert fill for order %d", fill.OrderID)
	}
	return fill.ID, nil
}
