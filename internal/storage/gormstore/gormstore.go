// internal/storage/gormstore/gormstore.go
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/rovshanmuradov/curvemarket/internal/storage"
	"github.com/rovshanmuradov/curvemarket/internal/storage/models"
)

// MigrationLock guards RunMigrations against concurrent migrators. It
// returns a release function.
type MigrationLock func(db *gorm.DB) (func(), error)

// Options tune a Store.
type Options struct {
	// LogLevel of the gorm logger; zero means logger.Warn.
	LogLevel logger.LogLevel
	// MigrationLock is optional.
	MigrationLock MigrationLock
}

// Store implements storage.Storage on top of any gorm dialect.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	lock   MigrationLock
}

var _ storage.Storage = (*Store)(nil)

// Open connects through dialector.
func Open(dialector gorm.Dialector, zapLogger *zap.Logger, opts Options) (*Store, error) {
	level := opts.LogLevel
	if level == 0 {
		level = logger.Warn
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(zapLogger.Named("gorm"), level),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Store{
		db:     db,
		logger: zapLogger,
		lock:   opts.MigrationLock,
	}, nil
}

// DB exposes the underlying handle for dialect specific tuning.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// RunMigrations uses GORM AutoMigrate.
func (s *Store) RunMigrations() error {
	if s.lock != nil {
		release, err := s.lock(s.db)
		if err != nil {
			return err
		}
		defer release()
	}

	if err := s.db.AutoMigrate(
		&models.Registration{},
		&models.Market{},
		&models.Trade{},
	); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}

func (s *Store) SaveTrade(ctx context.Context, trade *models.Trade) error {
	return s.db.WithContext(ctx).Create(trade).Error
}

func (s *Store) ListTrades(ctx context.Context, token string, limit, offset int) ([]*models.Trade, error) {
	var trades []*models.Trade
	err := s.db.WithContext(ctx).
		Where("token = ?", token).
		Order("executed_at asc, id asc").
		Limit(limit).
		Offset(offset).
		Find(&trades).Error
	return trades, err
}

// SaveRegistration keeps the first row stored for a content id or token.
func (s *Store) SaveRegistration(ctx context.Context, reg *models.Registration) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(reg).Error
}

func (s *Store) GetRegistration(ctx context.Context, contentID string) (*models.Registration, error) {
	var reg models.Registration
	if err := s.db.WithContext(ctx).Where("content_id = ?", contentID).First(&reg).Error; err != nil {
		return nil, notFound(err)
	}
	return &reg, nil
}

// UpsertMarket inserts the market or overwrites the stored row for its token.
// The conflict target is the token, so the row id of m is ignored.
func (s *Store) UpsertMarket(ctx context.Context, m *models.Market) error {
	row := *m
	row.ID = 0
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "token"}}, UpdateAll: true}).
		Create(&row).Error
}

func (s *Store) GetMarket(ctx context.Context, token string) (*models.Market, error) {
	var m models.Market
	if err := s.db.WithContext(ctx).Where("token = ?", token).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (s *Store) ListMarkets(ctx context.Context) ([]*models.Market, error) {
	var markets []*models.Market
	err := s.db.WithContext(ctx).Order("token asc").Find(&markets).Error
	return markets, err
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	return err
}
