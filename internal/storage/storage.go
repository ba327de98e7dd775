// internal/storage/storage.go
package storage

import (
	"context"
	"errors"

	"github.com/rovshanmuradov/curvemarket/internal/storage/models"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("record not found")

// Storage определяет интерфейс для работы с хранилищем
type Storage interface {
	// Сделки
	SaveTrade(ctx context.Context, trade *models.Trade) error
	ListTrades(ctx context.Context, token string, limit, offset int) ([]*models.Trade, error)

	// Регистрации
	SaveRegistration(ctx context.Context, reg *models.Registration) error
	GetRegistration(ctx context.Context, contentID string) (*models.Registration, error)

	// Рынки
	UpsertMarket(ctx context.Context, m *models.Market) error
	GetMarket(ctx context.Context, token string) (*models.Market, error)
	ListMarkets(ctx context.Context) ([]*models.Market, error)

	RunMigrations() error
	Close() error
}
