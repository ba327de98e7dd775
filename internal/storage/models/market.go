// internal/storage/models/market.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market is the indexed state of one market, rebuilt from its events.
type Market struct {
	BaseModel
	Token          string          `gorm:"unique;not null;type:varchar(42)"`
	ContentID      string          `gorm:"type:varchar(512)"`
	MarketType     string          `gorm:"not null;type:varchar(20)"`
	TotalSupply    decimal.Decimal `gorm:"type:varchar(80)"`
	LastPrice      decimal.Decimal `gorm:"type:varchar(80)"`
	BuyVolume      decimal.Decimal `gorm:"type:varchar(80)"`
	SellVolume     decimal.Decimal `gorm:"type:varchar(80)"`
	FeeVolume      decimal.Decimal `gorm:"type:varchar(80)"`
	TradeCount     int64           `gorm:"default:0"`
	PoolAddress    string          `gorm:"type:varchar(42)"`
	PositionID     uint64
	EthLiquidity   decimal.Decimal `gorm:"type:varchar(80)"`
	TokenLiquidity decimal.Decimal `gorm:"type:varchar(80)"`
	GraduatedAt    *time.Time
	LastTradeAt    *time.Time `gorm:"index"`
}
