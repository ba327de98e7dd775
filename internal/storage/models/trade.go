// internal/storage/models/trade.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Trade is one executed buy or sell.
type Trade struct {
	BaseModel
	Token            string          `gorm:"index;not null;type:varchar(42)"`
	Side             string          `gorm:"not null;type:varchar(4)"`
	Trader           string          `gorm:"index;not null;type:varchar(42)"`
	Recipient        string          `gorm:"not null;type:varchar(42)"`
	OrderReferrer    string          `gorm:"type:varchar(42)"`
	TotalEth         decimal.Decimal `gorm:"not null;type:varchar(80)"`
	Fee              decimal.Decimal `gorm:"not null;type:varchar(80)"`
	NetEth           decimal.Decimal `gorm:"not null;type:varchar(80)"`
	TokenAmount      decimal.Decimal `gorm:"not null;type:varchar(80)"`
	ResultingBalance decimal.Decimal `gorm:"type:varchar(80)"`
	TotalSupply      decimal.Decimal `gorm:"type:varchar(80)"`
	Price            decimal.Decimal `gorm:"type:varchar(80)"`
	MarketType       string          `gorm:"not null;type:varchar(20)"`
	Comment          string          `gorm:"type:text"`
	ExecutedAt       time.Time       `gorm:"index;not null"`
}
