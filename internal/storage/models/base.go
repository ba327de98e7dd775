// internal/storage/models/base.go
package models

import (
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// BaseModel заменяет gorm.Model для большего контроля
type BaseModel struct {
	ID        uint       `gorm:"primarykey"`
	CreatedAt time.Time  `gorm:"default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time  `gorm:"default:CURRENT_TIMESTAMP"`
	DeletedAt *time.Time `gorm:"index"`
}

// Wei converts an on-chain amount to a column value. Amount columns are
// varchar so that sqlite keeps all 78 digits.
func Wei(v *uint256.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.RequireFromString(v.Dec())
}

// ToWei converts a column value back to an on-chain amount.
func ToWei(d decimal.Decimal) (*uint256.Int, error) {
	return uint256.FromDecimal(d.String())
}
