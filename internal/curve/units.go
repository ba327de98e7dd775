// internal/curve/units.go
package curve

import (
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// toUnits converts a wei amount into whole units.
func toUnits(v *uint256.Int) decimal.Decimal {
	return decimal.NewFromBigInt(v.ToBig(), -Decimals)
}

// toWeiFloor converts whole units into wei rounding toward zero. Negative
// values produced by rounding noise collapse to zero.
func toWeiFloor(d decimal.Decimal) (*uint256.Int, error) {
	return fromDecimal(d.Shift(Decimals).Floor())
}

// toWeiCeil converts whole units into wei rounding up.
func toWeiCeil(d decimal.Decimal) (*uint256.Int, error) {
	return fromDecimal(d.Shift(Decimals).Ceil())
}

func fromDecimal(d decimal.Decimal) (*uint256.Int, error) {
	if d.Sign() <= 0 {
		return new(uint256.Int), nil
	}
	v, overflow := uint256.FromBig(d.BigInt())
	if overflow {
		return nil, ErrOverflow
	}
	return v, nil
}

// ToEther formats a wei amount as a decimal number of whole units.
func ToEther(v *uint256.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return toUnits(v)
}

// FromEther parses a decimal string of whole units ("0.5", "800000000") into
// base units, truncating anything below one wei.
func FromEther(s string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, ErrInvalidParams
	}
	return fromDecimal(d.Shift(Decimals).Truncate(0))
}

// MustFromEther is FromEther for constants.
func MustFromEther(s string) *uint256.Int {
	v, err := FromEther(s)
	if err != nil {
		panic(err)
	}
	return v
}
