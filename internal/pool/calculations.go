// =============================
// File: internal/pool/calculations.go
// =============================
package pool

import (
	"github.com/holiman/uint256"
)

var (
	bpsDenominator = uint256.NewInt(10_000)
	wad            = uint256.NewInt(1e18)
)

// calculateOutput returns the constant-product output for amount in:
// out = y * a' / (x + a'), a' = amount * (10000 - fee) / 10000.
func calculateOutput(reserves, otherReserves, amount *uint256.Int, feeBPS uint64) (*uint256.Int, error) {
	if reserves.IsZero() || otherReserves.IsZero() {
		return nil, ErrInsufficientLiquidity
	}

	factor := uint256.NewInt(10_000 - feeBPS)
	a, overflow := new(uint256.Int).MulDivOverflow(amount, factor, bpsDenominator)
	if overflow {
		return nil, ErrOverflow
	}

	denominator, overflow := new(uint256.Int).AddOverflow(reserves, a)
	if overflow {
		return nil, ErrOverflow
	}
	out, overflow := new(uint256.Int).MulDivOverflow(otherReserves, a, denominator)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// spotPrice returns quote per whole base token in wei.
func spotPrice(baseReserves, quoteReserves *uint256.Int) *uint256.Int {
	if baseReserves.IsZero() {
		return new(uint256.Int)
	}
	price, overflow := new(uint256.Int).MulDivOverflow(quoteReserves, wad, baseReserves)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return price
}

// initialLiquidity is sqrt(base * quote).
func initialLiquidity(base, quote *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(base, quote)
	if overflow {
		return nil, ErrOverflow
	}
	return new(uint256.Int).Sqrt(product), nil
}

// proportionalLiquidity mints min(base*L/rb, quote*L/rq).
func proportionalLiquidity(base, quote, baseReserves, quoteReserves, supply *uint256.Int) (*uint256.Int, error) {
	fromBase, overflow := new(uint256.Int).MulDivOverflow(base, supply, baseReserves)
	if overflow {
		return nil, ErrOverflow
	}
	fromQuote, overflow := new(uint256.Int).MulDivOverflow(quote, supply, quoteReserves)
	if overflow {
		return nil, ErrOverflow
	}
	if fromBase.Lt(fromQuote) {
		return fromBase, nil
	}
	return fromQuote, nil
}
