// internal/market/errors.go
package market

import (
	"errors"

	"github.com/rovshanmuradov/curvemarket/internal/curve"
)

// Validation errors.
var (
	ErrAddressZero       = errors.New("address zero")
	ErrInvalidMarketType = errors.New("invalid market type")
	ErrEthAmountTooSmall = errors.New("eth amount too small")
)

// Economic errors.
var (
	ErrInsufficientLiquidity  = errors.New("insufficient liquidity")
	ErrSlippageBoundsExceeded = errors.New("slippage bounds exceeded")
	ErrMarketAlreadyGraduated = errors.New("market already graduated")
)

// Invariant violations. Reaching one of these means the accounting is broken.
var (
	ErrInvariantViolation  = errors.New("invariant violation")
	ErrInsufficientReserve = errors.New("insufficient reserve")
)

// ErrReentrantCall is returned when a mutating entry point is re-entered from
// inside a call on the same market.
var ErrReentrantCall = errors.New("reentrant call")

// IsInvariant reports whether err signals a modelling bug rather than a
// rejected order.
func IsInvariant(err error) bool {
	return errors.Is(err, ErrInvariantViolation) || errors.Is(err, curve.ErrOverflow)
}
