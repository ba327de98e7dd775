// internal/curve/curve.go
package curve

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Precision is the number of fractional digits kept by every intermediate
// decimal operation of the curve.
const Precision int32 = 40

// Decimals is the fixed-point scale of all amounts (wei and token base units).
const Decimals int32 = 18

var (
	ErrInsufficientSupply = errors.New("insufficient supply")
	ErrSupplyOutOfRange   = errors.New("supply out of curve range")
	ErrOverflow           = errors.New("curve result overflows 256 bits")
	ErrInvalidParams      = errors.New("invalid curve parameters")
)

// decimal.ExpTaylor keeps a package level factorial cache that is not safe for
// concurrent growth, so every evaluation goes through this lock.
var mathMu sync.Mutex

// Params describe price(x) = A * e^(B*x) where x is the supply in whole tokens
// and the price is quoted in ETH per whole token.
type Params struct {
	A         decimal.Decimal
	B         decimal.Decimal
	MaxSupply *uint256.Int
}

// DefaultParams returns the production constants: A = 1060848709e-18, B = 4379701787e-18,
// domain capped at one billion tokens.
func DefaultParams() Params {
	return Params{
		A:         decimal.New(1060848709, -Decimals),
		B:         decimal.New(4379701787, -Decimals),
		MaxSupply: new(uint256.Int).Mul(uint256.NewInt(1_000_000_000), uint256.NewInt(1e18)),
	}
}

// Curve is an exponential bonding curve. All methods are pure and safe for
// concurrent use.
type Curve struct {
	a, b      decimal.Decimal
	aOverB    decimal.Decimal
	bOverA    decimal.Decimal
	maxSupply *uint256.Int
}

// New validates the parameters and precomputes the A/B ratios.
func New(p Params) (*Curve, error) {
	if !p.A.IsPositive() || !p.B.IsPositive() {
		return nil, fmt.Errorf("%w: A and B must be positive", ErrInvalidParams)
	}
	if p.MaxSupply == nil || p.MaxSupply.IsZero() {
		return nil, fmt.Errorf("%w: max supply must be set", ErrInvalidParams)
	}
	return &Curve{
		a:         p.A,
		b:         p.B,
		aOverB:    p.A.DivRound(p.B, Precision),
		bOverA:    p.B.DivRound(p.A, Precision),
		maxSupply: p.MaxSupply.Clone(),
	}, nil
}

// Default returns the curve built from DefaultParams.
func Default() *Curve {
	c, err := New(DefaultParams())
	if err != nil {
		panic(err)
	}
	return c
}

// MaxSupply returns the upper bound of the curve domain.
func (c *Curve) MaxSupply() *uint256.Int {
	return c.maxSupply.Clone()
}

// GetCurrentPrice returns the marginal price at supply in wei per whole token.
func (c *Curve) GetCurrentPrice(supply *uint256.Int) (*uint256.Int, error) {
	if err := c.checkDomain(supply); err != nil {
		return nil, err
	}

	mathMu.Lock()
	defer mathMu.Unlock()

	e, err := c.expB(toUnits(supply))
	if err != nil {
		return nil, err
	}
	return toWeiFloor(c.a.Mul(e))
}

// GetTokenBuyQuote returns the ETH required to mint tokens starting at supply.
// The result is rounded up.
func (c *Curve) GetTokenBuyQuote(supply, tokens *uint256.Int) (*uint256.Int, error) {
	if tokens.IsZero() {
		return new(uint256.Int), nil
	}
	end, overflow := new(uint256.Int).AddOverflow(supply, tokens)
	if overflow {
		return nil, ErrOverflow
	}
	if err := c.checkDomain(end); err != nil {
		return nil, err
	}

	mathMu.Lock()
	defer mathMu.Unlock()

	cost, err := c.integral(toUnits(supply), toUnits(end))
	if err != nil {
		return nil, err
	}
	return toWeiCeil(cost)
}

// GetTokenSellQuote returns the ETH paid out for burning tokens at supply.
// The result is rounded down.
func (c *Curve) GetTokenSellQuote(supply, tokens *uint256.Int) (*uint256.Int, error) {
	if tokens.Gt(supply) {
		return nil, fmt.Errorf("%w: selling %s of %s", ErrInsufficientSupply, tokens.Dec(), supply.Dec())
	}
	if tokens.IsZero() {
		return new(uint256.Int), nil
	}
	if err := c.checkDomain(supply); err != nil {
		return nil, err
	}
	start := new(uint256.Int).Sub(supply, tokens)

	mathMu.Lock()
	defer mathMu.Unlock()

	proceeds, err := c.integral(toUnits(start), toUnits(supply))
	if err != nil {
		return nil, err
	}
	return toWeiFloor(proceeds)
}

// GetEthBuyQuote returns the tokens minted for spending eth at supply.
// The result is rounded down.
func (c *Curve) GetEthBuyQuote(supply, eth *uint256.Int) (*uint256.Int, error) {
	if eth.IsZero() {
		return new(uint256.Int), nil
	}
	if err := c.checkDomain(supply); err != nil {
		return nil, err
	}

	mathMu.Lock()
	defer mathMu.Unlock()

	x0 := toUnits(supply)
	e0, err := c.expB(x0)
	if err != nil {
		return nil, err
	}
	// x1 = ln(e^(B*x0) + eth*B/A) / B
	arg := e0.Add(toUnits(eth).Mul(c.bOverA))
	x1, err := c.lnOverB(arg)
	if err != nil {
		return nil, err
	}
	return toWeiFloor(x1.Sub(x0))
}

// GetEthSellQuote returns the tokens that must be burned to receive eth at
// supply. The result is rounded up; when rounding would take it past supply
// the quote fails with ErrInsufficientSupply.
func (c *Curve) GetEthSellQuote(supply, eth *uint256.Int) (*uint256.Int, error) {
	if eth.IsZero() {
		return new(uint256.Int), nil
	}
	if err := c.checkDomain(supply); err != nil {
		return nil, err
	}

	mathMu.Lock()
	defer mathMu.Unlock()

	x0 := toUnits(supply)
	e0, err := c.expB(x0)
	if err != nil {
		return nil, err
	}
	// x1 = ln(e^(B*x0) - eth*B/A) / B, x1 < 0 means the whole curve is worth less than eth
	arg := e0.Sub(toUnits(eth).Mul(c.bOverA))
	if arg.LessThan(decimal.New(1, 0)) {
		return nil, fmt.Errorf("%w: %s wei exceeds curve value at supply %s", ErrInsufficientSupply, eth.Dec(), supply.Dec())
	}
	x1, err := c.lnOverB(arg)
	if err != nil {
		return nil, err
	}
	tokens, err := toWeiCeil(x0.Sub(x1))
	if err != nil {
		return nil, err
	}
	if tokens.Gt(supply) {
		return nil, fmt.Errorf("%w: selling %s wei needs %s tokens, supply is %s", ErrInsufficientSupply, eth.Dec(), tokens.Dec(), supply.Dec())
	}
	return tokens, nil
}

// integral returns (A/B) * (e^(B*x1) - e^(B*x0)). Caller holds mathMu.
func (c *Curve) integral(x0, x1 decimal.Decimal) (decimal.Decimal, error) {
	e0, err := c.expB(x0)
	if err != nil {
		return decimal.Zero, err
	}
	e1, err := c.expB(x1)
	if err != nil {
		return decimal.Zero, err
	}
	return c.aOverB.Mul(e1.Sub(e0)), nil
}

func (c *Curve) expB(x decimal.Decimal) (decimal.Decimal, error) {
	e, err := c.b.Mul(x).ExpTaylor(Precision)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to evaluate exponent: %w", err)
	}
	return e, nil
}

func (c *Curve) lnOverB(v decimal.Decimal) (decimal.Decimal, error) {
	ln, err := v.Ln(Precision)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to evaluate logarithm: %w", err)
	}
	return ln.DivRound(c.b, Precision), nil
}

func (c *Curve) checkDomain(supply *uint256.Int) error {
	if supply.Gt(c.maxSupply) {
		return fmt.Errorf("%w: %s > %s", ErrSupplyOutOfRange, supply.Dec(), c.maxSupply.Dec())
	}
	return nil
}
