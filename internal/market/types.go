// internal/market/types.go
package market

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/rovshanmuradov/curvemarket/internal/curve"
	"github.com/rovshanmuradov/curvemarket/internal/events"
	"github.com/rovshanmuradov/curvemarket/internal/pool"
)

// Type is the venue that currently prices the market. The only transition is
// BondingCurve -> UniswapPool.
type Type uint8

const (
	BondingCurve Type = iota
	UniswapPool
)

func (t Type) String() string {
	switch t {
	case BondingCurve:
		return "BONDING_CURVE"
	case UniswapPool:
		return "UNISWAP_POOL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// ParseType accepts the String form, case-insensitive.
func ParseType(s string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "BONDING_CURVE":
		return BondingCurve, nil
	case "UNISWAP_POOL":
		return UniswapPool, nil
	}
	return 0, fmt.Errorf("unknown market type %q", s)
}

const bpsDenominator = 10_000

// FeeShares are basis points of the total fee. The protocol receives the
// remainder, including rounding dust.
type FeeShares struct {
	Creator          uint64
	PlatformReferrer uint64
	OrderReferrer    uint64
	Origin           uint64
}

// Params are the economic constants of a market.
type Params struct {
	PrimarySupply   *uint256.Int
	SecondarySupply *uint256.Int
	MinOrderSize    *uint256.Int
	TotalFeeBPS     uint64
	Shares          FeeShares
}

// DefaultParams: 800M tokens on the curve, 200M seeded into the pool, 333 bps
// fee split 50/15/15/10 with the protocol taking the last 10%.
func DefaultParams() Params {
	return Params{
		PrimarySupply:   curve.MustFromEther("800000000"),
		SecondarySupply: curve.MustFromEther("200000000"),
		MinOrderSize:    curve.MustFromEther("0.0000001"),
		TotalFeeBPS:     333,
		Shares: FeeShares{
			Creator:          5000,
			PlatformReferrer: 1500,
			OrderReferrer:    1500,
			Origin:           1000,
		},
	}
}

// Validate checks the parameters for internal consistency.
func (p Params) Validate() error {
	if p.PrimarySupply == nil || p.PrimarySupply.IsZero() {
		return fmt.Errorf("primary supply must be positive")
	}
	if p.SecondarySupply == nil || p.SecondarySupply.IsZero() {
		return fmt.Errorf("secondary supply must be positive")
	}
	if p.MinOrderSize == nil || p.MinOrderSize.IsZero() {
		return fmt.Errorf("min order size must be positive")
	}
	if p.TotalFeeBPS >= bpsDenominator {
		return fmt.Errorf("total fee %d bps must be below %d", p.TotalFeeBPS, bpsDenominator)
	}
	sum := p.Shares.Creator + p.Shares.PlatformReferrer + p.Shares.OrderReferrer + p.Shares.Origin
	if sum > bpsDenominator {
		return fmt.Errorf("fee shares sum to %d bps, more than %d", sum, bpsDenominator)
	}
	return nil
}

// Config identifies one market and its fee recipients. Immutable after New.
type Config struct {
	Address              common.Address
	Name                 string
	Symbol               string
	TokenURI             string
	TokenCreator         common.Address
	PlatformReferrer     common.Address
	OriginFeeRecipient   common.Address
	ProtocolFeeRecipient common.Address
}

// BuyParams are the caller supplied arguments of Buy. A zero RefundRecipient
// refunds the caller. MinTokensOut and PriceLimit may be nil.
type BuyParams struct {
	Recipient          common.Address
	RefundRecipient    common.Address
	OrderReferrer      common.Address
	Comment            string
	ExpectedMarketType Type
	MinTokensOut       *uint256.Int
	PriceLimit         *uint256.Int
}

// SellParams are the caller supplied arguments of Sell.
type SellParams struct {
	Recipient          common.Address
	OrderReferrer      common.Address
	Comment            string
	ExpectedMarketType Type
	MinEthOut          *uint256.Int
	PriceLimit         *uint256.Int
}

// BuyResult describes an executed buy.
type BuyResult struct {
	TokensBought *uint256.Int
	Fee          *uint256.Int
	NetEth       *uint256.Int // ETH that went into the curve or the pool
	Refund       *uint256.Int
	Graduated    bool
	MarketType   Type
}

// SellResult describes an executed sell.
type SellResult struct {
	EthReceived *uint256.Int
	MarketType  Type
}

// Snapshot is a consistent read-only view of the market.
type Snapshot struct {
	Address       common.Address
	MarketType    Type
	MarketAddress common.Address
	PositionID    uint64
	TotalSupply   *uint256.Int // ERC20 supply, includes the pool seed after graduation
	CurveSupply   *uint256.Int // supply sold on the curve, frozen at PrimarySupply after graduation
	Reserve       *uint256.Int
	NativeBalance *uint256.Int
}

// Pricer prices orders against the bonding curve.
type Pricer interface {
	GetEthBuyQuote(supply, eth *uint256.Int) (*uint256.Int, error)
	GetTokenBuyQuote(supply, tokens *uint256.Int) (*uint256.Int, error)
	GetTokenSellQuote(supply, tokens *uint256.Int) (*uint256.Int, error)
	GetEthSellQuote(supply, eth *uint256.Int) (*uint256.Int, error)
	GetCurrentPrice(supply *uint256.Int) (*uint256.Int, error)
}

// NativeBank moves native value.
type NativeBank interface {
	BalanceOf(addr common.Address) *uint256.Int
	BalanceAt(ctx context.Context, addr common.Address) *uint256.Int
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
}

// QuoteAsset wraps native value into the asset the pool trades against.
type QuoteAsset interface {
	Address() common.Address
	BalanceOf(owner common.Address) *uint256.Int
	Deposit(ctx context.Context, from common.Address, amount *uint256.Int) error
	Withdraw(ctx context.Context, owner common.Address, amount *uint256.Int) error
	Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error
}

// PoolAdapter is the external constant-product venue.
type PoolAdapter interface {
	Address() common.Address
	RegisterAsset(ctx context.Context, a pool.Asset)
	CreateAndSeedPool(ctx context.Context, base, quote common.Address, initialPrice *uint256.Int) (common.Address, error)
	ProvideLiquidity(ctx context.Context, poolAddr, provider common.Address, baseAmount, quoteAmount *uint256.Int) (pool.Position, error)
	Swap(ctx context.Context, params pool.SwapParams) (*uint256.Int, error)
	SpotPrice(poolAddr common.Address) (*uint256.Int, error)
}

// Deps are the collaborators of a market. Events may be nil.
type Deps struct {
	Curve  Pricer
	Bank   NativeBank
	WETH   QuoteAsset
	Pool   PoolAdapter
	Events events.Publisher
}
