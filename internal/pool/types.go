// =============================
// File: internal/pool/types.go
// =============================
package pool

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrPoolExists            = errors.New("pool already exists")
	ErrPoolNotFound          = errors.New("pool not found")
	ErrUnknownAsset          = errors.New("asset is not registered")
	ErrInsufficientLiquidity = errors.New("insufficient pool liquidity")
	ErrPriceLimitExceeded    = errors.New("price limit exceeded")
	ErrSlippageExceeded      = errors.New("swap output below minimum")
	ErrZeroAmount            = errors.New("zero amount")
	ErrOverflow              = errors.New("pool math overflow")
)

// Direction of a swap relative to the pool's base asset.
type Direction uint8

const (
	// QuoteToBase spends the quote asset (WETH) and receives base tokens.
	QuoteToBase Direction = iota
	// BaseToQuote spends base tokens and receives the quote asset.
	BaseToQuote
)

func (d Direction) String() string {
	if d == BaseToQuote {
		return "base_to_quote"
	}
	return "quote_to_base"
}

// Asset is the token surface the pool needs to custody liquidity.
type Asset interface {
	Address() common.Address
	BalanceOf(owner common.Address) *uint256.Int
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error
}

// PoolInfo is a read-only view of a pool.
type PoolInfo struct {
	Address         common.Address // Pool id
	BaseMint        common.Address // Content token
	QuoteMint       common.Address // Wrapped native asset
	BaseReserves    *uint256.Int
	QuoteReserves   *uint256.Int
	LPSupply        *uint256.Int
	FeesBasisPoints uint64
	InitialPrice    *uint256.Int // wei per whole base token, as requested at creation
}

// Position is a liquidity position handle.
type Position struct {
	ID        uint64
	Pool      common.Address
	Owner     common.Address
	Liquidity *uint256.Int
}

// SwapParams describe one swap. A zero PriceLimit disables the limit; a zero
// MinAmountOut accepts any output.
type SwapParams struct {
	Pool         common.Address
	Direction    Direction
	AmountIn     *uint256.Int
	MinAmountOut *uint256.Int
	PriceLimit   *uint256.Int
	Payer        common.Address
	Recipient    common.Address
}
