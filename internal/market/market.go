// internal/market/market.go
package market

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curvemarket/internal/chain"
	"github.com/rovshanmuradov/curvemarket/internal/events"
	"github.com/rovshanmuradov/curvemarket/internal/token"
)

// Market is one content token together with its bonding-curve market. It
// prices orders on the curve until PrimarySupply is sold, then graduates into
// the pool adapter and forwards every later trade there.
//
// Calls on one market are serialized; different markets never block each
// other.
type Market struct {
	mu sync.RWMutex

	cfg       Config
	params    Params
	book      *token.Book
	curve     Pricer
	bank      NativeBank
	weth      QuoteAsset
	pool      PoolAdapter
	publisher events.Publisher
	logger    *zap.Logger

	marketType    Type
	marketAddress common.Address
	positionID    uint64
	reserve       *uint256.Int
}

// New creates a market in the BONDING_CURVE state. The token becomes known to
// the pool adapter when the market graduates.
func New(cfg Config, params Params, deps Deps, logger *zap.Logger) (*Market, error) {
	if cfg.Address == (common.Address{}) || cfg.TokenCreator == (common.Address{}) || cfg.ProtocolFeeRecipient == (common.Address{}) {
		return nil, fmt.Errorf("%w: market, creator and protocol fee recipient are required", ErrAddressZero)
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid market params: %w", err)
	}
	if deps.Curve == nil || deps.Bank == nil || deps.WETH == nil || deps.Pool == nil {
		return nil, fmt.Errorf("market %s: curve, bank, weth and pool are required", cfg.Address.Hex())
	}

	m := &Market{
		cfg:        cfg,
		params:     params,
		book:       token.NewBook(),
		curve:      deps.Curve,
		bank:       deps.Bank,
		weth:       deps.WETH,
		pool:       deps.Pool,
		publisher:  deps.Events,
		logger:     logger.Named("market").With(zap.String("token", cfg.Address.Hex()), zap.String("symbol", cfg.Symbol)),
		marketType: BondingCurve,
		reserve:    new(uint256.Int),
	}

	return m, nil
}

////////////////////////////////////////////////////////////////////////////////
// Guard
////////////////////////////////////////////////////////////////////////////////

type callKey struct{ m *Market }

// enter takes the market lock for a mutating call and marks ctx so that any
// nested attempt to mutate the same market fails instead of deadlocking.
func (m *Market) enter(ctx context.Context) (context.Context, func(), error) {
	if ctx.Value(callKey{m}) != nil {
		return ctx, func() {}, ErrReentrantCall
	}
	m.mu.Lock()
	return context.WithValue(ctx, callKey{m}, struct{}{}), m.mu.Unlock, nil
}

// view takes the read lock unless ctx is already inside a call on this
// market, in which case the caller observes the in-progress state.
func (m *Market) view(ctx context.Context) func() {
	if ctx.Value(callKey{m}) != nil {
		return func() {}
	}
	m.mu.RLock()
	return m.mu.RUnlock
}

////////////////////////////////////////////////////////////////////////////////
// State
////////////////////////////////////////////////////////////////////////////////

// State returns the market type and the pool address (zero before
// graduation).
func (m *Market) State(ctx context.Context) (Type, common.Address) {
	defer m.view(ctx)()
	return m.marketType, m.marketAddress
}

// Snapshot returns a consistent copy of the market's accounting.
func (m *Market) Snapshot(ctx context.Context) Snapshot {
	defer m.view(ctx)()
	return m.snapshot(ctx)
}

func (m *Market) snapshot(ctx context.Context) Snapshot {
	total := m.book.TotalSupply()
	curveSupply := total.Clone()
	if m.marketType == UniswapPool {
		curveSupply = m.params.PrimarySupply.Clone()
	}
	return Snapshot{
		Address:       m.cfg.Address,
		MarketType:    m.marketType,
		MarketAddress: m.marketAddress,
		PositionID:    m.positionID,
		TotalSupply:   total,
		CurveSupply:   curveSupply,
		Reserve:       m.reserve.Clone(),
		NativeBalance: m.bank.BalanceAt(ctx, m.cfg.Address),
	}
}

// Config returns the immutable identity of the market.
func (m *Market) Config() Config {
	return m.cfg
}

// Params returns the economic constants of the market.
func (m *Market) Params() Params {
	return m.params
}

func (m *Market) setReserve(ctx context.Context, v *uint256.Int) {
	prev := m.reserve
	m.reserve = v
	chain.Record(ctx, func() { m.reserve = prev })
}

func (m *Market) setMarketType(ctx context.Context, t Type) {
	prev := m.marketType
	m.marketType = t
	chain.Record(ctx, func() { m.marketType = prev })
}

func (m *Market) setPool(ctx context.Context, addr common.Address, positionID uint64) {
	prevAddr, prevPos := m.marketAddress, m.positionID
	m.marketAddress, m.positionID = addr, positionID
	chain.Record(ctx, func() { m.marketAddress, m.positionID = prevAddr, prevPos })
}

// emit publishes ev once the enclosing call commits.
func (m *Market) emit(ctx context.Context, ev events.Event) {
	if m.publisher == nil {
		return
	}
	chain.AfterCommit(ctx, func() {
		if err := m.publisher.Publish(ev); err != nil {
			m.logger.Warn("Failed to publish event", zap.String("event_type", string(ev.Type())), zap.Error(err))
		}
	})
}

////////////////////////////////////////////////////////////////////////////////
// Curve quotes
////////////////////////////////////////////////////////////////////////////////

// GetEthBuyQuote returns the tokens eth buys at the current supply.
func (m *Market) GetEthBuyQuote(ctx context.Context, eth *uint256.Int) (*uint256.Int, error) {
	return m.curveQuote(ctx, func(supply *uint256.Int) (*uint256.Int, error) {
		return m.curve.GetEthBuyQuote(supply, eth)
	})
}

// GetTokenBuyQuote returns the ETH needed to buy tokens at the current supply.
func (m *Market) GetTokenBuyQuote(ctx context.Context, tokens *uint256.Int) (*uint256.Int, error) {
	return m.curveQuote(ctx, func(supply *uint256.Int) (*uint256.Int, error) {
		return m.curve.GetTokenBuyQuote(supply, tokens)
	})
}

// GetTokenSellQuote returns the ETH paid for selling tokens at the current supply.
func (m *Market) GetTokenSellQuote(ctx context.Context, tokens *uint256.Int) (*uint256.Int, error) {
	return m.curveQuote(ctx, func(supply *uint256.Int) (*uint256.Int, error) {
		return m.curve.GetTokenSellQuote(supply, tokens)
	})
}

// GetEthSellQuote returns the tokens to sell for eth at the current supply.
func (m *Market) GetEthSellQuote(ctx context.Context, eth *uint256.Int) (*uint256.Int, error) {
	return m.curveQuote(ctx, func(supply *uint256.Int) (*uint256.Int, error) {
		return m.curve.GetEthSellQuote(supply, eth)
	})
}

// GetCurrentPrice returns the marginal curve price in wei per token.
func (m *Market) GetCurrentPrice(ctx context.Context) (*uint256.Int, error) {
	return m.curveQuote(ctx, m.curve.GetCurrentPrice)
}

func (m *Market) curveQuote(ctx context.Context, fn func(supply *uint256.Int) (*uint256.Int, error)) (*uint256.Int, error) {
	defer m.view(ctx)()

	if m.marketType != BondingCurve {
		return nil, ErrMarketAlreadyGraduated
	}
	return fn(m.book.TotalSupply())
}

////////////////////////////////////////////////////////////////////////////////
// ERC20 surface
////////////////////////////////////////////////////////////////////////////////

// Address is the token (and market) account.
func (m *Market) Address() common.Address { return m.cfg.Address }

func (m *Market) Name() string     { return m.cfg.Name }
func (m *Market) Symbol() string   { return m.cfg.Symbol }
func (m *Market) TokenURI() string { return m.cfg.TokenURI }
func (m *Market) Decimals() uint8  { return 18 }

// TotalSupply returns the ERC20 total supply.
func (m *Market) TotalSupply() *uint256.Int { return m.book.TotalSupply() }

// BalanceOf returns the token balance of owner.
func (m *Market) BalanceOf(owner common.Address) *uint256.Int { return m.book.BalanceOf(owner) }

// Allowance returns the remaining allowance of spender over owner's tokens.
func (m *Market) Allowance(owner, spender common.Address) *uint256.Int {
	return m.book.Allowance(owner, spender)
}

// Transfer moves tokens between holders. Token transfers do not take the
// market lock; the pool pulls liquidity through them during graduation.
func (m *Market) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	return m.book.Transfer(ctx, from, to, amount)
}

// Approve sets spender's allowance over owner's tokens.
func (m *Market) Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error {
	return m.book.Approve(ctx, owner, spender, amount)
}

// TransferFrom moves tokens on behalf of from.
func (m *Market) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	return m.book.TransferFrom(ctx, spender, from, to, amount)
}
