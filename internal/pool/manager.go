// =============================
// File: internal/pool/manager.go
// =============================
package pool

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curvemarket/internal/chain"
)

////////////////////////////////////////////////////////////////////////////////
// Интерфейс и конструкторы
////////////////////////////////////////////////////////////////////////////////

// ManagerOptions содержит опции для создания нового Manager.
type ManagerOptions struct {
	// Address is the custody account of all pools.
	Address common.Address
	// FeesBasisPoints is the LP fee charged on swap input.
	FeesBasisPoints uint64
}

// DefaultManagerOptions возвращает настройки по умолчанию.
func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{
		Address:         chain.NamedAddress("pool_manager"),
		FeesBasisPoints: 100,
	}
}

// Manager is an in-memory constant-product pool venue. Markets graduate into
// it through CreateAndSeedPool and ProvideLiquidity and trade through Swap.
type Manager struct {
	mu        sync.Mutex
	logger    *zap.Logger
	address   common.Address
	feeBPS    uint64
	assets    map[common.Address]Asset
	pools     map[common.Address]*poolState
	positions map[uint64]*Position
	nextID    uint64
}

type poolState struct {
	info PoolInfo
}

// NewManager создаёт новый Manager с заданными опциями.
func NewManager(logger *zap.Logger, opts ...ManagerOptions) *Manager {
	var options ManagerOptions
	if len(opts) > 0 {
		options = opts[0]
	} else {
		options = DefaultManagerOptions()
	}

	logger.Info("Создание нового pool manager",
		zap.String("address", options.Address.Hex()),
		zap.Uint64("fee_bps", options.FeesBasisPoints))

	return &Manager{
		logger:    logger.Named("pool_manager"),
		address:   options.Address,
		feeBPS:    options.FeesBasisPoints,
		assets:    make(map[common.Address]Asset),
		pools:     make(map[common.Address]*poolState),
		positions: make(map[uint64]*Position),
		nextID:    1,
	}
}

// Address returns the custody account. Payers approve it before swaps and
// liquidity provision.
func (m *Manager) Address() common.Address {
	return m.address
}

// RegisterAsset makes an asset tradable. Registering a known address again
// is a no-op; a registration made inside a failed call is undone.
func (m *Manager) RegisterAsset(ctx context.Context, a Asset) {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr := a.Address()
	if _, ok := m.assets[addr]; ok {
		return
	}
	m.assets[addr] = a
	chain.Record(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.assets, addr)
	})
}

// HasAsset reports whether addr is tradable.
func (m *Manager) HasAsset(addr common.Address) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.assets[addr]
	return ok
}

// PoolAddress returns the deterministic id of the (base, quote) pool.
func (m *Manager) PoolAddress(base, quote common.Address) common.Address {
	fee := make([]byte, 8)
	binary.BigEndian.PutUint64(fee, m.feeBPS)
	return chain.DeriveAddress([]byte("pool:"), base.Bytes(), quote.Bytes(), fee)
}

////////////////////////////////////////////////////////////////////////////////
// Создание пула и ликвидность
////////////////////////////////////////////////////////////////////////////////

// CreateAndSeedPool creates an empty pool for the pair and records the
// requested initial price.
func (m *Manager) CreateAndSeedPool(ctx context.Context, base, quote common.Address, initialPrice *uint256.Int) (common.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.assets[base]; !ok {
		return common.Address{}, fmt.Errorf("%w: base %s", ErrUnknownAsset, base.Hex())
	}
	if _, ok := m.assets[quote]; !ok {
		return common.Address{}, fmt.Errorf("%w: quote %s", ErrUnknownAsset, quote.Hex())
	}

	addr := m.PoolAddress(base, quote)
	if _, ok := m.pools[addr]; ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrPoolExists, addr.Hex())
	}

	m.pools[addr] = &poolState{info: PoolInfo{
		Address:         addr,
		BaseMint:        base,
		QuoteMint:       quote,
		BaseReserves:    new(uint256.Int),
		QuoteReserves:   new(uint256.Int),
		LPSupply:        new(uint256.Int),
		FeesBasisPoints: m.feeBPS,
		InitialPrice:    initialPrice.Clone(),
	}}
	chain.Record(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.pools, addr)
	})

	m.logger.Info("Pool created",
		zap.String("pool", addr.Hex()),
		zap.String("base", base.Hex()),
		zap.String("quote", quote.Hex()),
		zap.String("initial_price", initialPrice.Dec()))

	return addr, nil
}

// ProvideLiquidity pulls both amounts from provider (which must have approved
// the manager) and returns the minted position.
func (m *Manager) ProvideLiquidity(ctx context.Context, poolAddr, provider common.Address, baseAmount, quoteAmount *uint256.Int) (Position, error) {
	if baseAmount.IsZero() || quoteAmount.IsZero() {
		return Position{}, ErrZeroAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.pools[poolAddr]
	if !ok {
		return Position{}, fmt.Errorf("%w: %s", ErrPoolNotFound, poolAddr.Hex())
	}
	info := &st.info

	var liquidity *uint256.Int
	var err error
	if info.LPSupply.IsZero() {
		liquidity, err = initialLiquidity(baseAmount, quoteAmount)
	} else {
		liquidity, err = proportionalLiquidity(baseAmount, quoteAmount, info.BaseReserves, info.QuoteReserves, info.LPSupply)
	}
	if err != nil {
		return Position{}, err
	}
	if liquidity.IsZero() {
		return Position{}, ErrInsufficientLiquidity
	}

	if err := m.pull(ctx, info.BaseMint, provider, baseAmount); err != nil {
		return Position{}, err
	}
	if err := m.pull(ctx, info.QuoteMint, provider, quoteAmount); err != nil {
		return Position{}, err
	}

	zero := new(uint256.Int)
	m.shiftReserves(ctx, info, baseAmount, zero, quoteAmount, zero)
	info.LPSupply.Add(info.LPSupply, liquidity)

	pos := &Position{
		ID:        m.nextID,
		Pool:      poolAddr,
		Owner:     provider,
		Liquidity: liquidity,
	}
	m.positions[pos.ID] = pos
	m.nextID++

	liq := liquidity.Clone()
	chain.Record(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.positions, pos.ID)
		info.LPSupply.Sub(info.LPSupply, liq)
	})

	m.logger.Info("Liquidity provided",
		zap.String("pool", poolAddr.Hex()),
		zap.Uint64("position", pos.ID),
		zap.String("base_amount", baseAmount.Dec()),
		zap.String("quote_amount", quoteAmount.Dec()),
		zap.String("liquidity", liquidity.Dec()))

	return *pos, nil
}

////////////////////////////////////////////////////////////////////////////////
// Свапы
////////////////////////////////////////////////////////////////////////////////

// CalculateSwapQuote вычисляет ожидаемый результат обмена в пуле.
func (m *Manager) CalculateSwapQuote(poolAddr common.Address, amountIn *uint256.Int, direction Direction) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.pools[poolAddr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, poolAddr.Hex())
	}
	return m.quote(&st.info, amountIn, direction)
}

// Swap pulls AmountIn from the payer and sends the output to the recipient.
// The swap is rejected, never partially filled, when the post-swap spot price
// would cross PriceLimit.
func (m *Manager) Swap(ctx context.Context, params SwapParams) (*uint256.Int, error) {
	if params.AmountIn == nil || params.AmountIn.IsZero() {
		return nil, ErrZeroAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.pools[params.Pool]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, params.Pool.Hex())
	}
	info := &st.info

	out, err := m.quote(info, params.AmountIn, params.Direction)
	if err != nil {
		return nil, err
	}
	if params.MinAmountOut != nil && out.Lt(params.MinAmountOut) {
		return nil, fmt.Errorf("%w: got %s, want at least %s", ErrSlippageExceeded, out.Dec(), params.MinAmountOut.Dec())
	}

	zero := new(uint256.Int)
	inAsset, outAsset := info.QuoteMint, info.BaseMint
	newBase := new(uint256.Int).Sub(info.BaseReserves, out)
	newQuote := new(uint256.Int).Add(info.QuoteReserves, params.AmountIn)
	if params.Direction == BaseToQuote {
		inAsset, outAsset = info.BaseMint, info.QuoteMint
		newBase = new(uint256.Int).Add(info.BaseReserves, params.AmountIn)
		newQuote = new(uint256.Int).Sub(info.QuoteReserves, out)
	}

	if params.PriceLimit != nil && !params.PriceLimit.IsZero() {
		after := spotPrice(newBase, newQuote)
		if params.Direction == QuoteToBase && after.Gt(params.PriceLimit) {
			return nil, fmt.Errorf("%w: price %s above limit %s", ErrPriceLimitExceeded, after.Dec(), params.PriceLimit.Dec())
		}
		if params.Direction == BaseToQuote && after.Lt(params.PriceLimit) {
			return nil, fmt.Errorf("%w: price %s below limit %s", ErrPriceLimitExceeded, after.Dec(), params.PriceLimit.Dec())
		}
	}

	if err := m.pull(ctx, inAsset, params.Payer, params.AmountIn); err != nil {
		return nil, err
	}
	if err := m.assets[outAsset].Transfer(ctx, m.address, params.Recipient, out); err != nil {
		return nil, fmt.Errorf("failed to pay swap output: %w", err)
	}
	if params.Direction == BaseToQuote {
		m.shiftReserves(ctx, info, params.AmountIn, zero, zero, out)
	} else {
		m.shiftReserves(ctx, info, zero, out, params.AmountIn, zero)
	}

	m.logger.Debug("Swap executed",
		zap.String("pool", params.Pool.Hex()),
		zap.Stringer("direction", params.Direction),
		zap.String("amount_in", params.AmountIn.Dec()),
		zap.String("amount_out", out.Dec()))

	return out, nil
}

// Pool returns a snapshot of the pool.
func (m *Manager) Pool(poolAddr common.Address) (PoolInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.pools[poolAddr]
	if !ok {
		return PoolInfo{}, false
	}
	info := st.info
	info.BaseReserves = info.BaseReserves.Clone()
	info.QuoteReserves = info.QuoteReserves.Clone()
	info.LPSupply = info.LPSupply.Clone()
	info.InitialPrice = info.InitialPrice.Clone()
	return info, true
}

// FindPool returns the pool for the pair, if created.
func (m *Manager) FindPool(base, quote common.Address) (PoolInfo, error) {
	info, ok := m.Pool(m.PoolAddress(base, quote))
	if !ok {
		return PoolInfo{}, fmt.Errorf("%w: %s/%s", ErrPoolNotFound, base.Hex(), quote.Hex())
	}
	return info, nil
}

// SpotPrice returns the current quote per whole base token in wei.
func (m *Manager) SpotPrice(poolAddr common.Address) (*uint256.Int, error) {
	info, ok := m.Pool(poolAddr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, poolAddr.Hex())
	}
	return spotPrice(info.BaseReserves, info.QuoteReserves), nil
}

// Position returns a liquidity position by handle.
func (m *Manager) Position(id uint64) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[id]
	if !ok {
		return Position{}, false
	}
	cp := *pos
	cp.Liquidity = pos.Liquidity.Clone()
	return cp, true
}

// caller holds m.mu
func (m *Manager) quote(info *PoolInfo, amountIn *uint256.Int, direction Direction) (*uint256.Int, error) {
	var out *uint256.Int
	var err error
	if direction == BaseToQuote {
		out, err = calculateOutput(info.BaseReserves, info.QuoteReserves, amountIn, info.FeesBasisPoints)
	} else {
		out, err = calculateOutput(info.QuoteReserves, info.BaseReserves, amountIn, info.FeesBasisPoints)
	}
	if err != nil {
		return nil, err
	}
	if out.IsZero() {
		return nil, fmt.Errorf("%w: zero output for %s", ErrInsufficientLiquidity, amountIn.Dec())
	}
	return out, nil
}

// shiftReserves applies reserve deltas and journals their inverse. Caller holds m.mu.
func (m *Manager) shiftReserves(ctx context.Context, info *PoolInfo, addBase, subBase, addQuote, subQuote *uint256.Int) {
	info.BaseReserves.Add(info.BaseReserves, addBase)
	info.BaseReserves.Sub(info.BaseReserves, subBase)
	info.QuoteReserves.Add(info.QuoteReserves, addQuote)
	info.QuoteReserves.Sub(info.QuoteReserves, subQuote)

	ab, sb, aq, sq := addBase.Clone(), subBase.Clone(), addQuote.Clone(), subQuote.Clone()
	chain.Record(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		info.BaseReserves.Add(info.BaseReserves, sb)
		info.BaseReserves.Sub(info.BaseReserves, ab)
		info.QuoteReserves.Add(info.QuoteReserves, sq)
		info.QuoteReserves.Sub(info.QuoteReserves, aq)
	})
}

func (m *Manager) pull(ctx context.Context, assetAddr, from common.Address, amount *uint256.Int) error {
	asset, ok := m.assets[assetAddr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, assetAddr.Hex())
	}
	if err := asset.TransferFrom(ctx, m.address, from, m.address, amount); err != nil {
		return fmt.Errorf("failed to pull %s from %s: %w", amount.Dec(), from.Hex(), err)
	}
	return nil
}
