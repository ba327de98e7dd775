// internal/indexer/indexer.go
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curvemarket/internal/events"
	"github.com/rovshanmuradov/curvemarket/internal/storage"
	"github.com/rovshanmuradov/curvemarket/internal/storage/models"
)

// Store is the part of storage.Storage the indexer writes to.
type Store interface {
	SaveTrade(ctx context.Context, trade *models.Trade) error
	SaveRegistration(ctx context.Context, reg *models.Registration) error
	UpsertMarket(ctx context.Context, m *models.Market) error
}

var _ Store = (storage.Storage)(nil)

// PriceCache receives the last price of every market after each trade.
type PriceCache interface {
	SetPrice(ctx context.Context, token common.Address, price *uint256.Int, marketType string, ts time.Time) error
}

// Recorder receives indexing metrics.
type Recorder interface {
	RecordTrade(side, venue string, ethWei *uint256.Int)
	RecordFees(feeWei *uint256.Int)
	RecordLifecycle(event string)
	SetPrice(token string, priceWei *uint256.Int)
	RecordIndexerError(operation string)
}

// Options control persistence retries.
type Options struct {
	MaxRetries      uint
	InitialInterval time.Duration
}

// DefaultOptions возвращает настройки по умолчанию.
func DefaultOptions() Options {
	return Options{
		MaxRetries:      5,
		InitialInterval: 100 * time.Millisecond,
	}
}

// Deps are the optional sinks of the indexer. Any of them may be nil.
type Deps struct {
	Store   Store
	Cache   PriceCache
	Metrics Recorder
}

// MarketState is a market as reconstructed from its events alone.
type MarketState struct {
	Token          common.Address
	ContentID      string
	Creator        common.Address
	MarketType     string
	TotalSupply    *uint256.Int
	LastPrice      *uint256.Int
	BuyVolume      *uint256.Int
	SellVolume     *uint256.Int
	FeeVolume      *uint256.Int
	TradeCount     int64
	Pool           common.Address
	PositionID     uint64
	EthLiquidity   *uint256.Int
	TokenLiquidity *uint256.Int
	GraduatedAt    *time.Time
	LastTradeAt    *time.Time
}

func newMarketState(token common.Address) *MarketState {
	return &MarketState{
		Token:          token,
		MarketType:     "BONDING_CURVE",
		TotalSupply:    new(uint256.Int),
		LastPrice:      new(uint256.Int),
		BuyVolume:      new(uint256.Int),
		SellVolume:     new(uint256.Int),
		FeeVolume:      new(uint256.Int),
		EthLiquidity:   new(uint256.Int),
		TokenLiquidity: new(uint256.Int),
	}
}

func (s *MarketState) clone() MarketState {
	cp := *s
	cp.TotalSupply = s.TotalSupply.Clone()
	cp.LastPrice = s.LastPrice.Clone()
	cp.BuyVolume = s.BuyVolume.Clone()
	cp.SellVolume = s.SellVolume.Clone()
	cp.FeeVolume = s.FeeVolume.Clone()
	cp.EthLiquidity = s.EthLiquidity.Clone()
	cp.TokenLiquidity = s.TokenLiquidity.Clone()
	return cp
}

// Indexer rebuilds market state from the event stream and persists it.
// Events must be delivered in publish order, which events.Bus guarantees.
type Indexer struct {
	logger *zap.Logger
	deps   Deps
	opts   Options

	mu       sync.RWMutex
	markets  map[common.Address]*MarketState
	contents map[common.Address]registered
}

type registered struct {
	contentID string
	creator   common.Address
}

// New creates an indexer.
func New(logger *zap.Logger, deps Deps, opts ...Options) *Indexer {
	options := DefaultOptions()
	if len(opts) > 0 {
		options = opts[0]
	}
	return &Indexer{
		logger:   logger.Named("indexer"),
		deps:     deps,
		opts:     options,
		markets:  make(map[common.Address]*MarketState),
		contents: make(map[common.Address]registered),
	}
}

// Attach subscribes the indexer to every event on bus.
func (ix *Indexer) Attach(bus *events.Bus) events.Subscription {
	return bus.SubscribeAll(ix)
}

// State returns the indexed state of token.
func (ix *Indexer) State(token common.Address) (MarketState, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	s, ok := ix.markets[token]
	if !ok {
		return MarketState{}, false
	}
	return s.clone(), true
}

// States returns all indexed markets ordered by token.
func (ix *Indexer) States() []MarketState {
	ix.mu.RLock()
	out := make([]MarketState, 0, len(ix.markets))
	for _, s := range ix.markets {
		out = append(out, s.clone())
	}
	ix.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Token.Cmp(out[j].Token) < 0
	})
	return out
}

// Handle implements events.Handler.
func (ix *Indexer) Handle(ctx context.Context, event events.Event) error {
	switch ev := event.(type) {
	case *events.RegisteredEvent:
		return ix.onRegistered(ctx, ev)
	case *events.DeployedEvent:
		return ix.onDeployed(ctx, ev)
	case *events.TradeEvent:
		return ix.onTrade(ctx, ev)
	case *events.FeesEvent:
		return ix.onFees(ev)
	case *events.GraduatedEvent:
		return ix.onGraduated(ctx, ev)
	default:
		ix.logger.Debug("Ignoring event", zap.String("event_type", string(event.Type())))
		return nil
	}
}

func (ix *Indexer) onRegistered(ctx context.Context, ev *events.RegisteredEvent) error {
	ix.mu.Lock()
	ix.contents[ev.Token] = registered{contentID: ev.ContentID, creator: ev.Creator}
	ix.mu.Unlock()

	if ix.deps.Metrics != nil {
		ix.deps.Metrics.RecordLifecycle("registered")
	}
	if ix.deps.Store == nil {
		return nil
	}
	return ix.persist(ctx, "save_registration", func(ctx context.Context) error {
		return ix.deps.Store.SaveRegistration(ctx, &models.Registration{
			ContentID:        ev.ContentID,
			Token:            ev.Token.Hex(),
			Creator:          ev.Creator.Hex(),
			PlatformReferrer: hexOrEmpty(ev.PlatformReferrer),
			Name:             ev.Name,
			Symbol:           ev.Symbol,
			URI:              ev.URI,
			RegisteredAt:     ev.Timestamp(),
		})
	})
}

func (ix *Indexer) onDeployed(ctx context.Context, ev *events.DeployedEvent) error {
	ix.mu.Lock()
	s := ix.market(ev.Token)
	s.ContentID = ev.ContentID
	s.Creator = ev.Creator
	snapshot := s.clone()
	ix.mu.Unlock()

	if ix.deps.Metrics != nil {
		ix.deps.Metrics.RecordLifecycle("deployed")
	}
	return ix.saveMarket(ctx, snapshot)
}

func (ix *Indexer) onFees(ev *events.FeesEvent) error {
	ix.mu.Lock()
	s := ix.market(ev.Token)
	s.FeeVolume.Add(s.FeeVolume, ev.TotalFee)
	ix.mu.Unlock()

	if ix.deps.Metrics != nil {
		ix.deps.Metrics.RecordFees(ev.TotalFee)
	}
	return nil
}

func (ix *Indexer) onTrade(ctx context.Context, ev *events.TradeEvent) error {
	side := models.SideBuy
	if ev.Type() == events.TokenSell {
		side = models.SideSell
	}
	ts := ev.Timestamp()

	ix.mu.Lock()
	s := ix.market(ev.Token)
	s.TotalSupply = ev.TotalSupply.Clone()
	s.LastPrice = ev.Price.Clone()
	s.MarketType = ev.MarketType
	s.TradeCount++
	s.LastTradeAt = &ts
	if side == models.SideBuy {
		s.BuyVolume.Add(s.BuyVolume, ev.TotalEth)
	} else {
		s.SellVolume.Add(s.SellVolume, ev.TotalEth)
	}
	snapshot := s.clone()
	ix.mu.Unlock()

	if ix.deps.Metrics != nil {
		ix.deps.Metrics.RecordTrade(side, ev.MarketType, ev.TotalEth)
		ix.deps.Metrics.SetPrice(ev.Token.Hex(), ev.Price)
	}

	var errs []error
	if ix.deps.Store != nil {
		errs = append(errs, ix.persist(ctx, "save_trade", func(ctx context.Context) error {
			return ix.deps.Store.SaveTrade(ctx, &models.Trade{
				Token:            ev.Token.Hex(),
				Side:             side,
				Trader:           ev.Trader.Hex(),
				Recipient:        ev.Recipient.Hex(),
				OrderReferrer:    hexOrEmpty(ev.OrderReferrer),
				TotalEth:         models.Wei(ev.TotalEth),
				Fee:              models.Wei(ev.Fee),
				NetEth:           models.Wei(ev.NetEth),
				TokenAmount:      models.Wei(ev.TokenAmount),
				ResultingBalance: models.Wei(ev.ResultingBalance),
				TotalSupply:      models.Wei(ev.TotalSupply),
				Price:            models.Wei(ev.Price),
				MarketType:       ev.MarketType,
				Comment:          ev.Comment,
				ExecutedAt:       ts,
			})
		}))
		errs = append(errs, ix.saveMarket(ctx, snapshot))
	}
	if ix.deps.Cache != nil {
		errs = append(errs, ix.persist(ctx, "cache_price", func(ctx context.Context) error {
			return ix.deps.Cache.SetPrice(ctx, ev.Token, ev.Price, ev.MarketType, ts)
		}))
	}
	return errors.Join(errs...)
}

func (ix *Indexer) onGraduated(ctx context.Context, ev *events.GraduatedEvent) error {
	ts := ev.Timestamp()

	ix.mu.Lock()
	s := ix.market(ev.Token)
	s.MarketType = ev.MarketType
	s.Pool = ev.Pool
	s.PositionID = ev.PositionID
	s.EthLiquidity = ev.EthLiquidity.Clone()
	s.TokenLiquidity = ev.TokenLiquidity.Clone()
	s.GraduatedAt = &ts
	snapshot := s.clone()
	ix.mu.Unlock()

	ix.logger.Info("Market graduated",
		zap.String("token", ev.Token.Hex()),
		zap.String("pool", ev.Pool.Hex()),
		zap.String("eth_liquidity", ev.EthLiquidity.Dec()))

	if ix.deps.Metrics != nil {
		ix.deps.Metrics.RecordLifecycle("graduated")
	}
	return ix.saveMarket(ctx, snapshot)
}

// market returns the state of token, creating it on first sight. Caller holds ix.mu.
func (ix *Indexer) market(token common.Address) *MarketState {
	s, ok := ix.markets[token]
	if !ok {
		s = newMarketState(token)
		if reg, ok := ix.contents[token]; ok {
			s.ContentID = reg.contentID
			s.Creator = reg.creator
		}
		ix.markets[token] = s
	}
	return s
}

func (ix *Indexer) saveMarket(ctx context.Context, s MarketState) error {
	if ix.deps.Store == nil {
		return nil
	}
	row := &models.Market{
		Token:          s.Token.Hex(),
		ContentID:      s.ContentID,
		MarketType:     s.MarketType,
		TotalSupply:    models.Wei(s.TotalSupply),
		LastPrice:      models.Wei(s.LastPrice),
		BuyVolume:      models.Wei(s.BuyVolume),
		SellVolume:     models.Wei(s.SellVolume),
		FeeVolume:      models.Wei(s.FeeVolume),
		TradeCount:     s.TradeCount,
		PositionID:     s.PositionID,
		EthLiquidity:   models.Wei(s.EthLiquidity),
		TokenLiquidity: models.Wei(s.TokenLiquidity),
		GraduatedAt:    s.GraduatedAt,
		LastTradeAt:    s.LastTradeAt,
	}
	if s.Pool != (common.Address{}) {
		row.PoolAddress = s.Pool.Hex()
	}
	return ix.persist(ctx, "upsert_market", func(ctx context.Context) error {
		return ix.deps.Store.UpsertMarket(ctx, row)
	})
}

// persist runs op with exponential backoff.
func (ix *Indexer) persist(ctx context.Context, name string, op func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = ix.opts.InitialInterval
	policy.MaxInterval = ix.opts.InitialInterval * 10

	notify := func(err error, d time.Duration) {
		ix.logger.Warn("Повтор попытки после ошибки", zap.String("operation", name), zap.Error(err), zap.Duration("backoff", d))
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, op(ctx)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(ix.opts.MaxRetries),
		backoff.WithNotify(notify))
	if err != nil {
		ix.logger.Error("Indexing operation failed", zap.String("operation", name), zap.Error(err))
		if ix.deps.Metrics != nil {
			ix.deps.Metrics.RecordIndexerError(name)
		}
		return fmt.Errorf("failed to %s: %w", name, err)
	}
	return nil
}

func hexOrEmpty(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}
