package market

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/curvemarket/internal/chain"
	"github.com/rovshanmuradov/curvemarket/internal/curve"
	"github.com/rovshanmuradov/curvemarket/internal/events"
	"github.com/rovshanmuradov/curvemarket/internal/pool"
	"github.com/rovshanmuradov/curvemarket/internal/weth"
)

type fixture struct {
	ctx      context.Context
	bank     *chain.Ledger
	weth     *weth.WETH
	pm       *pool.Manager
	rec      *events.Recorder
	curve    *curve.Curve
	m        *Market
	creator  common.Address
	platform common.Address
	origin   common.Address
	protocol common.Address
	referrer common.Address
}

func ether(s string) *uint256.Int {
	return curve.MustFromEther(s)
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()

	logger := zaptest.NewLogger(t)
	bank := chain.NewLedger()
	f := &fixture{
		ctx:      context.Background(),
		bank:     bank,
		weth:     weth.New(chain.NamedAddress("weth"), bank),
		pm:       pool.NewManager(logger),
		rec:      &events.Recorder{},
		curve:    curve.Default(),
		creator:  chain.NamedAddress("creator"),
		platform: chain.NamedAddress("platform"),
		origin:   chain.NamedAddress("origin"),
		protocol: chain.NamedAddress("protocol"),
		referrer: chain.NamedAddress("referrer"),
	}
	f.pm.RegisterAsset(f.ctx, f.weth)

	cfg := Config{
		Address:              chain.NamedAddress("token"),
		Name:                 "Test Content",
		Symbol:               "TEST",
		TokenURI:             "ipfs://test",
		TokenCreator:         f.creator,
		PlatformReferrer:     f.platform,
		OriginFeeRecipient:   f.origin,
		ProtocolFeeRecipient: f.protocol,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	m, err := New(cfg, DefaultParams(), Deps{
		Curve:  f.curve,
		Bank:   bank,
		WETH:   f.weth,
		Pool:   f.pm,
		Events: f.rec,
	}, logger)
	require.NoError(t, err)
	f.m = m
	return f
}

func (f *fixture) fund(t *testing.T, name string, amount string) common.Address {
	t.Helper()
	addr := chain.NamedAddress(name)
	require.NoError(t, f.bank.Mint(f.ctx, addr, ether(amount)))
	return addr
}

func (f *fixture) buy(t *testing.T, who common.Address, value string) BuyResult {
	t.Helper()
	res, err := f.m.Buy(f.ctx, who, ether(value), BuyParams{Recipient: who})
	require.NoError(t, err)
	return res
}

func (f *fixture) price(t *testing.T) *uint256.Int {
	t.Helper()
	p, err := f.m.GetCurrentPrice(f.ctx)
	require.NoError(t, err)
	return p
}

func TestNew_Validation(t *testing.T) {
	bank := chain.NewLedger()
	deps := Deps{Curve: curve.Default(), Bank: bank, WETH: weth.New(chain.NamedAddress("weth"), bank), Pool: pool.NewManager(zaptest.NewLogger(t))}
	cfg := Config{
		Address:              chain.NamedAddress("token"),
		TokenCreator:         chain.NamedAddress("creator"),
		ProtocolFeeRecipient: chain.NamedAddress("protocol"),
	}

	noCreator := cfg
	noCreator.TokenCreator = common.Address{}
	_, err := New(noCreator, DefaultParams(), deps, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrAddressZero)

	params := DefaultParams()
	params.TotalFeeBPS = 10_000
	_, err = New(cfg, params, deps, zaptest.NewLogger(t))
	assert.Error(t, err)

	m, err := New(cfg, DefaultParams(), deps, zaptest.NewLogger(t))
	require.NoError(t, err)
	typ, addr := m.State(context.Background())
	assert.Equal(t, BondingCurve, typ)
	assert.Equal(t, common.Address{}, addr)
}

func TestBuy_OneEtherFeeSplit(t *testing.T) {
	f := newFixture(t)
	buyer := f.fund(t, "buyer", "10")

	res, err := f.m.Buy(f.ctx, buyer, ether("1"), BuyParams{Recipient: buyer, OrderReferrer: f.referrer, Comment: "gm"})
	require.NoError(t, err)

	expectedTokens, err := f.curve.GetEthBuyQuote(new(uint256.Int), ether("0.9667"))
	require.NoError(t, err)

	assert.Equal(t, ether("0.0333").Dec(), res.Fee.Dec())
	assert.Equal(t, ether("0.9667").Dec(), res.NetEth.Dec())
	assert.Equal(t, expectedTokens.Dec(), res.TokensBought.Dec())
	assert.Equal(t, expectedTokens.Dec(), f.m.BalanceOf(buyer).Dec())
	assert.False(t, res.Graduated)

	assert.Equal(t, ether("0.01665").Dec(), f.bank.BalanceOf(f.creator).Dec())
	assert.Equal(t, ether("0.004995").Dec(), f.bank.BalanceOf(f.platform).Dec())
	assert.Equal(t, ether("0.004995").Dec(), f.bank.BalanceOf(f.referrer).Dec())
	assert.Equal(t, ether("0.00333").Dec(), f.bank.BalanceOf(f.origin).Dec())
	assert.Equal(t, ether("0.00333").Dec(), f.bank.BalanceOf(f.protocol).Dec())
	assert.Equal(t, ether("9").Dec(), f.bank.BalanceOf(buyer).Dec())

	snap := f.m.Snapshot(f.ctx)
	assert.Equal(t, ether("0.9667").Dec(), snap.Reserve.Dec())
	assert.Equal(t, snap.Reserve.Dec(), snap.NativeBalance.Dec())
	assert.Equal(t, expectedTokens.Dec(), snap.CurveSupply.Dec())

	evs := f.rec.Events()
	require.Len(t, evs, 2)
	fees, ok := evs[0].(*events.FeesEvent)
	require.True(t, ok)
	assert.Equal(t, ether("0.0333").Dec(), fees.TotalFee.Dec())
	trade, ok := evs[1].(*events.TradeEvent)
	require.True(t, ok)
	assert.Equal(t, events.TokenBuy, trade.Type())
	assert.Equal(t, "gm", trade.Comment)
	assert.Equal(t, "BONDING_CURVE", trade.MarketType)
	assert.Equal(t, expectedTokens.Dec(), trade.TotalSupply.Dec())
	assert.Equal(t, f.referrer, trade.OrderReferrer)
}

func TestBuy_FeeConservation(t *testing.T) {
	// No order referrer and no origin recipient: both shares go to the protocol.
	f := newFixture(t, func(c *Config) { c.OriginFeeRecipient = common.Address{} })
	buyer := f.fund(t, "buyer", "5")

	for _, value := range []string{"0.000000123456789", "0.0123", "0.777777777777777777", "1.5"} {
		before := map[common.Address]*uint256.Int{
			f.creator:  f.bank.BalanceOf(f.creator),
			f.platform: f.bank.BalanceOf(f.platform),
			f.protocol: f.bank.BalanceOf(f.protocol),
		}
		res := f.buy(t, buyer, value)

		paid := new(uint256.Int)
		for addr, prev := range before {
			paid.Add(paid, new(uint256.Int).Sub(f.bank.BalanceOf(addr), prev))
		}
		want := new(uint256.Int).Div(new(uint256.Int).Mul(ether(value), uint256.NewInt(333)), uint256.NewInt(10_000))
		assert.Equal(t, want.Dec(), paid.Dec(), value)
		assert.Equal(t, want.Dec(), res.Fee.Dec(), value)
	}
	assert.True(t, f.bank.BalanceOf(f.origin).IsZero())
}

func TestBuy_BelowMinOrderSizeChangesNothing(t *testing.T) {
	f := newFixture(t)
	buyer := f.fund(t, "buyer", "1")
	f.buy(t, buyer, "0.1")
	before := f.m.Snapshot(f.ctx)
	balance := f.bank.BalanceOf(buyer)

	dust := new(uint256.Int).Sub(f.m.Params().MinOrderSize, uint256.NewInt(1))
	_, err := f.m.Buy(f.ctx, buyer, dust, BuyParams{Recipient: buyer})
	assert.ErrorIs(t, err, ErrEthAmountTooSmall)

	assert.Equal(t, before, f.m.Snapshot(f.ctx))
	assert.Equal(t, balance.Dec(), f.bank.BalanceOf(buyer).Dec())
}

func TestBuy_Validation(t *testing.T) {
	f := newFixture(t)
	buyer := f.fund(t, "buyer", "1")

	_, err := f.m.Buy(f.ctx, buyer, ether("0.1"), BuyParams{})
	assert.ErrorIs(t, err, ErrAddressZero)

	_, err = f.m.Buy(f.ctx, buyer, ether("0.1"), BuyParams{Recipient: buyer, ExpectedMarketType: UniswapPool})
	assert.ErrorIs(t, err, ErrInvalidMarketType)

	_, err = f.m.Buy(f.ctx, buyer, ether("2"), BuyParams{Recipient: buyer})
	assert.ErrorIs(t, err, chain.ErrInsufficientBalance)

	assert.True(t, f.m.TotalSupply().IsZero())
}

func TestBuy_SlippageRevertsValueTransfer(t *testing.T) {
	f := newFixture(t)
	buyer := f.fund(t, "buyer", "1")

	quote, err := f.m.GetEthBuyQuote(f.ctx, ether("0.5"))
	require.NoError(t, err)

	_, err = f.m.Buy(f.ctx, buyer, ether("0.5"), BuyParams{Recipient: buyer, MinTokensOut: quote})
	assert.ErrorIs(t, err, ErrSlippageBoundsExceeded)
	assert.Equal(t, ether("1").Dec(), f.bank.BalanceOf(buyer).Dec())
	assert.True(t, f.bank.BalanceOf(f.m.Address()).IsZero())

	_, err = f.m.Buy(f.ctx, buyer, ether("0.5"), BuyParams{Recipient: buyer, PriceLimit: f.price(t)})
	assert.ErrorIs(t, err, ErrSlippageBoundsExceeded)
	assert.Empty(t, f.rec.Events())
}

func TestBuyThenSellHalf(t *testing.T) {
	f := newFixture(t)
	buyer := f.fund(t, "buyer", "2")

	priceBefore := f.price(t)
	res := f.buy(t, buyer, "1")
	priceAfterBuy := f.price(t)

	half := new(uint256.Int).Div(res.TokensBought, uint256.NewInt(2))
	quote, err := f.m.GetTokenSellQuote(f.ctx, half)
	require.NoError(t, err)

	sold, err := f.m.Sell(f.ctx, buyer, half, SellParams{Recipient: buyer, MinEthOut: quote})
	require.NoError(t, err)
	assert.Equal(t, quote.Dec(), sold.EthReceived.Dec())
	priceAfterSell := f.price(t)

	assert.True(t, priceAfterSell.Lt(priceAfterBuy))
	assert.True(t, priceAfterSell.Gt(priceBefore))

	// Selling back never returns more than was spent.
	assert.True(t, f.bank.BalanceOf(buyer).Lt(ether("2")))

	snap := f.m.Snapshot(f.ctx)
	assert.Equal(t, snap.Reserve.Dec(), snap.NativeBalance.Dec())
	assert.Equal(t, new(uint256.Int).Sub(res.TokensBought, half).Dec(), snap.TotalSupply.Dec())

	sells := f.rec.OfType(events.TokenSell)
	require.Len(t, sells, 1)
	assert.True(t, sells[0].(*events.TradeEvent).Fee.IsZero())
}

func TestSequentialBuyersPayMore(t *testing.T) {
	f := newFixture(t)

	var prevPrice *uint256.Int
	var prevTokens, prevValue *uint256.Int
	for i, value := range []string{"0.1", "0.5", "1.0"} {
		buyer := f.fund(t, "buyer-"+value, value)
		res := f.buy(t, buyer, value)
		price := f.price(t)

		if i > 0 {
			assert.True(t, price.Gt(prevPrice), "price after %s", value)
			// tokens/value < prevTokens/prevValue
			lhs := new(uint256.Int).Mul(res.TokensBought, prevValue)
			rhs := new(uint256.Int).Mul(prevTokens, ether(value))
			assert.True(t, lhs.Lt(rhs), "tokens per eth for %s", value)
		}
		prevPrice, prevTokens, prevValue = price, res.TokensBought, ether(value)
	}
}

func TestSell_Validation(t *testing.T) {
	f := newFixture(t)
	buyer := f.fund(t, "buyer", "1")
	res := f.buy(t, buyer, "0.5")

	_, err := f.m.Sell(f.ctx, buyer, res.TokensBought, SellParams{})
	assert.ErrorIs(t, err, ErrAddressZero)

	_, err = f.m.Sell(f.ctx, buyer, res.TokensBought, SellParams{Recipient: buyer, ExpectedMarketType: UniswapPool})
	assert.ErrorIs(t, err, ErrInvalidMarketType)

	more := new(uint256.Int).AddUint64(res.TokensBought, 1)
	_, err = f.m.Sell(f.ctx, buyer, more, SellParams{Recipient: buyer})
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)

	_, err = f.m.Sell(f.ctx, buyer, uint256.NewInt(1), SellParams{Recipient: buyer})
	assert.ErrorIs(t, err, ErrEthAmountTooSmall)

	_, err = f.m.Sell(f.ctx, buyer, res.TokensBought, SellParams{Recipient: buyer, PriceLimit: f.price(t)})
	assert.ErrorIs(t, err, ErrSlippageBoundsExceeded)

	_, err = f.m.Sell(f.ctx, buyer, res.TokensBought, SellParams{Recipient: buyer, MinEthOut: ether("1")})
	assert.ErrorIs(t, err, ErrSlippageBoundsExceeded)

	assert.Equal(t, res.TokensBought.Dec(), f.m.BalanceOf(buyer).Dec())
}

func TestReserveCoversFullExit(t *testing.T) {
	f := newFixture(t)
	values := []string{"0.3", "1.7", "0.05", "2.2", "0.9"}
	holders := make([]common.Address, len(values))
	for i, v := range values {
		holders[i] = f.fund(t, "holder-"+v, v)
		f.buy(t, holders[i], v)
	}

	// Exit in buy order so the early buyers sell at the top.
	for _, h := range holders {
		bal := f.m.BalanceOf(h)
		_, err := f.m.Sell(f.ctx, h, bal, SellParams{Recipient: h})
		require.NoError(t, err)
	}

	snap := f.m.Snapshot(f.ctx)
	assert.True(t, snap.TotalSupply.IsZero())
	assert.Equal(t, snap.Reserve.Dec(), snap.NativeBalance.Dec())
	assert.True(t, snap.Reserve.Lt(ether("0.000001")), "leftover reserve %s", snap.Reserve.Dec())
}

func TestGraduation(t *testing.T) {
	f := newFixture(t)
	early := f.fund(t, "early", "1")
	whale := f.fund(t, "whale", "20")
	refundTo := chain.NamedAddress("refund")

	f.buy(t, early, "1")
	before := f.m.Snapshot(f.ctx)

	res, err := f.m.Buy(f.ctx, whale, ether("15"), BuyParams{Recipient: whale, RefundRecipient: refundTo})
	require.NoError(t, err)
	require.True(t, res.Graduated)
	assert.Equal(t, UniswapPool, res.MarketType)

	params := f.m.Params()
	snap := f.m.Snapshot(f.ctx)
	assert.Equal(t, UniswapPool, snap.MarketType)
	assert.Equal(t, params.PrimarySupply.Dec(), snap.CurveSupply.Dec())
	assert.Equal(t, new(uint256.Int).Add(params.PrimarySupply, params.SecondarySupply).Dec(), snap.TotalSupply.Dec())
	assert.True(t, snap.Reserve.IsZero())
	assert.True(t, snap.NativeBalance.IsZero())
	assert.NotEqual(t, common.Address{}, snap.MarketAddress)

	wantTokens := new(uint256.Int).Sub(params.PrimarySupply, before.CurveSupply)
	assert.Equal(t, wantTokens.Dec(), res.TokensBought.Dec())

	// The whale paid exactly net + fee; the rest went to the refund recipient.
	spent := new(uint256.Int).Sub(ether("20"), f.bank.BalanceOf(whale))
	assert.Equal(t, ether("15").Dec(), spent.Dec())
	assert.Equal(t, res.Refund.Dec(), f.bank.BalanceOf(refundTo).Dec())
	total := new(uint256.Int).Add(res.NetEth, res.Fee)
	assert.Equal(t, ether("15").Dec(), total.Add(total, res.Refund).Dec())
	assert.Equal(t, f.m.Params().fee(res.NetEth).Dec(), res.Fee.Dec())

	info, ok := f.pm.Pool(snap.MarketAddress)
	require.True(t, ok)
	ethLiquidity := new(uint256.Int).Add(before.Reserve, res.NetEth)
	assert.Equal(t, ethLiquidity.Dec(), info.QuoteReserves.Dec())
	assert.Equal(t, params.SecondarySupply.Dec(), info.BaseReserves.Dec())
	assert.Equal(t, ethLiquidity.Dec(), f.bank.BalanceOf(f.weth.Address()).Dec())

	pos, ok := f.pm.Position(snap.PositionID)
	require.True(t, ok)
	assert.Equal(t, f.m.Address(), pos.Owner)

	grads := f.rec.OfType(events.MarketGraduated)
	require.Len(t, grads, 1)
	g := grads[0].(*events.GraduatedEvent)
	assert.Equal(t, ethLiquidity.Dec(), g.EthLiquidity.Dec())
	assert.Equal(t, snap.PositionID, g.PositionID)
	assert.Equal(t, "UNISWAP_POOL", g.MarketType)

	_, err = f.m.GetEthBuyQuote(f.ctx, ether("1"))
	assert.ErrorIs(t, err, ErrMarketAlreadyGraduated)
	_, err = f.m.GetCurrentPrice(f.ctx)
	assert.ErrorIs(t, err, ErrMarketAlreadyGraduated)

	_, err = f.m.Buy(f.ctx, early, ether("0.01"), BuyParams{Recipient: early})
	assert.ErrorIs(t, err, ErrInvalidMarketType)
}

func TestGraduation_ExactFill(t *testing.T) {
	f := newFixture(t)
	whale := f.fund(t, "whale", "20")

	cost, err := f.m.GetTokenBuyQuote(f.ctx, f.m.Params().PrimarySupply)
	require.NoError(t, err)
	// Gross up so that net covers the cost exactly after the fee.
	value := new(uint256.Int).Div(new(uint256.Int).Mul(cost, uint256.NewInt(10_000)), uint256.NewInt(10_000-333))
	value.AddUint64(value, 1_000)

	res, err := f.m.Buy(f.ctx, whale, value, BuyParams{Recipient: whale})
	require.NoError(t, err)
	assert.True(t, res.Graduated)
	assert.Equal(t, f.m.Params().PrimarySupply.Dec(), f.m.BalanceOf(whale).Dec())
	assert.True(t, res.NetEth.Cmp(cost) <= 0)
}

func TestPoolTradingAfterGraduation(t *testing.T) {
	f := newFixture(t)
	whale := f.fund(t, "whale", "20")
	f.buy(t, whale, "15")
	_, poolAddr := f.m.State(f.ctx)

	trader := f.fund(t, "trader", "2")
	before, ok := f.pm.Pool(poolAddr)
	require.True(t, ok)

	res, err := f.m.Buy(f.ctx, trader, ether("1"), BuyParams{Recipient: trader, ExpectedMarketType: UniswapPool, OrderReferrer: f.referrer})
	require.NoError(t, err)
	assert.Equal(t, UniswapPool, res.MarketType)
	assert.False(t, res.TokensBought.IsZero())
	assert.Equal(t, res.TokensBought.Dec(), f.m.BalanceOf(trader).Dec())
	assert.Equal(t, ether("0.004995").Dec(), f.bank.BalanceOf(f.referrer).Dec())

	after, _ := f.pm.Pool(poolAddr)
	assert.Equal(t, new(uint256.Int).Add(before.QuoteReserves, ether("0.9667")).Dec(), after.QuoteReserves.Dec())
	assert.True(t, f.bank.BalanceOf(f.m.Address()).IsZero())

	// A bound the pool cannot meet reverts the whole order.
	traderBalance := f.bank.BalanceOf(trader)
	_, err = f.m.Buy(f.ctx, trader, ether("0.5"), BuyParams{Recipient: trader, ExpectedMarketType: UniswapPool, MinTokensOut: f.m.TotalSupply()})
	assert.ErrorIs(t, err, ErrSlippageBoundsExceeded)
	assert.ErrorIs(t, err, pool.ErrSlippageExceeded)
	assert.Equal(t, traderBalance.Dec(), f.bank.BalanceOf(trader).Dec())

	half := new(uint256.Int).Div(res.TokensBought, uint256.NewInt(2))
	sold, err := f.m.Sell(f.ctx, trader, half, SellParams{Recipient: trader, ExpectedMarketType: UniswapPool})
	require.NoError(t, err)
	assert.False(t, sold.EthReceived.IsZero())
	assert.Equal(t, new(uint256.Int).Add(traderBalance, sold.EthReceived).Dec(), f.bank.BalanceOf(trader).Dec())
	assert.Equal(t, new(uint256.Int).Sub(res.TokensBought, half).Dec(), f.m.BalanceOf(trader).Dec())
	assert.True(t, f.weth.BalanceOf(f.m.Address()).IsZero())

	_, err = f.m.Sell(f.ctx, trader, half, SellParams{Recipient: trader, ExpectedMarketType: BondingCurve})
	assert.ErrorIs(t, err, ErrInvalidMarketType)

	trades := f.rec.OfType(events.TokenSell)
	require.Len(t, trades, 1)
	assert.Equal(t, "UNISWAP_POOL", trades[0].(*events.TradeEvent).MarketType)
}

func TestGraduation_FailureLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	early := f.fund(t, "early", "1")
	whale := f.fund(t, "whale", "20")
	f.buy(t, early, "1")

	// A pool for the pair already exists, so graduation fails after the
	// reserve has been wrapped and the pool supply minted.
	f.pm.RegisterAsset(f.ctx, f.m)
	_, err := f.pm.CreateAndSeedPool(f.ctx, f.m.Address(), f.weth.Address(), f.price(t))
	require.NoError(t, err)

	before := f.m.Snapshot(f.ctx)
	emitted := len(f.rec.Events())

	_, err = f.m.Buy(f.ctx, whale, ether("15"), BuyParams{Recipient: whale})
	require.ErrorIs(t, err, pool.ErrPoolExists)

	assert.Equal(t, before, f.m.Snapshot(f.ctx))
	assert.Equal(t, BondingCurve, before.MarketType)
	assert.Equal(t, ether("20").Dec(), f.bank.BalanceOf(whale).Dec())
	assert.True(t, f.m.BalanceOf(whale).IsZero())
	assert.True(t, f.m.BalanceOf(f.m.Address()).IsZero())
	assert.True(t, f.weth.BalanceOf(f.m.Address()).IsZero())
	assert.True(t, f.weth.TotalSupply().IsZero())
	assert.True(t, f.bank.BalanceOf(f.weth.Address()).IsZero())
	assert.Len(t, f.rec.Events(), emitted)
}

func TestRevertedBuyDoesNotLeakFees(t *testing.T) {
	f := newFixture(t)
	buyer := f.fund(t, "buyer", "1")
	sink := chain.NamedAddress("sink")

	// The creator tries to move its fee out from another goroutine while the
	// buy is still running; the origin payout then fails the buy.
	var spendErr error
	f.bank.SetReceiveHook(f.creator, func(_ context.Context, _ common.Address, amount *uint256.Int) error {
		done := make(chan error, 1)
		go func() { done <- f.bank.Transfer(context.Background(), f.creator, sink, amount) }()
		spendErr = <-done
		return nil
	})
	f.bank.SetReceiveHook(f.origin, func(context.Context, common.Address, *uint256.Int) error {
		return errors.New("origin rejects payment")
	})

	_, err := f.m.Buy(f.ctx, buyer, ether("1"), BuyParams{Recipient: buyer})
	require.Error(t, err)
	assert.ErrorIs(t, spendErr, chain.ErrInsufficientBalance)

	total := new(uint256.Int)
	for _, a := range []common.Address{buyer, sink, f.creator, f.platform, f.origin, f.protocol, f.m.Address()} {
		total.Add(total, f.bank.BalanceOf(a))
	}
	assert.Equal(t, ether("1").Dec(), total.Dec())
	assert.Equal(t, ether("1").Dec(), f.bank.BalanceOf(buyer).Dec())
	assert.True(t, f.bank.BalanceOf(sink).IsZero())
	assert.True(t, f.m.TotalSupply().IsZero())
}

func TestReentrantBuyIsRejected(t *testing.T) {
	f := newFixture(t)
	buyer := f.fund(t, "buyer", "2")

	var inner error
	f.bank.SetReceiveHook(f.creator, func(ctx context.Context, _ common.Address, _ *uint256.Int) error {
		_, inner = f.m.Buy(ctx, f.creator, ether("0.01"), BuyParams{Recipient: f.creator})
		return inner
	})

	_, err := f.m.Buy(f.ctx, buyer, ether("1"), BuyParams{Recipient: buyer})
	require.Error(t, err)
	assert.ErrorIs(t, inner, ErrReentrantCall)
	assert.ErrorIs(t, err, ErrReentrantCall)

	assert.Equal(t, ether("2").Dec(), f.bank.BalanceOf(buyer).Dec())
	assert.True(t, f.m.TotalSupply().IsZero())
	assert.True(t, f.m.Snapshot(f.ctx).Reserve.IsZero())
	assert.Empty(t, f.rec.Events())
}

func TestReentrantReadSeesUpdatedState(t *testing.T) {
	f := newFixture(t)
	buyer := f.fund(t, "buyer", "2")

	var seen Snapshot
	f.bank.SetReceiveHook(f.creator, func(ctx context.Context, _ common.Address, _ *uint256.Int) error {
		seen = f.m.Snapshot(ctx)
		return nil
	})

	res := f.buy(t, buyer, "1")
	assert.Equal(t, res.NetEth.Dec(), seen.Reserve.Dec())
	assert.Equal(t, res.TokensBought.Dec(), seen.TotalSupply.Dec())
}

func TestConcurrentBuysStayConsistent(t *testing.T) {
	f := newFixture(t)

	var g errgroup.Group
	buyers := make([]common.Address, 8)
	for i := range buyers {
		buyers[i] = f.fund(t, "buyer-"+string(rune('a'+i)), "1")
	}
	for _, b := range buyers {
		b := b
		g.Go(func() error {
			_, err := f.m.Buy(context.Background(), b, ether("0.25"), BuyParams{Recipient: b})
			return err
		})
	}
	require.NoError(t, g.Wait())

	sum := new(uint256.Int)
	for _, b := range buyers {
		sum.Add(sum, f.m.BalanceOf(b))
	}
	snap := f.m.Snapshot(f.ctx)
	assert.Equal(t, sum.Dec(), snap.TotalSupply.Dec())
	assert.Equal(t, snap.Reserve.Dec(), snap.NativeBalance.Dec())
	assert.Equal(t, new(uint256.Int).Mul(ether("0.241675"), uint256.NewInt(8)).Dec(), snap.Reserve.Dec())
	assert.Len(t, f.rec.OfType(events.TokenBuy), len(buyers))
}

func TestIsInvariant(t *testing.T) {
	assert.True(t, IsInvariant(ErrInvariantViolation))
	assert.True(t, IsInvariant(curve.ErrOverflow))
	assert.False(t, IsInvariant(ErrSlippageBoundsExceeded))
	assert.False(t, IsInvariant(errors.New("other")))
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("uniswap_pool")
	require.NoError(t, err)
	assert.Equal(t, UniswapPool, typ)
	assert.Equal(t, "BONDING_CURVE", BondingCurve.String())

	_, err = ParseType("orderbook")
	assert.Error(t, err)
}
