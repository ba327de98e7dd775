package factory

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/curvemarket/internal/chain"
	"github.com/rovshanmuradov/curvemarket/internal/curve"
	"github.com/rovshanmuradov/curvemarket/internal/events"
	"github.com/rovshanmuradov/curvemarket/internal/market"
	"github.com/rovshanmuradov/curvemarket/internal/pool"
	"github.com/rovshanmuradov/curvemarket/internal/weth"
)

type fixture struct {
	ctx   context.Context
	bank  *chain.Ledger
	pm    *pool.Manager
	rec   *events.Recorder
	f     *Factory
	owner common.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := zaptest.NewLogger(t)
	bank := chain.NewLedger()
	w := weth.New(chain.NamedAddress("weth"), bank)
	pm := pool.NewManager(logger)
	pm.RegisterAsset(context.Background(), w)
	rec := &events.Recorder{}

	owner := chain.NamedAddress("owner")
	f, err := New(Options{
		Address: chain.NamedAddress("factory"),
		Params:  market.DefaultParams(),
		Protocol: ProtocolConfig{
			Owner:                owner,
			ProtocolFeeRecipient: chain.NamedAddress("protocol"),
		},
	}, market.Deps{Curve: curve.Default(), Bank: bank, WETH: w, Pool: pm, Events: rec}, logger)
	require.NoError(t, err)

	return &fixture{ctx: context.Background(), bank: bank, pm: pm, rec: rec, f: f, owner: owner}
}

func TestGetTokenAddress_Deterministic(t *testing.T) {
	fx := newFixture(t)

	a := fx.f.GetTokenAddress("https://example.com/post/1")
	assert.Equal(t, a, fx.f.GetTokenAddress("https://example.com/post/1"))
	assert.NotEqual(t, a, fx.f.GetTokenAddress("https://example.com/post/2"))
	assert.Equal(t, chain.DeriveAddress(fx.f.Address().Bytes(), []byte("https://example.com/post/1")), a)
}

func TestRegisterToken(t *testing.T) {
	fx := newFixture(t)
	creator := chain.NamedAddress("creator")
	meta := ContentMeta{ContentID: "post-1", Name: "Post One", Symbol: "POST1", URI: "ipfs://post-1"}

	token, err := fx.f.RegisterToken(fx.ctx, creator, meta)
	require.NoError(t, err)
	assert.Equal(t, fx.f.GetTokenAddress("post-1"), token)
	assert.False(t, fx.f.IsTokenDeployed("post-1"))

	reg, err := fx.f.Registration("post-1")
	require.NoError(t, err)
	assert.Equal(t, creator, reg.Creator)
	assert.Equal(t, "POST1", reg.Symbol)

	_, err = fx.f.RegisterToken(fx.ctx, creator, meta)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	_, err = fx.f.RegisterToken(fx.ctx, common.Address{}, ContentMeta{ContentID: "post-2"})
	assert.ErrorIs(t, err, market.ErrAddressZero)

	_, err = fx.f.RegisterToken(fx.ctx, creator, ContentMeta{})
	assert.ErrorIs(t, err, ErrInvalidContentID)

	require.Len(t, fx.rec.OfType(events.TokenRegistered), 1)
}

func TestBatchRegister(t *testing.T) {
	fx := newFixture(t)
	a, b := chain.NamedAddress("a"), chain.NamedAddress("b")

	_, err := fx.f.BatchRegister(fx.ctx, []common.Address{a}, []ContentMeta{{ContentID: "1"}, {ContentID: "2"}})
	assert.ErrorIs(t, err, ErrArrayLengthMismatch)

	// The duplicate in the last entry rolls back the first two.
	_, err = fx.f.BatchRegister(fx.ctx, []common.Address{a, b, a}, []ContentMeta{{ContentID: "1"}, {ContentID: "2"}, {ContentID: "1"}})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
	_, err = fx.f.Registration("1")
	assert.ErrorIs(t, err, ErrNotRegistered)
	assert.Empty(t, fx.rec.Events())

	tokens, err := fx.f.BatchRegister(fx.ctx, []common.Address{a, b}, []ContentMeta{{ContentID: "1"}, {ContentID: "2"}})
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, fx.f.GetTokenAddress("2"), tokens[1])
	assert.Len(t, fx.rec.OfType(events.TokenRegistered), 2)
}

func TestDeployAndBuy(t *testing.T) {
	fx := newFixture(t)
	creator := chain.NamedAddress("creator")
	buyer := chain.NamedAddress("buyer")
	require.NoError(t, fx.bank.Mint(fx.ctx, buyer, curve.MustFromEther("3")))

	_, err := fx.f.DeployAndBuy(fx.ctx, buyer, curve.MustFromEther("1"), "post-1", market.BuyParams{Recipient: buyer})
	assert.ErrorIs(t, err, ErrNotRegistered)

	_, err = fx.f.RegisterToken(fx.ctx, creator, ContentMeta{ContentID: "post-1", Name: "Post", Symbol: "P1"})
	require.NoError(t, err)

	first, err := fx.f.DeployAndBuy(fx.ctx, buyer, curve.MustFromEther("1"), "post-1", market.BuyParams{Recipient: buyer})
	require.NoError(t, err)
	assert.True(t, first.Deployed)
	assert.True(t, fx.f.IsTokenDeployed("post-1"))

	m, ok := fx.f.Market(first.Token)
	require.True(t, ok)
	assert.Equal(t, "P1", m.Symbol())
	assert.Equal(t, creator, m.Config().TokenCreator)
	assert.Equal(t, first.TokensBought.Dec(), m.BalanceOf(buyer).Dec())

	second, err := fx.f.DeployAndBuy(fx.ctx, buyer, curve.MustFromEther("1"), "post-1", market.BuyParams{Recipient: buyer})
	require.NoError(t, err)
	assert.False(t, second.Deployed)
	assert.True(t, second.TokensBought.Lt(first.TokensBought))
	assert.Len(t, fx.f.Markets(), 1)

	deployed := fx.rec.OfType(events.TokenDeployed)
	require.Len(t, deployed, 1)
	assert.Equal(t, "post-1", deployed[0].(*events.DeployedEvent).ContentID)
}

func TestDeployAndBuy_FailedBuyLeavesNothingDeployed(t *testing.T) {
	fx := newFixture(t)
	buyer := chain.NamedAddress("buyer")
	require.NoError(t, fx.bank.Mint(fx.ctx, buyer, curve.MustFromEther("1")))
	_, err := fx.f.RegisterToken(fx.ctx, chain.NamedAddress("creator"), ContentMeta{ContentID: "post-1"})
	require.NoError(t, err)

	_, err = fx.f.DeployAndBuy(fx.ctx, buyer, curve.MustFromEther("2"), "post-1", market.BuyParams{Recipient: buyer})
	assert.ErrorIs(t, err, chain.ErrInsufficientBalance)
	assert.False(t, fx.f.IsTokenDeployed("post-1"))
	assert.Empty(t, fx.rec.OfType(events.TokenDeployed))

	res, err := fx.f.DeployAndBuy(fx.ctx, buyer, curve.MustFromEther("0.5"), "post-1", market.BuyParams{Recipient: buyer})
	require.NoError(t, err)
	assert.True(t, res.Deployed)
}

func TestDeployAndBuy_FailedGraduationLeavesPoolUntouched(t *testing.T) {
	fx := newFixture(t)
	whale := chain.NamedAddress("whale")
	refund := chain.NamedAddress("refund")
	require.NoError(t, fx.bank.Mint(fx.ctx, whale, curve.MustFromEther("20")))
	_, err := fx.f.RegisterToken(fx.ctx, chain.NamedAddress("creator"), ContentMeta{ContentID: "post-1"})
	require.NoError(t, err)
	token := fx.f.GetTokenAddress("post-1")

	// The first buy graduates the market, then the refund is rejected.
	fx.bank.SetReceiveHook(refund, func(context.Context, common.Address, *uint256.Int) error {
		return errors.New("refund rejected")
	})
	_, err = fx.f.DeployAndBuy(fx.ctx, whale, curve.MustFromEther("15"), "post-1", market.BuyParams{Recipient: whale, RefundRecipient: refund})
	require.Error(t, err)

	assert.False(t, fx.f.IsTokenDeployed("post-1"))
	assert.False(t, fx.pm.HasAsset(token))
	_, err = fx.pm.FindPool(token, chain.NamedAddress("weth"))
	assert.ErrorIs(t, err, pool.ErrPoolNotFound)
	assert.Equal(t, curve.MustFromEther("20").Dec(), fx.bank.BalanceOf(whale).Dec())

	fx.bank.SetReceiveHook(refund, nil)
	res, err := fx.f.DeployAndBuy(fx.ctx, whale, curve.MustFromEther("15"), "post-1", market.BuyParams{Recipient: whale, RefundRecipient: refund})
	require.NoError(t, err)
	assert.True(t, res.Graduated)
	assert.True(t, fx.pm.HasAsset(token))
}

func TestAdmin(t *testing.T) {
	fx := newFixture(t)
	stranger := chain.NamedAddress("stranger")
	newProtocol := chain.NamedAddress("protocol-2")

	assert.ErrorIs(t, fx.f.SetProtocolFeeRecipient(stranger, newProtocol), ErrUnauthorized)
	assert.ErrorIs(t, fx.f.SetProtocolFeeRecipient(fx.owner, common.Address{}), market.ErrAddressZero)

	_, err := fx.f.RegisterToken(fx.ctx, chain.NamedAddress("creator"), ContentMeta{ContentID: "early"})
	require.NoError(t, err)
	_, err = fx.f.RegisterToken(fx.ctx, chain.NamedAddress("creator"), ContentMeta{ContentID: "late"})
	require.NoError(t, err)

	buyer := chain.NamedAddress("buyer")
	require.NoError(t, fx.bank.Mint(fx.ctx, buyer, curve.MustFromEther("1")))
	early, err := fx.f.DeployAndBuy(fx.ctx, buyer, curve.MustFromEther("0.1"), "early", market.BuyParams{Recipient: buyer})
	require.NoError(t, err)

	require.NoError(t, fx.f.SetProtocolFeeRecipient(fx.owner, newProtocol))
	require.NoError(t, fx.f.SetOriginFeeRecipient(fx.owner, chain.NamedAddress("origin")))

	late, err := fx.f.DeployAndBuy(fx.ctx, buyer, curve.MustFromEther("0.1"), "late", market.BuyParams{Recipient: buyer})
	require.NoError(t, err)

	earlyMarket, _ := fx.f.Market(early.Token)
	lateMarket, _ := fx.f.Market(late.Token)
	assert.Equal(t, chain.NamedAddress("protocol"), earlyMarket.Config().ProtocolFeeRecipient)
	assert.Equal(t, newProtocol, lateMarket.Config().ProtocolFeeRecipient)
	assert.Equal(t, chain.NamedAddress("origin"), lateMarket.Config().OriginFeeRecipient)

	newOwner := chain.NamedAddress("owner-2")
	require.NoError(t, fx.f.TransferOwnership(fx.owner, newOwner))
	assert.ErrorIs(t, fx.f.SetOriginFeeRecipient(fx.owner, common.Address{}), ErrUnauthorized)
	assert.NoError(t, fx.f.SetOriginFeeRecipient(newOwner, common.Address{}))
	assert.Equal(t, newOwner, fx.f.Protocol().Owner)
}
