package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/curvemarket/internal/curve"
	"github.com/rovshanmuradov/curvemarket/internal/storage"
	"github.com/rovshanmuradov/curvemarket/internal/storage/models"
)

func setupTestDB(t *testing.T) storage.Storage {
	t.Helper()

	s, err := NewStorage(filepath.Join(t.TempDir(), "data", "test.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.RunMigrations())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTrades(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// 800M tokens in wei does not fit in an int64 or a float64 mantissa.
	big := models.Wei(curve.MustFromEther("800000000"))
	for i, side := range []string{models.SideBuy, models.SideSell} {
		require.NoError(t, s.SaveTrade(ctx, &models.Trade{
			Token:       "0xtoken",
			Side:        side,
			Trader:      "0xtrader",
			Recipient:   "0xtrader",
			TotalEth:    decimal.NewFromInt(1_000_000_000_000_000_000),
			Fee:         decimal.Zero,
			NetEth:      decimal.NewFromInt(1_000_000_000_000_000_000),
			TokenAmount: big,
			MarketType:  "BONDING_CURVE",
			ExecutedAt:  now.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.SaveTrade(ctx, &models.Trade{Token: "0xother", Side: models.SideBuy, Trader: "0xt", Recipient: "0xt", MarketType: "BONDING_CURVE", ExecutedAt: now}))

	trades, err := s.ListTrades(ctx, "0xtoken", 10, 0)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, models.SideBuy, trades[0].Side)
	assert.Equal(t, models.SideSell, trades[1].Side)
	assert.True(t, big.Equal(trades[0].TokenAmount), "got %s", trades[0].TokenAmount)

	amount, err := models.ToWei(trades[0].TokenAmount)
	require.NoError(t, err)
	assert.Equal(t, curve.MustFromEther("800000000").Dec(), amount.Dec())

	page, err := s.ListTrades(ctx, "0xtoken", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, models.SideSell, page[0].Side)
}

func TestRegistrations(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	reg := &models.Registration{
		ContentID:    "post-1",
		Token:        "0xtoken",
		Creator:      "0xcreator",
		Name:         "Post",
		Symbol:       "P1",
		RegisteredAt: time.Now().UTC(),
	}
	require.NoError(t, s.SaveRegistration(ctx, reg))
	// Replayed events are ignored.
	require.NoError(t, s.SaveRegistration(ctx, &models.Registration{ContentID: "post-1", Token: "0xtoken", Creator: "0xsomeone", RegisteredAt: time.Now().UTC()}))

	got, err := s.GetRegistration(ctx, "post-1")
	require.NoError(t, err)
	assert.Equal(t, "0xcreator", got.Creator)
	assert.Equal(t, "P1", got.Symbol)

	_, err = s.GetRegistration(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpsertMarket(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	m := &models.Market{
		Token:       "0xtoken",
		ContentID:   "post-1",
		MarketType:  "BONDING_CURVE",
		TotalSupply: decimal.NewFromInt(100),
		TradeCount:  1,
	}
	require.NoError(t, s.UpsertMarket(ctx, m))

	stored, err := s.GetMarket(ctx, "0xtoken")
	require.NoError(t, err)
	stored.MarketType = "UNISWAP_POOL"
	stored.TradeCount = 2
	stored.PoolAddress = "0xpool"
	require.NoError(t, s.UpsertMarket(ctx, stored))

	got, err := s.GetMarket(ctx, "0xtoken")
	require.NoError(t, err)
	assert.Equal(t, "UNISWAP_POOL", got.MarketType)
	assert.Equal(t, int64(2), got.TradeCount)
	assert.Equal(t, "0xpool", got.PoolAddress)
	assert.Equal(t, "post-1", got.ContentID)

	all, err := s.ListMarkets(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = s.GetMarket(ctx, "0xmissing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
