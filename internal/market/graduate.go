// internal/market/graduate.go
package market

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curvemarket/internal/chain"
	"github.com/rovshanmuradov/curvemarket/internal/events"
)

// graduate moves the curve reserve and SecondarySupply new tokens into a
// fresh pool. Runs inside the triggering buy; any failure reverts the buy.
func (m *Market) graduate(ctx context.Context) error {
	ethLiquidity := m.reserve.Clone()
	tokenLiquidity := m.params.SecondarySupply.Clone()

	initialPrice, err := m.curve.GetCurrentPrice(m.params.PrimarySupply)
	if err != nil {
		return fmt.Errorf("failed to price graduation: %w", err)
	}

	m.setReserve(ctx, new(uint256.Int))
	m.setMarketType(ctx, UniswapPool)

	m.pool.RegisterAsset(ctx, m)
	if err := m.weth.Deposit(ctx, m.cfg.Address, ethLiquidity); err != nil {
		return fmt.Errorf("failed to wrap reserve: %w", err)
	}
	if err := m.book.Mint(ctx, m.cfg.Address, tokenLiquidity); err != nil {
		return fmt.Errorf("failed to mint pool supply: %w", err)
	}
	if err := m.weth.Approve(ctx, m.cfg.Address, m.pool.Address(), ethLiquidity); err != nil {
		return fmt.Errorf("failed to approve pool: %w", err)
	}
	if err := m.book.Approve(ctx, m.cfg.Address, m.pool.Address(), tokenLiquidity); err != nil {
		return fmt.Errorf("failed to approve pool: %w", err)
	}

	poolAddr, err := m.pool.CreateAndSeedPool(ctx, m.cfg.Address, m.weth.Address(), initialPrice)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	pos, err := m.pool.ProvideLiquidity(ctx, poolAddr, m.cfg.Address, tokenLiquidity, ethLiquidity)
	if err != nil {
		return fmt.Errorf("failed to seed pool: %w", err)
	}
	m.setPool(ctx, poolAddr, pos.ID)

	m.emit(ctx, &events.GraduatedEvent{
		BaseEvent:      events.NewBase(events.MarketGraduated),
		Token:          m.cfg.Address,
		Pool:           poolAddr,
		EthLiquidity:   ethLiquidity,
		TokenLiquidity: tokenLiquidity,
		PositionID:     pos.ID,
		MarketType:     UniswapPool.String(),
	})

	chain.AfterCommit(ctx, func() {
		m.logger.Info("Market graduated",
			zap.String("pool", poolAddr.Hex()),
			zap.String("eth_liquidity", ethLiquidity.Dec()),
			zap.String("token_liquidity", tokenLiquidity.Dec()),
			zap.Uint64("position", pos.ID))
	})

	return nil
}
