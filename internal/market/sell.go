// internal/market/sell.go
package market

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curvemarket/internal/chain"
	"github.com/rovshanmuradov/curvemarket/internal/events"
	"github.com/rovshanmuradov/curvemarket/internal/pool"
)

// Sell burns amount of the caller's tokens against the curve reserve, or
// swaps them in the pool once graduated, and pays the ETH to p.Recipient.
// Sells carry no fee.
func (m *Market) Sell(ctx context.Context, caller common.Address, amount *uint256.Int, p SellParams) (SellResult, error) {
	ctx, release, err := m.enter(ctx)
	defer release()
	if err != nil {
		return SellResult{}, err
	}

	if p.Recipient == (common.Address{}) {
		return SellResult{}, fmt.Errorf("%w: recipient", ErrAddressZero)
	}
	if p.ExpectedMarketType != m.marketType {
		return SellResult{}, fmt.Errorf("%w: expected %s, market is %s", ErrInvalidMarketType, p.ExpectedMarketType, m.marketType)
	}
	if amount == nil || amount.IsZero() {
		return SellResult{}, fmt.Errorf("%w: nothing to sell", ErrInsufficientLiquidity)
	}
	if bal := m.book.BalanceAt(ctx, caller); amount.Gt(bal) {
		return SellResult{}, fmt.Errorf("%w: balance %s, selling %s", ErrInsufficientLiquidity, bal.Dec(), amount.Dec())
	}

	var res SellResult
	err = chain.Run(ctx, func(ctx context.Context) error {
		var err error
		if m.marketType == BondingCurve {
			res, err = m.sellToCurve(ctx, caller, amount, p)
		} else {
			res, err = m.sellToPool(ctx, caller, amount, p)
		}
		return err
	})
	if err != nil {
		m.logFailure("Sell rejected", err, zap.String("caller", caller.Hex()), zap.String("amount", amount.Dec()))
		return SellResult{}, err
	}

	m.logger.Debug("Sell executed",
		zap.String("caller", caller.Hex()),
		zap.String("recipient", p.Recipient.Hex()),
		zap.String("tokens", amount.Dec()),
		zap.String("eth_out", res.EthReceived.Dec()))

	return res, nil
}

func (m *Market) sellToCurve(ctx context.Context, caller common.Address, amount *uint256.Int, p SellParams) (SellResult, error) {
	supply := m.book.TotalSupply()
	ethOut, err := m.curve.GetTokenSellQuote(supply, amount)
	if err != nil {
		return SellResult{}, fmt.Errorf("failed to quote sell: %w", err)
	}
	if ethOut.Lt(m.params.MinOrderSize) {
		return SellResult{}, fmt.Errorf("%w: sell pays %s wei, minimum is %s", ErrEthAmountTooSmall, ethOut.Dec(), m.params.MinOrderSize.Dec())
	}
	if p.MinEthOut != nil && ethOut.Lt(p.MinEthOut) {
		return SellResult{}, fmt.Errorf("%w: %s wei out, minimum %s", ErrSlippageBoundsExceeded, ethOut.Dec(), p.MinEthOut.Dec())
	}

	newSupply := new(uint256.Int).Sub(supply, amount)
	price, err := m.curve.GetCurrentPrice(newSupply)
	if err != nil {
		return SellResult{}, fmt.Errorf("failed to price supply %s: %w", newSupply.Dec(), err)
	}
	if limited(p.PriceLimit) && price.Lt(p.PriceLimit) {
		return SellResult{}, fmt.Errorf("%w: price %s below limit %s", ErrSlippageBoundsExceeded, price.Dec(), p.PriceLimit.Dec())
	}
	if ethOut.Gt(m.reserve) {
		return SellResult{}, fmt.Errorf("%w: %w: sell pays %s, reserve holds %s", ErrInvariantViolation, ErrInsufficientReserve, ethOut.Dec(), m.reserve.Dec())
	}

	if err := m.book.Burn(ctx, caller, amount); err != nil {
		return SellResult{}, fmt.Errorf("failed to burn: %w", err)
	}
	m.setReserve(ctx, new(uint256.Int).Sub(m.reserve, ethOut))

	if err := m.bank.Transfer(ctx, m.cfg.Address, p.Recipient, ethOut); err != nil {
		return SellResult{}, fmt.Errorf("failed to pay seller: %w", err)
	}

	m.emitSell(ctx, caller, amount, ethOut, p, price)
	return SellResult{EthReceived: ethOut, MarketType: BondingCurve}, nil
}

func (m *Market) sellToPool(ctx context.Context, caller common.Address, amount *uint256.Int, p SellParams) (SellResult, error) {
	if err := m.book.Transfer(ctx, caller, m.cfg.Address, amount); err != nil {
		return SellResult{}, fmt.Errorf("failed to collect tokens: %w", err)
	}
	if err := m.book.Approve(ctx, m.cfg.Address, m.pool.Address(), amount); err != nil {
		return SellResult{}, fmt.Errorf("failed to approve pool: %w", err)
	}

	ethOut, err := m.pool.Swap(ctx, pool.SwapParams{
		Pool:         m.marketAddress,
		Direction:    pool.BaseToQuote,
		AmountIn:     amount,
		MinAmountOut: p.MinEthOut,
		PriceLimit:   p.PriceLimit,
		Payer:        m.cfg.Address,
		Recipient:    m.cfg.Address,
	})
	if err != nil {
		return SellResult{}, poolSwapError(err)
	}

	if err := m.weth.Withdraw(ctx, m.cfg.Address, ethOut); err != nil {
		return SellResult{}, fmt.Errorf("failed to unwrap proceeds: %w", err)
	}
	if err := m.bank.Transfer(ctx, m.cfg.Address, p.Recipient, ethOut); err != nil {
		return SellResult{}, fmt.Errorf("failed to pay seller: %w", err)
	}

	m.emitSell(ctx, caller, amount, ethOut, p, m.poolPrice())
	return SellResult{EthReceived: ethOut, MarketType: UniswapPool}, nil
}

func (m *Market) emitSell(ctx context.Context, caller common.Address, amount, ethOut *uint256.Int, p SellParams, price *uint256.Int) {
	m.emit(ctx, &events.TradeEvent{
		BaseEvent:        events.NewBase(events.TokenSell),
		Token:            m.cfg.Address,
		Trader:           caller,
		Recipient:        p.Recipient,
		OrderReferrer:    p.OrderReferrer,
		TotalEth:         ethOut.Clone(),
		Fee:              new(uint256.Int),
		NetEth:           ethOut.Clone(),
		TokenAmount:      amount.Clone(),
		ResultingBalance: m.book.BalanceAt(ctx, caller),
		TotalSupply:      m.book.TotalSupply(),
		Price:            price,
		Comment:          p.Comment,
		MarketType:       m.marketType.String(),
	})
}
