// internal/market/buy.go
package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curvemarket/internal/chain"
	"github.com/rovshanmuradov/curvemarket/internal/events"
	"github.com/rovshanmuradov/curvemarket/internal/pool"
)

// Buy spends value of the caller's native balance on tokens for p.Recipient.
// While the market is on the curve the order is priced by the bonding curve;
// an order that reaches PrimarySupply is filled exactly up to it, refunds the
// rest and graduates the market in the same call. After graduation the order
// is routed to the pool. A rejected buy changes nothing.
func (m *Market) Buy(ctx context.Context, caller common.Address, value *uint256.Int, p BuyParams) (BuyResult, error) {
	ctx, release, err := m.enter(ctx)
	defer release()
	if err != nil {
		return BuyResult{}, err
	}

	if p.Recipient == (common.Address{}) {
		return BuyResult{}, fmt.Errorf("%w: recipient", ErrAddressZero)
	}
	if p.ExpectedMarketType != m.marketType {
		return BuyResult{}, fmt.Errorf("%w: expected %s, market is %s", ErrInvalidMarketType, p.ExpectedMarketType, m.marketType)
	}
	if value == nil || value.Lt(m.params.MinOrderSize) {
		return BuyResult{}, fmt.Errorf("%w: minimum is %s wei", ErrEthAmountTooSmall, m.params.MinOrderSize.Dec())
	}

	var res BuyResult
	err = chain.Run(ctx, func(ctx context.Context) error {
		if err := m.bank.Transfer(ctx, caller, m.cfg.Address, value); err != nil {
			return fmt.Errorf("failed to collect order value: %w", err)
		}

		var err error
		if m.marketType == BondingCurve {
			res, err = m.buyFromCurve(ctx, caller, value, p)
		} else {
			res, err = m.buyFromPool(ctx, caller, value, p)
		}
		return err
	})
	if err != nil {
		m.logFailure("Buy rejected", err, zap.String("caller", caller.Hex()), zap.String("value", value.Dec()))
		return BuyResult{}, err
	}

	m.logger.Debug("Buy executed",
		zap.String("caller", caller.Hex()),
		zap.String("recipient", p.Recipient.Hex()),
		zap.String("value", value.Dec()),
		zap.String("tokens", res.TokensBought.Dec()),
		zap.String("fee", res.Fee.Dec()),
		zap.String("refund", res.Refund.Dec()),
		zap.Bool("graduated", res.Graduated))

	return res, nil
}

func (m *Market) buyFromCurve(ctx context.Context, caller common.Address, value *uint256.Int, p BuyParams) (BuyResult, error) {
	supply := m.book.TotalSupply()
	fee := m.params.fee(value)
	net := new(uint256.Int).Sub(value, fee)

	tokensOut, err := m.curve.GetEthBuyQuote(supply, net)
	if err != nil {
		return BuyResult{}, fmt.Errorf("failed to quote buy: %w", err)
	}

	refund := new(uint256.Int)
	remaining := new(uint256.Int).Sub(m.params.PrimarySupply, supply)
	graduating := !tokensOut.Lt(remaining)
	if graduating {
		tokensOut = remaining
		trueNet, err := m.curve.GetTokenBuyQuote(supply, remaining)
		if err != nil {
			return BuyResult{}, fmt.Errorf("failed to quote graduation fill: %w", err)
		}
		// Rounding up the exact fill can exceed the net by a wei.
		if trueNet.Gt(net) {
			trueNet = net
		}
		net = trueNet
		fee = m.params.fee(net)

		total := new(uint256.Int).Add(net, fee)
		if total.Gt(value) {
			return BuyResult{}, fmt.Errorf("%w: graduation fill costs %s, order value %s", ErrInvariantViolation, total.Dec(), value.Dec())
		}
		refund.Sub(value, total)
	}

	if tokensOut.IsZero() {
		return BuyResult{}, fmt.Errorf("%w: order buys no tokens", ErrEthAmountTooSmall)
	}
	if p.MinTokensOut != nil && tokensOut.Lt(p.MinTokensOut) {
		return BuyResult{}, fmt.Errorf("%w: %s tokens out, minimum %s", ErrSlippageBoundsExceeded, tokensOut.Dec(), p.MinTokensOut.Dec())
	}

	newSupply := new(uint256.Int).Add(supply, tokensOut)
	price, err := m.curve.GetCurrentPrice(newSupply)
	if err != nil {
		return BuyResult{}, fmt.Errorf("failed to price supply %s: %w", newSupply.Dec(), err)
	}
	if limited(p.PriceLimit) && price.Gt(p.PriceLimit) {
		return BuyResult{}, fmt.Errorf("%w: price %s above limit %s", ErrSlippageBoundsExceeded, price.Dec(), p.PriceLimit.Dec())
	}

	// Supply and reserve move before any value leaves the market.
	if err := m.book.Mint(ctx, p.Recipient, tokensOut); err != nil {
		return BuyResult{}, fmt.Errorf("failed to mint: %w", err)
	}
	m.setReserve(ctx, new(uint256.Int).Add(m.reserve, net))

	if graduating {
		if err := m.graduate(ctx); err != nil {
			return BuyResult{}, err
		}
	}

	split := m.splitFee(fee, p.OrderReferrer)
	if err := m.payFees(ctx, split); err != nil {
		return BuyResult{}, err
	}
	if !refund.IsZero() {
		to := p.RefundRecipient
		if to == (common.Address{}) {
			to = caller
		}
		if err := m.bank.Transfer(ctx, m.cfg.Address, to, refund); err != nil {
			return BuyResult{}, fmt.Errorf("failed to refund %s: %w", to.Hex(), err)
		}
	}

	res := BuyResult{
		TokensBought: tokensOut,
		Fee:          fee,
		NetEth:       net,
		Refund:       refund,
		Graduated:    graduating,
		MarketType:   m.marketType,
	}
	m.emitBuy(ctx, caller, value, p, res, split, price)
	return res, nil
}

func (m *Market) buyFromPool(ctx context.Context, caller common.Address, value *uint256.Int, p BuyParams) (BuyResult, error) {
	fee := m.params.fee(value)
	net := new(uint256.Int).Sub(value, fee)

	if err := m.weth.Deposit(ctx, m.cfg.Address, net); err != nil {
		return BuyResult{}, fmt.Errorf("failed to wrap order value: %w", err)
	}
	if err := m.weth.Approve(ctx, m.cfg.Address, m.pool.Address(), net); err != nil {
		return BuyResult{}, fmt.Errorf("failed to approve pool: %w", err)
	}

	tokensOut, err := m.pool.Swap(ctx, pool.SwapParams{
		Pool:         m.marketAddress,
		Direction:    pool.QuoteToBase,
		AmountIn:     net,
		MinAmountOut: p.MinTokensOut,
		PriceLimit:   p.PriceLimit,
		Payer:        m.cfg.Address,
		Recipient:    p.Recipient,
	})
	if err != nil {
		return BuyResult{}, poolSwapError(err)
	}

	split := m.splitFee(fee, p.OrderReferrer)
	if err := m.payFees(ctx, split); err != nil {
		return BuyResult{}, err
	}

	res := BuyResult{
		TokensBought: tokensOut,
		Fee:          fee,
		NetEth:       net,
		Refund:       new(uint256.Int),
		MarketType:   UniswapPool,
	}
	m.emitBuy(ctx, caller, value, p, res, split, m.poolPrice())
	return res, nil
}

func (m *Market) emitBuy(ctx context.Context, caller common.Address, value *uint256.Int, p BuyParams, res BuyResult, split feeSplit, price *uint256.Int) {
	m.emit(ctx, split.event(m.cfg.Address))
	m.emit(ctx, &events.TradeEvent{
		BaseEvent:        events.NewBase(events.TokenBuy),
		Token:            m.cfg.Address,
		Trader:           caller,
		Recipient:        p.Recipient,
		OrderReferrer:    split.orderTo,
		TotalEth:         value.Clone(),
		Fee:              res.Fee.Clone(),
		NetEth:           res.NetEth.Clone(),
		TokenAmount:      res.TokensBought.Clone(),
		ResultingBalance: m.book.BalanceAt(ctx, p.Recipient),
		TotalSupply:      m.book.TotalSupply(),
		Price:            price,
		Comment:          p.Comment,
		MarketType:       m.marketType.String(),
	})
}

// poolPrice is the pool's spot price, zero when it cannot be read.
func (m *Market) poolPrice() *uint256.Int {
	price, err := m.pool.SpotPrice(m.marketAddress)
	if err != nil {
		m.logger.Warn("Failed to read pool price", zap.Error(err))
		return new(uint256.Int)
	}
	return price
}

func limited(limit *uint256.Int) bool {
	return limit != nil && !limit.IsZero()
}

// poolSwapError maps rejected pool swaps onto the market's slippage error.
func poolSwapError(err error) error {
	if errors.Is(err, pool.ErrSlippageExceeded) || errors.Is(err, pool.ErrPriceLimitExceeded) {
		return fmt.Errorf("%w: %w", ErrSlippageBoundsExceeded, err)
	}
	if errors.Is(err, pool.ErrInsufficientLiquidity) {
		return fmt.Errorf("%w: %w", ErrInsufficientLiquidity, err)
	}
	return fmt.Errorf("pool swap failed: %w", err)
}

// logFailure logs invariant violations at error level; ordinary rejections
// are expected and only logged at debug.
func (m *Market) logFailure(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if IsInvariant(err) {
		m.logger.Error(msg, fields...)
		return
	}
	m.logger.Debug(msg, fields...)
}
