// internal/market/fees.go
package market

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/rovshanmuradov/curvemarket/internal/events"
)

// feeSplit is one buy's fee broken down by recipient. Recipients that are
// unset fall back to the protocol.
type feeSplit struct {
	total *uint256.Int

	creator, platform, order, origin, protocol           *uint256.Int
	creatorTo, platformTo, orderTo, originTo, protocolTo common.Address
}

// fee returns floor(amount * TotalFeeBPS / 10000).
func (p Params) fee(amount *uint256.Int) *uint256.Int {
	return bps(amount, p.TotalFeeBPS)
}

func bps(amount *uint256.Int, points uint64) *uint256.Int {
	v, _ := new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(points), uint256.NewInt(bpsDenominator))
	return v
}

// splitFee divides total between the five recipients. Everything that does
// not go to a named share, rounding dust included, goes to the protocol.
func (m *Market) splitFee(total *uint256.Int, orderReferrer common.Address) feeSplit {
	s := feeSplit{
		total:      total.Clone(),
		creator:    bps(total, m.params.Shares.Creator),
		platform:   bps(total, m.params.Shares.PlatformReferrer),
		order:      bps(total, m.params.Shares.OrderReferrer),
		origin:     bps(total, m.params.Shares.Origin),
		creatorTo:  m.cfg.TokenCreator,
		platformTo: m.cfg.PlatformReferrer,
		orderTo:    orderReferrer,
		originTo:   m.cfg.OriginFeeRecipient,
		protocolTo: m.cfg.ProtocolFeeRecipient,
	}
	if s.platformTo == (common.Address{}) {
		s.platformTo = s.protocolTo
	}
	if s.orderTo == (common.Address{}) {
		s.orderTo = s.protocolTo
	}
	if s.originTo == (common.Address{}) {
		s.originTo = s.protocolTo
	}

	s.protocol = total.Clone()
	for _, share := range []*uint256.Int{s.creator, s.platform, s.order, s.origin} {
		s.protocol.Sub(s.protocol, share)
	}
	return s
}

// payFees sends every non-zero share out of the market account.
func (m *Market) payFees(ctx context.Context, s feeSplit) error {
	payouts := []struct {
		to     common.Address
		amount *uint256.Int
	}{
		{s.creatorTo, s.creator},
		{s.platformTo, s.platform},
		{s.orderTo, s.order},
		{s.protocolTo, s.protocol},
		{s.originTo, s.origin},
	}
	for _, p := range payouts {
		if p.amount.IsZero() {
			continue
		}
		if err := m.bank.Transfer(ctx, m.cfg.Address, p.to, p.amount); err != nil {
			return fmt.Errorf("failed to pay fee to %s: %w", p.to.Hex(), err)
		}
	}
	return nil
}

func (s feeSplit) event(token common.Address) *events.FeesEvent {
	return &events.FeesEvent{
		BaseEvent:            events.NewBase(events.TokenFees),
		Token:                token,
		TokenCreator:         s.creatorTo,
		PlatformReferrer:     s.platformTo,
		OrderReferrer:        s.orderTo,
		ProtocolFeeRecipient: s.protocolTo,
		OriginFeeRecipient:   s.originTo,
		TokenCreatorFee:      s.creator.Clone(),
		PlatformReferrerFee:  s.platform.Clone(),
		OrderReferrerFee:     s.order.Clone(),
		ProtocolFee:          s.protocol.Clone(),
		OriginFee:            s.origin.Clone(),
		TotalFee:             s.total.Clone(),
	}
}
