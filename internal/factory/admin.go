// internal/factory/admin.go
package factory

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curvemarket/internal/market"
)

// SetProtocolFeeRecipient changes the protocol fee recipient for markets
// deployed from now on.
func (f *Factory) SetProtocolFeeRecipient(caller, recipient common.Address) error {
	if recipient == (common.Address{}) {
		return fmt.Errorf("%w: protocol fee recipient", market.ErrAddressZero)
	}
	return f.admin(caller, "protocol_fee_recipient", func(p *ProtocolConfig) { p.ProtocolFeeRecipient = recipient })
}

// SetOriginFeeRecipient changes the origin fee recipient for markets deployed
// from now on. The zero address routes the origin share to the protocol.
func (f *Factory) SetOriginFeeRecipient(caller, recipient common.Address) error {
	return f.admin(caller, "origin_fee_recipient", func(p *ProtocolConfig) { p.OriginFeeRecipient = recipient })
}

// TransferOwnership hands the administrator role to owner.
func (f *Factory) TransferOwnership(caller, owner common.Address) error {
	if owner == (common.Address{}) {
		return fmt.Errorf("%w: owner", market.ErrAddressZero)
	}
	return f.admin(caller, "owner", func(p *ProtocolConfig) { p.Owner = owner })
}

func (f *Factory) admin(caller common.Address, field string, apply func(*ProtocolConfig)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if caller != f.protocol.Owner {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller.Hex())
	}
	apply(&f.protocol)

	f.logger.Info("Protocol config updated",
		zap.String("field", field),
		zap.String("by", caller.Hex()))
	return nil
}
