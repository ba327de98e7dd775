// internal/chain/credits.go
package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Credits are balances received during one running call. They are spendable
// inside that call only; other calls see them once the outermost call
// commits. A reverted call therefore never has to claw back value somebody
// else already spent.
type Credits map[common.Address]*uint256.Int

// PendingCredits returns the credits that ledger holds for the call in ctx.
// apply moves them into committed balances on commit. Outside of Run the
// result is nil and credits are final immediately.
func PendingCredits(ctx context.Context, ledger any, apply func(Credits)) Credits {
	c, _ := Local(ctx, ledger, func() Credits { return make(Credits) }, apply)
	return c
}

// Of returns the pending credit of addr.
func (c Credits) Of(addr common.Address) *uint256.Int {
	if v, ok := c[addr]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// Add credits amount to addr.
func (c Credits) Add(addr common.Address, amount *uint256.Int) {
	if v, ok := c[addr]; ok {
		v.Add(v, amount)
		return
	}
	c[addr] = amount.Clone()
}

// Sub removes amount from addr; the caller has checked that it is there.
func (c Credits) Sub(addr common.Address, amount *uint256.Int) {
	v, ok := c[addr]
	if !ok {
		return
	}
	v.Sub(v, amount)
	if v.IsZero() {
		delete(c, addr)
	}
}

// Split divides a debit of amount from addr into the part taken from the
// pending credit and the part taken from the committed balance.
func (c Credits) Split(addr common.Address, amount *uint256.Int) (fromPending, fromCommitted *uint256.Int) {
	fromPending = c.Of(addr)
	if fromPending.Gt(amount) {
		fromPending = amount.Clone()
	}
	return fromPending, new(uint256.Int).Sub(amount, fromPending)
}
