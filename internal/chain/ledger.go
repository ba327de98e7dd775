// internal/chain/ledger.go
package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance = errors.New("insufficient native balance")
	ErrZeroAddress         = errors.New("zero address")
	ErrOverflow            = errors.New("balance overflow")
)

// ReceiveHook is invoked after an account receives native value. Returning an
// error fails the whole call that made the transfer.
type ReceiveHook func(ctx context.Context, from common.Address, amount *uint256.Int) error

// Ledger holds native balances. Transfers are journaled through the call
// context, so a failed call restores every balance it touched.
type Ledger struct {
	mu       sync.RWMutex
	balances map[common.Address]*uint256.Int
	hooks    map[common.Address]ReceiveHook
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[common.Address]*uint256.Int),
		hooks:    make(map[common.Address]ReceiveHook),
	}
}

// BalanceOf returns the committed balance of addr.
func (l *Ledger) BalanceOf(addr common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.committed(addr)
}

// BalanceAt returns the balance of addr as seen by the call in ctx, which
// includes value the call itself has credited.
func (l *Ledger) BalanceAt(ctx context.Context, addr common.Address) *uint256.Int {
	p := l.pending(ctx)

	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(uint256.Int).Add(l.committed(addr), p.Of(addr))
}

// Mint credits addr out of thin air. Used for genesis funding.
func (l *Ledger) Mint(ctx context.Context, addr common.Address, amount *uint256.Int) error {
	if addr == (common.Address{}) {
		return ErrZeroAddress
	}
	p := l.pending(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()

	if p == nil {
		return l.credit(addr, amount)
	}
	if err := l.checkCredit(p, addr, amount); err != nil {
		return err
	}
	amt := amount.Clone()
	p.Add(addr, amt)
	Record(ctx, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		p.Sub(addr, amt)
	})
	return nil
}

// SetReceiveHook installs (or with nil removes) a hook for addr.
func (l *Ledger) SetReceiveHook(addr common.Address, hook ReceiveHook) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if hook == nil {
		delete(l.hooks, addr)
		return
	}
	l.hooks[addr] = hook
}

// Transfer moves amount from one account to another and then runs the
// recipient's receive hook, if any. Inside a call the recipient's credit
// stays pending until the call commits.
func (l *Ledger) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount.IsZero() {
		return nil
	}
	p := l.pending(ctx)

	l.mu.Lock()
	have := new(uint256.Int).Add(l.committed(from), p.Of(from))
	if have.Lt(amount) {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), have.Dec(), amount.Dec())
	}
	if err := l.checkCredit(p, to, amount); err != nil {
		l.mu.Unlock()
		return err
	}

	amt := amount.Clone()
	fromPending, fromCommitted := p.Split(from, amt)
	p.Sub(from, fromPending)
	l.debit(from, fromCommitted)
	if p == nil {
		_ = l.credit(to, amt)
	} else {
		p.Add(to, amt)
	}
	hook := l.hooks[to]
	l.mu.Unlock()

	Record(ctx, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		p.Sub(to, amt)
		if !fromPending.IsZero() {
			p.Add(from, fromPending)
		}
		_ = l.credit(from, fromCommitted)
	})

	if hook != nil {
		if err := hook(ctx, from, amount.Clone()); err != nil {
			return fmt.Errorf("receive hook of %s failed: %w", to.Hex(), err)
		}
	}
	return nil
}

func (l *Ledger) pending(ctx context.Context) Credits {
	return PendingCredits(ctx, l, l.settle)
}

// settle applies the credits of a committed call.
func (l *Ledger) settle(c Credits) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for addr, amount := range c {
		// checkCredit ruled out an overflow against everything but
		// concurrent commits; native supply is bounded by Mint.
		_ = l.credit(addr, amount)
	}
}

// caller holds l.mu
func (l *Ledger) committed(addr common.Address) *uint256.Int {
	if bal, ok := l.balances[addr]; ok {
		return bal.Clone()
	}
	return new(uint256.Int)
}

// caller holds l.mu
func (l *Ledger) checkCredit(p Credits, addr common.Address, amount *uint256.Int) error {
	total := new(uint256.Int).Add(l.committed(addr), p.Of(addr))
	if _, overflow := total.AddOverflow(total, amount); overflow {
		return ErrOverflow
	}
	return nil
}

// caller holds l.mu
func (l *Ledger) credit(addr common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	bal, ok := l.balances[addr]
	if !ok {
		l.balances[addr] = amount.Clone()
		return nil
	}
	if _, overflow := new(uint256.Int).AddOverflow(bal, amount); overflow {
		return ErrOverflow
	}
	bal.Add(bal, amount)
	return nil
}

// debit takes amount from a committed balance the caller has checked.
// caller holds l.mu
func (l *Ledger) debit(addr common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	bal := l.balances[addr]
	bal.Sub(bal, amount)
}
