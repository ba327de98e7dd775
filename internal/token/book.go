// internal/token/book.go
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/rovshanmuradov/curvemarket/internal/chain"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrZeroAddress           = errors.New("zero address")
	ErrOverflow              = errors.New("token amount overflow")
)

// Book is an ERC20 style balance sheet: balances, allowances and total
// supply. All mutations are journaled through the call context.
type Book struct {
	mu          sync.RWMutex
	balances    map[common.Address]*uint256.Int
	allowances  map[common.Address]map[common.Address]*uint256.Int
	totalSupply *uint256.Int
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{
		balances:    make(map[common.Address]*uint256.Int),
		allowances:  make(map[common.Address]map[common.Address]*uint256.Int),
		totalSupply: new(uint256.Int),
	}
}

// TotalSupply returns a copy of the total supply.
func (b *Book) TotalSupply() *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.totalSupply.Clone()
}

// BalanceOf returns the committed balance of owner.
func (b *Book) BalanceOf(owner common.Address) *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.committed(owner)
}

// BalanceAt returns the balance of owner as seen by the call in ctx,
// including tokens the call has credited but not yet committed.
func (b *Book) BalanceAt(ctx context.Context, owner common.Address) *uint256.Int {
	p := b.pending(ctx)

	b.mu.RLock()
	defer b.mu.RUnlock()
	return new(uint256.Int).Add(b.committed(owner), p.Of(owner))
}

// Allowance returns how much spender may move on behalf of owner.
func (b *Book) Allowance(owner, spender common.Address) *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if a, ok := b.allowances[owner][spender]; ok {
		return a.Clone()
	}
	return new(uint256.Int)
}

// Mint creates amount new units owned by to.
func (b *Book) Mint(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}

	p := b.pending(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, overflow := new(uint256.Int).AddOverflow(b.totalSupply, amount); overflow {
		return ErrOverflow
	}
	amt := amount.Clone()
	b.totalSupply.Add(b.totalSupply, amt)
	b.credit(p, to, amt)

	chain.Record(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		p.Sub(to, amt)
		b.totalSupply.Sub(b.totalSupply, amt)
	})
	return nil
}

// Burn destroys amount units owned by from.
func (b *Book) Burn(ctx context.Context, from common.Address, amount *uint256.Int) error {
	p := b.pending(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkBalance(p, from, amount); err != nil {
		return err
	}
	amt := amount.Clone()
	restore := b.debit(p, from, amt)
	b.totalSupply.Sub(b.totalSupply, amt)

	chain.Record(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		restore()
		b.totalSupply.Add(b.totalSupply, amt)
	})
	return nil
}

// Transfer moves amount from one holder to another.
func (b *Book) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}

	p := b.pending(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.move(ctx, p, from, to, amount)
}

// Approve sets the allowance of spender over the tokens of owner.
func (b *Book) Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	prev := new(uint256.Int)
	if a, ok := b.allowances[owner][spender]; ok {
		prev = a.Clone()
	}
	b.setAllowance(owner, spender, amount.Clone())

	chain.Record(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.setAllowance(owner, spender, prev)
	})
	return nil
}

// TransferFrom moves amount from `from` to `to` spending the allowance
// granted to spender.
func (b *Book) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}

	p := b.pending(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	allowance := b.allowances[from][spender]
	if allowance == nil || allowance.Lt(amount) {
		return fmt.Errorf("%w: %s may not move %s for %s", ErrInsufficientAllowance, spender.Hex(), amount.Dec(), from.Hex())
	}
	if err := b.move(ctx, p, from, to, amount); err != nil {
		return err
	}
	allowance.Sub(allowance, amount)

	amt := amount.Clone()
	chain.Record(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if a := b.allowances[from][spender]; a != nil {
			a.Add(a, amt)
		}
	})
	return nil
}

// caller holds b.mu
func (b *Book) move(ctx context.Context, p chain.Credits, from, to common.Address, amount *uint256.Int) error {
	if err := b.checkBalance(p, from, amount); err != nil {
		return err
	}
	amt := amount.Clone()
	restore := b.debit(p, from, amt)
	b.credit(p, to, amt)

	chain.Record(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		p.Sub(to, amt)
		restore()
	})
	return nil
}

func (b *Book) pending(ctx context.Context) chain.Credits {
	return chain.PendingCredits(ctx, b, b.settle)
}

// settle applies the credits of a committed call. The total supply already
// counts them.
func (b *Book) settle(c chain.Credits) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for owner, amount := range c {
		b.add(owner, amount)
	}
}

func (b *Book) committed(owner common.Address) *uint256.Int {
	if bal, ok := b.balances[owner]; ok {
		return bal.Clone()
	}
	return new(uint256.Int)
}

func (b *Book) checkBalance(p chain.Credits, owner common.Address, amount *uint256.Int) error {
	have := new(uint256.Int).Add(b.committed(owner), p.Of(owner))
	if have.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, owner.Hex(), have.Dec(), amount.Dec())
	}
	return nil
}

// credit adds to the pending credits of the running call, or directly to the
// balance outside of one.
func (b *Book) credit(p chain.Credits, owner common.Address, amount *uint256.Int) {
	if p == nil {
		b.add(owner, amount)
		return
	}
	p.Add(owner, amount)
}

// debit spends pending credits first and returns the undo step. Undoing a
// debit only ever gives value back, so it cannot race with other calls.
func (b *Book) debit(p chain.Credits, owner common.Address, amount *uint256.Int) func() {
	fromPending, fromCommitted := p.Split(owner, amount)
	p.Sub(owner, fromPending)
	if !fromCommitted.IsZero() {
		bal := b.balances[owner]
		bal.Sub(bal, fromCommitted)
	}
	return func() {
		if !fromPending.IsZero() {
			p.Add(owner, fromPending)
		}
		b.add(owner, fromCommitted)
	}
}

func (b *Book) add(owner common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	bal, ok := b.balances[owner]
	if !ok {
		b.balances[owner] = amount.Clone()
		return
	}
	bal.Add(bal, amount)
}

func (b *Book) setAllowance(owner, spender common.Address, amount *uint256.Int) {
	if b.allowances[owner] == nil {
		b.allowances[owner] = make(map[common.Address]*uint256.Int)
	}
	b.allowances[owner][spender] = amount
}
