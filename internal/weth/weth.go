// internal/weth/weth.go
package weth

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/rovshanmuradov/curvemarket/internal/chain"
	"github.com/rovshanmuradov/curvemarket/internal/token"
)

// Bank moves native value between accounts.
type Bank interface {
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
}

// WETH wraps native value one to one into a transferable token held at
// address. Deposited native value stays in the bank under that address.
type WETH struct {
	*token.Book
	address common.Address
	bank    Bank
}

// New creates the wrapper.
func New(address common.Address, bank Bank) *WETH {
	return &WETH{
		Book:    token.NewBook(),
		address: address,
		bank:    bank,
	}
}

// Address returns the wrapper account.
func (w *WETH) Address() common.Address {
	return w.address
}

// Deposit takes amount of native value from `from` and credits the same
// amount of wrapped tokens.
func (w *WETH) Deposit(ctx context.Context, from common.Address, amount *uint256.Int) error {
	return chain.Run(ctx, func(ctx context.Context) error {
		if err := w.bank.Transfer(ctx, from, w.address, amount); err != nil {
			return fmt.Errorf("failed to deposit: %w", err)
		}
		return w.Mint(ctx, from, amount)
	})
}

// Withdraw burns amount of wrapped tokens held by owner and pays out the
// native value.
func (w *WETH) Withdraw(ctx context.Context, owner common.Address, amount *uint256.Int) error {
	return chain.Run(ctx, func(ctx context.Context) error {
		if err := w.Burn(ctx, owner, amount); err != nil {
			return fmt.Errorf("failed to withdraw: %w", err)
		}
		return w.bank.Transfer(ctx, w.address, owner, amount)
	})
}
