package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = NamedAddress("alice")
	bob   = NamedAddress("bob")
	carol = NamedAddress("carol")
)

func TestRun_RevertsOnError(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Mint(context.Background(), alice, uint256.NewInt(100)))

	boom := errors.New("boom")
	committed := false
	err := Run(context.Background(), func(ctx context.Context) error {
		require.NoError(t, l.Transfer(ctx, alice, bob, uint256.NewInt(40)))
		require.NoError(t, l.Transfer(ctx, bob, carol, uint256.NewInt(10)))
		AfterCommit(ctx, func() { committed = true })
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.False(t, committed)
	assert.Equal(t, uint64(100), l.BalanceOf(alice).Uint64())
	assert.True(t, l.BalanceOf(bob).IsZero())
	assert.True(t, l.BalanceOf(carol).IsZero())
}

func TestRun_NestedSavepoint(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Mint(context.Background(), alice, uint256.NewInt(100)))

	var events []string
	err := Run(context.Background(), func(ctx context.Context) error {
		require.NoError(t, l.Transfer(ctx, alice, bob, uint256.NewInt(30)))
		AfterCommit(ctx, func() { events = append(events, "outer") })

		inner := Run(ctx, func(ctx context.Context) error {
			require.NoError(t, l.Transfer(ctx, alice, carol, uint256.NewInt(20)))
			AfterCommit(ctx, func() { events = append(events, "inner") })
			return errors.New("inner failed")
		})
		assert.Error(t, inner)
		assert.True(t, l.BalanceOf(carol).IsZero())
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"outer"}, events)
	assert.Equal(t, uint64(70), l.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(30), l.BalanceOf(bob).Uint64())
}

func TestRun_RevertsOnPanic(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Mint(context.Background(), alice, uint256.NewInt(5)))

	assert.Panics(t, func() {
		_ = Run(context.Background(), func(ctx context.Context) error {
			_ = l.Transfer(ctx, alice, bob, uint256.NewInt(5))
			panic("invariant")
		})
	})
	assert.Equal(t, uint64(5), l.BalanceOf(alice).Uint64())
}

func TestAfterCommit_OutsideCall(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func() { ran = true })
	assert.True(t, ran)
	assert.False(t, InCall(context.Background()))
}

func TestLedger_Transfer(t *testing.T) {
	tests := []struct {
		name    string
		to      common.Address
		amount  uint64
		wantErr error
	}{
		{"ok", bob, 10, nil},
		{"insufficient", bob, 11, ErrInsufficientBalance},
		{"zero recipient", common.Address{}, 1, ErrZeroAddress},
		{"zero amount", bob, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLedger()
			require.NoError(t, l.Mint(context.Background(), alice, uint256.NewInt(10)))

			err := l.Transfer(context.Background(), alice, tt.to, uint256.NewInt(tt.amount))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, uint64(10), l.BalanceOf(alice).Uint64())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 10-tt.amount, l.BalanceOf(alice).Uint64())
			assert.Equal(t, tt.amount, l.BalanceOf(bob).Uint64())
		})
	}
}

func TestLedger_ReceiveHookFailureReverts(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Mint(context.Background(), alice, uint256.NewInt(50)))

	var seen *uint256.Int
	l.SetReceiveHook(bob, func(_ context.Context, from common.Address, amount *uint256.Int) error {
		assert.Equal(t, alice, from)
		seen = amount
		return errors.New("rejecting payment")
	})

	err := Run(context.Background(), func(ctx context.Context) error {
		return l.Transfer(ctx, alice, bob, uint256.NewInt(20))
	})

	require.Error(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, uint64(20), seen.Uint64())
	assert.Equal(t, uint64(50), l.BalanceOf(alice).Uint64())
	assert.True(t, l.BalanceOf(bob).IsZero())

	l.SetReceiveHook(bob, nil)
	require.NoError(t, l.Transfer(context.Background(), alice, bob, uint256.NewInt(20)))
	assert.Equal(t, uint64(20), l.BalanceOf(bob).Uint64())
}

func TestLedger_PendingCreditsStayInTheCall(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Mint(context.Background(), alice, uint256.NewInt(100)))

	err := Run(context.Background(), func(ctx context.Context) error {
		require.NoError(t, l.Transfer(ctx, alice, bob, uint256.NewInt(40)))
		assert.Equal(t, uint64(40), l.BalanceAt(ctx, bob).Uint64())
		assert.True(t, l.BalanceOf(bob).IsZero())

		// Another call cannot spend what bob received here.
		done := make(chan error, 1)
		go func() { done <- l.Transfer(context.Background(), bob, carol, uint256.NewInt(40)) }()
		assert.ErrorIs(t, <-done, ErrInsufficientBalance)

		return l.Transfer(ctx, bob, carol, uint256.NewInt(15))
	})

	require.NoError(t, err)
	assert.Equal(t, uint64(60), l.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(25), l.BalanceOf(bob).Uint64())
	assert.Equal(t, uint64(15), l.BalanceOf(carol).Uint64())
}

func TestLedger_RevertAfterConcurrentSpendConservesValue(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()
	require.NoError(t, l.Mint(ctx, alice, uint256.NewInt(100)))
	require.NoError(t, l.Mint(ctx, bob, uint256.NewInt(10)))

	var spendErr error
	l.SetReceiveHook(bob, func(context.Context, common.Address, *uint256.Int) error {
		done := make(chan error, 1)
		go func() { done <- l.Transfer(context.Background(), bob, carol, uint256.NewInt(30)) }()
		spendErr = <-done
		return nil
	})

	err := Run(ctx, func(ctx context.Context) error {
		require.NoError(t, l.Transfer(ctx, alice, bob, uint256.NewInt(30)))
		return errors.New("abort")
	})

	require.Error(t, err)
	assert.ErrorIs(t, spendErr, ErrInsufficientBalance)
	assert.Equal(t, uint64(100), l.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(10), l.BalanceOf(bob).Uint64())
	assert.True(t, l.BalanceOf(carol).IsZero())
}

func TestLocal_SettledOnlyOnCommit(t *testing.T) {
	type owner struct{}
	var settled []int

	_, ok := Local(context.Background(), owner{}, func() *int { return new(int) }, func(*int) {})
	assert.False(t, ok)

	_ = Run(context.Background(), func(ctx context.Context) error {
		v, ok := Local(ctx, owner{}, func() *int { return new(int) }, func(v *int) { settled = append(settled, *v) })
		require.True(t, ok)
		*v = 7
		return errors.New("abort")
	})
	assert.Empty(t, settled)

	err := Run(context.Background(), func(ctx context.Context) error {
		v, _ := Local(ctx, owner{}, func() *int { return new(int) }, func(v *int) { settled = append(settled, *v) })
		*v = 3
		return Run(ctx, func(ctx context.Context) error {
			again, _ := Local(ctx, owner{}, func() *int { return new(int) }, func(*int) {})
			*again += 2
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []int{5}, settled)
}

func TestDeriveAddress_Deterministic(t *testing.T) {
	a := DeriveAddress([]byte("factory"), []byte("post-1"))
	b := DeriveAddress([]byte("factory"), []byte("post-1"))
	c := DeriveAddress([]byte("factory"), []byte("post-2"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, common.Address{}, a)
	assert.NotEqual(t, alice, bob)
}

func TestResolveAddress(t *testing.T) {
	assert.Equal(t, common.Address{}, ResolveAddress(""))
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000aa"), ResolveAddress("0x00000000000000000000000000000000000000aa"))
	assert.Equal(t, alice, ResolveAddress(" alice "))
}
