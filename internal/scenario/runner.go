// internal/scenario/runner.go
package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/curvemarket/internal/chain"
	"github.com/rovshanmuradov/curvemarket/internal/curve"
	"github.com/rovshanmuradov/curvemarket/internal/factory"
	"github.com/rovshanmuradov/curvemarket/internal/market"
	"github.com/rovshanmuradov/curvemarket/internal/token"
)

var (
	ErrNotDeployed       = errors.New("market is not deployed")
	ErrUnexpectedSuccess = errors.New("step succeeded but an error was expected")
	ErrWrongError        = errors.New("step failed with a different error")
)

// knownErrors are the names expect_error may use. Anything else is matched as
// a substring of the error text.
var knownErrors = map[string]error{
	"address_zero":           market.ErrAddressZero,
	"invalid_market_type":    market.ErrInvalidMarketType,
	"eth_amount_too_small":   market.ErrEthAmountTooSmall,
	"insufficient_liquidity": market.ErrInsufficientLiquidity,
	"slippage":               market.ErrSlippageBoundsExceeded,
	"already_graduated":      market.ErrMarketAlreadyGraduated,
	"invariant":              market.ErrInvariantViolation,
	"reentrant":              market.ErrReentrantCall,
	"already_registered":     factory.ErrAlreadyRegistered,
	"not_registered":         factory.ErrNotRegistered,
	"invalid_content_id":     factory.ErrInvalidContentID,
	"insufficient_balance":   chain.ErrInsufficientBalance,
	"insufficient_tokens":    token.ErrInsufficientBalance,
	"not_deployed":           ErrNotDeployed,
}

// StepResult is the outcome of one step.
type StepResult struct {
	ContentID  string
	Index      int
	Action     Action
	Account    common.Address
	Token      common.Address
	EthIn      *uint256.Int
	EthOut     *uint256.Int
	Fee        *uint256.Int
	Tokens     *uint256.Int
	MarketType market.Type
	Deployed   bool
	Graduated  bool
	Err        error // set for steps that failed as expected
}

// MarketReport is the final state of one scripted market.
type MarketReport struct {
	ContentID string
	Token     common.Address
	Deployed  bool
	Snapshot  market.Snapshot
}

// Report summarizes a run.
type Report struct {
	Name     string
	Steps    [][]StepResult // per market, in script order
	Markets  []MarketReport
	Duration time.Duration
}

// Runner executes scenarios. Markets run in parallel, steps of one market in
// order.
type Runner struct {
	factory *factory.Factory
	bank    *chain.Ledger
	logger  *zap.Logger
	workers int
}

// NewRunner creates a runner. workers bounds the number of markets driven at
// the same time.
func NewRunner(f *factory.Factory, bank *chain.Ledger, logger *zap.Logger, workers int) *Runner {
	if workers <= 0 {
		workers = 1
	}
	return &Runner{
		factory: f,
		bank:    bank,
		logger:  logger.Named("scenario"),
		workers: workers,
	}
}

// Run funds the scenario accounts and executes every market script. The first
// step that fails unexpectedly cancels the remaining scripts.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Report, error) {
	start := time.Now()

	if err := r.fund(ctx, sc.Accounts); err != nil {
		return nil, err
	}

	report := &Report{
		Name:  sc.Name,
		Steps: make([][]StepResult, len(sc.Markets)),
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i := range sc.Markets {
		ms := sc.Markets[i]
		g.Go(func() error {
			results, err := r.runMarket(gCtx, ms)
			report.Steps[i] = results
			return err
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Error("Scenario failed", zap.String("name", sc.Name), zap.Error(err))
		return report, err
	}

	for _, ms := range sc.Markets {
		mr := MarketReport{ContentID: ms.ContentID, Token: r.factory.GetTokenAddress(ms.ContentID)}
		if m, ok := r.factory.Market(mr.Token); ok {
			mr.Deployed = true
			mr.Snapshot = m.Snapshot(ctx)
		}
		report.Markets = append(report.Markets, mr)
	}
	report.Duration = time.Since(start)

	r.logger.Info("Scenario completed",
		zap.String("name", sc.Name),
		zap.Int("markets", len(sc.Markets)),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (r *Runner) fund(ctx context.Context, accounts map[string]string) error {
	for name, amount := range accounts {
		wei, err := curve.FromEther(amount)
		if err != nil {
			return fmt.Errorf("account %q: invalid balance %q: %w", name, amount, err)
		}
		if err := r.bank.Mint(ctx, chain.ResolveAddress(name), wei); err != nil {
			return fmt.Errorf("failed to fund %q: %w", name, err)
		}
	}
	return nil
}

func (r *Runner) runMarket(ctx context.Context, ms MarketScript) ([]StepResult, error) {
	results := make([]StepResult, 0, len(ms.Steps))
	for i, step := range ms.Steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res, err := r.runStep(ctx, ms, step)
		res.ContentID, res.Index, res.Action = ms.ContentID, i, step.Action
		res.Account = chain.ResolveAddress(step.Account)

		if err := checkExpectation(step.ExpectError, err); err != nil {
			return results, fmt.Errorf("market %q step %d (%s): %w", ms.ContentID, i, step.Action, err)
		}
		res.Err = err
		results = append(results, res)

		r.logger.Debug("Step done",
			zap.String("content_id", ms.ContentID),
			zap.Int("step", i),
			zap.String("action", string(step.Action)),
			zap.Bool("failed", err != nil))
	}
	return results, nil
}

func (r *Runner) runStep(ctx context.Context, ms MarketScript, step Step) (StepResult, error) {
	account := chain.ResolveAddress(step.Account)
	switch step.Action {
	case ActionRegister:
		tok, err := r.factory.RegisterToken(ctx, account, factory.ContentMeta{
			ContentID:        ms.ContentID,
			Name:             ms.Name,
			Symbol:           ms.Symbol,
			URI:              ms.URI,
			PlatformReferrer: chain.ResolveAddress(ms.PlatformReferrer),
		})
		return StepResult{Token: tok}, err
	case ActionBuy:
		return r.buy(ctx, ms.ContentID, account, step)
	case ActionSell:
		return r.sell(ctx, ms.ContentID, account, step)
	}
	return StepResult{}, fmt.Errorf("unsupported action: %q", step.Action)
}

func (r *Runner) buy(ctx context.Context, contentID string, account common.Address, step Step) (StepResult, error) {
	value, err := curve.FromEther(step.Eth)
	if err != nil {
		return StepResult{}, fmt.Errorf("invalid eth %q: %w", step.Eth, err)
	}
	tok := r.factory.GetTokenAddress(contentID)
	marketType, err := r.marketType(ctx, tok, step.MarketType)
	if err != nil {
		return StepResult{}, err
	}
	minOut, err := optionalAmount(step.MinOut)
	if err != nil {
		return StepResult{}, err
	}
	limit, err := optionalAmount(step.PriceLimit)
	if err != nil {
		return StepResult{}, err
	}

	res, err := r.factory.DeployAndBuy(ctx, account, value, contentID, market.BuyParams{
		Recipient:          recipientOr(step.Recipient, account),
		RefundRecipient:    chain.ResolveAddress(step.Refund),
		OrderReferrer:      chain.ResolveAddress(step.Referrer),
		Comment:            step.Comment,
		ExpectedMarketType: marketType,
		MinTokensOut:       minOut,
		PriceLimit:         limit,
	})
	if err != nil {
		return StepResult{Token: tok}, err
	}
	return StepResult{
		Token:      tok,
		EthIn:      value,
		EthOut:     res.Refund,
		Fee:        res.Fee,
		Tokens:     res.TokensBought,
		MarketType: res.MarketType,
		Deployed:   res.Deployed,
		Graduated:  res.Graduated,
	}, nil
}

func (r *Runner) sell(ctx context.Context, contentID string, account common.Address, step Step) (StepResult, error) {
	tok := r.factory.GetTokenAddress(contentID)
	m, ok := r.factory.Market(tok)
	if !ok {
		return StepResult{Token: tok}, fmt.Errorf("%w: %q", ErrNotDeployed, contentID)
	}

	amount, err := sellAmount(step.Tokens, m.BalanceOf(account))
	if err != nil {
		return StepResult{Token: tok}, err
	}
	marketType, err := r.marketType(ctx, tok, step.MarketType)
	if err != nil {
		return StepResult{}, err
	}
	minOut, err := optionalAmount(step.MinOut)
	if err != nil {
		return StepResult{}, err
	}
	limit, err := optionalAmount(step.PriceLimit)
	if err != nil {
		return StepResult{}, err
	}

	res, err := m.Sell(ctx, account, amount, market.SellParams{
		Recipient:          recipientOr(step.Recipient, account),
		OrderReferrer:      chain.ResolveAddress(step.Referrer),
		Comment:            step.Comment,
		ExpectedMarketType: marketType,
		MinEthOut:          minOut,
		PriceLimit:         limit,
	})
	if err != nil {
		return StepResult{Token: tok}, err
	}
	return StepResult{
		Token:      tok,
		EthOut:     res.EthReceived,
		Tokens:     amount,
		MarketType: res.MarketType,
	}, nil
}

// marketType parses an explicit expectation or reads the current venue.
func (r *Runner) marketType(ctx context.Context, tok common.Address, s string) (market.Type, error) {
	if s != "" {
		return market.ParseType(s)
	}
	if m, ok := r.factory.Market(tok); ok {
		t, _ := m.State(ctx)
		return t, nil
	}
	return market.BondingCurve, nil
}

func sellAmount(s string, balance *uint256.Int) (*uint256.Int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all":
		return balance, nil
	case "half":
		return new(uint256.Int).Rsh(balance, 1), nil
	}
	v, err := curve.FromEther(s)
	if err != nil {
		return nil, fmt.Errorf("invalid tokens %q: %w", s, err)
	}
	return v, nil
}

func optionalAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, err := curve.FromEther(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}

func recipientOr(s string, def common.Address) common.Address {
	if s == "" {
		return def
	}
	return chain.ResolveAddress(s)
}

func checkExpectation(expected string, err error) error {
	if expected == "" {
		return err
	}
	if err == nil {
		return fmt.Errorf("%w: %s", ErrUnexpectedSuccess, expected)
	}
	if target, ok := knownErrors[expected]; ok {
		if errors.Is(err, target) {
			return nil
		}
	} else if strings.Contains(err.Error(), expected) {
		return nil
	}
	return fmt.Errorf("%w: want %s, got %v", ErrWrongError, expected, err)
}
