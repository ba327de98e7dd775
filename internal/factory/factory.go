// internal/factory/factory.go
package factory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curvemarket/internal/chain"
	"github.com/rovshanmuradov/curvemarket/internal/events"
	"github.com/rovshanmuradov/curvemarket/internal/market"
)

var (
	ErrAlreadyRegistered   = errors.New("content already registered")
	ErrNotRegistered       = errors.New("content not registered")
	ErrInvalidContentID    = errors.New("invalid content id")
	ErrArrayLengthMismatch = errors.New("array length mismatch")
	ErrUnauthorized        = errors.New("unauthorized")
)

// ContentMeta is what a creator registers before the token exists.
type ContentMeta struct {
	ContentID        string
	Name             string
	Symbol           string
	URI              string
	PlatformReferrer common.Address
}

// Registration is a registered, possibly not yet deployed, content token.
type Registration struct {
	ContentMeta
	Token        common.Address
	Creator      common.Address
	RegisteredAt time.Time
}

// ProtocolConfig holds the administrator and the protocol wide fee
// recipients. Markets copy the recipients when they are deployed.
type ProtocolConfig struct {
	Owner                common.Address
	ProtocolFeeRecipient common.Address
	OriginFeeRecipient   common.Address
}

// Options configure a Factory.
type Options struct {
	Address  common.Address
	Params   market.Params
	Protocol ProtocolConfig
}

// DeployResult is the outcome of DeployAndBuy.
type DeployResult struct {
	market.BuyResult
	Token    common.Address
	Deployed bool // the market was created by this call
}

// Factory maps content ids to deterministic token addresses and deploys each
// token's market on its first purchase.
type Factory struct {
	address common.Address
	params  market.Params
	deps    market.Deps
	root    *zap.Logger
	logger  *zap.Logger

	mu            sync.RWMutex
	protocol      ProtocolConfig
	registrations map[common.Address]*Registration
	markets       map[common.Address]*market.Market

	// serializes deployments so that a market is created at most once
	deployMu sync.Mutex
}

// New creates an empty factory.
func New(opts Options, deps market.Deps, logger *zap.Logger) (*Factory, error) {
	if opts.Address == (common.Address{}) {
		return nil, fmt.Errorf("%w: factory address", market.ErrAddressZero)
	}
	if opts.Protocol.Owner == (common.Address{}) || opts.Protocol.ProtocolFeeRecipient == (common.Address{}) {
		return nil, fmt.Errorf("%w: owner and protocol fee recipient are required", market.ErrAddressZero)
	}
	if err := opts.Params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid market params: %w", err)
	}

	return &Factory{
		address:       opts.Address,
		params:        opts.Params,
		deps:          deps,
		root:          logger,
		logger:        logger.Named("factory"),
		protocol:      opts.Protocol,
		registrations: make(map[common.Address]*Registration),
		markets:       make(map[common.Address]*market.Market),
	}, nil
}

// Address returns the factory account used to derive token addresses.
func (f *Factory) Address() common.Address {
	return f.address
}

// GetTokenAddress returns the address the token for contentID has or will
// have. Pure function of the factory address and the content id.
func (f *Factory) GetTokenAddress(contentID string) common.Address {
	return chain.DeriveAddress(f.address.Bytes(), []byte(contentID))
}

// IsTokenDeployed reports whether the market for contentID exists.
func (f *Factory) IsTokenDeployed(contentID string) bool {
	_, ok := f.Market(f.GetTokenAddress(contentID))
	return ok
}

// Market returns the deployed market at token.
func (f *Factory) Market(token common.Address) (*market.Market, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.markets[token]
	return m, ok
}

// Markets returns all deployed markets ordered by address.
func (f *Factory) Markets() []*market.Market {
	f.mu.RLock()
	out := make([]*market.Market, 0, len(f.markets))
	for _, m := range f.markets {
		out = append(out, m)
	}
	f.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Address().Cmp(out[j].Address()) < 0
	})
	return out
}

// Registration returns the registration of contentID.
func (f *Factory) Registration(contentID string) (Registration, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	reg, ok := f.registrations[f.GetTokenAddress(contentID)]
	if !ok {
		return Registration{}, fmt.Errorf("%w: %q", ErrNotRegistered, contentID)
	}
	return *reg, nil
}

// Protocol returns the current protocol configuration.
func (f *Factory) Protocol() ProtocolConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.protocol
}

////////////////////////////////////////////////////////////////////////////////
// Регистрация
////////////////////////////////////////////////////////////////////////////////

// RegisterToken records creator metadata for meta.ContentID and returns the
// token address. Nothing is deployed.
func (f *Factory) RegisterToken(ctx context.Context, creator common.Address, meta ContentMeta) (common.Address, error) {
	if creator == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: creator", market.ErrAddressZero)
	}
	if meta.ContentID == "" {
		return common.Address{}, ErrInvalidContentID
	}

	token := f.GetTokenAddress(meta.ContentID)
	reg := &Registration{
		ContentMeta:  meta,
		Token:        token,
		Creator:      creator,
		RegisteredAt: time.Now().UTC(),
	}

	f.mu.Lock()
	if _, ok := f.registrations[token]; ok {
		f.mu.Unlock()
		return common.Address{}, fmt.Errorf("%w: %q", ErrAlreadyRegistered, meta.ContentID)
	}
	f.registrations[token] = reg
	f.mu.Unlock()

	chain.Record(ctx, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.registrations, token)
	})

	f.emit(ctx, &events.RegisteredEvent{
		BaseEvent:        events.NewBase(events.TokenRegistered),
		ContentID:        meta.ContentID,
		Token:            token,
		Creator:          creator,
		PlatformReferrer: meta.PlatformReferrer,
		Name:             meta.Name,
		Symbol:           meta.Symbol,
		URI:              meta.URI,
	})

	f.logger.Debug("Content registered",
		zap.String("content_id", meta.ContentID),
		zap.String("token", token.Hex()),
		zap.String("creator", creator.Hex()))

	return token, nil
}

// BatchRegister registers creators[i] as the creator of metas[i]. Either all
// registrations succeed or none is kept.
func (f *Factory) BatchRegister(ctx context.Context, creators []common.Address, metas []ContentMeta) ([]common.Address, error) {
	if len(creators) != len(metas) {
		return nil, fmt.Errorf("%w: %d creators, %d metas", ErrArrayLengthMismatch, len(creators), len(metas))
	}

	tokens := make([]common.Address, 0, len(metas))
	err := chain.Run(ctx, func(ctx context.Context) error {
		for i := range metas {
			token, err := f.RegisterToken(ctx, creators[i], metas[i])
			if err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
			tokens = append(tokens, token)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

////////////////////////////////////////////////////////////////////////////////
// Деплой
////////////////////////////////////////////////////////////////////////////////

// DeployAndBuy buys contentID's token, deploying its market first when this
// is the first purchase. A failed buy also undoes the deployment.
func (f *Factory) DeployAndBuy(ctx context.Context, caller common.Address, value *uint256.Int, contentID string, p market.BuyParams) (DeployResult, error) {
	token := f.GetTokenAddress(contentID)
	if m, ok := f.Market(token); ok {
		res, err := m.Buy(ctx, caller, value, p)
		return DeployResult{BuyResult: res, Token: token}, err
	}

	f.deployMu.Lock()
	defer f.deployMu.Unlock()

	if m, ok := f.Market(token); ok {
		res, err := m.Buy(ctx, caller, value, p)
		return DeployResult{BuyResult: res, Token: token}, err
	}

	f.mu.RLock()
	reg, registered := f.registrations[token]
	protocol := f.protocol
	f.mu.RUnlock()
	if !registered {
		return DeployResult{}, fmt.Errorf("%w: %q", ErrNotRegistered, contentID)
	}

	var res market.BuyResult
	err := chain.Run(ctx, func(ctx context.Context) error {
		m, err := market.New(market.Config{
			Address:              token,
			Name:                 reg.Name,
			Symbol:               reg.Symbol,
			TokenURI:             reg.URI,
			TokenCreator:         reg.Creator,
			PlatformReferrer:     reg.PlatformReferrer,
			OriginFeeRecipient:   protocol.OriginFeeRecipient,
			ProtocolFeeRecipient: protocol.ProtocolFeeRecipient,
		}, f.params, f.deps, f.root)
		if err != nil {
			return fmt.Errorf("failed to deploy market: %w", err)
		}

		// Published only on commit; a failed first buy leaves no market behind.
		chain.AfterCommit(ctx, func() {
			f.mu.Lock()
			f.markets[token] = m
			f.mu.Unlock()
		})
		f.emit(ctx, &events.DeployedEvent{
			BaseEvent: events.NewBase(events.TokenDeployed),
			ContentID: contentID,
			Token:     token,
			Creator:   reg.Creator,
		})

		res, err = m.Buy(ctx, caller, value, p)
		return err
	})
	if err != nil {
		return DeployResult{}, err
	}

	f.logger.Info("Market deployed",
		zap.String("content_id", contentID),
		zap.String("token", token.Hex()),
		zap.String("first_buyer", caller.Hex()))

	return DeployResult{BuyResult: res, Token: token, Deployed: true}, nil
}

func (f *Factory) emit(ctx context.Context, ev events.Event) {
	if f.deps.Events == nil {
		return
	}
	chain.AfterCommit(ctx, func() {
		if err := f.deps.Events.Publish(ev); err != nil {
			f.logger.Warn("Failed to publish event", zap.String("event_type", string(ev.Type())), zap.Error(err))
		}
	})
}
