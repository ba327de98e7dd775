// internal/config/params.go
package config

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/curvemarket/internal/chain"
	"github.com/rovshanmuradov/curvemarket/internal/curve"
	"github.com/rovshanmuradov/curvemarket/internal/market"
	"github.com/rovshanmuradov/curvemarket/internal/pool"
)

// Accounts are the resolved protocol addresses.
type Accounts struct {
	Factory            common.Address
	WETH               common.Address
	Pool               common.Address
	Owner              common.Address
	FeeRecipient       common.Address
	OriginFeeRecipient common.Address
}

// CurveParams converts the curve section.
func (c *Config) CurveParams() (curve.Params, error) {
	a, err := decimal.NewFromString(c.Curve.A)
	if err != nil {
		return curve.Params{}, fmt.Errorf("invalid curve.a: %w", err)
	}
	b, err := decimal.NewFromString(c.Curve.B)
	if err != nil {
		return curve.Params{}, fmt.Errorf("invalid curve.b: %w", err)
	}
	maxSupply, err := curve.FromEther(c.Curve.MaxSupply)
	if err != nil {
		return curve.Params{}, fmt.Errorf("invalid curve.max_supply: %w", err)
	}

	p := curve.Params{A: a, B: b, MaxSupply: maxSupply}
	if _, err := curve.New(p); err != nil {
		return curve.Params{}, err
	}
	return p, nil
}

// MarketParams converts the market section.
func (c *Config) MarketParams() (market.Params, error) {
	primary, err := curve.FromEther(c.Market.PrimarySupply)
	if err != nil {
		return market.Params{}, fmt.Errorf("invalid market.primary_supply: %w", err)
	}
	secondary, err := curve.FromEther(c.Market.SecondarySupply)
	if err != nil {
		return market.Params{}, fmt.Errorf("invalid market.secondary_supply: %w", err)
	}
	minOrder, err := curve.FromEther(c.Market.MinOrderSize)
	if err != nil {
		return market.Params{}, fmt.Errorf("invalid market.min_order_size: %w", err)
	}

	p := market.Params{
		PrimarySupply:   primary,
		SecondarySupply: secondary,
		MinOrderSize:    minOrder,
		TotalFeeBPS:     c.Market.TotalFeeBPS,
		Shares: market.FeeShares{
			Creator:          c.Market.FeeShares.Creator,
			PlatformReferrer: c.Market.FeeShares.PlatformReferrer,
			OrderReferrer:    c.Market.FeeShares.OrderReferrer,
			Origin:           c.Market.FeeShares.Origin,
		},
	}
	if err := p.Validate(); err != nil {
		return market.Params{}, err
	}
	return p, nil
}

// PoolOptions converts the pool section.
func (c *Config) PoolOptions() pool.ManagerOptions {
	return pool.ManagerOptions{
		Address:         chain.ResolveAddress(c.Pool.Address),
		FeesBasisPoints: c.Pool.FeeBPS,
	}
}

// Accounts resolves the protocol section.
func (c *Config) Accounts() (Accounts, error) {
	acc := Accounts{
		Factory:            chain.ResolveAddress(c.Protocol.FactoryAddress),
		WETH:               chain.ResolveAddress(c.Protocol.WETHAddress),
		Pool:               chain.ResolveAddress(c.Pool.Address),
		Owner:              chain.ResolveAddress(c.Protocol.Owner),
		FeeRecipient:       chain.ResolveAddress(c.Protocol.FeeRecipient),
		OriginFeeRecipient: chain.ResolveAddress(c.Protocol.OriginFeeRecipient),
	}
	required := map[string]common.Address{
		"protocol.factory_address": acc.Factory,
		"protocol.weth_address":    acc.WETH,
		"pool.address":             acc.Pool,
		"protocol.owner":           acc.Owner,
		"protocol.fee_recipient":   acc.FeeRecipient,
	}
	for key, addr := range required {
		if addr == (common.Address{}) {
			return Accounts{}, fmt.Errorf("%s is required", key)
		}
	}
	return acc, nil
}
