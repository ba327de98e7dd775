package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no price was stored for a token.
var ErrNotFound = errors.New("redis: price not found")

// Price is the cached state of one market.
type Price struct {
	Wei        *uint256.Int
	MarketType string
	UpdatedAt  time.Time
}

// PriceCache stores each token's latest price as a hash at
// "price:{token}" with fields "wei", "type" and "ts" (Unix nanoseconds).
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. A zero ttl
// keeps entries forever.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.rdb, ttl: ttl}
}

func priceKey(token common.Address) string {
	return "price:" + token.Hex()
}

// SetPrice stores the latest price of token.
func (pc *PriceCache) SetPrice(ctx context.Context, token common.Address, price *uint256.Int, marketType string, ts time.Time) error {
	key := priceKey(token)
	fields := map[string]interface{}{
		"wei":  price.Dec(),
		"type": marketType,
		"ts":   strconv.FormatInt(ts.UnixNano(), 10),
	}

	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", token.Hex(), err)
	}
	return nil
}

// GetPrice returns the latest price of token or ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, token common.Address) (Price, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(token)).Result()
	if err != nil {
		return Price{}, fmt.Errorf("redis: get price %s: %w", token.Hex(), err)
	}
	if len(vals) == 0 {
		return Price{}, ErrNotFound
	}
	return parsePrice(token, vals)
}

// GetPrices returns the cached prices of tokens using a pipeline. Tokens
// without an entry are omitted.
func (pc *PriceCache) GetPrices(ctx context.Context, tokens []common.Address) (map[common.Address]Price, error) {
	if len(tokens) == 0 {
		return map[common.Address]Price{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[common.Address]*redis.MapStringStringCmd, len(tokens))
	for _, t := range tokens {
		cmds[t] = pipe.HGetAll(ctx, priceKey(t))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[common.Address]Price, len(tokens))
	for t, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		p, err := parsePrice(t, vals)
		if err != nil {
			continue
		}
		result[t] = p
	}
	return result, nil
}

func parsePrice(token common.Address, vals map[string]string) (Price, error) {
	wei, err := uint256.FromDecimal(vals["wei"])
	if err != nil {
		return Price{}, fmt.Errorf("redis: parse price %s: %w", token.Hex(), err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return Price{}, fmt.Errorf("redis: parse ts %s: %w", token.Hex(), err)
	}
	return Price{
		Wei:        wei,
		MarketType: vals["type"],
		UpdatedAt:  time.Unix(0, tsNano).UTC(),
	}, nil
}
