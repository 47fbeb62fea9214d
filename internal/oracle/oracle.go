// Package oracle exposes the USD price feed consumed by the liquidity
// intake path. The feed itself is maintained by an external job; this
// package only reads its published values.
package oracle

import (
	"context"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ZigZagExchange/backend-sub000/internal/redis"
)

// PriceSource answers "what is one unit of this asset worth in USD".
// Implementations return zero, not an error, for unknown symbols.
type PriceSource interface {
	GetUsdPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

const priceKeyPrefix = "usdprice:"

// RedisPriceSource reads prices published to the shared store by the
// external price feed job.
type RedisPriceSource struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisPriceSource(client *redis.Client, logger *zap.Logger) *RedisPriceSource {
	return &RedisPriceSource{client: client, logger: logger}
}

// GetUsdPrice returns the last published USD price for symbol, or zero
// when the feed has never published one.
func (s *RedisPriceSource) GetUsdPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	val, err := s.client.R().Get(ctx, priceKeyPrefix+strings.ToUpper(symbol)).Result()
	if err == goredis.Nil {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	price, err := decimal.NewFromString(val)
	if err != nil {
		s.logger.Warn("malformed usd price in store",
			zap.String("symbol", symbol), zap.String("value", val))
		return decimal.Zero, nil
	}
	return price, nil
}

// StaticPriceSource serves prices from a fixed table. Used in tests and
// for assets pinned by config.
type StaticPriceSource map[string]decimal.Decimal

func (s StaticPriceSource) GetUsdPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	return s[strings.ToUpper(symbol)], nil
}
