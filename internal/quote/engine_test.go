package quote

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ZigZagExchange/backend-sub000/internal/book"
	"github.com/ZigZagExchange/backend-sub000/internal/config"
	"github.com/ZigZagExchange/backend-sub000/internal/redis"
	"github.com/ZigZagExchange/backend-sub000/pkg/errors"
	"github.com/ZigZagExchange/backend-sub000/pkg/models"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testMarket(fee string) config.MarketRegistry {
	return config.MarketRegistry{
		"ETH-USDT": models.MarketInfo{
			Market:        "ETH-USDT",
			BaseAsset:     "ETH",
			QuoteAsset:    "USDT",
			PriceDecimals: 4,
			QuoteFee:      d(fee),
		},
	}
}

func newTestEngine(t *testing.T, fee string) (*Engine, *book.Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClientFromUniversal(
		goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), zap.NewNop())
	cache := book.NewCache(client, 15*time.Second)
	cfg := config.EngineConfig{SlippageBuffer: 0.0005}
	return NewEngine(cache, testMarket(fee), cfg, zap.NewNop()), cache
}

func seedBook(t *testing.T, cache *book.Cache) {
	t.Helper()
	require.NoError(t, cache.PutSnapshot(context.Background(), 1, &models.ConsolidatedBook{
		Market: "ETH-USDT",
		Bids:   []models.BookLevel{{Price: d("100"), Size: d("2")}, {Price: d("99"), Size: d("3")}},
		Asks:   []models.BookLevel{{Price: d("101"), Size: d("2")}, {Price: d("102"), Size: d("4")}},
		Mid:    d("100.5"),
	}))
}

func TestGenQuoteBuyWalksAsks(t *testing.T) {
	engine, cache := newTestEngine(t, "0")
	seedBook(t, cache)

	q, err := engine.GenQuote(context.Background(), 1, "ETH-USDT", models.SideBid, d("3"), decimal.Zero)
	require.NoError(t, err)

	// 2 @ 101 plus 1 @ 102 over 3 units.
	expected := d("304").Div(d("3"))
	assert.True(t, q.HardQuoteQuantity.Equal(d("304")))
	assert.True(t, q.HardPrice.Sub(expected).Abs().LessThan(d("0.0001")),
		"hard price %s, expected %s", q.HardPrice, expected)
	assert.True(t, q.SoftPrice.GreaterThan(q.HardPrice), "buy pads upward")
}

func TestGenQuoteSellWalksBids(t *testing.T) {
	engine, cache := newTestEngine(t, "0")
	seedBook(t, cache)

	q, err := engine.GenQuote(context.Background(), 1, "ETH-USDT", models.SideAsk, d("3"), decimal.Zero)
	require.NoError(t, err)

	// 2 @ 100 plus 1 @ 99.
	assert.True(t, q.HardQuoteQuantity.Equal(d("299")))
	assert.True(t, q.SoftPrice.LessThan(q.HardPrice), "sell pads downward")
}

func TestGenQuotePriceConsistency(t *testing.T) {
	engine, cache := newTestEngine(t, "1.5")
	seedBook(t, cache)

	q, err := engine.GenQuote(context.Background(), 1, "ETH-USDT", models.SideAsk, d("2.5"), decimal.Zero)
	require.NoError(t, err)

	// hardPrice must equal hardQuote/hardBase even with the fee folded.
	derived := q.HardQuoteQuantity.Div(q.HardBaseQuantity)
	assert.True(t, q.HardPrice.Sub(derived).Abs().LessThan(d("0.00000001")))
}

func TestGenQuoteQuoteSizedLeg(t *testing.T) {
	engine, cache := newTestEngine(t, "0")
	seedBook(t, cache)

	// Buy 151.5 USDT worth: 1.5 units at 101.
	q, err := engine.GenQuote(context.Background(), 1, "ETH-USDT", models.SideBid, decimal.Zero, d("151.5"))
	require.NoError(t, err)
	assert.True(t, q.HardBaseQuantity.Equal(d("1.5")))
	assert.True(t, q.HardQuoteQuantity.Equal(d("151.5")))
}

func TestGenQuoteInsufficientDepth(t *testing.T) {
	engine, cache := newTestEngine(t, "0")
	seedBook(t, cache)

	q, err := engine.GenQuote(context.Background(), 1, "ETH-USDT", models.SideBid, d("100"), decimal.Zero)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLiquidity))
	assert.Nil(t, q, "no partial quote on exhaustion")
}

func TestGenQuoteRequiresExactlyOneSize(t *testing.T) {
	engine, cache := newTestEngine(t, "0")
	seedBook(t, cache)
	ctx := context.Background()

	_, err := engine.GenQuote(ctx, 1, "ETH-USDT", models.SideBid, d("1"), d("100"))
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = engine.GenQuote(ctx, 1, "ETH-USDT", models.SideBid, decimal.Zero, decimal.Zero)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestGenQuoteMissingSnapshot(t *testing.T) {
	engine, _ := newTestEngine(t, "0")
	_, err := engine.GenQuote(context.Background(), 1, "ETH-USDT", models.SideBid, d("1"), decimal.Zero)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLiquidity))
}

func TestGenQuoteSubTickPriceRejected(t *testing.T) {
	// The market's display precision is coarser than its price, so the
	// rounded soft price collapses to zero. Must reject, never panic.
	mr := miniredis.RunT(t)
	client := redis.NewClientFromUniversal(
		goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), zap.NewNop())
	cache := book.NewCache(client, 15*time.Second)
	registry := config.MarketRegistry{
		"SHIB-USDT": models.MarketInfo{
			Market:        "SHIB-USDT",
			BaseAsset:     "SHIB",
			QuoteAsset:    "USDT",
			PriceDecimals: 2,
		},
	}
	engine := NewEngine(cache, registry, config.EngineConfig{SlippageBuffer: 0.0005}, zap.NewNop())

	require.NoError(t, cache.PutSnapshot(context.Background(), 1, &models.ConsolidatedBook{
		Market: "SHIB-USDT",
		Bids:   []models.BookLevel{{Price: d("0.004"), Size: d("10000")}},
		Asks:   []models.BookLevel{{Price: d("0.005"), Size: d("10000")}},
		Mid:    d("0.0045"),
	}))

	q, err := engine.GenQuote(context.Background(), 1, "SHIB-USDT", models.SideAsk, decimal.Zero, d("10"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInternal))
	assert.Nil(t, q)
}

func TestGenQuoteFeeDirection(t *testing.T) {
	engine, cache := newTestEngine(t, "2")
	seedBook(t, cache)
	ctx := context.Background()

	buy, err := engine.GenQuote(ctx, 1, "ETH-USDT", models.SideBid, d("1"), decimal.Zero)
	require.NoError(t, err)
	// 1 @ 101 plus the 2 USDT fee.
	assert.True(t, buy.HardQuoteQuantity.Equal(d("103")))

	sell, err := engine.GenQuote(ctx, 1, "ETH-USDT", models.SideAsk, d("1"), decimal.Zero)
	require.NoError(t, err)
	// 1 @ 100 minus the fee.
	assert.True(t, sell.HardQuoteQuantity.Equal(d("98")))
}
