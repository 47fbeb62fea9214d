package liquidity

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ZigZagExchange/backend-sub000/internal/config"
	"github.com/ZigZagExchange/backend-sub000/internal/oracle"
	"github.com/ZigZagExchange/backend-sub000/internal/redis"
	"github.com/ZigZagExchange/backend-sub000/pkg/errors"
	"github.com/ZigZagExchange/backend-sub000/pkg/models"
)

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		SweepInterval:      10 * time.Second,
		SnapshotTTL:        15 * time.Second,
		TopLevels:          200,
		LevelExpiryHorizon: 9 * time.Second,
		UsdSizeFloor:       10,
		SlippageBuffer:     0.0005,
		AuctionWindow:      250 * time.Millisecond,
		AuctionStateGrace:  2 * time.Second,
		FenceTTL:           60 * time.Second,
		BusyLockTTL:        300 * time.Second,
		MaxSettleAttempts:  64,
	}
}

func testRegistry() config.MarketRegistry {
	return config.MarketRegistry{
		"ETH-USDT": models.MarketInfo{
			Market:        "ETH-USDT",
			BaseAsset:     "ETH",
			QuoteAsset:    "USDT",
			PriceDecimals: 2,
			MinBaseSize:   decimal.RequireFromString("0.001"),
		},
	}
}

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClientFromUniversal(
		goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), zap.NewNop())
	prices := oracle.StaticPriceSource{
		// USD floor 10 / 2000 = 0.005 ETH minimum.
		"ETH": decimal.NewFromInt(2000),
	}
	store := NewStore(client, prices, testRegistry(), testEngineConfig(), zap.NewNop())
	return store, mr
}

func rawLevels(t *testing.T, rows ...string) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, len(rows))
	for i, r := range rows {
		out[i] = json.RawMessage(r)
	}
	return out
}

func storedLevels(t *testing.T, store *Store, chainID int64, market, maker string) []models.LiquidityLevel {
	t.Helper()
	records, err := store.MakerRecords(context.Background(), chainID, market)
	require.NoError(t, err)
	for _, r := range records {
		if r.MakerID == maker {
			var levels []models.LiquidityLevel
			require.NoError(t, json.Unmarshal(r.Payload, &levels))
			return levels
		}
	}
	return nil
}

func TestUpdateLiquidityAcceptsValidLevels(t *testing.T) {
	store, _ := newTestStore(t)

	rejected, err := store.UpdateLiquidity(context.Background(), 1, "ETH-USDT", "maker-a",
		rawLevels(t, `["b", "1999.5", "1.5"]`, `["s", 2001, 2]`))
	require.NoError(t, err)
	assert.Empty(t, rejected)

	levels := storedLevels(t, store, 1, "ETH-USDT", "maker-a")
	require.Len(t, levels, 2)
	assert.Equal(t, models.SideBid, levels[0].Side)
	assert.True(t, levels[0].Price.Equal(decimal.RequireFromString("1999.5")))
	assert.True(t, levels[0].Size.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, "maker-a", levels[0].OwnerID)

	markets, err := store.ActiveMarkets(context.Background(), 1)
	require.NoError(t, err)
	assert.Contains(t, markets, "ETH-USDT")
}

func TestUpdateLiquidityDropsDustSilently(t *testing.T) {
	store, _ := newTestStore(t)

	// Floor is 10 USD / 2000 = 0.005 ETH; 0.001 is dust.
	rejected, err := store.UpdateLiquidity(context.Background(), 1, "ETH-USDT", "maker-a",
		rawLevels(t, `["b", "2000", "0.001"]`, `["b", "2000", "1"]`))
	require.NoError(t, err)
	assert.Empty(t, rejected, "dust must not produce an error string")

	levels := storedLevels(t, store, 1, "ETH-USDT", "maker-a")
	require.Len(t, levels, 1)
	assert.True(t, levels[0].Size.Equal(decimal.NewFromInt(1)))
}

func TestUpdateLiquidityReportsMalformedRows(t *testing.T) {
	store, _ := newTestStore(t)

	rejected, err := store.UpdateLiquidity(context.Background(), 1, "ETH-USDT", "maker-a",
		rawLevels(t,
			`["x", "2000", "1"]`,
			`["b", "not-a-price", "1"]`,
			`["b", "-5", "1"]`,
			`42`,
			`["s", "2001", "1"]`,
		))
	require.NoError(t, err)
	assert.Len(t, rejected, 4)

	levels := storedLevels(t, store, 1, "ETH-USDT", "maker-a")
	require.Len(t, levels, 1)
	assert.Equal(t, models.SideAsk, levels[0].Side)
}

func TestUpdateLiquidityClampsExpiry(t *testing.T) {
	store, _ := newTestStore(t)

	farFuture := time.Now().Add(time.Hour).Unix()
	_, err := store.UpdateLiquidity(context.Background(), 1, "ETH-USDT", "maker-a",
		rawLevels(t, `["b", "2000", "1", `+decimal.NewFromInt(farFuture).String()+`]`))
	require.NoError(t, err)

	levels := storedLevels(t, store, 1, "ETH-USDT", "maker-a")
	require.Len(t, levels, 1)
	horizon := time.Now().Add(9 * time.Second).Unix()
	assert.LessOrEqual(t, levels[0].ExpiresAt, horizon)
	assert.Greater(t, levels[0].ExpiresAt, time.Now().Unix())
}

func TestUpdateLiquidityReplacesWholesale(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.UpdateLiquidity(ctx, 1, "ETH-USDT", "maker-a",
		rawLevels(t, `["b", "2000", "1"]`, `["b", "1999", "2"]`))
	require.NoError(t, err)

	_, err = store.UpdateLiquidity(ctx, 1, "ETH-USDT", "maker-a",
		rawLevels(t, `["b", "1998", "3"]`))
	require.NoError(t, err)

	levels := storedLevels(t, store, 1, "ETH-USDT", "maker-a")
	require.Len(t, levels, 1, "second update must replace, not merge")
	assert.True(t, levels[0].Price.Equal(decimal.NewFromInt(1998)))
}

func TestUpdateLiquidityRejectedWhileMakerBusy(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.LockMaker(ctx, 1, "maker-a",
		models.MakerBusyLock{OrderID: 77, RoutingToken: "tok"}, 300*time.Second))

	_, err := store.UpdateLiquidity(ctx, 1, "ETH-USDT", "maker-a",
		rawLevels(t, `["b", "2000", "1"]`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
	assert.Contains(t, err.Error(), "77", "rejection must name the pending order")

	// Lock releases only by TTL expiry.
	mr.FastForward(301 * time.Second)
	rejected, err := store.UpdateLiquidity(ctx, 1, "ETH-USDT", "maker-a",
		rawLevels(t, `["b", "2000", "1"]`))
	require.NoError(t, err)
	assert.Empty(t, rejected)
}

func TestBusyLockRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	lock, _, err := store.BusyLock(ctx, 1, "maker-a")
	require.NoError(t, err)
	assert.Nil(t, lock)

	require.NoError(t, store.LockMaker(ctx, 1, "maker-a",
		models.MakerBusyLock{OrderID: 5, RoutingToken: "r"}, time.Minute))
	lock, ttl, err := store.BusyLock(ctx, 1, "maker-a")
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, int64(5), lock.OrderID)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestUnknownMarketRejected(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.UpdateLiquidity(context.Background(), 1, "DOGE-USDT", "maker-a",
		rawLevels(t, `["b", "1", "100"]`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}
