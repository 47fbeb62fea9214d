package book

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/ZigZagExchange/backend-sub000/internal/redis"
	"github.com/ZigZagExchange/backend-sub000/pkg/errors"
	"github.com/ZigZagExchange/backend-sub000/pkg/models"
)

// Cache is the snapshotter-owned home of consolidated book state. Query
// and quote components receive it by handle; only the snapshotter writes
// snapshots, so lifetime and invalidation live in one place. Snapshots
// carry a TTL and read as absent once stale; best bid/ask are TTL-less
// last-write-wins keys for O(1) level-1 reads.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, snapshotTTL time.Duration) *Cache {
	return &Cache{client: client, ttl: snapshotTTL}
}

func snapshotKey(chainID int64, market string) string {
	return fmt.Sprintf("book:%d:%s", chainID, market)
}

func bestBidKey(chainID int64, market string) string {
	return fmt.Sprintf("bestbid:%d:%s", chainID, market)
}

func bestAskKey(chainID int64, market string) string {
	return fmt.Sprintf("bestask:%d:%s", chainID, market)
}

func lastPriceKey(chainID int64) string {
	return fmt.Sprintf("lastprice:%d", chainID)
}

// PutSnapshot stores the consolidated book with the snapshot TTL and the
// best-of-book keys without one.
func (c *Cache) PutSnapshot(ctx context.Context, chainID int64, snapshot *models.ConsolidatedBook) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Internal("marshal snapshot for %s: %v", snapshot.Market, err)
	}

	bestBid, bestAsk := decimal.Zero, decimal.Zero
	if len(snapshot.Bids) > 0 {
		bestBid = snapshot.Bids[0].Price
	}
	if len(snapshot.Asks) > 0 {
		bestAsk = snapshot.Asks[0].Price
	}

	pipe := c.client.R().Pipeline()
	pipe.Set(ctx, snapshotKey(chainID, snapshot.Market), payload, c.ttl)
	pipe.Set(ctx, bestBidKey(chainID, snapshot.Market), bestBid.String(), 0)
	pipe.Set(ctx, bestAskKey(chainID, snapshot.Market), bestAsk.String(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Transient(err, "store snapshot for %s", snapshot.Market)
	}
	return nil
}

// Snapshot reads the cached consolidated book. A missing or expired
// snapshot returns ok=false, not an error.
func (c *Cache) Snapshot(ctx context.Context, chainID int64, market string) (*models.ConsolidatedBook, bool, error) {
	val, err := c.client.R().Get(ctx, snapshotKey(chainID, market)).Result()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Transient(err, "read snapshot for %s", market)
	}
	var snapshot models.ConsolidatedBook
	if err := json.Unmarshal([]byte(val), &snapshot); err != nil {
		return nil, false, errors.Internal("malformed snapshot for %s", market)
	}
	return &snapshot, true, nil
}

// Top reads the O(1) best bid/ask pair. Missing keys read as zero.
func (c *Cache) Top(ctx context.Context, chainID int64, market string) (models.TopOfBook, error) {
	vals, err := c.client.R().MGet(ctx, bestBidKey(chainID, market), bestAskKey(chainID, market)).Result()
	if err != nil {
		return models.TopOfBook{}, errors.Transient(err, "read top of book for %s", market)
	}
	var top models.TopOfBook
	if s, ok := vals[0].(string); ok {
		if d, err := decimal.NewFromString(s); err == nil {
			top.BestBid = d
		}
	}
	if s, ok := vals[1].(string); ok {
		if d, err := decimal.NewFromString(s); err == nil {
			top.BestAsk = d
		}
	}
	return top, nil
}

// LastPrices reads the previous sweep's published prices for a chain.
func (c *Cache) LastPrices(ctx context.Context, chainID int64) (map[string]decimal.Decimal, error) {
	vals, err := c.client.R().HGetAll(ctx, lastPriceKey(chainID)).Result()
	if err != nil {
		return nil, errors.Transient(err, "read last prices for chain %d", chainID)
	}
	prices := make(map[string]decimal.Decimal, len(vals))
	for market, v := range vals {
		if d, err := decimal.NewFromString(v); err == nil {
			prices[market] = d
		}
	}
	return prices, nil
}

// PutLastPrice records the published price for one market.
func (c *Cache) PutLastPrice(ctx context.Context, chainID int64, market string, price decimal.Decimal) error {
	if err := c.client.R().HSet(ctx, lastPriceKey(chainID), market, price.String()).Err(); err != nil {
		return errors.Transient(err, "store last price for %s", market)
	}
	return nil
}
