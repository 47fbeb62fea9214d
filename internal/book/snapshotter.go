// Package book builds and serves the consolidated order book: a periodic
// sweep merges every maker's resting levels per market into a bounded,
// price-sorted snapshot, and the query service answers reads from the
// snapshot cache at three granularity levels.
package book

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
	"go.uber.org/zap"

	"github.com/ZigZagExchange/backend-sub000/internal/broadcast"
	"github.com/ZigZagExchange/backend-sub000/internal/config"
	"github.com/ZigZagExchange/backend-sub000/internal/liquidity"
	"github.com/ZigZagExchange/backend-sub000/pkg/metrics"
	"github.com/ZigZagExchange/backend-sub000/pkg/models"
)

// Snapshotter periodically rebuilds consolidated books from raw maker
// records and owns the snapshot cache.
type Snapshotter struct {
	store  *liquidity.Store
	cache  *Cache
	fabric *broadcast.Fabric
	cfg    config.EngineConfig
	logger *zap.Logger
}

func NewSnapshotter(store *liquidity.Store, cache *Cache, fabric *broadcast.Fabric, cfg config.EngineConfig, logger *zap.Logger) *Snapshotter {
	return &Snapshotter{
		store:  store,
		cache:  cache,
		fabric: fabric,
		cfg:    cfg,
		logger: logger.Named("snapshotter"),
	}
}

// BookCache returns the snapshot cache handle for query and quote components.
func (s *Snapshotter) BookCache() *Cache { return s.cache }

// Run executes the sweep on a fixed interval until ctx is canceled.
func (s *Snapshotter) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
				metrics.SweepsTotal.WithLabelValues("error").Inc()
			} else {
				metrics.SweepsTotal.WithLabelValues("ok").Inc()
			}
		}
	}
}

// Sweep rebuilds every active market's consolidated book once. A failure
// on one market is logged and must not abort the sweep for the others.
func (s *Snapshotter) Sweep(ctx context.Context) error {
	chains, err := s.store.ActiveChains(ctx)
	if err != nil {
		return err
	}
	for _, chainID := range chains {
		markets, err := s.store.ActiveMarkets(ctx, chainID)
		if err != nil {
			s.logger.Warn("skip chain", zap.Int64("chain", chainID), zap.Error(err))
			continue
		}

		prev, err := s.cache.LastPrices(ctx, chainID)
		if err != nil {
			prev = map[string]decimal.Decimal{}
		}

		var lastPrices []models.LastPriceEntry
		for _, market := range markets {
			entry, ok := s.sweepMarket(ctx, chainID, market, prev[market])
			if ok {
				lastPrices = append(lastPrices, entry)
			}
		}
		if len(lastPrices) > 0 {
			s.fabric.LastPrice(ctx, chainID, lastPrices)
		}
	}
	return nil
}

// sweepMarket merges one market's maker records into a snapshot. The
// returned entry is the market's lastprice element; ok=false when no
// publishable mid exists this tick.
func (s *Snapshotter) sweepMarket(ctx context.Context, chainID int64, market string, prevMid decimal.Decimal) (models.LastPriceEntry, bool) {
	records, err := s.store.MakerRecords(ctx, chainID, market)
	if err != nil {
		s.logger.Warn("skip market",
			zap.Int64("chain", chainID), zap.String("market", market), zap.Error(err))
		return models.LastPriceEntry{}, false
	}

	now := time.Now()
	less := func(a, b models.BookLevel) bool { return a.Price.LessThan(b.Price) }
	bids := btree.NewBTreeG[models.BookLevel](less)
	asks := btree.NewBTreeG[models.BookLevel](less)

	var gone []string
	for _, record := range records {
		if record.Payload == nil {
			gone = append(gone, record.MakerID)
			continue
		}
		var levels []models.LiquidityLevel
		if err := json.Unmarshal(record.Payload, &levels); err != nil {
			// One maker's bad payload must not starve the rest.
			s.logger.Warn("malformed maker record",
				zap.String("market", market), zap.String("maker", record.MakerID))
			continue
		}
		for _, level := range levels {
			if !level.Size.IsPositive() || level.Expired(now) {
				continue
			}
			tree := asks
			if level.Side == models.SideBid {
				tree = bids
			}
			merged := models.BookLevel{Price: level.Price, Size: level.Size}
			if existing, ok := tree.Get(merged); ok {
				merged.Size = existing.Size.Add(level.Size)
			}
			tree.Set(merged)
		}
	}

	if err := s.store.PruneMakers(ctx, chainID, market, gone); err != nil {
		s.logger.Warn("prune makers", zap.String("market", market), zap.Error(err))
	}

	if bids.Len() == 0 && asks.Len() == 0 {
		if err := s.store.EvictMarket(ctx, chainID, market); err != nil {
			s.logger.Warn("evict market", zap.String("market", market), zap.Error(err))
		}
		s.logger.Debug("market evicted",
			zap.Int64("chain", chainID), zap.String("market", market))
		return models.LastPriceEntry{}, false
	}

	snapshot := &models.ConsolidatedBook{
		Market:    market,
		Bids:      topLevels(bids, s.cfg.TopLevels, true),
		Asks:      topLevels(asks, s.cfg.TopLevels, false),
		Timestamp: now.Unix(),
	}
	snapshot.Mid = weightedMid(snapshot.Bids, snapshot.Asks)

	if err := s.cache.PutSnapshot(ctx, chainID, snapshot); err != nil {
		s.logger.Warn("store snapshot", zap.String("market", market), zap.Error(err))
		return models.LastPriceEntry{}, false
	}
	metrics.SnapshotsPublished.WithLabelValues(chainString(chainID), market).Inc()
	s.fabric.Liquidity(ctx, chainID, market, snapshot)

	// Mid must be positive to publish a last price this tick.
	if !snapshot.Mid.IsPositive() {
		return models.LastPriceEntry{}, false
	}
	if err := s.cache.PutLastPrice(ctx, chainID, market, snapshot.Mid); err != nil {
		s.logger.Warn("store last price", zap.String("market", market), zap.Error(err))
	}

	change := decimal.Zero
	if prevMid.IsPositive() {
		change = snapshot.Mid.Sub(prevMid)
	}
	// Rolling volumes come from the periodic statistics jobs, not from
	// this core; the sweep publishes zeroes.
	return models.LastPriceEntry{
		Market: market,
		Price:  snapshot.Mid,
		Change: change,
	}, true
}

// topLevels drains a side tree into its sorted, bounded slice. Bids emit
// descending, asks ascending.
func topLevels(tree *btree.BTreeG[models.BookLevel], limit int, descending bool) []models.BookLevel {
	out := make([]models.BookLevel, 0, min(limit, tree.Len()))
	iter := func(level models.BookLevel) bool {
		out = append(out, level)
		return len(out) < limit
	}
	if descending {
		tree.Reverse(iter)
	} else {
		tree.Scan(iter)
	}
	return out
}

// weightedMid is the size-weighted mid of the bounded book:
// (avg ask + avg bid) / 2, each side weighted by size. Zero when either
// side is empty or weightless.
func weightedMid(bids, asks []models.BookLevel) decimal.Decimal {
	bidAvg, ok1 := weightedAverage(bids)
	askAvg, ok2 := weightedAverage(asks)
	if !ok1 || !ok2 {
		return decimal.Zero
	}
	return bidAvg.Add(askAvg).Div(decimal.NewFromInt(2))
}

func weightedAverage(levels []models.BookLevel) (decimal.Decimal, bool) {
	sum, weight := decimal.Zero, decimal.Zero
	for _, l := range levels {
		sum = sum.Add(l.Price.Mul(l.Size))
		weight = weight.Add(l.Size)
	}
	if !weight.IsPositive() {
		return decimal.Zero, false
	}
	return sum.Div(weight), true
}

func chainString(chainID int64) string {
	return strconv.FormatInt(chainID, 10)
}
