package book

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ZigZagExchange/backend-sub000/internal/config"
	"github.com/ZigZagExchange/backend-sub000/pkg/errors"
	"github.com/ZigZagExchange/backend-sub000/pkg/models"
)

// bucketRatio sets the level-2 aggregation step as a fraction of mid.
var bucketRatio = decimal.NewFromFloat(0.0005)

// OrderBook is the query-service view of one market's book.
type OrderBook struct {
	Market    string             `json:"market"`
	BestBid   decimal.Decimal    `json:"best_bid"`
	BestAsk   decimal.Decimal    `json:"best_ask"`
	Bids      []models.BookLevel `json:"bids,omitempty"`
	Asks      []models.BookLevel `json:"asks,omitempty"`
	Timestamp int64              `json:"timestamp,omitempty"`
}

// Service answers order book reads from the snapshot cache.
type Service struct {
	cache   *Cache
	markets config.MarketRegistry
	logger  *zap.Logger
}

func NewService(cache *Cache, markets config.MarketRegistry, logger *zap.Logger) *Service {
	return &Service{cache: cache, markets: markets, logger: logger.Named("bookquery")}
}

// GetOrderBook serves the consolidated book at the requested granularity.
// Level 1 is best bid/ask only, level 2 aggregates into mid-relative price
// buckets, level 3 is the full bounded snapshot. A missing snapshot yields
// an empty book, never an error. depth > 1 additionally merges runs of
// depth/2 consecutive entries per side.
func (s *Service) GetOrderBook(ctx context.Context, chainID int64, market string, depth, level int) (*OrderBook, error) {
	if level < 1 || level > 3 {
		return nil, errors.Validation("level must be 1, 2 or 3")
	}
	if depth < 0 {
		return nil, errors.Validation("depth must not be negative")
	}

	if level == 1 {
		top, err := s.cache.Top(ctx, chainID, market)
		if err != nil {
			return nil, err
		}
		return &OrderBook{Market: market, BestBid: top.BestBid, BestAsk: top.BestAsk}, nil
	}

	snapshot, ok, err := s.cache.Snapshot(ctx, chainID, market)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &OrderBook{Market: market}, nil
	}

	bids, asks := snapshot.Bids, snapshot.Asks
	if level == 2 {
		bids, asks = bucketize(bids, asks, snapshot.Mid, s.priceDecimals(market))
	}
	if depth > 1 {
		run := depth / 2
		bids = mergeRuns(bids, run)
		asks = mergeRuns(asks, run)
	}

	ob := &OrderBook{
		Market:    market,
		Bids:      bids,
		Asks:      asks,
		Timestamp: snapshot.Timestamp,
	}
	if len(bids) > 0 {
		ob.BestBid = bids[0].Price
	}
	if len(asks) > 0 {
		ob.BestAsk = asks[0].Price
	}
	return ob, nil
}

func (s *Service) priceDecimals(market string) int32 {
	if info, ok := s.markets.Get(market); ok {
		return info.PriceDecimals
	}
	return 8
}

// bucketize groups level-3 entries into price buckets of step = mid*ratio.
// Each entry lands in the bucket selected by its distance from mid; sizes
// sum within a bucket and the bucket price rounds to the market precision.
// Without a positive mid there is no step, so entries pass unaggregated.
func bucketize(bids, asks []models.BookLevel, mid decimal.Decimal, decimals int32) ([]models.BookLevel, []models.BookLevel) {
	if !mid.IsPositive() {
		return bids, asks
	}
	step := mid.Mul(bucketRatio)
	if !step.IsPositive() {
		return bids, asks
	}
	return bucketSide(bids, mid, step, decimals), bucketSide(asks, mid, step, decimals)
}

func bucketSide(levels []models.BookLevel, mid, step decimal.Decimal, decimals int32) []models.BookLevel {
	if len(levels) == 0 {
		return levels
	}
	out := make([]models.BookLevel, 0, len(levels))
	for _, l := range levels {
		idx := l.Price.Sub(mid).Div(step).Floor()
		price := mid.Add(idx.Mul(step)).Round(decimals)
		if n := len(out); n > 0 && out[n-1].Price.Equal(price) {
			out[n-1].Size = out[n-1].Size.Add(l.Size)
			continue
		}
		out = append(out, models.BookLevel{Price: price, Size: l.Size})
	}
	return out
}

// mergeRuns folds every run of `run` consecutive entries into one, keeping
// the marginal (last) price of the run and summing sizes.
func mergeRuns(levels []models.BookLevel, run int) []models.BookLevel {
	if run < 2 || len(levels) == 0 {
		return levels
	}
	out := make([]models.BookLevel, 0, (len(levels)+run-1)/run)
	for i := 0; i < len(levels); i += run {
		end := min(i+run, len(levels))
		merged := models.BookLevel{Price: levels[end-1].Price}
		for _, l := range levels[i:end] {
			merged.Size = merged.Size.Add(l.Size)
		}
		out = append(out, merged)
	}
	return out
}
