// Package quote prices a requested size against the consolidated book by
// walking the opposite-side ladder. Each quote carries a guaranteed hard
// price and an indicative soft price padded against the taker.
package quote

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ZigZagExchange/backend-sub000/internal/book"
	"github.com/ZigZagExchange/backend-sub000/internal/config"
	"github.com/ZigZagExchange/backend-sub000/pkg/errors"
	"github.com/ZigZagExchange/backend-sub000/pkg/metrics"
	"github.com/ZigZagExchange/backend-sub000/pkg/models"
)

// Quote is the result of pricing one size against the ladder.
type Quote struct {
	Market string      `json:"market"`
	Side   models.Side `json:"side"`

	HardPrice         decimal.Decimal `json:"hard_price"`
	HardBaseQuantity  decimal.Decimal `json:"hard_base_quantity"`
	HardQuoteQuantity decimal.Decimal `json:"hard_quote_quantity"`

	SoftPrice         decimal.Decimal `json:"soft_price"`
	SoftBaseQuantity  decimal.Decimal `json:"soft_base_quantity"`
	SoftQuoteQuantity decimal.Decimal `json:"soft_quote_quantity"`
}

// Engine derives quotes from the snapshot cache.
type Engine struct {
	cache   *book.Cache
	markets config.MarketRegistry
	cfg     config.EngineConfig
	logger  *zap.Logger
}

func NewEngine(cache *book.Cache, markets config.MarketRegistry, cfg config.EngineConfig, logger *zap.Logger) *Engine {
	return &Engine{cache: cache, markets: markets, cfg: cfg, logger: logger.Named("quote")}
}

// GenQuote prices a buy or sell of exactly one of baseSize/quoteSize
// (the other must be zero). Buying base walks the asks, selling walks the
// bids. The per-market flat fee folds into the unsized leg, so hardPrice
// is always hardQuote/hardBase.
func (e *Engine) GenQuote(ctx context.Context, chainID int64, market string, side models.Side, baseSize, quoteSize decimal.Decimal) (*Quote, error) {
	defer func(start time.Time) {
		metrics.QuoteLatency.Observe(time.Since(start).Seconds())
	}(time.Now())

	if !side.Valid() {
		return nil, errors.Validation("invalid side %q", side)
	}
	baseRequested := baseSize.IsPositive()
	quoteRequested := quoteSize.IsPositive()
	if baseRequested == quoteRequested {
		return nil, errors.Validation("exactly one of baseSize and quoteSize must be set")
	}

	info, ok := e.markets.Get(market)
	if !ok {
		return nil, errors.Validation("unknown market %s", market)
	}

	snapshot, ok, err := e.cache.Snapshot(ctx, chainID, market)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Liquidity("no liquidity for %s", market)
	}

	// A buy of base consumes asks, a sell consumes bids.
	ladder := snapshot.Asks
	if side == models.SideAsk {
		ladder = snapshot.Bids
	}

	var hardBase, hardQuote decimal.Decimal
	if baseRequested {
		cost, err := walkForBase(ladder, baseSize)
		if err != nil {
			return nil, err
		}
		hardBase = baseSize
		if side == models.SideBid {
			hardQuote = cost.Add(info.QuoteFee)
		} else {
			hardQuote = cost.Sub(info.QuoteFee)
			if !hardQuote.IsPositive() {
				return nil, errors.Liquidity("size too small to cover the fee")
			}
		}
	} else {
		// The requested quote must absorb the fee, so the ladder is
		// walked for the remainder.
		walkQuote := quoteSize.Sub(info.QuoteFee)
		if side == models.SideAsk {
			walkQuote = quoteSize.Add(info.QuoteFee)
		}
		if !walkQuote.IsPositive() {
			return nil, errors.Liquidity("size too small to cover the fee")
		}
		base, err := walkForQuote(ladder, walkQuote)
		if err != nil {
			return nil, err
		}
		hardBase = base
		hardQuote = quoteSize
	}

	if !hardBase.IsPositive() || !hardQuote.IsPositive() {
		return nil, errors.Internal("non-finite quote for %s: base=%s quote=%s",
			market, hardBase, hardQuote)
	}
	hardPrice := hardQuote.Div(hardBase)

	quote := &Quote{
		Market:            market,
		Side:              side,
		HardPrice:         hardPrice,
		HardBaseQuantity:  hardBase,
		HardQuoteQuantity: hardQuote,
	}
	e.applySoft(quote, info, baseRequested)
	if !quote.SoftPrice.IsPositive() {
		return nil, errors.Internal("non-finite soft price for %s", market)
	}
	return quote, nil
}

// applySoft pads the hard price against the taker. The pad doubles when
// the quote leg was the requested one, since the base leg then floats.
func (e *Engine) applySoft(q *Quote, info models.MarketInfo, baseRequested bool) {
	buffer := e.cfg.SlippageBufferDecimal()
	if !baseRequested {
		buffer = buffer.Mul(decimal.NewFromInt(2))
	}

	one := decimal.NewFromInt(1)
	if q.Side == models.SideBid {
		// Buyer pays more.
		q.SoftPrice = q.HardPrice.Mul(one.Add(buffer))
	} else {
		// Seller receives less.
		q.SoftPrice = q.HardPrice.Mul(one.Sub(buffer))
	}
	q.SoftPrice = q.SoftPrice.Round(info.PriceDecimals)
	// A price under half a tick rounds to zero; leave the quantities unset
	// and let the caller reject the quote rather than divide by it.
	if !q.SoftPrice.IsPositive() {
		return
	}

	if baseRequested {
		q.SoftBaseQuantity = q.HardBaseQuantity
		q.SoftQuoteQuantity = q.SoftPrice.Mul(q.SoftBaseQuantity)
	} else {
		q.SoftQuoteQuantity = q.HardQuoteQuantity
		q.SoftBaseQuantity = q.SoftQuoteQuantity.Div(q.SoftPrice)
	}
}

// walkForBase accumulates ladder levels until the requested base size is
// covered, returning the integrated quote cost of the walk.
func walkForBase(ladder []models.BookLevel, baseSize decimal.Decimal) (decimal.Decimal, error) {
	remaining := baseSize
	cost := decimal.Zero
	for _, level := range ladder {
		take := decimal.Min(level.Size, remaining)
		cost = cost.Add(take.Mul(level.Price))
		remaining = remaining.Sub(take)
		if !remaining.IsPositive() {
			return cost, nil
		}
	}
	return decimal.Zero, errors.Liquidity("insufficient liquidity for size %s", baseSize)
}

// walkForQuote accumulates ladder levels until the requested quote value
// is covered, returning the base filled by the walk.
func walkForQuote(ladder []models.BookLevel, quoteSize decimal.Decimal) (decimal.Decimal, error) {
	remaining := quoteSize
	base := decimal.Zero
	for _, level := range ladder {
		levelQuote := level.Size.Mul(level.Price)
		if levelQuote.GreaterThanOrEqual(remaining) {
			base = base.Add(remaining.Div(level.Price))
			return base, nil
		}
		base = base.Add(level.Size)
		remaining = remaining.Sub(levelQuote)
	}
	return decimal.Zero, errors.Liquidity("insufficient liquidity for quote size %s", quoteSize)
}
