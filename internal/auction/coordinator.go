// Package auction arbitrates the RFQ matching protocol: competing maker
// fill offers for one taker order are collected in the shared store for a
// short window, then settlement picks the best-priced offer and assigns
// the order to exactly one maker. All races resolve through the store:
// a create-if-absent key arms the window once, a consumed fence rejects
// late calls, and the guarded order-row transition is the commit point.
package auction

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ZigZagExchange/backend-sub000/internal/broadcast"
	"github.com/ZigZagExchange/backend-sub000/internal/config"
	"github.com/ZigZagExchange/backend-sub000/internal/liquidity"
	"github.com/ZigZagExchange/backend-sub000/internal/orderstore"
	"github.com/ZigZagExchange/backend-sub000/internal/redis"
	"github.com/ZigZagExchange/backend-sub000/pkg/errors"
	"github.com/ZigZagExchange/backend-sub000/pkg/metrics"
	"github.com/ZigZagExchange/backend-sub000/pkg/models"
)

// Coordinator runs the per-order auctions.
type Coordinator struct {
	client *redis.Client
	orders orderstore.Store
	makers *liquidity.Store
	fabric *broadcast.Fabric
	cfg    config.EngineConfig
	logger *zap.Logger

	settleTimeout time.Duration
}

func NewCoordinator(client *redis.Client, orders orderstore.Store, makers *liquidity.Store, fabric *broadcast.Fabric, cfg config.EngineConfig, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		client:        client,
		orders:        orders,
		makers:        makers,
		fabric:        fabric,
		cfg:           cfg,
		logger:        logger.Named("auction"),
		settleTimeout: 5 * time.Second,
	}
}

func auctionKey(chainID, orderID int64) string {
	return fmt.Sprintf("auction:%d:%d", chainID, orderID)
}

func armKey(chainID, orderID int64) string {
	return fmt.Sprintf("auctionarm:%d:%d", chainID, orderID)
}

func fenceKey(chainID, orderID int64) string {
	return fmt.Sprintf("orderfence:%d:%d", chainID, orderID)
}

// entry is one scored offer in the auction state.
type entry struct {
	ID         string           `json:"id"`
	Offer      models.FillOffer `json:"offer"`
	Price      decimal.Decimal  `json:"price"`
	ReceivedAt int64            `json:"received_at"`
}

// MatchOrder accepts one maker's fill offer for an open order. The first
// accepted offer arms the collection window; settlement fires once after
// it, regardless of how many offers arrive concurrently.
func (c *Coordinator) MatchOrder(ctx context.Context, chainID, orderID int64, offer models.FillOffer) error {
	if !offer.Amount.IsPositive() {
		return errors.Validation("offer amount must be positive")
	}
	if offer.MakerID == "" {
		return errors.Validation("offer is missing the maker id")
	}

	fenced, err := c.client.R().Exists(ctx, fenceKey(chainID, orderID)).Result()
	if err != nil {
		return errors.Transient(err, "read fence for order %d", orderID)
	}
	if fenced > 0 {
		return errors.Conflict("order %d already matched", orderID)
	}

	// Re-read the authoritative row; a canceled or filled order is
	// discovered here, not via any push channel.
	order, err := c.orders.ReadOpenOrder(ctx, chainID, orderID)
	if err != nil {
		return err
	}
	if order.Owner == offer.MakerID {
		return errors.Authorization("self trade not allowed")
	}
	if !order.RemainingBase.IsPositive() {
		return errors.Conflict("order %d has no remaining size", orderID)
	}

	e := entry{
		ID:         uuid.NewString(),
		Offer:      offer,
		Price:      offer.Amount.Div(order.RemainingBase),
		ReceivedAt: time.Now().UnixMilli(),
	}
	member, err := json.Marshal(e)
	if err != nil {
		return errors.Internal("marshal offer: %v", err)
	}
	score, _ := e.Price.Float64()

	stateTTL := c.cfg.AuctionWindow + c.cfg.AuctionStateGrace
	if err := c.client.R().ZAdd(ctx, auctionKey(chainID, orderID), goredis.Z{
		Score:  score,
		Member: string(member),
	}).Err(); err != nil {
		return errors.Transient(err, "store offer for order %d", orderID)
	}
	metrics.OffersCollected.Inc()

	// Create-if-absent decides which caller armed the window, so the
	// settlement timer is scheduled exactly once under concurrency.
	armed, err := c.client.R().SetNX(ctx, armKey(chainID, orderID), "1", stateTTL).Result()
	if err != nil {
		return errors.Transient(err, "arm auction for order %d", orderID)
	}
	if armed {
		c.client.R().Expire(ctx, auctionKey(chainID, orderID), stateTTL)
		c.logger.Debug("auction armed",
			zap.Int64("chain", chainID), zap.Int64("order", orderID))
		time.AfterFunc(c.cfg.AuctionWindow, func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.settleTimeout)
			defer cancel()
			c.settle(ctx, chainID, orderID)
		})
	}

	c.logger.Debug("offer collected",
		zap.Int64("chain", chainID),
		zap.Int64("order", orderID),
		zap.String("maker", offer.MakerID),
		zap.String("price", e.Price.String()),
	)
	return nil
}

// settle runs once per order after the window. It pops offers best-first
// in a bounded loop, cascading past conflicts, until one maker wins or
// the pool is exhausted. Intra-auction contention is never surfaced.
func (c *Coordinator) settle(ctx context.Context, chainID, orderID int64) {
	key := auctionKey(chainID, orderID)

	order, err := c.orders.ReadOpenOrder(ctx, chainID, orderID)
	if err != nil {
		// The order went away or got consumed mid-window. Best effort
		// and log only: drop the pool.
		c.logger.Info("auction abandoned",
			zap.Int64("chain", chainID), zap.Int64("order", orderID), zap.Error(err))
		c.clearWindow(ctx, chainID, orderID)
		metrics.AuctionsSettled.WithLabelValues("abandoned").Inc()
		return
	}

	// The taker gets the best counter-price: a buy order pays the lowest
	// offer, a sell order receives the highest.
	pop := c.client.R().ZPopMax
	if order.Side == models.SideBid {
		pop = c.client.R().ZPopMin
	}

	for attempt := 0; attempt < c.cfg.MaxSettleAttempts; attempt++ {
		popped, err := pop(ctx, key, 1).Result()
		if err != nil && err != goredis.Nil {
			c.logger.Error("pop offer failed",
				zap.Int64("order", orderID), zap.Error(err))
			return
		}
		if len(popped) == 0 {
			// Empty or expired pool: terminal, log only.
			c.logger.Info("auction exhausted",
				zap.Int64("chain", chainID), zap.Int64("order", orderID),
				zap.Int("attempts", attempt))
			c.clearWindow(ctx, chainID, orderID)
			metrics.AuctionsSettled.WithLabelValues("exhausted").Inc()
			return
		}

		var e entry
		if err := json.Unmarshal([]byte(popped[0].Member.(string)), &e); err != nil {
			c.logger.Warn("malformed offer dropped", zap.Int64("order", orderID))
			continue
		}

		// A maker still busy from a previous win may not win again.
		if lock, _, err := c.makers.BusyLock(ctx, chainID, e.Offer.MakerID); err == nil && lock != nil {
			c.logger.Debug("offer skipped, maker busy",
				zap.Int64("order", orderID), zap.String("maker", e.Offer.MakerID))
			c.fabric.UserError(ctx, chainID, e.Offer.MakerID, "fill rejected: maker busy")
			continue
		}

		err = c.orders.TransitionToMatched(ctx, chainID, orderID)
		if errors.Is(err, errors.ErrConflict) {
			// Consumed elsewhere; cascade to the next-best offer.
			continue
		}
		if err != nil {
			c.logger.Error("order transition failed",
				zap.Int64("order", orderID), zap.Error(err))
			return
		}

		c.commit(ctx, chainID, order, e)
		return
	}

	c.logger.Warn("settle attempt limit reached",
		zap.Int64("chain", chainID), zap.Int64("order", orderID))
	c.clearWindow(ctx, chainID, orderID)
	metrics.AuctionsSettled.WithLabelValues("exhausted").Inc()
}

// clearWindow drops the auction pool and the arm key together, so a later
// offer for the same order can arm a fresh window instead of feeding a
// pool nothing will ever settle.
func (c *Coordinator) clearWindow(ctx context.Context, chainID, orderID int64) {
	c.client.R().Del(ctx, auctionKey(chainID, orderID), armKey(chainID, orderID))
}

// commit finalizes a won auction: fence, busy lock, fill row, fan-out.
func (c *Coordinator) commit(ctx context.Context, chainID int64, order *models.Order, won entry) {
	orderID := order.OrderID
	winner := won.Offer.MakerID

	if err := c.client.R().Set(ctx, fenceKey(chainID, orderID), "1", c.cfg.FenceTTL).Err(); err != nil {
		c.logger.Error("set consumed fence failed",
			zap.Int64("order", orderID), zap.Error(err))
	}
	if err := c.makers.LockMaker(ctx, chainID, winner, models.MakerBusyLock{
		OrderID:      orderID,
		RoutingToken: won.Offer.RoutingToken,
	}, c.cfg.BusyLockTTL); err != nil {
		c.logger.Error("set busy lock failed",
			zap.Int64("order", orderID), zap.String("maker", winner), zap.Error(err))
	}

	fill := &models.Fill{
		ChainID:      chainID,
		OrderID:      orderID,
		Market:       order.Market,
		Side:         order.Side,
		Amount:       order.RemainingBase,
		Price:        won.Price,
		MakerID:      winner,
		TakerID:      order.Owner,
		Status:       models.OrderStatusMatched,
		RoutingToken: won.Offer.RoutingToken,
	}
	if _, err := c.orders.InsertFill(ctx, fill); err != nil {
		c.logger.Error("insert fill failed",
			zap.Int64("order", orderID), zap.Error(err))
	}

	order.Status = models.OrderStatusMatched

	// Winner first: it needs the full order plus its accepted offer to
	// produce the on-chain fill.
	c.fabric.UserOrderMatch(ctx, chainID, winner, order, won.Offer)
	c.fabric.OrderStatus(ctx, chainID, []models.OrderStatusUpdate{{
		ChainID:       chainID,
		OrderID:       orderID,
		Status:        models.OrderStatusMatched,
		RemainingBase: &order.RemainingBase,
	}})
	c.fabric.Fills(ctx, chainID, order.Market, []*models.Fill{fill})
	c.notifyLosers(ctx, chainID, orderID)

	metrics.AuctionsSettled.WithLabelValues("matched").Inc()
	c.logger.Info("auction settled",
		zap.Int64("chain", chainID),
		zap.Int64("order", orderID),
		zap.String("winner", winner),
		zap.String("price", won.Price.String()),
	)
}

// notifyLosers drains the remaining pool and tells each offer's owner.
// Best effort: an offer that slips in after the drain only ever times out
// of the store.
func (c *Coordinator) notifyLosers(ctx context.Context, chainID, orderID int64) {
	key := auctionKey(chainID, orderID)
	members, err := c.client.R().ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		c.logger.Warn("read losing offers failed",
			zap.Int64("order", orderID), zap.Error(err))
		return
	}
	for _, member := range members {
		var e entry
		if err := json.Unmarshal([]byte(member), &e); err != nil {
			continue
		}
		c.fabric.UserError(ctx, chainID, e.Offer.MakerID, "fill request failed: filled by better offer")
	}
	c.clearWindow(ctx, chainID, orderID)
}
