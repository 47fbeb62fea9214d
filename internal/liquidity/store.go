// Package liquidity holds each maker's current resting levels per
// (chain, market). Updates replace the maker's whole level set; nothing
// here is durable, makers rebuild state by re-subscribing.
package liquidity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ZigZagExchange/backend-sub000/internal/config"
	"github.com/ZigZagExchange/backend-sub000/internal/oracle"
	"github.com/ZigZagExchange/backend-sub000/internal/redis"
	"github.com/ZigZagExchange/backend-sub000/pkg/errors"
	"github.com/ZigZagExchange/backend-sub000/pkg/models"
)

// Store validates and persists maker liquidity in the shared store.
type Store struct {
	client  *redis.Client
	oracle  oracle.PriceSource
	markets config.MarketRegistry
	cfg     config.EngineConfig
	logger  *zap.Logger
}

func NewStore(client *redis.Client, prices oracle.PriceSource, markets config.MarketRegistry, cfg config.EngineConfig, logger *zap.Logger) *Store {
	return &Store{
		client:  client,
		oracle:  prices,
		markets: markets,
		cfg:     cfg,
		logger:  logger.Named("liquidity"),
	}
}

func recordKey(chainID int64, market, makerID string) string {
	return fmt.Sprintf("liquidity:%d:%s:%s", chainID, market, makerID)
}

func makersKey(chainID int64, market string) string {
	return fmt.Sprintf("makers:%d:%s", chainID, market)
}

func activeMarketsKey(chainID int64) string {
	return fmt.Sprintf("activemarkets:%d", chainID)
}

const activeChainsKey = "activechains"

func busyLockKey(chainID int64, makerID string) string {
	return fmt.Sprintf("makerbusy:%d:%s", chainID, makerID)
}

// UpdateLiquidity replaces makerID's level set for the market. Raw rows
// are [side, price, size, expires?] tuples. Malformed rows are dropped and
// reported as reason strings; rows below the minimum size are dropped
// silently. An existing busy lock rejects the whole call.
func (s *Store) UpdateLiquidity(ctx context.Context, chainID int64, market, makerID string, rawLevels []json.RawMessage) ([]string, error) {
	info, ok := s.markets.Get(market)
	if !ok {
		return nil, errors.Validation("unknown market %s", market)
	}

	if lock, ttl, err := s.BusyLock(ctx, chainID, makerID); err != nil {
		return nil, err
	} else if lock != nil {
		return nil, errors.Conflict(
			"maker is busy processing order %d, unlocks in %s",
			lock.OrderID, ttl.Round(time.Second))
	}

	minSize, err := s.minLevelSize(ctx, info)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	horizon := now.Add(s.cfg.LevelExpiryHorizon).Unix()
	accepted := make([]models.LiquidityLevel, 0, len(rawLevels))
	var errs []string
	for i, raw := range rawLevels {
		level, err := parseLevel(raw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("row %d: %v", i, err))
			continue
		}
		// Dust and non-positive sizes drop without a report.
		if level.Size.LessThan(minSize) || !level.Size.IsPositive() {
			continue
		}
		if level.ExpiresAt == 0 || level.ExpiresAt > horizon {
			level.ExpiresAt = horizon
		}
		level.OwnerID = makerID
		accepted = append(accepted, level)
	}

	payload, err := json.Marshal(accepted)
	if err != nil {
		return nil, errors.Internal("marshal liquidity record: %v", err)
	}

	recordTTL := 3 * s.cfg.LevelExpiryHorizon
	pipe := s.client.R().Pipeline()
	pipe.Set(ctx, recordKey(chainID, market, makerID), payload, recordTTL)
	pipe.SAdd(ctx, makersKey(chainID, market), makerID)
	pipe.SAdd(ctx, activeMarketsKey(chainID), market)
	pipe.SAdd(ctx, activeChainsKey, chainID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.Transient(err, "store liquidity for %s", makerID)
	}

	s.logger.Debug("liquidity replaced",
		zap.Int64("chain", chainID),
		zap.String("market", market),
		zap.String("maker", makerID),
		zap.Int("levels", len(accepted)),
		zap.Int("rejected", len(errs)),
	)
	return errs, nil
}

// minLevelSize computes the USD floor in base units, falling back to the
// market's fee-derived minimum when no USD price is known.
func (s *Store) minLevelSize(ctx context.Context, info models.MarketInfo) (decimal.Decimal, error) {
	price, err := s.oracle.GetUsdPrice(ctx, info.BaseAsset)
	if err != nil {
		return decimal.Zero, errors.Transient(err, "usd price for %s", info.BaseAsset)
	}
	if price.IsPositive() {
		return s.cfg.UsdSizeFloorDecimal().Div(price), nil
	}
	if info.MinBaseSize.IsPositive() {
		return info.MinBaseSize, nil
	}
	return info.BaseFee.Mul(decimal.NewFromInt(2)), nil
}

// parseLevel decodes one [side, price, size, expires?] tuple. Numbers may
// arrive as JSON numbers or strings.
func parseLevel(raw json.RawMessage) (models.LiquidityLevel, error) {
	var level models.LiquidityLevel

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var row []interface{}
	if err := dec.Decode(&row); err != nil {
		return level, fmt.Errorf("not a liquidity tuple")
	}
	if len(row) < 3 {
		return level, fmt.Errorf("expected [side, price, size, expires?]")
	}

	sideStr, ok := row[0].(string)
	if !ok || !models.Side(sideStr).Valid() {
		return level, fmt.Errorf("invalid side %v", row[0])
	}
	level.Side = models.Side(sideStr)

	price, err := toDecimal(row[1])
	if err != nil {
		return level, fmt.Errorf("invalid price %v", row[1])
	}
	if price.IsNegative() {
		return level, fmt.Errorf("negative price %s", price)
	}
	level.Price = price

	size, err := toDecimal(row[2])
	if err != nil {
		return level, fmt.Errorf("invalid size %v", row[2])
	}
	level.Size = size

	if len(row) > 3 {
		expires, err := toDecimal(row[3])
		if err != nil {
			return level, fmt.Errorf("invalid expiry %v", row[3])
		}
		level.ExpiresAt = expires.IntPart()
	}
	return level, nil
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch n := v.(type) {
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		return decimal.NewFromString(n)
	default:
		return decimal.Zero, fmt.Errorf("not numeric")
	}
}

// ActiveChains lists chains with at least one market marked active.
func (s *Store) ActiveChains(ctx context.Context) ([]int64, error) {
	vals, err := s.client.R().SMembers(ctx, activeChainsKey).Result()
	if err != nil {
		return nil, errors.Transient(err, "read active chains")
	}
	chains := make([]int64, 0, len(vals))
	for _, v := range vals {
		var id int64
		if _, err := fmt.Sscan(v, &id); err == nil {
			chains = append(chains, id)
		}
	}
	return chains, nil
}

// ActiveMarkets lists markets marked active on a chain.
func (s *Store) ActiveMarkets(ctx context.Context, chainID int64) ([]string, error) {
	markets, err := s.client.R().SMembers(ctx, activeMarketsKey(chainID)).Result()
	if err != nil {
		return nil, errors.Transient(err, "read active markets for chain %d", chainID)
	}
	return markets, nil
}

// MakerRecord is one maker's raw stored level payload. Payload is nil when
// the record has expired out of the store.
type MakerRecord struct {
	MakerID string
	Payload []byte
}

// MakerRecords fetches every maker's stored level set for a market.
func (s *Store) MakerRecords(ctx context.Context, chainID int64, market string) ([]MakerRecord, error) {
	makers, err := s.client.R().SMembers(ctx, makersKey(chainID, market)).Result()
	if err != nil {
		return nil, errors.Transient(err, "read makers for %s", market)
	}
	if len(makers) == 0 {
		return nil, nil
	}

	keys := make([]string, len(makers))
	for i, m := range makers {
		keys[i] = recordKey(chainID, market, m)
	}
	vals, err := s.client.R().MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Transient(err, "read liquidity records for %s", market)
	}

	records := make([]MakerRecord, len(makers))
	for i, m := range makers {
		records[i] = MakerRecord{MakerID: m}
		if str, ok := vals[i].(string); ok {
			records[i].Payload = []byte(str)
		}
	}
	return records, nil
}

// PruneMakers drops makers whose records have expired; with none left the
// market falls out of the active set.
func (s *Store) PruneMakers(ctx context.Context, chainID int64, market string, gone []string) error {
	if len(gone) == 0 {
		return nil
	}
	members := make([]interface{}, len(gone))
	for i, m := range gone {
		members[i] = m
	}
	if err := s.client.R().SRem(ctx, makersKey(chainID, market), members...).Err(); err != nil {
		return errors.Transient(err, "prune makers for %s", market)
	}
	return nil
}

// EvictMarket removes an empty market from the active set.
func (s *Store) EvictMarket(ctx context.Context, chainID int64, market string) error {
	pipe := s.client.R().Pipeline()
	pipe.SRem(ctx, activeMarketsKey(chainID), market)
	pipe.Del(ctx, makersKey(chainID, market))
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Transient(err, "evict market %s", market)
	}
	return nil
}

// BusyLock reads a maker's busy lock and its remaining TTL, nil when the
// maker is free.
func (s *Store) BusyLock(ctx context.Context, chainID int64, makerID string) (*models.MakerBusyLock, time.Duration, error) {
	key := busyLockKey(chainID, makerID)
	val, err := s.client.R().Get(ctx, key).Result()
	if err == goredis.Nil {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, errors.Transient(err, "read busy lock for %s", makerID)
	}
	var lock models.MakerBusyLock
	if err := json.Unmarshal([]byte(val), &lock); err != nil {
		return nil, 0, errors.Internal("malformed busy lock for %s", makerID)
	}
	ttl, err := s.client.R().TTL(ctx, key).Result()
	if err != nil {
		return nil, 0, errors.Transient(err, "busy lock ttl for %s", makerID)
	}
	return &lock, ttl, nil
}

// LockMaker sets the busy lock for an auction winner. The lock is only
// ever released by TTL expiry; confirmed settlement does not clear it.
func (s *Store) LockMaker(ctx context.Context, chainID int64, makerID string, lock models.MakerBusyLock, ttl time.Duration) error {
	payload, err := json.Marshal(lock)
	if err != nil {
		return errors.Internal("marshal busy lock: %v", err)
	}
	if err := s.client.R().Set(ctx, busyLockKey(chainID, makerID), payload, ttl).Err(); err != nil {
		return errors.Transient(err, "set busy lock for %s", makerID)
	}
	return nil
}
