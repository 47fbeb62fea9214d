// Package broadcast is the pub/sub fan-out between the liquidity core and
// the session/WS layer. Delivery is fire-and-forget, at most once; a
// failed publish is logged and dropped, never retried.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Backend abstracts the pub/sub transport.
type Backend interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler func([]byte)) error
	Close() error
}

// RedisBackend publishes over Redis pub/sub, the low-latency default.
type RedisBackend struct {
	client goredis.UniversalClient
}

func NewRedisBackend(client goredis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

func (r *RedisBackend) Publish(ctx context.Context, topic string, payload []byte) error {
	return r.client.Publish(ctx, topic, payload).Err()
}

func (r *RedisBackend) Subscribe(ctx context.Context, topic string, handler func([]byte)) error {
	sub := r.client.PSubscribe(ctx, topic)
	ch := sub.Channel()
	go func() {
		for msg := range ch {
			handler([]byte(msg.Payload))
		}
	}()
	return nil
}

func (r *RedisBackend) Close() error { return nil }

// KafkaBackend publishes over Kafka for deployments that need replayable
// fan-out. Topic is fixed per writer; the logical topic travels as the
// message key.
type KafkaBackend struct {
	writer *kafka.Writer
}

func NewKafkaBackend(brokers []string, topic string) *KafkaBackend {
	return &KafkaBackend{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (k *KafkaBackend) Publish(ctx context.Context, topic string, payload []byte) error {
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(topic), Value: payload})
}

func (k *KafkaBackend) Subscribe(ctx context.Context, topic string, handler func([]byte)) error {
	return fmt.Errorf("kafka backend is publish-only in the gateway")
}

func (k *KafkaBackend) Close() error { return k.writer.Close() }

// Topic naming: scope:chainId:target.

func TopicMarket(chainID int64, market string) string {
	return fmt.Sprintf("market:%d:%s", chainID, market)
}

func TopicUser(chainID int64, userID string) string {
	return fmt.Sprintf("user:%d:%s", chainID, userID)
}

func TopicChain(chainID int64) string {
	return fmt.Sprintf("chain:%d:all", chainID)
}

// Envelope is the wire frame understood by the session layer.
type Envelope struct {
	Op   string      `json:"op"`
	Args interface{} `json:"args"`
}

// Fabric publishes the core's typed events. Methods never surface
// transport errors to callers.
type Fabric struct {
	backend Backend
	logger  *zap.Logger
}

func NewFabric(backend Backend, logger *zap.Logger) *Fabric {
	return &Fabric{backend: backend, logger: logger}
}

func (f *Fabric) publish(ctx context.Context, topic, op string, args interface{}) {
	payload, err := json.Marshal(Envelope{Op: op, Args: args})
	if err != nil {
		f.logger.Error("marshal broadcast", zap.String("op", op), zap.Error(err))
		return
	}
	if err := f.backend.Publish(ctx, topic, payload); err != nil {
		f.logger.Warn("publish dropped",
			zap.String("topic", topic), zap.String("op", op), zap.Error(err))
	}
}

// Liquidity publishes the consolidated book for a market after a sweep.
func (f *Fabric) Liquidity(ctx context.Context, chainID int64, market string, book interface{}) {
	f.publish(ctx, TopicMarket(chainID, market), "liquidity2", []interface{}{chainID, market, book})
}

// LastPrice publishes the per-chain last price vector.
func (f *Fabric) LastPrice(ctx context.Context, chainID int64, entries interface{}) {
	f.publish(ctx, TopicChain(chainID), "lastprice", entries)
}

// OrderStatus publishes order status transitions for a chain.
func (f *Fabric) OrderStatus(ctx context.Context, chainID int64, updates interface{}) {
	f.publish(ctx, TopicChain(chainID), "orderstatus", updates)
}

// Fills publishes fill tuples to the market feed.
func (f *Fabric) Fills(ctx context.Context, chainID int64, market string, fills interface{}) {
	f.publish(ctx, TopicMarket(chainID, market), "fills", fills)
}

// UserOrderMatch privately hands the winning maker the full order plus its
// accepted offer so it can produce the on-chain fill.
func (f *Fabric) UserOrderMatch(ctx context.Context, chainID int64, makerID string, order, offer interface{}) {
	f.publish(ctx, TopicUser(chainID, makerID), "userordermatch", []interface{}{order, offer})
}

// UserError privately delivers a short reason string, e.g. to a losing
// maker after settlement.
func (f *Fabric) UserError(ctx context.Context, chainID int64, userID, reason string) {
	f.publish(ctx, TopicUser(chainID, userID), "error", reason)
}
