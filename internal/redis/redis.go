// Package redis owns the connection to the shared working-state store.
// All cross-call coordination in the liquidity core (liquidity records,
// book snapshots, auction state, maker locks, fences) goes through it.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`

	PoolSize     int           `mapstructure:"pool_size" yaml:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns" yaml:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff" yaml:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff" yaml:"max_retry_backoff"`

	// Sentinel failover (optional).
	EnableSentinel bool     `mapstructure:"enable_sentinel" yaml:"enable_sentinel"`
	SentinelAddrs  []string `mapstructure:"sentinel_addrs" yaml:"sentinel_addrs"`
	MasterName     string   `mapstructure:"master_name" yaml:"master_name"`
}

// DefaultConfig returns settings tuned for the latency profile of the
// auction path: sub-second read/write timeouts, warm pool.
func DefaultConfig() *Config {
	return &Config{
		Addr:     "localhost:6379",
		Password: "",
		DB:       0,

		PoolSize:     64,
		MinIdleConns: 8,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	}
}

// Client wraps the go-redis universal client.
type Client struct {
	rdb    redis.UniversalClient
	config *Config
	logger *zap.Logger
}

// NewClient connects to Redis and verifies the connection with a ping.
func NewClient(config *Config, logger *zap.Logger) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	opts := &redis.UniversalOptions{
		Addrs:    []string{config.Addr},
		Password: config.Password,
		DB:       config.DB,

		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,

		MaxRetries:      config.MaxRetries,
		MinRetryBackoff: config.MinRetryBackoff,
		MaxRetryBackoff: config.MaxRetryBackoff,
	}
	if config.EnableSentinel {
		opts.Addrs = config.SentinelAddrs
		opts.MasterName = config.MasterName
	}
	rdb := redis.NewUniversalClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.Info("redis connected",
		zap.String("addr", config.Addr),
		zap.Int("db", config.DB),
		zap.Int("pool_size", config.PoolSize),
		zap.Bool("sentinel", config.EnableSentinel),
	)

	return &Client{rdb: rdb, config: config, logger: logger}, nil
}

// NewClientFromUniversal wraps an already constructed client. Used by
// tests that run against an in-process Redis.
func NewClientFromUniversal(rdb redis.UniversalClient, logger *zap.Logger) *Client {
	return &Client{rdb: rdb, config: DefaultConfig(), logger: logger}
}

// R exposes the underlying client for command execution.
func (c *Client) R() redis.UniversalClient { return c.rdb }

// Health pings the store.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the connection pool.
func (c *Client) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}
