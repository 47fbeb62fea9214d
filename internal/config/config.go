// Package config loads gateway configuration from yaml and environment
// via viper, with defaults suitable for local development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/ZigZagExchange/backend-sub000/internal/redis"
	"github.com/ZigZagExchange/backend-sub000/pkg/models"
)

// Config is the root gateway configuration.
type Config struct {
	LogLevel string         `mapstructure:"log_level" yaml:"log_level"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Redis    *redis.Config  `mapstructure:"redis" yaml:"redis"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`

	// Markets is the static registry of tradable markets per chain.
	Markets []models.MarketInfo `mapstructure:"markets" yaml:"markets"`
}

// ServerConfig configures the public HTTP surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the authoritative order store connection.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// EngineConfig holds the timing and sizing knobs of the liquidity core.
type EngineConfig struct {
	// Snapshotter.
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	SnapshotTTL   time.Duration `mapstructure:"snapshot_ttl" yaml:"snapshot_ttl"`
	TopLevels     int           `mapstructure:"top_levels" yaml:"top_levels"`

	// Liquidity intake.
	LevelExpiryHorizon time.Duration `mapstructure:"level_expiry_horizon" yaml:"level_expiry_horizon"`
	UsdSizeFloor       float64       `mapstructure:"usd_size_floor" yaml:"usd_size_floor"`

	// Quoting.
	SlippageBuffer float64 `mapstructure:"slippage_buffer" yaml:"slippage_buffer"`

	// Auction.
	AuctionWindow     time.Duration `mapstructure:"auction_window" yaml:"auction_window"`
	AuctionStateGrace time.Duration `mapstructure:"auction_state_grace" yaml:"auction_state_grace"`
	FenceTTL          time.Duration `mapstructure:"fence_ttl" yaml:"fence_ttl"`
	BusyLockTTL       time.Duration `mapstructure:"busy_lock_ttl" yaml:"busy_lock_ttl"`
	MaxSettleAttempts int           `mapstructure:"max_settle_attempts" yaml:"max_settle_attempts"`
}

// SlippageBufferDecimal returns the slippage buffer as a decimal ratio.
func (e EngineConfig) SlippageBufferDecimal() decimal.Decimal {
	return decimal.NewFromFloat(e.SlippageBuffer)
}

// UsdSizeFloorDecimal returns the USD minimum level value as a decimal.
func (e EngineConfig) UsdSizeFloorDecimal() decimal.Decimal {
	return decimal.NewFromFloat(e.UsdSizeFloor)
}

// Load reads configuration from the given path (optional) plus ZZ_*
// environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ZZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("gateway")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{Redis: redis.DefaultConfig()}
	// The text unmarshaller hook lets decimal fee and size fields decode
	// from plain yaml strings.
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.addr", ":3004")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("engine.sweep_interval", 10*time.Second)
	v.SetDefault("engine.snapshot_ttl", 15*time.Second)
	v.SetDefault("engine.top_levels", 200)
	v.SetDefault("engine.level_expiry_horizon", 9*time.Second)
	v.SetDefault("engine.usd_size_floor", 10.0)
	v.SetDefault("engine.slippage_buffer", 0.0005)
	v.SetDefault("engine.auction_window", 250*time.Millisecond)
	v.SetDefault("engine.auction_state_grace", 2*time.Second)
	v.SetDefault("engine.fence_ttl", 60*time.Second)
	v.SetDefault("engine.busy_lock_ttl", 300*time.Second)
	v.SetDefault("engine.max_settle_attempts", 64)
}

// MarketRegistry indexes MarketInfo by market symbol.
type MarketRegistry map[string]models.MarketInfo

// Registry builds the market lookup from the configured market list.
func (c *Config) Registry() MarketRegistry {
	reg := make(MarketRegistry, len(c.Markets))
	for _, m := range c.Markets {
		reg[m.Market] = m
	}
	return reg
}

// Get returns the market config and whether the market is known.
func (r MarketRegistry) Get(market string) (models.MarketInfo, bool) {
	m, ok := r[market]
	return m, ok
}
