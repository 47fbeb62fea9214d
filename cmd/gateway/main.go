// Command gateway runs the off-chain liquidity core: liquidity intake,
// book snapshotting, quoting, and RFQ auction coordination.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ZigZagExchange/backend-sub000/internal/auction"
	"github.com/ZigZagExchange/backend-sub000/internal/book"
	"github.com/ZigZagExchange/backend-sub000/internal/broadcast"
	"github.com/ZigZagExchange/backend-sub000/internal/config"
	"github.com/ZigZagExchange/backend-sub000/internal/liquidity"
	"github.com/ZigZagExchange/backend-sub000/internal/oracle"
	"github.com/ZigZagExchange/backend-sub000/internal/orderstore"
	"github.com/ZigZagExchange/backend-sub000/internal/quote"
	"github.com/ZigZagExchange/backend-sub000/internal/redis"
	"github.com/ZigZagExchange/backend-sub000/internal/server"
	"github.com/ZigZagExchange/backend-sub000/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to gateway config yaml")
	flag.Parse()

	// Optional .env for local development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("gateway exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := redis.NewClient(cfg.Redis, log)
	if err != nil {
		return err
	}
	defer store.Close()

	db, err := orderstore.Open(cfg.Database.DSN,
		cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime, log)
	if err != nil {
		return err
	}
	orders := orderstore.NewGormStore(db, log)

	registry := cfg.Registry()
	prices := oracle.NewRedisPriceSource(store, log)
	fabric := broadcast.NewFabric(broadcast.NewRedisBackend(store.R()), log)

	makers := liquidity.NewStore(store, prices, registry, cfg.Engine, log)
	cache := book.NewCache(store, cfg.Engine.SnapshotTTL)
	snapshotter := book.NewSnapshotter(makers, cache, fabric, cfg.Engine, log)
	books := book.NewService(cache, registry, log)
	quotes := quote.NewEngine(cache, registry, cfg.Engine, log)
	coordinator := auction.NewCoordinator(store, orders, makers, fabric, cfg.Engine, log)

	go snapshotter.Run(ctx)

	srv := server.New(cfg.Server, books, quotes, makers, coordinator, store, orders, log)
	return srv.Run(ctx)
}
