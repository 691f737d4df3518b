package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/rl1809/bookstore/internal/adapter/cache"
	"github.com/rl1809/bookstore/internal/adapter/event"
	"github.com/rl1809/bookstore/internal/adapter/handler"
	"github.com/rl1809/bookstore/internal/adapter/storage"
	"github.com/rl1809/bookstore/internal/config"
	"github.com/rl1809/bookstore/internal/core/service"
	"github.com/rl1809/bookstore/internal/logging"
	"github.com/rl1809/bookstore/internal/port"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQL store for carts, and for the catalog unless it lives in Redis
	db, dialect, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := storage.Migrate(db, dialect); err != nil {
		return err
	}
	store := storage.NewSQLStore(db, dialect)
	logger.Info().Str("driver", dialect.Name).Msg("connected to database")

	var rdb redis.UniversalClient
	if cfg.UsesRedis() {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
			PoolSize: 100,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")
	}

	var catalog port.CatalogRepository = store
	if cfg.CatalogBackend == "redis" {
		catalog = storage.NewRedisCatalog(rdb)
	}

	var guard port.CheckoutGuard = storage.NewMemoryCheckoutGuard()
	if cfg.CheckoutGuard == "redis" {
		guard = storage.NewRedisCheckoutGuard(rdb, cfg.CheckoutGuardTTL)
	}

	views := cache.NewCatalogCache(catalog, cfg.CatalogCacheSize, cfg.CatalogCacheTTL, logger)

	catalogService := service.NewCatalogService(catalog, views, logger)
	cartService := service.NewCartService(store, catalog, views, cfg.OrphanPolicy, logger)
	checkoutService := service.NewCheckoutService(store, catalog, guard, service.CheckoutConfig{
		MaxAttempts: cfg.CheckoutMaxAttempts,
		QueueSize:   cfg.EventQueueSize,
	}, logger)

	if cfg.SeedCatalog {
		if err := seedIfEmpty(ctx, catalogService, logger); err != nil {
			return err
		}
	}

	publisher, err := openPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	relay := event.NewRelay(publisher, cfg.EventWorkers, logger)
	relay.Start(checkoutService.GetOrderQueue())

	// gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryLogger(logger)))
	handler.RegisterCartServiceServer(grpcServer, handler.NewGRPCHandler(cartService, checkoutService))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}
	go func() {
		logger.Info().Str("addr", cfg.GRPCAddr).Msg("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("gRPC server error")
		}
	}()

	// HTTP server
	httpHandler := handler.NewHTTPHandler(cartService, checkoutService, catalogService, logger)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpHandler.Routes(cfg.CORSAllowedOrigins),
	}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown")
	}
	logger.Info().Msg("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info().Msg("gRPC server stopped")

	// no more checkouts can start; drain the queued events
	checkoutService.Close()
	relay.Wait()
	published, failed := relay.Stats()
	logger.Info().Int64("published", published).Int64("failed", failed).Msg("event workers stopped")

	return nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, storage.Dialect, error) {
	dialect, err := storage.DialectByName(cfg.StorageDriver)
	if err != nil {
		return nil, storage.Dialect{}, err
	}
	var db *sql.DB
	switch cfg.StorageDriver {
	case "mysql":
		db, err = storage.OpenMySQL(ctx, cfg.MySQLDSN)
	default:
		db, err = storage.OpenSQLite(ctx, cfg.SQLitePath)
	}
	if err != nil {
		return nil, storage.Dialect{}, err
	}
	return db, dialect, nil
}

func openPublisher(cfg *config.Config, logger zerolog.Logger) (port.EventPublisher, error) {
	switch cfg.EventsBackend {
	case "rabbitmq":
		p, err := event.NewRabbitPublisher(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("exchange", cfg.RabbitExchange).Msg("publishing order events to rabbitmq")
		return p, nil
	case "kafka":
		logger.Info().Str("topic", cfg.KafkaTopic).Strs("brokers", cfg.KafkaBrokers).Msg("publishing order events to kafka")
		return event.NewKafkaPublisher(cfg.KafkaTopic, cfg.KafkaBrokers...), nil
	default:
		return event.NewLogPublisher(logger), nil
	}
}

func seedIfEmpty(ctx context.Context, catalog *service.CatalogService, logger zerolog.Logger) error {
	books, err := catalog.List(ctx)
	if err != nil {
		return err
	}
	if len(books) > 0 {
		return nil
	}
	seeded, err := catalog.Seed(ctx)
	if err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	logger.Info().Int("books", len(seeded)).Msg("seeded initial catalog")
	return nil
}
