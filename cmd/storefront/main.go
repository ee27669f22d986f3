package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/cart"
	"github.com/fjod/storefront/internal/checkout"
	"github.com/fjod/storefront/internal/config"
	"github.com/fjod/storefront/internal/domain"
	h "github.com/fjod/storefront/internal/http"
	"github.com/fjod/storefront/internal/inventory"
	"github.com/fjod/storefront/internal/orders"
	"github.com/fjod/storefront/internal/publisher"
	"github.com/fjod/storefront/internal/repository"
	"github.com/fjod/storefront/internal/store"
	"github.com/fjod/storefront/pkg/circuitbreaker"
	"github.com/fjod/storefront/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.Options{
		Service: "storefront",
		Env:     cfg.AppEnv,
		Level:   cfg.LogLevel,
	})

	if err := run(cfg, log); err != nil {
		log.Error("storefront stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("storefront stopped")
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	cartCache, closeCache, err := openCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCache()

	clock := domain.SystemClock{}
	carts := cart.NewService(st, cartCache, clock, log)
	svc := h.Services{
		Cart:      carts,
		Checkout:  checkout.NewService(st, carts, checkout.NewTimestampGenerator(), clock, log, cfg.CheckoutMaxAttempts),
		Orders:    orders.NewService(st, clock, log),
		Inventory: inventory.NewLedger(st, log),
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      otelhttp.NewHandler(h.NewRouter(svc, cfg.RequestTimeout, log), "storefront-http"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	// Enable reflection for grpcurl/grpcui
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server listening", slog.Int("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Info("grpc server listening", slog.Int("port", cfg.GRPCPort))
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	if len(cfg.KafkaBrokers) > 0 {
		writer := publisher.NewKafkaWriter(cfg.OutboxTopic, cfg.KafkaBrokers...)
		defer writer.Close()
		breaker := circuitbreaker.New(circuitbreaker.DefaultSettings("kafka"), log)
		poller := publisher.NewOutboxPoller(st, writer, breaker, clock, log)
		g.Go(func() error {
			log.Info("outbox poller started", slog.String("topic", cfg.OutboxTopic))
			poller.Run(gctx)
			return nil
		})
	} else {
		log.Warn("KAFKA_BROKERS not set, outbox events stay unpublished")
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		err := httpServer.Shutdown(shutdownCtx)
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
		if err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		log.Warn("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), nil
	case config.DriverPostgres:
		repo, err := repository.NewRepository(ctx, &cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := repo.RunMigrations(&cfg.DB); err != nil {
			repo.Close()
			return nil, err
		}
		log.Info("connected to postgres", slog.String("host", cfg.DB.Host), slog.String("db", cfg.DB.DBName))
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

func openCache(ctx context.Context, cfg config.Config, log *slog.Logger) (cache.CartCache, func(), error) {
	if cfg.RedisAddr == "" {
		log.Info("REDIS_ADDR not set, cart views are not cached")
		return cache.NoopCache{}, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info("redis ping succeeded", slog.String("addr", cfg.RedisAddr))
	return cache.NewRedisCache(client, cfg.CartCacheTTL), func() { client.Close() }, nil
}
