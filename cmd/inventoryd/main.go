package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aimededdinetouati/stockflow-api-sub004/internal/clients"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/config"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/metrics"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/repository"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/service"
	transporthttp "github.com/aimededdinetouati/stockflow-api-sub004/internal/transport/http"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/transport/http/handler"
	transportkafka "github.com/aimededdinetouati/stockflow-api-sub004/internal/transport/kafka"
	"github.com/aimededdinetouati/stockflow-api-sub004/pkg/db"
	"github.com/aimededdinetouati/stockflow-api-sub004/pkg/kafka"
	"github.com/aimededdinetouati/stockflow-api-sub004/pkg/logger"
	outboxrepo "github.com/aimededdinetouati/stockflow-api-sub004/pkg/outbox/repository"
	"github.com/aimededdinetouati/stockflow-api-sub004/pkg/outbox/worker"
	"github.com/aimededdinetouati/stockflow-api-sub004/pkg/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.MustLoad()

	tp, err := utils.InitTracer(ctx, "stockflow-engine")
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{
		Level: cfg.LogLevel,
		Env:   cfg.Env,
	})
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() {
		_ = zapLogger.Sync()
	}()

	pool, err := db.NewPostgresDB(cfg.Postgres.URL)
	if err != nil {
		log.Fatalf("failed to create pool: %v", err)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer func() {
		if err := rdb.Close(); err != nil {
			zapLogger.Warn("error closing redis client", zap.Error(err))
		}
	}()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	store := repository.NewStore(pool, zapLogger)
	catalog := clients.NewCatalogClient(cfg.Catalog.BaseURL, cfg.Catalog.Timeout, zapLogger)

	engine := service.NewStockEngine(store, catalog, zapLogger, m, service.Tunables{
		RetryAttempts: cfg.Retry.Attempts,
		RetryBackoff:  cfg.Retry.Backoff,
		DefaultTTL:    cfg.Reservation.DefaultTTL,
		SweepBatch:    cfg.Reservation.SweepBatch,
	})
	cachedEngine := service.NewCachedStockEngine(engine, store, rdb, zapLogger)
	cart := service.NewCartAggregator(cachedEngine, zapLogger)

	producer, err := kafka.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		log.Fatalf("error creating kafka producer: %v", err)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			zapLogger.Warn("error closing kafka producer", zap.Error(err))
		}
	}()

	outboxProcessor := worker.NewOutboxProcessor(pool, outboxrepo.NewOutboxRepository(pool, zapLogger), producer, zapLogger)
	go outboxProcessor.Start(ctx)

	sweeper := service.NewExpirySweeper(cachedEngine, cfg.Reservation.SweepInterval, zapLogger)
	go sweeper.Start(ctx)

	orderConsumer := transportkafka.NewOrderEventsConsumer(cachedEngine, cart, pool, zapLogger)
	consumerGroup := kafka.NewConsumerGroup(
		cfg.Kafka.Brokers,
		cfg.Kafka.GroupID,
		[]string{transportkafka.TopicOrderEvents},
		orderConsumer.Handle,
		zapLogger,
	)
	go consumerGroup.Run(ctx)

	metricsServer := &http.Server{
		Addr:    cfg.Metrics.Port,
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Error("metrics server failed", zap.Error(err))
		}
	}()

	app := fiber.New(fiber.Config{
		ReadTimeout: cfg.HTTP.Timeout,
	})

	app.Use(otelfiber.Middleware())

	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 5 * time.Second,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Try again later.",
			})
		},
	}))

	handlers := &transporthttp.Handlers{
		Stock:       handler.NewStockHandler(cachedEngine, zapLogger),
		Reservation: handler.NewReservationHandler(cachedEngine, cart, zapLogger),
	}
	transporthttp.RegisterRoutes(app, handlers)

	go func() {
		log.Println("HTTP service listening on " + cfg.HTTP.Port)
		if err := app.Listen(cfg.HTTP.Port); err != nil {
			log.Fatalf("error listening on %s: %v", cfg.HTTP.Port, err)
		}
	}()

	zapLogger.Info("Stock engine started",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTP.Port),
	)

	<-ctx.Done()

	log.Println("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error shutting down HTTP app: %v\n", err)
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("error shutting down metrics server: %v\n", err)
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		zapLogger.Warn("failed to shut down telemetry", zap.Error(err))
	}
}
