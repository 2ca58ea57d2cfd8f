/**
 * @description
 * This is the main entry point for the donation-service. It loads configuration,
 * connects to PostgreSQL, Redis and RabbitMQ, builds the Stripe client, the checkout
 * and webhook services, the support-feed hub and the reconciliation scheduler, and
 * serves the HTTP API until it receives a termination signal.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and LISTEN/NOTIFY change feed.
 * - github.com/redis/go-redis/v9: Checkout rate limiting.
 * - github.com/joho/godotenv: Local .env loading.
 * - go.uber.org/zap: Structured logging.
 * - internal/api, internal/app, internal/config, internal/feed, internal/store.
 * - pkg/rabbitmq, pkg/stripeclient.
 */
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/transfa/donation-service/internal/api"
	"github.com/transfa/donation-service/internal/app"
	"github.com/transfa/donation-service/internal/config"
	"github.com/transfa/donation-service/internal/feed"
	"github.com/transfa/donation-service/internal/logger"
	"github.com/transfa/donation-service/internal/store"
	"github.com/transfa/donation-service/pkg/rabbitmq"
	"github.com/transfa/donation-service/pkg/stripeclient"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "level=fatal component=bootstrap msg=\"config load failed\" err=%v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Env)
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("donation-service stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx := context.Background()
	bootLog := logger.Component(log, "bootstrap")
	bootLog.Info("starting donation-service", zap.String("port", cfg.ServerPort), zap.String("env", cfg.Env))

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse database url: %w", err)
	}
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer dbpool.Close()
	bootLog.Info("database connected")

	if cfg.AutoMigrate {
		if err := store.Migrate(ctx, dbpool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		bootLog.Info("schema applied")
	}

	repository := store.NewPostgresRepository(dbpool)

	var limiter app.RateLimiter
	if redisClient := connectRedis(cfg, bootLog); redisClient != nil {
		defer redisClient.Close()
		limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix, app.CheckoutRateWindow(cfg.CheckoutRateLimitPerMinute))
	}

	var publisher rabbitmq.Publisher
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, log)
	if err != nil {
		bootLog.Warn("rabbitmq producer unavailable; using fallback", zap.Error(err))
		publisher = &rabbitmq.EventProducerFallback{Logger: log}
	} else {
		publisher = producer
		bootLog.Info("rabbitmq producer connected")
	}
	defer publisher.Close()

	var sessions app.SessionCreator
	if cfg.StripeSecretKey == "" {
		bootLog.Warn("stripe secret key missing; checkout disabled", zap.String("env", "STRIPE_SECRET_KEY"))
	} else {
		sessions = stripeclient.NewSessionClient(stripeclient.Config{
			SecretKey:         cfg.StripeSecretKey,
			Timeout:           time.Duration(cfg.StripeTimeoutSeconds) * time.Second,
			MaxNetworkRetries: cfg.StripeMaxNetworkRetries,
			Logger:            log,
		})
	}
	if cfg.StripeWebhookSecret == "" {
		bootLog.Warn("stripe webhook secret missing; webhook deliveries will be refused", zap.String("env", "STRIPE_WEBHOOK_SECRET"))
	}

	checkout := app.NewCheckoutService(sessions, cfg.StripeCurrency, log)
	webhooks := app.NewWebhookProcessor(cfg.StripeWebhookSecret, repository, publisher, cfg.DonationEventsExchange, log)

	hub := feed.NewHub(changeSource(cfg, dbpool, log), log)
	defer hub.Close()

	reconciler := app.NewReconciler(repository, log)
	scheduler := app.NewScheduler(log)
	if err := scheduler.Register("reconcile_category_totals", cfg.ReconcileSchedule, reconciler); err != nil {
		return err
	}
	scheduler.Start()
	defer func() {
		<-scheduler.Stop().Done()
	}()

	handler := api.NewHandler(api.Dependencies{
		Checkout:   checkout,
		Webhooks:   webhooks,
		Support:    repository,
		Changes:    hub,
		Reconciler: reconciler,
		Health:     repository,
		Logger:     log,
	})
	router := api.NewRouter(handler, api.RouterConfig{
		AdminJWTSecret:  cfg.AdminJWTSecret,
		CheckoutLimiter: limiter,
		Logger:          log,
	})

	// Cancelled on shutdown so open support streams return.
	baseCtx, cancelBase := context.WithCancel(ctx)
	defer cancelBase()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	server.RegisterOnShutdown(cancelBase)

	serverErr := make(chan error, 1)
	go func() {
		logger.Component(log, "http").Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		bootLog.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		bootLog.Warn("graceful shutdown incomplete", zap.Error(err))
	}
	bootLog.Info("donation-service stopped")
	return nil
}

// connectRedis returns a connected client, or nil when rate limiting is disabled or Redis
// cannot be reached.
func connectRedis(cfg config.Config, log *zap.Logger) *redis.Client {
	if cfg.CheckoutRateLimitPerMinute <= 0 {
		return nil
	}
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Warn("redis url missing; checkout rate limiting disabled", zap.String("env", "REDIS_URL"))
		return nil
	}
	options, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Warn("redis url parse failed; checkout rate limiting disabled", zap.Error(err))
		return nil
	}

	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis ping failed; checkout rate limiting disabled", zap.Error(err))
		client.Close()
		return nil
	}
	log.Info("redis connected")
	return client
}

func changeSource(cfg config.Config, dbpool *pgxpool.Pool, log *zap.Logger) feed.Source {
	if cfg.FeedChangeSource == config.FeedSourceRabbitMQ {
		return &feed.RabbitMQSource{
			URL:      cfg.RabbitMQURL,
			Exchange: cfg.DonationEventsExchange,
			Logger:   log,
		}
	}
	return store.NewNotificationListener(dbpool, store.DonationsChangedChannel)
}
