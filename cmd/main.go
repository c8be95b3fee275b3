/**
 * @description
 * This is the main entry point for the autotransfer-service.
 * The service runs two things side by side: the cron-driven daily batch that
 * executes due recurring transfers, and a small internal HTTP API for managing
 * transfer instructions. It initializes the configuration, database pool,
 * event producer, lock registry, batch engine and scheduler, then serves until
 * a termination signal arrives.
 */
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/autotransfer-service/internal/api"
	"github.com/transfa/autotransfer-service/internal/app"
	"github.com/transfa/autotransfer-service/internal/config"
	"github.com/transfa/autotransfer-service/internal/locks"
	"github.com/transfa/autotransfer-service/internal/store"
	"github.com/transfa/autotransfer-service/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load application configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Establish database connection with connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}

	// Configure connection pool for high-traffic scenarios
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Event publishing is optional; the batch must run without the broker.
	var producer rabbitmq.Publisher
	if cfg.RabbitMQURL != "" {
		p, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			logger.Warn("failed to connect to RabbitMQ, continuing without event publishing", "error", err)
			producer = &rabbitmq.EventProducerFallback{}
		} else {
			producer = p
		}
		defer producer.Close()
	}

	// Initialize dependencies
	repository := store.NewPostgresRepository(dbpool)
	registry := locks.NewRegistry(time.Duration(cfg.AccountLockWaitSeconds) * time.Second)
	engine := app.NewEngine(repository, registry, producer, logger)
	scheduler := app.NewScheduler(engine, registry, logger, *cfg)

	// Start the cron scheduler in the background
	scheduler.Start()
	logger.Info("scheduler started", "schedule", cfg.AutoTransferJobSchedule)

	// HTTP server for the internal CRUD surface
	service := app.NewService(repository, logger)
	handler := api.NewHandler(service)
	router := api.NewRouter(handler, cfg.InternalAPIKey)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		logger.Info("starting autotransfer-service http server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for termination signal to gracefully shut down
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, stopping scheduler")
	stopCtx := scheduler.Stop()
	<-stopCtx.Done() // Wait for a running batch to finish

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}
	logger.Info("autotransfer-service stopped gracefully")
}
