package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sanyamjain04/plane/internal/api"
	"github.com/sanyamjain04/plane/internal/config"
	"github.com/sanyamjain04/plane/internal/domain"
	"github.com/sanyamjain04/plane/internal/importer"
	"github.com/sanyamjain04/plane/internal/provider"
	"github.com/sanyamjain04/plane/internal/provider/github"
	"github.com/sanyamjain04/plane/internal/publisher"
	"github.com/sanyamjain04/plane/internal/scheduler"
	"github.com/sanyamjain04/plane/internal/storage/postgres"
	"github.com/sanyamjain04/plane/internal/sync"
	"github.com/sanyamjain04/plane/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Setup logger
	logger := setupLogger("info")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Initialize RabbitMQ publisher
	rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
		URL:        cfg.RabbitMQ.URL,
		Exchange:   cfg.RabbitMQ.Exchange,
		RoutingKey: cfg.RabbitMQ.RoutingKey,
		QueueName:  cfg.RabbitMQ.QueueName,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer rabbitMQ.Close()

	// Initialize stores
	integrationStore := postgres.NewIntegrationStore(db)
	mappingStore := postgres.NewMappingStore(db)
	conflictStore := postgres.NewConflictStore(db)
	checkpointStore := postgres.NewCheckpointStore(db)
	entityStore := postgres.NewEntityStore(db)
	jobStore := postgres.NewImportJobStore(db)
	txManager := postgres.NewTransactionManager(db)

	// Provider registry: adapters are registered here, engines resolve
	// clients per integration.
	registry := provider.NewRegistry(provider.EnvCredentialResolver{})
	registry.Register(domain.ProviderGithub, func(token string) provider.Client {
		return github.New(github.Config{
			BaseURL:        cfg.Github.BaseURL,
			Token:          token,
			Timeout:        cfg.Github.Timeout,
			PageSize:       cfg.Github.PageSize,
			RateLimitFloor: cfg.Github.RateLimitFloor,
		}, logger)
	})

	syncEngine := sync.NewEngine(
		integrationStore,
		mappingStore,
		conflictStore,
		checkpointStore,
		entityStore,
		txManager,
		registry,
		rabbitMQ,
		logger,
		cfg.Sync,
	)

	importEngine := importer.NewEngine(
		jobStore,
		mappingStore,
		entityStore,
		txManager,
		rabbitMQ,
		logger,
		cfg.Importer,
	)
	importEngine.RegisterSource(importer.SourceKindPayload, importer.NewPayloadSource)
	importEngine.RegisterSource(importer.SourceKindGithub, importer.NewGithubSourceFactory(integrationStore, registry))

	pool := worker.NewPool(cfg.Workers.Count, cfg.Workers.QueueDepth, logger)
	poller := worker.NewPoller(importEngine, pool, cfg.Importer.PollInterval, logger)
	syncScheduler := scheduler.New(syncEngine, checkpointStore, cfg.Sync.SweepInterval, logger)

	server := api.NewServer(
		syncEngine,
		importEngine,
		jobStore,
		integrationStore,
		conflictStore,
		mappingStore,
		registry,
		rabbitMQ,
		pool,
		logger,
	)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	pool.Start(ctx)

	go func() {
		if err := poller.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("import poller error", "error", err)
		}
	}()

	go func() {
		if err := syncScheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("sync scheduler error", "error", err)
		}
	}()

	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	pool.Wait()
	logger.Info("shutdown complete")
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
