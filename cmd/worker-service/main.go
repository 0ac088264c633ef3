package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pixelmint/genstudio/internal/compensate"
	"github.com/pixelmint/genstudio/internal/config"
	"github.com/pixelmint/genstudio/internal/generator"
	"github.com/pixelmint/genstudio/internal/jobstore"
	"github.com/pixelmint/genstudio/internal/ledger"
	"github.com/pixelmint/genstudio/internal/observability"
	"github.com/pixelmint/genstudio/internal/queue"
	"github.com/pixelmint/genstudio/internal/reconciler"
	"github.com/pixelmint/genstudio/internal/worker"
	"github.com/pixelmint/genstudio/shared/logger"
	"github.com/pixelmint/genstudio/shared/postgresql"
	"github.com/pixelmint/genstudio/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client and declare topology
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	retryPolicy := worker.NewRetryPolicy(&cfg.Retry)
	jobQueue, err := queue.New(rabbitClient, appLogger.Logger, cfg.Worker.JobTypes, retryPolicy.Delays())
	if err != nil {
		return fmt.Errorf("failed to declare queue topology: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	// Wire the domain
	db := dbClient.GetDB()
	store := jobstore.New(db, appLogger.Logger)
	creditLedger := ledger.New(db, appLogger.Logger)
	compensator := compensate.New(db, store, creditLedger, appLogger.Logger)
	genClient := generator.NewClient(&cfg.Generator, appLogger.Logger)

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:            appLogger.Logger,
		Store:             store,
		Compensator:       compensator,
		Generator:         genClient,
		Queue:             jobQueue,
		JobTypes:          cfg.Worker.JobTypes,
		Concurrency:       cfg.Worker.Concurrency,
		PrefetchCount:     cfg.RabbitMQ.Consumer.PrefetchCount,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		RetryPolicy:       retryPolicy,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the reconciler sweeps
	sweeper := reconciler.New(store, jobQueue, compensator, &cfg.Reconciler, appLogger.Logger)
	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reconciler: %w", err)
	}

	// Expose Prometheus metrics
	if cfg.Metrics.Enabled {
		observability.StartMetricsServer(cfg.Metrics.Addr, appLogger.Logger)
	}

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	// Cancel context to stop worker
	cancel()

	// Give worker time to shutdown gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	// Stop worker and reconciler
	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		sweeper.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	// Cleanup function to close all resources
	cleanup := func() {
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	cleanup()

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
