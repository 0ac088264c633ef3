package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/pixelmint/genstudio/internal/api/handler"
	"github.com/pixelmint/genstudio/internal/api/router"
	"github.com/pixelmint/genstudio/internal/compensate"
	"github.com/pixelmint/genstudio/internal/config"
	"github.com/pixelmint/genstudio/internal/dispatcher"
	"github.com/pixelmint/genstudio/internal/domain"
	"github.com/pixelmint/genstudio/internal/jobstore"
	"github.com/pixelmint/genstudio/internal/ledger"
	"github.com/pixelmint/genstudio/internal/notify"
	"github.com/pixelmint/genstudio/internal/pricing"
	"github.com/pixelmint/genstudio/internal/queue"
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
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting API service",
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

	jobTypes := cfg.Worker.JobTypes
	if len(jobTypes) == 0 {
		jobTypes = domain.JobTypes
	}

	retryPolicy := worker.NewRetryPolicy(&cfg.Retry)
	jobQueue, err := queue.New(rabbitClient, appLogger.Logger, jobTypes, retryPolicy.Delays())
	if err != nil {
		return fmt.Errorf("failed to declare queue topology: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	// Wire the domain
	db := dbClient.GetDB()
	store := jobstore.New(db, appLogger.Logger)
	creditLedger := ledger.New(db, appLogger.Logger)
	compensator := compensate.New(db, store, creditLedger, appLogger.Logger)
	calculator := pricing.NewCalculator(&cfg.Pricing)
	jobDispatcher := dispatcher.New(db, creditLedger, store, jobQueue, calculator, appLogger.Logger)

	// Notification hub plus the broker-to-hub bridge
	hub := notify.NewHub(appLogger.Logger)
	notifyConsumer := notify.NewConsumer(jobQueue, hub, appLogger.Logger)

	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	defer cancelConsumer()

	go func() {
		tag := fmt.Sprintf("%s-notify", cfg.App.Name)
		if err := notifyConsumer.Run(consumerCtx, tag); err != nil && consumerCtx.Err() == nil {
			appLogger.Error("Notification consumer stopped",
				slog.Any("error", err),
			)
		}
	}()

	// Initialize router
	r := initRouter(cfg.App.Environment, &handler.Dependencies{
		Logger:     appLogger.Logger,
		Dispatcher: jobDispatcher,
		Store:      store,
		Ledger:     creditLedger,
		Compensate: compensator,
		Events:     jobQueue,
		Hub:        hub,
	})

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	cancelConsumer()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)

	cleanup := func() {
		cancel()
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	defer cleanup()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
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

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
