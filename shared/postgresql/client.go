package postgresql

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Config holds PostgreSQL connection configuration
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Client represents a PostgreSQL database client
type Client struct {
	db     *sqlx.DB
	config *Config
	logger *slog.Logger
}

// NewClient creates a new PostgreSQL client
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host,
		config.Port,
		config.User,
		config.Password,
		config.Database,
		config.SSLMode,
	)

	logger.Info("Connecting to PostgreSQL",
		slog.String("host", config.Host),
		slog.Int("port", config.Port),
		slog.String("database", config.Database),
	)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		logger.Error("Failed to connect to PostgreSQL",
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("Failed to ping PostgreSQL",
			slog.Any("error", err),
		)
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	client := &Client{
		db:     db,
		config: config,
		logger: logger,
	}

	logger.Info("Successfully connected to PostgreSQL",
		slog.Int("max_open_conns", config.MaxOpenConns),
		slog.Int("max_idle_conns", config.MaxIdleConns),
	)

	return client, nil
}

// GetDB returns the underlying sqlx.DB instance
func (c *Client) GetDB() *sqlx.DB {
	return c.db
}

// BeginTx starts a new transaction
func (c *Client) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		c.logger.Error("Failed to begin transaction",
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// Ping checks the database connection
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// HealthCheck performs a health check on the database
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := c.db.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("database query health check failed: %w", err)
	}

	return nil
}

// Close closes the database connection
func (c *Client) Close() error {
	c.logger.Info("Closing PostgreSQL connection")

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close PostgreSQL connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	return nil
}
