package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// MinBatchSize is the smallest accepted generation batch
	MinBatchSize = 1
	// MaxBatchSize is the largest accepted generation batch
	MaxBatchSize = 50
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Logging    LoggingConfig    `yaml:"logging"`
	App        AppConfig        `yaml:"app"`
	Worker     WorkerConfig     `yaml:"worker"`
	Generator  GeneratorConfig  `yaml:"generator"`
	Pricing    PricingConfig    `yaml:"pricing"`
	Retry      RetryConfig      `yaml:"retry"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and topology configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	JobTypes          []string      `yaml:"job_types"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// GeneratorConfig holds the external generator endpoint settings
type GeneratorConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// PricingConfig holds per-type base costs in credits
type PricingConfig struct {
	BaseCosts map[string]int64 `yaml:"base_costs"`
}

// RetryConfig holds the worker retry policy
type RetryConfig struct {
	Ceiling    int           `yaml:"ceiling"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	Multiplier float64       `yaml:"multiplier"`
}

// ReconcilerConfig holds the sweep schedules and windows
type ReconcilerConfig struct {
	Schedule         string        `yaml:"schedule"`          // cron spec, e.g. "@every 30s"
	PendingGrace     time.Duration `yaml:"pending_grace"`     // min age of an unenqueued PENDING job
	StallDeadline    time.Duration `yaml:"stall_deadline"`    // max heartbeat silence for PROCESSING
	CallbackDeadline time.Duration `yaml:"callback_deadline"` // max wait for an async generator callback
}

// MetricsConfig holds the Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// validateShared checks the settings both services depend on
func (c *Config) validateShared() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if len(c.Pricing.BaseCosts) == 0 {
		return fmt.Errorf("pricing base_costs is required")
	}

	return nil
}

// ValidateAPIConfig checks the configuration for the API service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	return c.validateShared()
}

// ValidateWorkerConfig checks the configuration for the worker service
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if len(c.Worker.JobTypes) == 0 {
		return fmt.Errorf("worker job_types is required")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Generator.BaseURL == "" {
		return fmt.Errorf("generator base_url is required")
	}

	if c.Generator.RequestTimeout <= 0 {
		return fmt.Errorf("generator request_timeout must be greater than 0")
	}

	if c.Retry.Ceiling < 0 {
		return fmt.Errorf("retry ceiling must not be negative")
	}

	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry base_delay must be greater than 0")
	}

	if c.Reconciler.Schedule == "" {
		return fmt.Errorf("reconciler schedule is required")
	}

	if c.Reconciler.PendingGrace <= 0 {
		return fmt.Errorf("reconciler pending_grace must be greater than 0")
	}

	if c.Reconciler.StallDeadline <= 0 {
		return fmt.Errorf("reconciler stall_deadline must be greater than 0")
	}

	if c.Reconciler.CallbackDeadline <= 0 {
		return fmt.Errorf("reconciler callback_deadline must be greater than 0")
	}

	return nil
}
