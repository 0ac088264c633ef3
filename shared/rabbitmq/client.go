package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

// Client represents a RabbitMQ client. Topology (exchanges, queues,
// bindings) is declared by callers against the channel.
type Client struct {
	config      *Config
	conn        *amqp.Connection
	channel     *amqp.Channel
	logger      *slog.Logger
	closeChan   chan *amqp.Error
	isConnected bool
}

// NewClient creates a new RabbitMQ client
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config: config,
		logger: logger,
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// connect establishes connection to RabbitMQ with retry logic
func (c *Client) connect() error {
	var err error

	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.config.User,
		c.config.Password,
		c.config.Host,
		c.config.Port,
		c.config.VHost,
	)

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}

	for attempt := 1; attempt <= c.config.RetryAttempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.config.RetryAttempts),
		)

		c.conn, err = amqp.DialConfig(dsn, amqpConfig)
		if err == nil {
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < c.config.RetryAttempts {
			time.Sleep(c.config.RetryInterval)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", c.config.RetryAttempts, err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	c.closeChan = make(chan *amqp.Error)
	c.channel.NotifyClose(c.closeChan)
	c.isConnected = true

	c.logger.Info("Successfully connected to RabbitMQ")

	return nil
}

// Publish publishes a persistent message to an exchange
func (c *Client) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	if !c.isConnected {
		return fmt.Errorf("not connected to RabbitMQ")
	}

	if msg.DeliveryMode == 0 {
		msg.DeliveryMode = amqp.Persistent
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	err := c.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
	if err != nil {
		c.logger.Error("Failed to publish message to RabbitMQ",
			slog.Any("error", err),
			slog.String("exchange", exchange),
			slog.String("routing_key", routingKey),
		)
		return fmt.Errorf("failed to publish message: %w", err)
	}

	return nil
}

// PublishWithRetry publishes a message with retry logic and exponential backoff
func (c *Client) PublishWithRetry(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	maxRetries := c.config.PublishRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	baseDelay := c.config.PublishRetryDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = c.Publish(ctx, exchange, routingKey, msg)
		if lastErr == nil {
			if attempt > 0 {
				c.logger.Info("Successfully published message to RabbitMQ after retry",
					slog.Int("attempt", attempt+1),
				)
			}
			return nil
		}

		if attempt < maxRetries {
			backoffDelay := time.Duration(float64(baseDelay) * float64(uint(1)<<uint(attempt)))
			c.logger.Warn("Failed to publish message to RabbitMQ, retrying...",
				slog.Int("attempt", attempt+1),
				slog.Int("max_retries", maxRetries),
				slog.Duration("retry_after", backoffDelay),
				slog.Any("error", lastErr),
			)
			time.Sleep(backoffDelay)
		}
	}

	return fmt.Errorf("failed to publish message after %d attempts: %w", maxRetries+1, lastErr)
}

// Consume starts consuming messages from a queue with manual acknowledgment
func (c *Client) Consume(queue, consumerTag string, prefetch int) (<-chan amqp.Delivery, error) {
	if !c.isConnected {
		return nil, fmt.Errorf("not connected to RabbitMQ")
	}

	if prefetch > 0 {
		if err := c.channel.Qos(prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	messages, err := c.channel.Consume(
		queue,       // queue
		consumerTag, // consumer tag
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", queue),
		slog.String("consumer_tag", consumerTag),
	)

	return messages, nil
}

// GetChannel returns the channel for topology declaration and ACK/NACK
func (c *Client) GetChannel() *amqp.Channel {
	return c.channel
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	return c.isConnected && c.conn != nil && !c.conn.IsClosed()
}

// Close closes the RabbitMQ connection
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")

	c.isConnected = false

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	return nil
}
