package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pixelmint/genstudio/internal/domain"
)

// eventSource is the slice of the queue the consumer needs
type eventSource interface {
	ConsumeEvents(consumerTag string) (<-chan amqp.Delivery, error)
}

// Consumer bridges broker job events into the in-process hub
type Consumer struct {
	source eventSource
	hub    *Hub
	logger *slog.Logger
}

// NewConsumer creates a consumer feeding the given hub
func NewConsumer(source eventSource, hub *Hub, logger *slog.Logger) *Consumer {
	return &Consumer{
		source: source,
		hub:    hub,
		logger: logger,
	}
}

// Run consumes job events until the context is canceled or the broker
// channel closes.
func (c *Consumer) Run(ctx context.Context, consumerTag string) error {
	deliveries, err := c.source.ConsumeEvents(consumerTag)
	if err != nil {
		return err
	}

	c.logger.Info("Notification consumer started",
		slog.String("consumer_tag", consumerTag),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("Event channel closed")
				return nil
			}
			c.handleDelivery(&delivery)
		}
	}
}

func (c *Consumer) handleDelivery(delivery *amqp.Delivery) {
	var event domain.JobEvent
	if err := json.Unmarshal(delivery.Body, &event); err != nil {
		c.logger.Error("Failed to unmarshal job event, discarding",
			slog.String("error", err.Error()),
		)
		delivery.Nack(false, false)
		return
	}

	c.hub.Publish(&event)
	delivery.Ack(false)
}
