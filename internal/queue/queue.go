package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pixelmint/genstudio/internal/domain"
	"github.com/pixelmint/genstudio/shared/rabbitmq"
)

const (
	// JobsExchange routes job envelopes to per-type queues
	JobsExchange = "genjobs.exchange"
	// RetryExchange routes envelopes into delay queues for backoff
	RetryExchange = "genjobs.retry.exchange"
	// DLXExchange collects poisoned messages
	DLXExchange = "genjobs.dlx"
	// DeadLetterQueue holds messages no worker could parse
	DeadLetterQueue = "genjobs.dead_letter.queue"
	// EventsExchange fans job-state events out to API instances
	EventsExchange = "gennotify.exchange"
)

// JobQueueName returns the durable queue for one job type
func JobQueueName(jobType string) string {
	return fmt.Sprintf("genjobs.queue.%s", jobType)
}

func retryQueueName(jobType string, delay time.Duration) string {
	return fmt.Sprintf("genjobs.retry.queue.%s.%ds", jobType, int(delay.Seconds()))
}

func retryRoutingKey(jobType string, delay time.Duration) string {
	return fmt.Sprintf("retry.%s.%ds", jobType, int(delay.Seconds()))
}

// Queue owns the broker topology for the generation pipeline. Envelopes
// are disposable references; the job row stays authoritative, so a lost
// or duplicated message is recovered by the reconciler or absorbed by
// the worker's claim guard.
type Queue struct {
	client      *rabbitmq.Client
	logger      *slog.Logger
	retryDelays []time.Duration // ascending
}

// New declares the pipeline topology and returns a Queue bound to it.
// retryDelays must be ascending; one delay queue is declared per entry.
func New(client *rabbitmq.Client, logger *slog.Logger, jobTypes []string, retryDelays []time.Duration) (*Queue, error) {
	q := &Queue{
		client:      client,
		logger:      logger,
		retryDelays: retryDelays,
	}

	if err := q.setupTopology(jobTypes); err != nil {
		return nil, fmt.Errorf("failed to setup queue topology: %w", err)
	}

	return q, nil
}

// setupTopology declares all exchanges, queues and bindings. Idempotent.
func (q *Queue) setupTopology(jobTypes []string) error {
	ch := q.client.GetChannel()
	if ch == nil {
		return fmt.Errorf("rabbitmq channel is nil")
	}

	if err := ch.ExchangeDeclare(JobsExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare jobs exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(RetryExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare retry exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(DLXExchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(EventsExchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare events exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter queue: %w", err)
	}
	if err := ch.QueueBind(DeadLetterQueue, "", DLXExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead-letter queue: %w", err)
	}

	// One durable queue per job type; poisoned messages dead-letter to the DLX
	for _, jt := range jobTypes {
		queueName := JobQueueName(jt)
		_, err := ch.QueueDeclare(queueName, true, false, false, false, amqp.Table{
			"x-dead-letter-exchange": DLXExchange,
		})
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", queueName, err)
		}
		if err := ch.QueueBind(queueName, jt, JobsExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", queueName, err)
		}
	}

	// Delay queues, one per (job type, delay): messages sit until the
	// TTL expires, then dead-letter back onto the job type's queue.
	for _, jt := range jobTypes {
		for _, delay := range q.retryDelays {
			queueName := retryQueueName(jt, delay)
			_, err := ch.QueueDeclare(queueName, true, false, false, false, amqp.Table{
				"x-dead-letter-exchange":    JobsExchange,
				"x-dead-letter-routing-key": jt,
				"x-message-ttl":             delay.Milliseconds(),
			})
			if err != nil {
				return fmt.Errorf("failed to declare retry queue %s: %w", queueName, err)
			}
			if err := ch.QueueBind(queueName, retryRoutingKey(jt, delay), RetryExchange, false, nil); err != nil {
				return fmt.Errorf("failed to bind retry queue %s: %w", queueName, err)
			}
		}
	}

	q.logger.Info("Queue topology declared",
		slog.Int("job_types", len(jobTypes)),
		slog.Int("retry_queues", len(q.retryDelays)),
	)

	return nil
}

// PublishJob enqueues a job envelope for immediate delivery
func (q *Queue) PublishJob(ctx context.Context, env *domain.JobEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal job envelope: %w", err)
	}

	return q.client.PublishWithRetry(ctx, JobsExchange, env.JobType, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// PublishRetry enqueues a job envelope on the delay queue closest to
// (and not shorter than) the requested backoff delay.
func (q *Queue) PublishRetry(ctx context.Context, env *domain.JobEnvelope, delay time.Duration) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal job envelope: %w", err)
	}

	chosen := q.nearestDelay(delay)
	return q.client.PublishWithRetry(ctx, RetryExchange, retryRoutingKey(env.JobType, chosen), amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// nearestDelay picks the smallest configured delay >= requested,
// falling back to the largest configured delay.
func (q *Queue) nearestDelay(delay time.Duration) time.Duration {
	for _, d := range q.retryDelays {
		if d >= delay {
			return d
		}
	}
	return q.retryDelays[len(q.retryDelays)-1]
}

// ConsumeJobs starts consuming envelopes for one job type
func (q *Queue) ConsumeJobs(jobType, consumerTag string, prefetch int) (<-chan amqp.Delivery, error) {
	return q.client.Consume(JobQueueName(jobType), consumerTag, prefetch)
}

// PublishEvent broadcasts a job-state event to all API instances
func (q *Queue) PublishEvent(ctx context.Context, event *domain.JobEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}

	return q.client.Publish(ctx, EventsExchange, "", amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// ConsumeEvents binds an exclusive queue to the events exchange and
// starts consuming. Each API instance sees every event.
func (q *Queue) ConsumeEvents(consumerTag string) (<-chan amqp.Delivery, error) {
	ch := q.client.GetChannel()
	if ch == nil {
		return nil, fmt.Errorf("rabbitmq channel is nil")
	}

	// Server-named, exclusive, auto-delete: events are ephemeral and a
	// disconnected client re-polls the job row instead of replaying.
	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to declare events queue: %w", err)
	}
	if err := ch.QueueBind(queue.Name, "", EventsExchange, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind events queue: %w", err)
	}

	return q.client.Consume(queue.Name, consumerTag, 0)
}

// GetChannel exposes the underlying channel for ACK/NACK
func (q *Queue) GetChannel() *amqp.Channel {
	return q.client.GetChannel()
}
