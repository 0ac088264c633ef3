package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pixelmint/genstudio/internal/domain"
)

// dispatchDeliveries reads one job type's delivery stream and feeds the
// worker pool. Malformed envelopes are nacked without requeue so they
// land in the dead-letter queue instead of looping forever.
func (w *Worker) dispatchDeliveries(ctx context.Context, jobType string, deliveries <-chan amqp.Delivery) {
	defer w.wg.Done()

	w.logger.Info("Delivery dispatcher started",
		slog.String("worker_id", w.workerID),
		slog.String("job_type", jobType),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Delivery dispatcher stopped - context canceled",
				slog.String("job_type", jobType),
			)
			return

		case <-w.stopChan:
			w.logger.Info("Delivery dispatcher stopped - worker stopping",
				slog.String("job_type", jobType),
			)
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed",
					slog.String("job_type", jobType),
				)
				return
			}

			var env domain.JobEnvelope
			if err := json.Unmarshal(delivery.Body, &env); err != nil {
				w.logger.Error("Failed to parse job envelope",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed envelope",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			if _, err := uuid.Parse(env.JobID); err != nil {
				w.logger.Error("Invalid job_id in envelope - not a UUID",
					slog.String("job_id", env.JobID),
					slog.String("error", err.Error()),
				)
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK envelope with invalid job_id",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			msg := &jobMessage{env: env, delivery: delivery}

			select {
			case w.jobsChan <- msg:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", env.JobID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				// Hand the envelope back so another consumer picks it up
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK envelope on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return
			}
		}
	}
}
