package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pixelmint/genstudio/internal/domain"
	"github.com/pixelmint/genstudio/internal/generator"
	"github.com/pixelmint/genstudio/internal/observability"
)

// outcome tells the pool loop how to settle the broker delivery
type outcome int

const (
	// outcomeHandled means the delivery is fully dealt with: acked.
	// Retries travel through the delay queues, not broker redelivery.
	outcomeHandled outcome = iota
	// outcomeRequeue means the job was never owned and the delivery
	// should go back to the broker.
	outcomeRequeue
)

// processJob drives one delivery through the job state machine
func (w *Worker) processJob(ctx context.Context, msg *jobMessage) outcome {
	jobID := msg.env.JobID

	// Claim is the idempotency guard: only a PENDING job can be taken.
	// Duplicates, cancellations and stale redeliveries all fail here
	// and are absorbed.
	job, err := w.store.Claim(ctx, jobID, w.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyClaimed) {
			w.logger.Warn("Duplicate delivery, skipping",
				slog.String("job_id", jobID),
			)
			observability.JobsProcessed.WithLabelValues(msg.env.JobType, "duplicate").Inc()
			return outcomeHandled
		}

		w.logger.Error("Failed to claim job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return outcomeRequeue
	}

	w.publishEvent(ctx, job, domain.JobStatusProcessing, "", "")

	started := time.Now()

	// Keep the row's liveness fresh so the stall sweep leaves us alone
	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(ctx, job.JobID, heartbeatDone)
	defer close(heartbeatDone)

	result, genErr := w.generator.Generate(ctx, job)

	if genErr == nil {
		return w.completeJob(ctx, job, result, started)
	}

	if errors.Is(genErr, generator.ErrAccepted) {
		// The generator will report back through the completion
		// callbacks; the job stays PROCESSING until then. Marking it
		// awaiting-callback parks it outside stall detection, since
		// heartbeats stop once this delivery is acked.
		if err := w.store.MarkAwaitingCallback(ctx, job.JobID); err != nil {
			if errors.Is(err, domain.ErrStaleTransition) {
				// Cancelled while the generator was accepting; refunded
				// by the cancel path, callback will be ignored.
				return outcomeHandled
			}

			w.logger.Error("Failed to mark job awaiting callback",
				slog.String("job_id", job.JobID),
				slog.String("error", err.Error()),
			)
			// The stall sweep will recover the row once heartbeats stop.
			return outcomeHandled
		}

		w.logger.Info("Generator accepted job for async completion",
			slog.String("job_id", job.JobID),
		)
		return outcomeHandled
	}

	return w.failAttempt(ctx, job, genErr)
}

// completeJob attempts the PROCESSING -> COMPLETED transition
func (w *Worker) completeJob(ctx context.Context, job *domain.Job, result string, started time.Time) outcome {
	if err := w.store.Complete(ctx, job.JobID, result); err != nil {
		if errors.Is(err, domain.ErrStaleTransition) {
			// A cancellation landed while we were generating.
			// Completion lost the race here, so the result is
			// discarded; the refund was issued by the cancel path.
			w.logger.Warn("Job cancelled during generation, discarding result",
				slog.String("job_id", job.JobID),
			)
			observability.JobsProcessed.WithLabelValues(job.JobType, "cancelled").Inc()
			return outcomeHandled
		}

		w.logger.Error("Failed to mark job completed",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		return outcomeRequeue
	}

	w.logger.Info("Job completed",
		slog.String("job_id", job.JobID),
		slog.String("job_type", job.JobType),
		slog.Duration("took", time.Since(started)),
	)

	observability.JobsProcessed.WithLabelValues(job.JobType, "completed").Inc()
	observability.JobDuration.WithLabelValues(job.JobType).Observe(time.Since(started).Seconds())

	w.publishEvent(ctx, job, domain.JobStatusCompleted, result, "")

	return outcomeHandled
}

// failAttempt records a failed generation attempt: retry with backoff
// while under the ceiling, otherwise terminal failure plus refund.
func (w *Worker) failAttempt(ctx context.Context, job *domain.Job, genErr error) outcome {
	attempts, err := w.store.IncrementAttempt(ctx, job.JobID)
	if err != nil {
		w.logger.Error("Failed to increment attempt count",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		attempts = job.AttemptCount + 1
	}

	retryable := domain.IsRetryable(genErr)

	if retryable && !w.policy.Exhausted(attempts) {
		return w.scheduleRetry(ctx, job, attempts, genErr)
	}

	reason := genErr.Error()
	if retryable {
		w.logger.Warn("Job exceeded retry ceiling",
			slog.String("job_id", job.JobID),
			slog.Int("attempts", attempts),
			slog.Int("ceiling", w.policy.Ceiling),
		)
		reason = "retry ceiling exceeded: " + reason
	}

	failed, err := w.compensator.FailAndRefund(ctx, job.JobID, reason)
	if err != nil {
		if errors.Is(err, domain.ErrStaleTransition) {
			// Cancelled (and refunded) while we were trying; absorbed.
			return outcomeHandled
		}

		w.logger.Error("Failed to fail job",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		return outcomeRequeue
	}

	observability.JobsProcessed.WithLabelValues(job.JobType, "failed").Inc()
	observability.CreditsRefunded.Add(float64(failed.CreditsReserved))

	w.publishEvent(ctx, job, domain.JobStatusFailed, "", reason)

	return outcomeHandled
}

// scheduleRetry flips the job back to PENDING and publishes the
// envelope onto a delay queue.
func (w *Worker) scheduleRetry(ctx context.Context, job *domain.Job, attempts int, genErr error) outcome {
	if err := w.store.RequeueForRetry(ctx, job.JobID, genErr.Error()); err != nil {
		if errors.Is(err, domain.ErrStaleTransition) {
			// Cancelled in the meantime; nothing left to retry
			return outcomeHandled
		}

		w.logger.Error("Failed to requeue job for retry",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		return outcomeRequeue
	}

	delay := w.policy.Delay(attempts - 1)

	env := &domain.JobEnvelope{
		JobID:      job.JobID,
		JobType:    job.JobType,
		Attempt:    attempts,
		EnqueuedAt: time.Now(),
	}

	if err := w.queue.PublishRetry(ctx, env, delay); err != nil {
		// The job is PENDING with no envelope; the reconciler's
		// pending sweep re-enqueues it after the grace window.
		w.logger.Error("Failed to publish retry, leaving job for reconciler",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		return outcomeHandled
	}

	// Raise the enqueued flag so the pending sweep knows the envelope
	// is parked in a delay queue and leaves the backoff alone.
	if err := w.store.MarkEnqueued(ctx, job.JobID); err != nil {
		w.logger.Warn("Failed to mark retried job enqueued",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
	}

	w.logger.Info("Job scheduled for retry",
		slog.String("job_id", job.JobID),
		slog.Int("attempt", attempts),
		slog.Int("ceiling", w.policy.Ceiling),
		slog.Duration("delay", delay),
	)

	observability.JobsProcessed.WithLabelValues(job.JobType, "retried").Inc()

	return outcomeHandled
}

// sendJobHeartbeat periodically refreshes the job's liveness timestamp
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := w.store.Heartbeat(ctx, jobID); err != nil {
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// publishEvent emits a job-state notification, best effort
func (w *Worker) publishEvent(ctx context.Context, job *domain.Job, status, result, errMsg string) {
	event := &domain.JobEvent{
		JobID:      job.JobID,
		UserID:     job.UserID,
		JobType:    job.JobType,
		Status:     status,
		Attempt:    job.AttemptCount,
		Result:     result,
		Error:      errMsg,
		OccurredAt: time.Now(),
	}

	if err := w.queue.PublishEvent(ctx, event); err != nil {
		w.logger.Warn("Failed to publish job event",
			slog.String("job_id", job.JobID),
			slog.String("status", status),
			slog.String("error", err.Error()),
		)
	}
}
