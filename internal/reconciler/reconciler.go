package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pixelmint/genstudio/internal/config"
	"github.com/pixelmint/genstudio/internal/domain"
)

// jobStore is the slice of the job store the reconciler needs
type jobStore interface {
	StalePending(ctx context.Context, grace time.Duration) ([]domain.Job, error)
	ResetStalled(ctx context.Context, deadline time.Duration) ([]domain.Job, error)
	ExpiredCallbacks(ctx context.Context, deadline time.Duration) ([]domain.Job, error)
	MarkEnqueued(ctx context.Context, jobID string) error
}

// jobPublisher re-enqueues recovered jobs and announces outcomes
type jobPublisher interface {
	PublishJob(ctx context.Context, env *domain.JobEnvelope) error
	PublishEvent(ctx context.Context, event *domain.JobEvent) error
}

// compensator issues the terminal-failure transition plus refund
type compensator interface {
	FailAndRefund(ctx context.Context, jobID, errMsg string) (*domain.Job, error)
}

// Reconciler sweeps the job store for work the queue lost track of:
// pending jobs that never got an envelope, processing jobs whose worker
// stopped heartbeating, and async jobs whose callback never came.
type Reconciler struct {
	store            jobStore
	queue            jobPublisher
	compensate       compensator
	logger           *slog.Logger
	pendingGrace     time.Duration
	stallDeadline    time.Duration
	callbackDeadline time.Duration
	schedule         string
	cron             *cron.Cron
}

// New creates a reconciler from configuration
func New(store jobStore, queue jobPublisher, compensate compensator, cfg *config.ReconcilerConfig, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:            store,
		queue:            queue,
		compensate:       compensate,
		logger:           logger,
		pendingGrace:     cfg.PendingGrace,
		stallDeadline:    cfg.StallDeadline,
		callbackDeadline: cfg.CallbackDeadline,
		schedule:         cfg.Schedule,
	}
}

// Start registers the sweep on the configured cron schedule
func (r *Reconciler) Start(ctx context.Context) error {
	r.cron = cron.New()

	_, err := r.cron.AddFunc(r.schedule, func() {
		r.Sweep(ctx)
	})
	if err != nil {
		return err
	}

	r.cron.Start()
	r.logger.Info("Reconciler started",
		slog.String("schedule", r.schedule),
		slog.Duration("pending_grace", r.pendingGrace),
		slog.Duration("stall_deadline", r.stallDeadline),
		slog.Duration("callback_deadline", r.callbackDeadline),
	)

	return nil
}

// Stop halts the schedule and waits for a running sweep to finish
func (r *Reconciler) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.logger.Info("Reconciler stopped")
}

// Sweep runs all recovery passes once
func (r *Reconciler) Sweep(ctx context.Context) {
	r.sweepPending(ctx)
	r.sweepStalled(ctx)
	r.sweepCallbacks(ctx)
}

// sweepPending re-enqueues jobs that were created (and charged) but
// whose envelope never reached the broker.
func (r *Reconciler) sweepPending(ctx context.Context) {
	jobs, err := r.store.StalePending(ctx, r.pendingGrace)
	if err != nil {
		r.logger.Error("Pending sweep query failed",
			slog.String("error", err.Error()),
		)
		return
	}

	for i := range jobs {
		job := &jobs[i]
		if err := r.republish(ctx, job); err != nil {
			r.logger.Error("Failed to re-enqueue pending job",
				slog.String("job_id", job.JobID),
				slog.String("error", err.Error()),
			)
			continue
		}

		r.logger.Info("Re-enqueued stale pending job",
			slog.String("job_id", job.JobID),
			slog.String("job_type", job.JobType),
		)
	}
}

// sweepStalled flips heartbeat-silent PROCESSING jobs back to PENDING
// and puts them back on the queue.
func (r *Reconciler) sweepStalled(ctx context.Context) {
	jobs, err := r.store.ResetStalled(ctx, r.stallDeadline)
	if err != nil {
		r.logger.Error("Stall sweep query failed",
			slog.String("error", err.Error()),
		)
		return
	}

	for i := range jobs {
		job := &jobs[i]
		if err := r.republish(ctx, job); err != nil {
			// Still PENDING; the next pending sweep retries it
			r.logger.Error("Failed to re-enqueue stalled job",
				slog.String("job_id", job.JobID),
				slog.String("error", err.Error()),
			)
			continue
		}

		r.logger.Warn("Recovered stalled job",
			slog.String("job_id", job.JobID),
			slog.String("job_type", job.JobType),
			slog.Int("attempt", job.AttemptCount),
		)
	}
}

// sweepCallbacks fails and refunds async jobs whose completion callback
// never arrived. The generation is not re-run: the external side may
// still be holding the job, and a late callback lands on a terminal row
// and is ignored.
func (r *Reconciler) sweepCallbacks(ctx context.Context) {
	jobs, err := r.store.ExpiredCallbacks(ctx, r.callbackDeadline)
	if err != nil {
		r.logger.Error("Callback sweep query failed",
			slog.String("error", err.Error()),
		)
		return
	}

	for i := range jobs {
		job := &jobs[i]
		failed, err := r.compensate.FailAndRefund(ctx, job.JobID, "callback deadline exceeded")
		if err != nil {
			if errors.Is(err, domain.ErrStaleTransition) {
				// The callback or a cancellation landed after the select
				continue
			}
			r.logger.Error("Failed to fail expired callback job",
				slog.String("job_id", job.JobID),
				slog.String("error", err.Error()),
			)
			continue
		}

		r.logger.Warn("Async job callback never arrived, failed and refunded",
			slog.String("job_id", failed.JobID),
			slog.String("job_type", failed.JobType),
			slog.Duration("deadline", r.callbackDeadline),
		)

		event := &domain.JobEvent{
			JobID:      failed.JobID,
			UserID:     failed.UserID,
			JobType:    failed.JobType,
			Status:     domain.JobStatusFailed,
			Attempt:    failed.AttemptCount,
			Error:      "callback deadline exceeded",
			OccurredAt: time.Now(),
		}
		if err := r.queue.PublishEvent(ctx, event); err != nil {
			r.logger.Warn("Failed to publish job event",
				slog.String("job_id", failed.JobID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (r *Reconciler) republish(ctx context.Context, job *domain.Job) error {
	env := &domain.JobEnvelope{
		JobID:      job.JobID,
		JobType:    job.JobType,
		Attempt:    job.AttemptCount,
		EnqueuedAt: time.Now(),
	}

	if err := r.queue.PublishJob(ctx, env); err != nil {
		return err
	}

	return r.store.MarkEnqueued(ctx, job.JobID)
}
