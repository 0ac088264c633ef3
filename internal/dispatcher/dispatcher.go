package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pixelmint/genstudio/internal/domain"
	"github.com/pixelmint/genstudio/internal/observability"
	"github.com/pixelmint/genstudio/internal/pricing"
)

// creditDebiter is the slice of the ledger the dispatcher needs
type creditDebiter interface {
	DebitTx(ctx context.Context, tx *sqlx.Tx, userID string, amount int64, kind, relatedJobID, description string) (int64, error)
}

// jobCreator is the slice of the job store the dispatcher needs
type jobCreator interface {
	CreateTx(ctx context.Context, tx *sqlx.Tx, job *domain.Job) error
	MarkEnqueued(ctx context.Context, jobID string) error
}

// jobPublisher is the slice of the queue the dispatcher needs
type jobPublisher interface {
	PublishJob(ctx context.Context, env *domain.JobEnvelope) error
	PublishEvent(ctx context.Context, event *domain.JobEvent) error
}

// Dispatcher validates a generation request, reserves its credits, and
// hands the job to the queue. The debit and the job row commit as one
// unit; the enqueue happens only after that unit commits, and when it
// fails the row stays PENDING for the reconciler to sweep up.
type Dispatcher struct {
	runTx   func(ctx context.Context, fn func(*sqlx.Tx) error) error
	ledger  creditDebiter
	store   jobCreator
	queue   jobPublisher
	pricing *pricing.Calculator
	logger  *slog.Logger
}

// New creates a new Dispatcher
func New(db *sqlx.DB, ledger creditDebiter, store jobCreator, queue jobPublisher, calc *pricing.Calculator, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		runTx:   txRunner(db),
		ledger:  ledger,
		store:   store,
		queue:   queue,
		pricing: calc,
		logger:  logger,
	}
}

func txRunner(db *sqlx.DB) func(ctx context.Context, fn func(*sqlx.Tx) error) error {
	return func(ctx context.Context, fn func(*sqlx.Tx) error) error {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		if err := fn(tx); err != nil {
			return err
		}

		return tx.Commit()
	}
}

// Submit reserves credits for a generation request and enqueues it.
// Validation and balance errors leave no trace; domain.ErrQueueUnavailable
// means the job row committed but the envelope did not reach the broker,
// in which case the returned job is still valid and will be re-enqueued.
func (d *Dispatcher) Submit(ctx context.Context, userID, jobType string, batchSize int, payload string) (*domain.Job, error) {
	cost, err := d.pricing.Cost(jobType, batchSize)
	if err != nil {
		return nil, err
	}

	job := &domain.Job{
		JobID:           uuid.New().String(),
		UserID:          userID,
		JobType:         jobType,
		BatchSize:       batchSize,
		Payload:         payload,
		Status:          domain.JobStatusPending,
		CreditsReserved: cost,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}

	err = d.runTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := d.ledger.DebitTx(ctx, tx, userID, cost, domain.TxKindConsume, job.JobID,
			fmt.Sprintf("%s x%d", jobType, batchSize)); err != nil {
			return err
		}
		return d.store.CreateTx(ctx, tx, job)
	})
	if err != nil {
		return nil, err
	}

	observability.JobsSubmitted.WithLabelValues(jobType).Inc()
	observability.CreditsConsumed.Add(float64(cost))

	d.logger.Info("Job submitted",
		slog.String("job_id", job.JobID),
		slog.String("user_id", userID),
		slog.String("job_type", jobType),
		slog.Int("batch_size", batchSize),
		slog.Int64("cost", cost),
	)

	env := &domain.JobEnvelope{
		JobID:      job.JobID,
		JobType:    jobType,
		Attempt:    0,
		EnqueuedAt: time.Now(),
	}

	if err := d.queue.PublishJob(ctx, env); err != nil {
		// The debit and job row are committed; the reconciler will
		// re-enqueue this PENDING job after the grace window.
		d.logger.Error("Failed to enqueue job, leaving PENDING for reconciler",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
		return job, domain.ErrQueueUnavailable
	}

	if err := d.store.MarkEnqueued(ctx, job.JobID); err != nil {
		d.logger.Warn("Failed to mark job enqueued",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
	}

	d.notify(ctx, job)

	return job, nil
}

// notify publishes the pending event, best effort
func (d *Dispatcher) notify(ctx context.Context, job *domain.Job) {
	event := &domain.JobEvent{
		JobID:      job.JobID,
		UserID:     job.UserID,
		JobType:    job.JobType,
		Status:     job.Status,
		OccurredAt: time.Now(),
	}

	if err := d.queue.PublishEvent(ctx, event); err != nil {
		d.logger.Warn("Failed to publish job event",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
	}
}
