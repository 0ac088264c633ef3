package compensate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/pixelmint/genstudio/internal/domain"
)

// jobTransitioner is the slice of the job store the compensator needs
type jobTransitioner interface {
	FailTx(ctx context.Context, tx *sqlx.Tx, jobID, errMsg string) (*domain.Job, error)
	CancelTx(ctx context.Context, tx *sqlx.Tx, jobID string) (*domain.Job, error)
	MarkRefundedTx(ctx context.Context, tx *sqlx.Tx, jobID string) error
}

// creditRefunder is the slice of the ledger the compensator needs
type creditRefunder interface {
	CreditTx(ctx context.Context, tx *sqlx.Tx, userID string, amount int64, kind, relatedJobID, description string) (int64, error)
}

// Compensator pairs a terminal job transition with its refund in one
// database transaction, so a crash never leaves a failed job without
// its compensation or a refund without its terminal state. The job
// row's refund guard makes the credit at-most-once even under duplicate
// callbacks or concurrent cancel/fail.
type Compensator struct {
	runTx  func(ctx context.Context, fn func(*sqlx.Tx) error) error
	store  jobTransitioner
	ledger creditRefunder
	logger *slog.Logger
}

// New creates a new Compensator
func New(db *sqlx.DB, store jobTransitioner, lg creditRefunder, logger *slog.Logger) *Compensator {
	return &Compensator{
		runTx:  txRunner(db),
		store:  store,
		ledger: lg,
		logger: logger,
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

// FailAndRefund moves a job to FAILED and refunds its reservation.
// Returns domain.ErrStaleTransition when another owner already moved the
// job out of PENDING/PROCESSING (duplicate callback, raced cancel).
func (c *Compensator) FailAndRefund(ctx context.Context, jobID, errMsg string) (*domain.Job, error) {
	var job *domain.Job
	err := c.runTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		job, err = c.store.FailTx(ctx, tx, jobID, errMsg)
		if err != nil {
			return err
		}
		return c.refundTx(ctx, tx, job)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("Job failed, credits refunded",
		slog.String("job_id", job.JobID),
		slog.String("user_id", job.UserID),
		slog.Int64("refunded", job.CreditsReserved),
		slog.String("error", errMsg),
	)

	return job, nil
}

// CancelAndRefund moves a job to CANCELLED and refunds its reservation.
// Completion wins a race: a job already COMPLETED is past cancelling and
// returns domain.ErrNotCancellable with no refund.
func (c *Compensator) CancelAndRefund(ctx context.Context, jobID string) (*domain.Job, error) {
	var job *domain.Job
	err := c.runTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		job, err = c.store.CancelTx(ctx, tx, jobID)
		if err != nil {
			return err
		}
		return c.refundTx(ctx, tx, job)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("Job cancelled, credits refunded",
		slog.String("job_id", job.JobID),
		slog.String("user_id", job.UserID),
		slog.Int64("refunded", job.CreditsReserved),
	)

	return job, nil
}

// refundTx issues the compensating credit behind the refund guard.
// An already-refunded job keeps its transition but gets no second credit.
func (c *Compensator) refundTx(ctx context.Context, tx *sqlx.Tx, job *domain.Job) error {
	if err := c.store.MarkRefundedTx(ctx, tx, job.JobID); err != nil {
		if errors.Is(err, domain.ErrAlreadyRefunded) {
			return nil
		}
		return err
	}

	_, err := c.ledger.CreditTx(ctx, tx, job.UserID, job.CreditsReserved,
		domain.TxKindRefund, job.JobID, "refund for job "+job.JobID)
	return err
}
