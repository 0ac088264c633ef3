package jobstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pixelmint/genstudio/internal/domain"
)

// Store owns the durable job rows. Every status transition is a
// conditional UPDATE ("only if current status is X"), which is what
// linearizes ownership without a lock service: a duplicate delivery or
// a raced transition matches zero rows and is absorbed by the caller.
// Terminal states never re-open.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New creates a new Store
func New(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

const jobColumns = `
	job_id, user_id, job_type, batch_size, payload, status,
	credits_reserved, attempt_count, refunded, enqueued,
	awaiting_callback, worker_id, result, error_message, created_at,
	updated_at, started_at, last_heartbeat_at, completed_at
`

// CreateTx inserts a PENDING job row inside the caller's transaction.
// The dispatcher pairs this with the credit debit so a job row never
// exists without its reservation.
func (s *Store) CreateTx(ctx context.Context, tx *sqlx.Tx, job *domain.Job) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO jobs (
			job_id, user_id, job_type, batch_size, payload, status,
			credits_reserved, attempt_count, refunded, enqueued,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, FALSE, FALSE, NOW(), NOW())
	`,
		job.JobID,
		job.UserID,
		job.JobType,
		job.BatchSize,
		job.Payload,
		domain.JobStatusPending,
		job.CreditsReserved,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetByID retrieves a job row
func (s *Store) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	err := s.db.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, jobID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// Claim attempts PENDING -> PROCESSING for one worker. Zero rows means
// the job was already claimed, finished, or cancelled: the caller treats
// that as a duplicate delivery and skips.
func (s *Store) Claim(ctx context.Context, jobID, workerID string) (*domain.Job, error) {
	var job domain.Job
	err := s.db.GetContext(ctx, &job, `
		UPDATE jobs
		SET status = $1,
		    worker_id = $2,
		    awaiting_callback = FALSE,
		    started_at = NOW(),
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
		RETURNING `+jobColumns+`
	`, domain.JobStatusProcessing, workerID, jobID, domain.JobStatusPending)

	if err != nil {
		if err == sql.ErrNoRows {
			s.logger.Warn("Failed to claim job - already claimed or not found",
				slog.String("job_id", jobID),
				slog.String("worker_id", workerID),
			)
			return nil, domain.ErrAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("Job claimed",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
		slog.String("job_type", job.JobType),
	)

	return &job, nil
}

// Complete attempts PROCESSING -> COMPLETED with the artifact result.
// Zero rows means a cancellation landed first; the result is discarded
// and domain.ErrStaleTransition is returned.
func (s *Store) Complete(ctx context.Context, jobID, result string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1,
		    result = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
	`, domain.JobStatusCompleted, result, jobID, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	return s.requireRow(res, jobID, domain.JobStatusCompleted)
}

// FailTx attempts PENDING|PROCESSING -> FAILED inside the caller's
// transaction and returns the row needed for compensation.
func (s *Store) FailTx(ctx context.Context, tx *sqlx.Tx, jobID, errMsg string) (*domain.Job, error) {
	var job domain.Job
	err := tx.QueryRowxContext(ctx, `
		UPDATE jobs
		SET status = $1,
		    error_message = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status IN ($4, $5)
		RETURNING `+jobColumns+`
	`, domain.JobStatusFailed, errMsg, jobID, domain.JobStatusPending, domain.JobStatusProcessing).StructScan(&job)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrStaleTransition
		}
		return nil, fmt.Errorf("failed to fail job: %w", err)
	}

	return &job, nil
}

// CancelTx attempts PENDING|PROCESSING -> CANCELLED inside the caller's
// transaction. A job a worker completes first is past cancelling:
// completion wins and the caller sees ErrNotCancellable.
func (s *Store) CancelTx(ctx context.Context, tx *sqlx.Tx, jobID string) (*domain.Job, error) {
	var job domain.Job
	err := tx.QueryRowxContext(ctx, `
		UPDATE jobs
		SET status = $1,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $2
		  AND status IN ($3, $4)
		RETURNING `+jobColumns+`
	`, domain.JobStatusCancelled, jobID, domain.JobStatusPending, domain.JobStatusProcessing).StructScan(&job)

	if err != nil {
		if err == sql.ErrNoRows {
			// Distinguish a missing job from a terminal one
			if _, getErr := s.GetByID(ctx, jobID); getErr != nil {
				return nil, getErr
			}
			return nil, domain.ErrNotCancellable
		}
		return nil, fmt.Errorf("failed to cancel job: %w", err)
	}

	return &job, nil
}

// RequeueForRetry flips PROCESSING back to PENDING so the next delivery
// can claim the job again, recording the error that caused the retry.
// The enqueued flag drops with it: the delay-queue envelope is not in
// the main queue yet, and the caller re-raises the flag only once the
// retry publish succeeds. A row with enqueued still FALSE is therefore
// always safe for the reconciler to republish.
func (s *Store) RequeueForRetry(ctx context.Context, jobID, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1,
		    error_message = $2,
		    worker_id = NULL,
		    enqueued = FALSE,
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
	`, domain.JobStatusPending, errMsg, jobID, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}

	return s.requireRow(res, jobID, domain.JobStatusPending)
}

// IncrementAttempt bumps the attempt counter and returns the new value
func (s *Store) IncrementAttempt(ctx context.Context, jobID string) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET attempt_count = attempt_count + 1,
		    updated_at = NOW()
		WHERE job_id = $1
		RETURNING attempt_count
	`, jobID).Scan(&attempts)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, domain.ErrJobNotFound
		}
		return 0, fmt.Errorf("failed to increment attempt count: %w", err)
	}

	return attempts, nil
}

// Heartbeat refreshes the liveness timestamp for a PROCESSING job
func (s *Store) Heartbeat(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $1 AND status = $2
	`, jobID, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to update job heartbeat: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		s.logger.Warn("Job heartbeat update - no rows affected (job may not be processing)",
			slog.String("job_id", jobID),
		)
	}

	return nil
}

// MarkEnqueued records that an envelope for the row reached the broker,
// whether the main queue or a delay queue. The pending sweep only
// re-enqueues rows that never got this far.
func (s *Store) MarkEnqueued(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET enqueued = TRUE, updated_at = NOW() WHERE job_id = $1
	`, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job enqueued: %w", err)
	}

	return nil
}

// MarkRefundedTx flips the refund guard inside the caller's transaction.
// Zero rows means the compensation already ran: ErrAlreadyRefunded.
func (s *Store) MarkRefundedTx(ctx context.Context, tx *sqlx.Tx, jobID string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET refunded = TRUE,
		    updated_at = NOW()
		WHERE job_id = $1
		  AND refunded = FALSE
	`, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job refunded: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrAlreadyRefunded
	}

	return nil
}

// StalePending returns PENDING jobs whose envelope never reached the
// broker, untouched for longer than grace. Rows with enqueued TRUE are
// excluded: their envelope is already sitting in the main queue or a
// delay queue, and republishing them would bypass the retry backoff.
func (s *Store) StalePending(ctx context.Context, grace time.Duration) ([]domain.Job, error) {
	var jobs []domain.Job
	err := s.db.SelectContext(ctx, &jobs, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = $1
		  AND enqueued = FALSE
		  AND updated_at < NOW() - ($2 * INTERVAL '1 second')
		ORDER BY created_at ASC
		LIMIT 100
	`, domain.JobStatusPending, grace.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to select stale pending jobs: %w", err)
	}

	return jobs, nil
}

// ResetStalled flips PROCESSING jobs whose heartbeat went silent back to
// PENDING and returns them for re-enqueue. Jobs awaiting an external
// callback stop heartbeating on purpose and are skipped here; the
// callback-deadline sweep owns those. A worker that actually finished
// won its conditional Complete first, making this match zero rows for
// that job.
func (s *Store) ResetStalled(ctx context.Context, deadline time.Duration) ([]domain.Job, error) {
	var jobs []domain.Job
	err := s.db.SelectContext(ctx, &jobs, `
		UPDATE jobs
		SET status = $1,
		    worker_id = NULL,
		    enqueued = FALSE,
		    updated_at = NOW()
		WHERE status = $2
		  AND awaiting_callback = FALSE
		  AND last_heartbeat_at < NOW() - ($3 * INTERVAL '1 second')
		RETURNING `+jobColumns+`
	`, domain.JobStatusPending, domain.JobStatusProcessing, deadline.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to reset stalled jobs: %w", err)
	}

	return jobs, nil
}

// MarkAwaitingCallback records that the generator took the job for
// asynchronous completion. The row stays PROCESSING with no worker
// heartbeats; stall detection leaves it alone until CallbackDeadline.
func (s *Store) MarkAwaitingCallback(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET awaiting_callback = TRUE,
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $1
		  AND status = $2
	`, jobID, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark job awaiting callback: %w", err)
	}

	return s.requireRow(res, jobID, domain.JobStatusProcessing)
}

// ExpiredCallbacks returns PROCESSING jobs parked on an external
// callback that never arrived within the deadline. The reconciler fails
// and refunds these rather than re-running the generation.
func (s *Store) ExpiredCallbacks(ctx context.Context, deadline time.Duration) ([]domain.Job, error) {
	var jobs []domain.Job
	err := s.db.SelectContext(ctx, &jobs, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = $1
		  AND awaiting_callback = TRUE
		  AND last_heartbeat_at < NOW() - ($2 * INTERVAL '1 second')
		ORDER BY created_at ASC
		LIMIT 100
	`, domain.JobStatusProcessing, deadline.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to select expired callback jobs: %w", err)
	}

	return jobs, nil
}

// JobFilter selects job rows for listing
type JobFilter struct {
	UserID   string
	JobType  string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is a keyset-pagination position in the job list
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// List returns a page of jobs, newest first. Fetches one extra row so
// callers can detect another page.
func (s *Store) List(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}

	if filter.JobType != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, filter.JobType)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// requireRow converts a zero-row conditional update into ErrStaleTransition
func (s *Store) requireRow(res sql.Result, jobID, wanted string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		s.logger.Warn("Conditional status update matched no rows",
			slog.String("job_id", jobID),
			slog.String("wanted_status", wanted),
		)
		return domain.ErrStaleTransition
	}

	return nil
}
