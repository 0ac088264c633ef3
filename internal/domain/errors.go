package domain

import "errors"

var (
	// ErrInsufficientCredits is returned when a debit would take the balance negative
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrInvalidJobType is returned for a generation type outside the supported set
	ErrInvalidJobType = errors.New("invalid job type")

	// ErrInvalidBatchSize is returned when batch_size is out of bounds
	ErrInvalidBatchSize = errors.New("invalid batch size")

	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrAlreadyClaimed is returned when claiming a job that is not PENDING.
	// Duplicate queue deliveries surface as this error and are absorbed.
	ErrAlreadyClaimed = errors.New("job already claimed or not in PENDING status")

	// ErrNotCancellable is returned when cancelling a job already in a terminal state
	ErrNotCancellable = errors.New("job is not in a cancellable state")

	// ErrAlreadyRefunded is returned when a compensating refund was issued before
	ErrAlreadyRefunded = errors.New("job already refunded")

	// ErrQueueUnavailable is returned when the job row committed but the
	// enqueue failed; the reconciler re-enqueues the job later.
	ErrQueueUnavailable = errors.New("queue unavailable, job left pending")

	// ErrStaleTransition is returned when a conditional status update
	// matched zero rows because another owner moved the job first.
	ErrStaleTransition = errors.New("job status changed by another owner")
)

// RetryableError wraps transient generator failures that should trigger
// a delayed retry rather than a terminal FAILED transition.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is (or wraps) a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
