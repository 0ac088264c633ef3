package domain

import (
	"database/sql"
	"time"
)

// Job status constants
const (
	JobStatusPending    = "PENDING"
	JobStatusProcessing = "PROCESSING"
	JobStatusCompleted  = "COMPLETED"
	JobStatusFailed     = "FAILED"
	JobStatusCancelled  = "CANCELLED"
)

// Job type constants. Each type has its own queue and base cost.
const (
	JobTypeTextToImage  = "text_to_image"
	JobTypeImageToImage = "image_to_image"
	JobTypeUpscale      = "upscale"
)

// JobTypes lists every supported generation type.
var JobTypes = []string{JobTypeTextToImage, JobTypeImageToImage, JobTypeUpscale}

// ValidJobType reports whether t is one of the supported generation types.
func ValidJobType(t string) bool {
	for _, jt := range JobTypes {
		if jt == t {
			return true
		}
	}
	return false
}

// TerminalStatus reports whether s is a state no transition leaves.
func TerminalStatus(s string) bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job is the durable row for one generation request. The row is the
// source of truth for the job's outcome; queue envelopes only reference it.
type Job struct {
	JobID            string         `db:"job_id"`
	UserID           string         `db:"user_id"`
	JobType          string         `db:"job_type"`
	BatchSize        int            `db:"batch_size"`
	Payload          string         `db:"payload"` // opaque generation parameters, JSON
	Status           string         `db:"status"`
	CreditsReserved  int64          `db:"credits_reserved"`
	AttemptCount     int            `db:"attempt_count"`
	Refunded         bool           `db:"refunded"`
	Enqueued         bool           `db:"enqueued"`
	AwaitingCallback bool           `db:"awaiting_callback"`
	WorkerID         sql.NullString `db:"worker_id"`
	Result           sql.NullString `db:"result"` // artifact descriptor, JSON
	ErrorMessage     sql.NullString `db:"error_message"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
	StartedAt        sql.NullTime   `db:"started_at"`
	LastHeartbeatAt  sql.NullTime   `db:"last_heartbeat_at"`
	CompletedAt      sql.NullTime   `db:"completed_at"`
}
