package domain

import "time"

// JobEvent is one push-notification payload describing a job-state
// transition. Events are ephemeral: a client that missed one re-polls
// the job row instead of expecting a replay.
type JobEvent struct {
	JobID      string    `json:"job_id"`
	UserID     string    `json:"user_id"`
	JobType    string    `json:"job_type"`
	Status     string    `json:"status"`
	Attempt    int       `json:"attempt,omitempty"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// JobEnvelope is the disposable queue message referencing a job row.
// It may be lost or duplicated by the broker; the job row is authoritative.
type JobEnvelope struct {
	JobID      string    `json:"job_id"`
	JobType    string    `json:"job_type"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
