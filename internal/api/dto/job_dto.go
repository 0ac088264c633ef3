package dto

import (
	"time"

	"github.com/pixelmint/genstudio/internal/domain"
)

type SubmitJobRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	JobType   string `json:"job_type" binding:"required"`
	BatchSize int    `json:"batch_size" binding:"required"`
	Payload   string `json:"payload" binding:"required"`
}

type ListJobsRequest struct {
	UserID   string `form:"user_id"`
	JobType  string `form:"job_type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID           string `json:"job_id"`
	UserID          string `json:"user_id"`
	JobType         string `json:"job_type"`
	BatchSize       int    `json:"batch_size"`
	Payload         string `json:"payload"`
	Status          string `json:"status"`
	CreditsReserved int64  `json:"credits_reserved"`
	AttemptCount    int    `json:"attempt_count"`
	Refunded        bool   `json:"refunded"`
	Result          string `json:"result,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
	CompletedAt     string `json:"completed_at,omitempty"`
}

// FromJob converts a stored job into its API shape
func FromJob(job *domain.Job) JobDTO {
	d := JobDTO{
		JobID:           job.JobID,
		UserID:          job.UserID,
		JobType:         job.JobType,
		BatchSize:       job.BatchSize,
		Payload:         job.Payload,
		Status:          job.Status,
		CreditsReserved: job.CreditsReserved,
		AttemptCount:    job.AttemptCount,
		Refunded:        job.Refunded,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       job.UpdatedAt.Format(time.RFC3339),
	}
	if job.Result.Valid {
		d.Result = job.Result.String
	}
	if job.ErrorMessage.Valid {
		d.ErrorMessage = job.ErrorMessage.String
	}
	if job.CompletedAt.Valid {
		d.CompletedAt = job.CompletedAt.Time.Format(time.RFC3339)
	}
	return d
}
