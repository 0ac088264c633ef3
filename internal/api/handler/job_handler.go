package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pixelmint/genstudio/internal/api/dto"
	"github.com/pixelmint/genstudio/internal/domain"
	"github.com/pixelmint/genstudio/internal/jobstore"
)

// SubmitJob handles POST /api/v1/jobs
// Charges the user and creates a new generation job
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	job, err := h.dispatcher.Submit(c.Request.Context(), req.UserID, req.JobType, req.BatchSize, req.Payload)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidJobType), errors.Is(err, domain.ErrInvalidBatchSize):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})

		case errors.Is(err, domain.ErrInsufficientCredits):
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error": "Insufficient credits",
			})

		case errors.Is(err, domain.ErrQueueUnavailable):
			// The job row and the charge are committed; the
			// reconciler enqueues it once the broker is back.
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":  "Queue unavailable, job will be scheduled shortly",
				"job_id": job.JobID,
			})

		default:
			h.logger.Error("Failed to submit job", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to submit job",
			})
		}
		return
	}

	c.JSON(http.StatusAccepted, dto.FromJob(job))
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves detailed information about a specific job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.store.GetByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}

		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs with optional filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := jobstore.JobFilter{
		UserID:   req.UserID,
		JobType:  req.JobType,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	jobs, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = dto.FromJob(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&jobstore.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.JobID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Cancels a pending or processing job and refunds its credits
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.compensate.CancelAndRefund(c.Request.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})

		case errors.Is(err, domain.ErrNotCancellable):
			c.JSON(http.StatusConflict, gin.H{
				"error": "Job already finished",
			})

		default:
			h.logger.Error("Failed to cancel job",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to cancel job",
			})
		}
		return
	}

	h.logger.Info("Job cancelled",
		slog.String("job_id", job.JobID),
		slog.String("user_id", job.UserID),
	)

	h.publishEvent(c, job, domain.JobStatusCancelled, "", "cancelled by user")

	c.JSON(http.StatusOK, dto.FromJob(job))
}

// publishEvent emits a job-state notification, best effort
func (h *JobHandler) publishEvent(c *gin.Context, job *domain.Job, status, result, errMsg string) {
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

	if err := h.events.PublishEvent(c.Request.Context(), event); err != nil {
		h.logger.Warn("Failed to publish job event",
			slog.String("job_id", job.JobID),
			slog.String("status", status),
			slog.String("error", err.Error()),
		)
	}
}
