package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pixelmint/genstudio/internal/api/dto"
	"github.com/pixelmint/genstudio/internal/domain"
)

// TaskComplete handles POST /callback/task-complete
// The generator reports an async job finished. The conditional
// transition makes redelivered callbacks and cancel races no-ops.
func (h *CallbackHandler) TaskComplete(c *gin.Context) {
	var req dto.TaskCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	job, err := h.store.GetByID(c.Request.Context(), req.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}

		h.logger.Error("Failed to load job for callback", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to process callback",
		})
		return
	}

	if err := h.store.Complete(c.Request.Context(), req.JobID, req.Result); err != nil {
		if errors.Is(err, domain.ErrStaleTransition) {
			// Already completed, failed or cancelled; the row's
			// outcome stands and the callback is absorbed.
			c.JSON(http.StatusOK, gin.H{
				"status": "ignored",
			})
			return
		}

		h.logger.Error("Failed to complete job from callback",
			slog.String("job_id", req.JobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to process callback",
		})
		return
	}

	h.logger.Info("Job completed via callback",
		slog.String("job_id", req.JobID),
	)

	h.publishEvent(c, job, domain.JobStatusCompleted, req.Result, "")

	c.JSON(http.StatusOK, gin.H{
		"status": "completed",
	})
}

// TaskFailed handles POST /callback/task-failed
// Terminal failure plus refund; duplicates are absorbed.
func (h *CallbackHandler) TaskFailed(c *gin.Context) {
	var req dto.TaskFailedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if _, err := h.store.GetByID(c.Request.Context(), req.JobID); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}

		h.logger.Error("Failed to load job for callback", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to process callback",
		})
		return
	}

	job, err := h.compensate.FailAndRefund(c.Request.Context(), req.JobID, req.Error)
	if err != nil {
		if errors.Is(err, domain.ErrStaleTransition) {
			c.JSON(http.StatusOK, gin.H{
				"status": "ignored",
			})
			return
		}

		h.logger.Error("Failed to fail job from callback",
			slog.String("job_id", req.JobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to process callback",
		})
		return
	}

	h.logger.Info("Job failed via callback",
		slog.String("job_id", req.JobID),
		slog.String("reason", req.Error),
	)

	h.publishEvent(c, job, domain.JobStatusFailed, "", req.Error)

	c.JSON(http.StatusOK, gin.H{
		"status": "failed",
	})
}

func (h *CallbackHandler) publishEvent(c *gin.Context, job *domain.Job, status, result, errMsg string) {
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
