package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/predict-dispatch/internal/api/dto"
	"github.com/cuongbtq/predict-dispatch/internal/job"
)

// a zero wait still performs one lookup
const minResultWait = time.Millisecond

// statusClientClosedRequest is recorded when the client went away before a response
const statusClientClosedRequest = 499

// Predict handles POST /api/v1/predict
// Submits the features and waits for the prediction
func (h *PredictHandler) Predict(c *gin.Context) {
	var req dto.PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	jobID, outcome, err := h.dispatcher.Dispatch(c.Request.Context(), job.Payload(req.Features))
	c.Set(JobIDKey, jobID)
	if err != nil {
		h.writeDispatchError(c, jobID, err)
		return
	}

	if !outcome.IsSuccess() {
		c.JSON(http.StatusUnprocessableEntity, dto.PredictResponse{
			Success: false,
			JobID:   jobID,
			Reason:  outcome.Reason,
		})
		return
	}

	c.JSON(http.StatusOK, dto.PredictResponse{
		Success:    true,
		JobID:      jobID,
		Prediction: outcome.Prediction,
		Score:      outcome.Score,
	})
}

// SubmitJob handles POST /api/v1/jobs
// Enqueues the features without waiting for the result
func (h *PredictHandler) SubmitJob(c *gin.Context) {
	var req dto.PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	jobID, err := h.dispatcher.Submit(c.Request.Context(), job.Payload(req.Features))
	if err != nil {
		h.writeDispatchError(c, "", err)
		return
	}

	c.Set(JobIDKey, jobID)
	h.logger.Info("Job submitted", slog.String("job_id", jobID))
	c.JSON(http.StatusAccepted, dto.SubmitJobResponse{JobID: jobID})
}

// GetJobResult handles GET /api/v1/jobs/:job_id/result
// Waits up to ?wait= for the outcome; the result is consumed once returned
func (h *PredictHandler) GetJobResult(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "job_id must be a valid UUID"})
		return
	}

	c.Set(JobIDKey, jobID)

	var req dto.JobResultRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid query parameters"})
		return
	}

	wait := minResultWait
	if req.Wait != "" {
		d, err := time.ParseDuration(req.Wait)
		if err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "wait must be a non-negative duration such as 500ms or 5s"})
			return
		}
		wait = max(d, minResultWait)
	}
	wait = min(wait, h.dispatcher.Deadline())

	outcome, err := h.dispatcher.AwaitResult(c.Request.Context(), jobID, wait)
	if errors.Is(err, job.ErrTimeout) {
		c.JSON(http.StatusAccepted, dto.JobResultResponse{JobID: jobID, Status: "pending"})
		return
	}
	if err != nil {
		h.writeDispatchError(c, jobID, err)
		return
	}

	c.JSON(http.StatusOK, dto.JobResultResponse{
		JobID:      jobID,
		Status:     outcome.Status,
		Prediction: outcome.Prediction,
		Score:      outcome.Score,
		Reason:     outcome.Reason,
	})
}

func (h *PredictHandler) writeDispatchError(c *gin.Context, jobID string, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		h.logger.Info("Client disconnected before job result",
			slog.String("job_id", jobID),
		)
		c.Status(statusClientClosedRequest)

	case errors.Is(err, job.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})

	case errors.Is(err, job.ErrSubmissionFailed):
		h.logger.Error("Failed to submit job", slog.String("error", err.Error()))
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "Job queue unavailable, retry later"})

	case errors.Is(err, job.ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, dto.ErrorResponse{
			JobID: jobID,
			Error: "Timed out waiting for prediction",
		})

	default:
		h.logger.Error("Failed to get job result",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			JobID: jobID,
			Error: "Failed to get job result",
		})
	}
}
