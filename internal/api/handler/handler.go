package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/predict-dispatch/internal/job"
)

// JobIDKey is the gin context key under which handlers record the job id for request logging
const JobIDKey = "job_id"

// Dispatcher is the part of the dispatcher used by HTTP handlers
type Dispatcher interface {
	Submit(ctx context.Context, payload job.Payload) (string, error)
	AwaitResult(ctx context.Context, id string, deadline time.Duration) (job.Outcome, error)
	Dispatch(ctx context.Context, payload job.Payload) (string, job.Outcome, error)
	Deadline() time.Duration
}

// HealthCheck probes one backend
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Dispatcher   Dispatcher
	HealthChecks []HealthCheck
	ServiceName  string
}

// PredictHandler serves prediction and job result requests
type PredictHandler struct {
	logger     *slog.Logger
	dispatcher Dispatcher
}

// NewPredictHandler creates a new PredictHandler instance
func NewPredictHandler(deps *Dependencies) *PredictHandler {
	return &PredictHandler{
		logger:     deps.Logger,
		dispatcher: deps.Dispatcher,
	}
}
