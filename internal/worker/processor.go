package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/predict-dispatch/internal/inference"
	"github.com/cuongbtq/predict-dispatch/internal/job"
)

type processResult struct {
	prediction inference.Prediction
	err        error
}

// processJob runs the processor under the job timeout and publishes exactly
// one outcome. Shutdown does not cancel a job that has started.
func (w *Worker) processJob(ctx context.Context, workerName string, env *job.Envelope) {
	w.logger.Info("Processing job",
		slog.String("job_id", env.ID),
		slog.String("worker_name", workerName),
	)

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.jobTimeout)
	defer cancel()

	outcome := w.execute(jobCtx, env)

	w.processed.Add(1)
	if outcome.IsSuccess() {
		w.succeeded.Add(1)
		w.logger.Info("Job completed successfully",
			slog.String("job_id", env.ID),
			slog.String("prediction", outcome.Prediction),
			slog.Float64("score", outcome.Score),
		)
	} else {
		w.failed.Add(1)
		w.logger.Warn("Job failed",
			slog.String("job_id", env.ID),
			slog.String("reason", outcome.Reason),
		)
	}

	w.publish(ctx, env.ID, outcome)
}

// execute converts every way a processor can end into an outcome. A
// processor that ignores its context is abandoned at the job timeout.
func (w *Worker) execute(jobCtx context.Context, env *job.Envelope) job.Outcome {
	done := make(chan processResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- processResult{err: fmt.Errorf("processor panic: %v", r)}
			}
		}()

		prediction, err := w.processor.Process(jobCtx, env.Payload)
		done <- processResult{prediction: prediction, err: err}
	}()

	var res processResult
	select {
	case res = <-done:
	case <-jobCtx.Done():
		res = processResult{err: jobCtx.Err()}
	}

	if res.err == nil {
		return job.Success(res.prediction.Label, res.prediction.Score)
	}

	var procErr *job.ProcessingError
	switch {
	case errors.As(res.err, &procErr):
		return job.Failure(procErr.Reason)
	case errors.Is(res.err, context.DeadlineExceeded) && jobCtx.Err() != nil:
		return job.Failure(fmt.Sprintf("job exceeded timeout of %s", w.jobTimeout))
	default:
		w.logger.Error("Job execution failed",
			slog.String("job_id", env.ID),
			slog.String("error", res.err.Error()),
		)
		return job.Failure(res.err.Error())
	}
}

func (w *Worker) publish(ctx context.Context, id string, outcome job.Outcome) {
	putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err := w.store.Put(putCtx, id, outcome)
	if err == nil {
		return
	}

	w.publishErrors.Add(1)
	if errors.Is(err, job.ErrDuplicateResult) {
		w.logger.Error("Result already published for job, dropping duplicate",
			slog.String("job_id", id),
		)
		return
	}
	w.logger.Error("Failed to publish job result",
		slog.String("job_id", id),
		slog.String("error", err.Error()),
	)
}
