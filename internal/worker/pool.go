package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/predict-dispatch/internal/job"
	"github.com/cuongbtq/predict-dispatch/internal/queue"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := range w.concurrency {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", w.concurrency),
	)
}

func (w *Worker) stopping(ctx context.Context) bool {
	select {
	case <-w.stopChan:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// workerLoop is the main processing loop for each worker goroutine.
// Shutdown is observed between jobs; a dequeue that already started runs
// to its timeout so a popped envelope is never dropped.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
		slog.Int("worker_num", workerNum),
	)

	for {
		if w.stopping(ctx) {
			w.logger.Info("Worker goroutine stopping",
				slog.String("worker_name", workerName),
			)
			return
		}

		env, err := w.queue.Dequeue(context.WithoutCancel(ctx), w.dequeueTimeout)
		switch {
		case err == nil:
			w.processJob(ctx, workerName, env)

		case errors.Is(err, queue.ErrDequeueTimeout):

		case errors.Is(err, job.ErrQueueClosed):
			w.logger.Info("Worker goroutine stopping - queue closed",
				slog.String("worker_name", workerName),
			)
			return

		case errors.Is(err, job.ErrMalformedEnvelope):
			w.rejectMalformed(ctx, workerName, err)

		default:
			w.logger.Error("Failed to dequeue job",
				slog.String("worker_name", workerName),
				slog.String("error", err.Error()),
			)
			w.pause(ctx, w.dequeueTimeout)
		}
	}
}

// rejectMalformed publishes a Failure for an envelope that was dequeued but
// could not be decoded. Without a readable id there is nothing to correlate.
func (w *Worker) rejectMalformed(ctx context.Context, workerName string, err error) {
	var malformed *job.MalformedEnvelopeError
	if !errors.As(err, &malformed) || malformed.ID == "" {
		w.logger.Error("Discarded malformed job envelope",
			slog.String("worker_name", workerName),
			slog.String("error", err.Error()),
		)
		return
	}

	w.logger.Warn("Job failed",
		slog.String("job_id", malformed.ID),
		slog.String("worker_name", workerName),
		slog.String("reason", job.ErrMalformedEnvelope.Error()),
		slog.String("error", err.Error()),
	)
	w.processed.Add(1)
	w.failed.Add(1)
	w.publish(ctx, malformed.ID, job.Failure(job.ErrMalformedEnvelope.Error()))
}

// pause waits for d unless the worker is stopping first
func (w *Worker) pause(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-w.stopChan:
	case <-ctx.Done():
	}
}
