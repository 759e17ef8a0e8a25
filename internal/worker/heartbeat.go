package worker

import (
	"context"
	"log/slog"
	"time"
)

// RunHeartbeat logs the worker counters every interval until ctx is done.
// check, when set, probes the backends and a failure is logged as a warning.
func (w *Worker) RunHeartbeat(ctx context.Context, interval time.Duration, check func(context.Context) error) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			stats := w.Stats()
			w.logger.Info("Worker heartbeat",
				slog.String("worker_id", w.workerID),
				slog.Uint64("processed", stats.Processed),
				slog.Uint64("succeeded", stats.Succeeded),
				slog.Uint64("failed", stats.Failed),
				slog.Uint64("publish_errors", stats.PublishErrors),
			)

			if check == nil {
				continue
			}
			if err := check(ctx); err != nil {
				w.logger.Warn("Worker backend check failed",
					slog.String("worker_id", w.workerID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
