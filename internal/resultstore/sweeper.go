package resultstore

import (
	"context"
	"log/slog"
	"time"
)

// RunSweeper deletes expired results every interval until ctx is done
func RunSweeper(ctx context.Context, expirer Expirer, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("Result sweeper started",
		slog.Duration("interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Result sweeper stopped")
			return

		case <-ticker.C:
			removed, err := expirer.DeleteExpired(ctx)
			if err != nil {
				logger.Warn("Failed to sweep expired results",
					slog.String("error", err.Error()),
				)
				continue
			}
			if removed > 0 {
				logger.Info("Swept expired results",
					slog.Int("removed", removed),
				)
			}
		}
	}
}
