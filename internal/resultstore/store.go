// Package resultstore publishes job outcomes keyed by job id so that the
// dispatcher that submitted the job can pick them up.
package resultstore

import (
	"context"
	"time"

	"github.com/cuongbtq/predict-dispatch/internal/job"
)

// DefaultTTL bounds how long an unread result is kept
const DefaultTTL = 10 * time.Minute

// Store maps job ids to outcomes
type Store interface {
	// Put publishes the outcome for id. Publishing twice for the same id
	// fails with job.ErrDuplicateResult.
	Put(ctx context.Context, id string, outcome job.Outcome) error

	// Get returns the outcome for id and whether it exists. It never blocks
	// waiting for the result.
	Get(ctx context.Context, id string) (job.Outcome, bool, error)

	Delete(ctx context.Context, id string) error
}

// Notifier is implemented by stores that can push completion to waiters
type Notifier interface {
	// Watch returns a channel that is closed once a result for id has been
	// published, and a function releasing the watch. Results published before
	// the watch started are not signalled; callers check Get after watching.
	Watch(ctx context.Context, id string) (<-chan struct{}, func(), error)
}

// Expirer is implemented by stores that need an external sweep to drop
// results past their time-to-live
type Expirer interface {
	DeleteExpired(ctx context.Context) (int, error)
}
