// Package dispatcher submits jobs to the queue and correlates their results
// back to the caller.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/predict-dispatch/internal/job"
	"github.com/cuongbtq/predict-dispatch/internal/queue"
	"github.com/cuongbtq/predict-dispatch/internal/resultstore"
)

const (
	DefaultPollInterval   = 100 * time.Millisecond
	DefaultDeadline       = 30 * time.Second
	DefaultEnqueueTimeout = 5 * time.Second
)

// Config configures a Dispatcher
type Config struct {
	Queue  queue.Queue
	Store  resultstore.Store
	Logger *slog.Logger

	PollInterval     time.Duration
	Deadline         time.Duration
	EnqueueTimeout   time.Duration
	Schema           *job.Schema
	UseNotifications bool
}

// Dispatcher is safe for concurrent use by any number of callers
type Dispatcher struct {
	queue    queue.Queue
	store    resultstore.Store
	notifier resultstore.Notifier
	logger   *slog.Logger

	pollInterval   time.Duration
	deadline       time.Duration
	enqueueTimeout time.Duration
	schema         *job.Schema
}

// New creates a dispatcher. Zero durations fall back to the package defaults.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("dispatcher requires a queue")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("dispatcher requires a result store")
	}
	if cfg.PollInterval < 0 || cfg.Deadline < 0 || cfg.EnqueueTimeout < 0 {
		return nil, fmt.Errorf("dispatcher durations must not be negative")
	}
	if err := cfg.Schema.Check(); err != nil {
		return nil, fmt.Errorf("invalid payload schema: %w", err)
	}

	d := &Dispatcher{
		queue:          cfg.Queue,
		store:          cfg.Store,
		logger:         cfg.Logger,
		pollInterval:   cfg.PollInterval,
		deadline:       cfg.Deadline,
		enqueueTimeout: cfg.EnqueueTimeout,
		schema:         cfg.Schema,
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.pollInterval == 0 {
		d.pollInterval = DefaultPollInterval
	}
	if d.deadline == 0 {
		d.deadline = DefaultDeadline
	}
	if d.enqueueTimeout == 0 {
		d.enqueueTimeout = DefaultEnqueueTimeout
	}
	if notifier, ok := cfg.Store.(resultstore.Notifier); ok && cfg.UseNotifications {
		d.notifier = notifier
	}

	return d, nil
}

// Deadline returns the default wait used by Dispatch
func (d *Dispatcher) Deadline() time.Duration {
	return d.deadline
}

// Submit validates the payload and enqueues it under a fresh job id.
// It does not wait for the result.
func (d *Dispatcher) Submit(ctx context.Context, payload job.Payload) (string, error) {
	if err := d.schema.Validate(payload); err != nil {
		return "", err
	}

	env := job.NewEnvelope(uuid.NewString(), payload)

	enqueueCtx, cancel := context.WithTimeout(ctx, d.enqueueTimeout)
	defer cancel()

	if err := d.queue.Enqueue(enqueueCtx, env); err != nil {
		d.logger.Error("Failed to enqueue job",
			slog.String("job_id", env.ID),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("%w: %w", job.ErrSubmissionFailed, err)
	}

	d.logger.Debug("Job enqueued",
		slog.String("job_id", env.ID),
	)

	return env.ID, nil
}

// AwaitResult waits up to deadline for the outcome of id. The first outcome
// observed is removed from the store before it is returned.
//
// It returns job.ErrTimeout when the deadline passes and ctx.Err() when the
// caller cancels first. Store errors are returned as they occur.
func (d *Dispatcher) AwaitResult(ctx context.Context, id string, deadline time.Duration) (job.Outcome, error) {
	if deadline <= 0 {
		return job.Outcome{}, fmt.Errorf("await deadline must be positive, got %s", deadline)
	}

	waitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var ready <-chan struct{}
	if d.notifier != nil {
		watch, release, err := d.notifier.Watch(waitCtx, id)
		if err != nil {
			d.logger.Warn("Failed to watch job result, falling back to polling",
				slog.String("job_id", id),
				slog.String("error", err.Error()),
			)
		} else {
			defer release()
			ready = watch
		}
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		outcome, found, err := d.store.Get(waitCtx, id)
		if err != nil {
			if waitCtx.Err() != nil {
				return job.Outcome{}, d.waitError(ctx, waitCtx, id)
			}
			return job.Outcome{}, fmt.Errorf("failed to read job result: %w", err)
		}
		if found {
			d.consume(ctx, id)
			return outcome, nil
		}

		select {
		case <-waitCtx.Done():
			return job.Outcome{}, d.waitError(ctx, waitCtx, id)
		case <-ready:
			// fired once; a nil channel blocks forever so later rounds only poll
			ready = nil
		case <-ticker.C:
		}
	}
}

// Dispatch submits the payload and waits for its outcome using the configured deadline
func (d *Dispatcher) Dispatch(ctx context.Context, payload job.Payload) (string, job.Outcome, error) {
	id, err := d.Submit(ctx, payload)
	if err != nil {
		return "", job.Outcome{}, err
	}

	outcome, err := d.AwaitResult(ctx, id, d.deadline)
	return id, outcome, err
}

func (d *Dispatcher) consume(ctx context.Context, id string) {
	// the caller already has the outcome, so a late cancellation must not skip the delete
	if err := d.store.Delete(context.WithoutCancel(ctx), id); err != nil {
		d.logger.Warn("Failed to delete consumed job result",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (d *Dispatcher) waitError(ctx, waitCtx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		d.logger.Warn("Timed out waiting for job result",
			slog.String("job_id", id),
		)
		return job.ErrTimeout
	}
	return waitCtx.Err()
}
