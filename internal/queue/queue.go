// Package queue implements the FIFO hand-off of job envelopes from
// dispatchers to workers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/predict-dispatch/internal/job"
)

// ErrDequeueTimeout is returned by Dequeue when no envelope arrived in time
var ErrDequeueTimeout = errors.New("dequeue timed out")

// Overflow policies for bounded queues
const (
	OverflowBlock  = "block"
	OverflowReject = "reject"
)

// Queue is a FIFO work hand-off with competing consumers
type Queue interface {
	// Enqueue appends the envelope to the tail. A bounded queue that is full
	// either fails with job.ErrQueueFull or waits for room until ctx ends,
	// depending on its overflow policy.
	Enqueue(ctx context.Context, env *job.Envelope) error

	// Dequeue removes and returns the oldest pending envelope, waiting up to
	// timeout. It returns ErrDequeueTimeout when nothing arrived.
	Dequeue(ctx context.Context, timeout time.Duration) (*job.Envelope, error)

	// Len returns the number of pending envelopes
	Len(ctx context.Context) (int, error)

	Close() error
}

// Options configures queue capacity and back-pressure
type Options struct {
	Capacity int    // 0 means unbounded
	Overflow string // OverflowBlock or OverflowReject
}

func (o Options) bounded() bool {
	return o.Capacity > 0
}

func (o Options) blocks() bool {
	return o.Overflow != OverflowReject
}

// Validate checks the options
func (o Options) Validate() error {
	if o.Capacity < 0 {
		return fmt.Errorf("queue capacity must not be negative")
	}
	switch o.Overflow {
	case "", OverflowBlock, OverflowReject:
		return nil
	default:
		return fmt.Errorf("unknown queue overflow policy %q", o.Overflow)
	}
}

// fullError maps the end of a blocked enqueue to the error the caller sees.
// A deadline means the queue stayed full for the whole submission window.
func fullError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: no capacity before submission deadline", job.ErrQueueFull)
	}
	return ctx.Err()
}
