package queue

import (
	"context"
	"sync"
	"time"

	"github.com/cuongbtq/predict-dispatch/internal/job"
)

// MemoryQueue is an in-process queue shared by dispatchers and embedded workers
type MemoryQueue struct {
	opts Options

	mu      sync.Mutex
	items   []*job.Envelope
	closed  bool
	changed chan struct{} // closed and replaced on every push, pop and close
}

// NewMemoryQueue creates an in-process queue
func NewMemoryQueue(opts Options) *MemoryQueue {
	return &MemoryQueue{
		opts:    opts,
		changed: make(chan struct{}),
	}
}

// broadcast wakes every waiter; the caller holds mu
func (q *MemoryQueue) broadcast() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Enqueue appends the envelope to the tail of the queue
func (q *MemoryQueue) Enqueue(ctx context.Context, env *job.Envelope) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return job.ErrQueueClosed
		}

		if !q.opts.bounded() || len(q.items) < q.opts.Capacity {
			q.items = append(q.items, env)
			q.broadcast()
			q.mu.Unlock()
			return nil
		}

		if !q.opts.blocks() {
			q.mu.Unlock()
			return job.ErrQueueFull
		}

		wait := q.changed
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return fullError(ctx)
		}
	}
}

// Dequeue removes the oldest envelope, waiting up to timeout for one to arrive.
// A non-positive timeout waits until ctx ends.
func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*job.Envelope, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			env := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.broadcast()
			q.mu.Unlock()
			return env, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, job.ErrQueueClosed
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-wait:
		case <-expired:
			return nil, ErrDequeueTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of pending envelopes
func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

// Close rejects further enqueues. Pending envelopes can still be dequeued.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		q.broadcast()
	}
	return nil
}
