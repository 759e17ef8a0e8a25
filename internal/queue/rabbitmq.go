package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/predict-dispatch/internal/job"
	"github.com/cuongbtq/predict-dispatch/shared/rabbitmq"
)

// Broker is the part of the RabbitMQ client the queue needs
type Broker interface {
	Publish(ctx context.Context, body []byte, contentType string) error
	Get() (amqp.Delivery, bool, error)
	QueueLength() (int, error)
}

// DefaultRabbitPollInterval is how long Dequeue waits between fetches on an empty queue
const DefaultRabbitPollInterval = 100 * time.Millisecond

// RabbitQueue hands envelopes over a RabbitMQ queue.
// Dequeue fetches one message at a time, so nothing sits in a consumer
// buffer outside the queue's length limit. Messages are acknowledged as soon
// as they are dequeued; a worker that dies mid-job loses that job instead of
// processing it twice.
type RabbitQueue struct {
	broker        Broker
	opts          Options
	retryInterval time.Duration
	pollInterval  time.Duration
	logger        *slog.Logger
}

// NewRabbitQueue creates a queue on top of an already declared RabbitMQ queue.
// Capacity must match the queue's x-max-length for reject/block to apply.
func NewRabbitQueue(broker Broker, opts Options, pollInterval time.Duration, logger *slog.Logger) *RabbitQueue {
	if pollInterval <= 0 {
		pollInterval = DefaultRabbitPollInterval
	}

	return &RabbitQueue{
		broker:        broker,
		opts:          opts,
		retryInterval: 100 * time.Millisecond,
		pollInterval:  pollInterval,
		logger:        logger,
	}
}

// Enqueue publishes the envelope
func (q *RabbitQueue) Enqueue(ctx context.Context, env *job.Envelope) error {
	body, err := env.Marshal()
	if err != nil {
		return err
	}

	for {
		err := q.broker.Publish(ctx, body, "application/json")
		if err == nil {
			return nil
		}

		if !errors.Is(err, rabbitmq.ErrPublishNacked) {
			if ctx.Err() != nil {
				return fullError(ctx)
			}
			return fmt.Errorf("failed to publish job: %w", err)
		}

		if !q.opts.blocks() {
			return job.ErrQueueFull
		}

		q.logger.Debug("Queue full, waiting for capacity",
			slog.String("job_id", env.ID),
		)

		select {
		case <-time.After(q.retryInterval):
		case <-ctx.Done():
			return fullError(ctx)
		}
	}
}

// Dequeue fetches the next message, polling an empty queue until timeout,
// and acknowledges it before decoding
func (q *RabbitQueue) Dequeue(ctx context.Context, timeout time.Duration) (*job.Envelope, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		delivery, ok, err := q.broker.Get()
		if err != nil {
			return nil, fmt.Errorf("failed to get job from rabbitmq: %w", err)
		}
		if ok {
			return q.decode(delivery)
		}

		wait := q.pollInterval
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, ErrDequeueTimeout
			}
			wait = min(wait, remaining)
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

func (q *RabbitQueue) decode(delivery amqp.Delivery) (*job.Envelope, error) {
	if err := delivery.Ack(false); err != nil {
		return nil, fmt.Errorf("failed to ack delivery: %w", err)
	}

	env, err := job.UnmarshalEnvelope(delivery.Body)
	if err != nil {
		q.logger.Error("Dropping malformed delivery",
			slog.Uint64("delivery_tag", delivery.DeliveryTag),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return env, nil
}

// Len returns the number of ready messages
func (q *RabbitQueue) Len(_ context.Context) (int, error) {
	return q.broker.QueueLength()
}

// Close is a no-op; the RabbitMQ client is owned by the caller
func (q *RabbitQueue) Close() error {
	return nil
}
