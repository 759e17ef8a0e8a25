package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/cuongbtq/predict-dispatch/internal/job"
)

// boundedPush pushes only while the list is shorter than the capacity
var boundedPush = goredis.NewScript(`
if redis.call('LLEN', KEYS[1]) >= tonumber(ARGV[2]) then
	return 0
end
redis.call('LPUSH', KEYS[1], ARGV[1])
return 1
`)

// RedisQueueConfig holds Redis queue configuration
type RedisQueueConfig struct {
	KeyPrefix string
	Name      string
	Options   Options
	// FullRetryInterval is how often a blocked enqueue re-checks capacity
	FullRetryInterval time.Duration
}

// RedisQueue is a Redis list used as a queue: producers LPUSH, workers BRPOP
type RedisQueue struct {
	rdb           goredis.UniversalClient
	key           string
	opts          Options
	retryInterval time.Duration
	logger        *slog.Logger
}

// NewRedisQueue creates a queue stored under <prefix>:queue:<name>
func NewRedisQueue(rdb goredis.UniversalClient, cfg RedisQueueConfig, logger *slog.Logger) *RedisQueue {
	retry := cfg.FullRetryInterval
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}

	key := "queue:" + cfg.Name
	if cfg.KeyPrefix != "" {
		key = cfg.KeyPrefix + ":" + key
	}

	return &RedisQueue{
		rdb:           rdb,
		key:           key,
		opts:          cfg.Options,
		retryInterval: retry,
		logger:        logger,
	}
}

// Key returns the Redis list key backing the queue
func (q *RedisQueue) Key() string {
	return q.key
}

// Enqueue pushes the envelope onto the list
func (q *RedisQueue) Enqueue(ctx context.Context, env *job.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}

	if !q.opts.bounded() {
		if err := q.rdb.LPush(ctx, q.key, data).Err(); err != nil {
			return fmt.Errorf("failed to push job to redis: %w", err)
		}
		return nil
	}

	ticker := time.NewTicker(q.retryInterval)
	defer ticker.Stop()

	for {
		pushed, err := boundedPush.Run(ctx, q.rdb, []string{q.key}, data, q.opts.Capacity).Int()
		if err != nil {
			if ctx.Err() != nil {
				return fullError(ctx)
			}
			return fmt.Errorf("failed to push job to redis: %w", err)
		}
		if pushed == 1 {
			return nil
		}

		if !q.opts.blocks() {
			return job.ErrQueueFull
		}

		q.logger.Debug("Queue full, waiting for capacity",
			slog.String("queue", q.key),
			slog.String("job_id", env.ID),
		)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fullError(ctx)
		}
	}
}

// Dequeue pops the oldest envelope, blocking up to timeout.
// Redis counts blocking timeouts in whole seconds, so shorter timeouts wait one second.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*job.Envelope, error) {
	if timeout < time.Second {
		timeout = time.Second
	}

	res, err := q.rdb.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, ErrDequeueTimeout
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to pop job from redis: %w", err)
	}

	// BRPOP replies with [key, value]
	return job.UnmarshalEnvelope([]byte(res[1]))
}

// Len returns the list length
func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return int(n), nil
}

// Close is a no-op; the Redis client is owned by the caller
func (q *RedisQueue) Close() error {
	return nil
}
