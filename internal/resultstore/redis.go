package resultstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/cuongbtq/predict-dispatch/internal/job"
)

// RedisStore keeps each result under <prefix>:result:<id> with a native TTL
// and announces completion on the <prefix>:done:<id> channel
type RedisStore struct {
	rdb    goredis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisStore creates a Redis backed store. A non-positive ttl uses DefaultTTL.
func NewRedisStore(rdb goredis.UniversalClient, prefix string, ttl time.Duration, logger *slog.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

func (s *RedisStore) namespaced(kind, id string) string {
	if s.prefix == "" {
		return kind + ":" + id
	}
	return s.prefix + ":" + kind + ":" + id
}

// ResultKey returns the key holding the result for id
func (s *RedisStore) ResultKey(id string) string {
	return s.namespaced("result", id)
}

// DoneChannel returns the pub/sub channel announcing the result for id
func (s *RedisStore) DoneChannel(id string) string {
	return s.namespaced("done", id)
}

// Put stores the outcome with SET NX EX and publishes a completion notice
func (s *RedisStore) Put(ctx context.Context, id string, outcome job.Outcome) error {
	data, err := outcome.Marshal()
	if err != nil {
		return err
	}

	stored, err := s.rdb.SetNX(ctx, s.ResultKey(id), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}
	if !stored {
		return job.ErrDuplicateResult
	}

	// Pollers still find the result if the notice is lost
	if err := s.rdb.Publish(ctx, s.DoneChannel(id), "1").Err(); err != nil {
		s.logger.Warn("Failed to publish result notification",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
	}

	return nil
}

// Get reads the outcome for id
func (s *RedisStore) Get(ctx context.Context, id string) (job.Outcome, bool, error) {
	data, err := s.rdb.Get(ctx, s.ResultKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return job.Outcome{}, false, nil
		}
		return job.Outcome{}, false, fmt.Errorf("failed to get result: %w", err)
	}

	outcome, err := job.UnmarshalOutcome(data)
	if err != nil {
		return job.Outcome{}, false, err
	}
	return outcome, true, nil
}

// Delete removes the result for id
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, s.ResultKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete result: %w", err)
	}
	return nil
}

// Watch subscribes to the completion channel for id
func (s *RedisStore) Watch(ctx context.Context, id string) (<-chan struct{}, func(), error) {
	sub := s.rdb.Subscribe(ctx, s.DoneChannel(id))

	// wait for the subscription confirmation so no notice is missed after this returns
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to result notifications: %w", err)
	}

	messages := sub.Channel()
	ready := make(chan struct{})

	go func() {
		select {
		case _, ok := <-messages:
			if ok {
				close(ready)
			}
		case <-ctx.Done():
		}
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			if err := sub.Close(); err != nil {
				s.logger.Debug("Failed to close result subscription",
					slog.String("job_id", id),
					slog.String("error", err.Error()),
				)
			}
		})
	}

	return ready, release, nil
}
