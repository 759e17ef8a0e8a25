package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/predict-dispatch/internal/inference"
	"github.com/cuongbtq/predict-dispatch/internal/job"
	"github.com/cuongbtq/predict-dispatch/internal/queue"
	"github.com/cuongbtq/predict-dispatch/internal/resultstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	queue  *queue.MemoryQueue
	store  *resultstore.MemoryStore
	worker *Worker
	done   chan error
}

func startWorker(t *testing.T, processor inference.Processor, mutate func(*Config)) *harness {
	t.Helper()

	h := &harness{
		queue: queue.NewMemoryQueue(queue.Options{}),
		store: resultstore.NewMemoryStore(time.Minute),
		done:  make(chan error, 1),
	}

	cfg := &Config{
		Logger:         testLogger(),
		Queue:          h.queue,
		Store:          h.store,
		Processor:      processor,
		WorkerID:       "test-worker",
		Concurrency:    1,
		DequeueTimeout: 20 * time.Millisecond,
		JobTimeout:     time.Second,
	}
	if mutate != nil {
		mutate(cfg)
	}

	w, err := NewWorker(cfg)
	require.NoError(t, err)
	h.worker = w

	go func() { h.done <- w.Start(context.Background()) }()
	t.Cleanup(w.Stop)

	return h
}

func (h *harness) submit(t *testing.T, id string, payload job.Payload) {
	t.Helper()
	require.NoError(t, h.queue.Enqueue(context.Background(), job.NewEnvelope(id, payload)))
}

func (h *harness) await(t *testing.T, id string) job.Outcome {
	t.Helper()

	var outcome job.Outcome
	require.Eventually(t, func() bool {
		o, ok, _ := h.store.Get(context.Background(), id)
		outcome = o
		return ok
	}, 3*time.Second, 5*time.Millisecond, "no outcome published for %s", id)
	return outcome
}

func echoProcessor() inference.Processor {
	return inference.ProcessorFunc(func(_ context.Context, payload job.Payload) (inference.Prediction, error) {
		return inference.Prediction{Label: fmt.Sprint(payload["label"]), Score: 0.87}, nil
	})
}

func TestNewWorker(t *testing.T) {
	q := queue.NewMemoryQueue(queue.Options{})
	s := resultstore.NewMemoryStore(time.Minute)

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "missing queue", cfg: Config{Store: s, Processor: echoProcessor()}, wantErr: "requires a queue"},
		{name: "missing store", cfg: Config{Queue: q, Processor: echoProcessor()}, wantErr: "requires a result store"},
		{name: "missing processor", cfg: Config{Queue: q, Store: s}, wantErr: "requires a processor"},
		{name: "negative concurrency", cfg: Config{Queue: q, Store: s, Processor: echoProcessor(), Concurrency: -1}, wantErr: "must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWorker(&tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("defaults", func(t *testing.T) {
		w, err := NewWorker(&Config{Queue: q, Store: s, Processor: echoProcessor()})
		require.NoError(t, err)
		assert.Equal(t, DefaultConcurrency, w.concurrency)
		assert.Equal(t, DefaultDequeueTimeout, w.dequeueTimeout)
		assert.Equal(t, DefaultJobTimeout, w.jobTimeout)
		assert.Contains(t, w.ID(), "worker-")
	})
}

func TestWorker_PublishesSuccess(t *testing.T) {
	h := startWorker(t, echoProcessor(), nil)

	h.submit(t, "job-1", job.Payload{"label": "positive"})

	assert.Equal(t, job.Success("positive", 0.87), h.await(t, "job-1"))
	assert.Eventually(t, func() bool {
		return h.worker.Stats() == Stats{Processed: 1, Succeeded: 1}
	}, time.Second, 5*time.Millisecond)
}

func TestWorker_FailureOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		processor  inference.ProcessorFunc
		wantReason string
	}{
		{
			name: "processing error",
			processor: func(context.Context, job.Payload) (inference.Prediction, error) {
				return inference.Prediction{}, job.NewProcessingError("missing feature \"a\"", nil)
			},
			wantReason: `missing feature "a"`,
		},
		{
			name: "unexpected error",
			processor: func(context.Context, job.Payload) (inference.Prediction, error) {
				return inference.Prediction{}, errors.New("model not loaded")
			},
			wantReason: "model not loaded",
		},
		{
			name: "panic",
			processor: func(context.Context, job.Payload) (inference.Prediction, error) {
				panic("index out of range")
			},
			wantReason: "processor panic: index out of range",
		},
		{
			name: "timeout honoured",
			processor: func(ctx context.Context, _ job.Payload) (inference.Prediction, error) {
				<-ctx.Done()
				return inference.Prediction{}, ctx.Err()
			},
			wantReason: "job exceeded timeout of 50ms",
		},
		{
			name: "timeout ignored",
			processor: func(context.Context, job.Payload) (inference.Prediction, error) {
				time.Sleep(time.Second)
				return inference.Prediction{Label: "late"}, nil
			},
			wantReason: "job exceeded timeout of 50ms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := startWorker(t, tt.processor, func(cfg *Config) {
				cfg.JobTimeout = 50 * time.Millisecond
			})

			h.submit(t, "job-1", job.Payload{})

			assert.Equal(t, job.Failure(tt.wantReason), h.await(t, "job-1"))
			assert.Eventually(t, func() bool {
				return h.worker.Stats().Failed == 1
			}, time.Second, 5*time.Millisecond)
		})
	}
}

func TestWorker_FailureDoesNotStopLoop(t *testing.T) {
	var calls atomic.Int32
	h := startWorker(t, inference.ProcessorFunc(func(_ context.Context, payload job.Payload) (inference.Prediction, error) {
		if calls.Add(1) == 1 {
			panic("first job explodes")
		}
		return inference.Prediction{Label: "ok", Score: 1}, nil
	}), nil)

	h.submit(t, "job-1", job.Payload{})
	h.submit(t, "job-2", job.Payload{})

	assert.False(t, h.await(t, "job-1").IsSuccess())
	assert.True(t, h.await(t, "job-2").IsSuccess())
}

func TestWorker_DuplicatePublishIsDropped(t *testing.T) {
	h := startWorker(t, echoProcessor(), nil)
	require.NoError(t, h.store.Put(context.Background(), "job-1", job.Failure("first")))

	h.submit(t, "job-1", job.Payload{"label": "second"})

	assert.Eventually(t, func() bool {
		return h.worker.Stats().PublishErrors == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, job.Failure("first"), h.await(t, "job-1"))
}

func TestWorker_ConcurrentLoopsProcessEveryJobOnce(t *testing.T) {
	var calls atomic.Int32
	h := startWorker(t, inference.ProcessorFunc(func(_ context.Context, payload job.Payload) (inference.Prediction, error) {
		calls.Add(1)
		time.Sleep(2 * time.Millisecond)
		return inference.Prediction{Label: fmt.Sprint(payload["label"]), Score: 1}, nil
	}), func(cfg *Config) {
		cfg.Concurrency = 4
	})

	const jobs = 40
	for i := range jobs {
		h.submit(t, fmt.Sprintf("job-%d", i), job.Payload{"label": i})
	}

	for i := range jobs {
		assert.Equal(t, fmt.Sprint(i), h.await(t, fmt.Sprintf("job-%d", i)).Prediction)
	}
	assert.Equal(t, int32(jobs), calls.Load())
	assert.Equal(t, uint64(jobs), h.worker.Stats().Processed)
}

func TestWorker_StopWaitsForInFlightJob(t *testing.T) {
	started := make(chan struct{})
	h := startWorker(t, inference.ProcessorFunc(func(context.Context, job.Payload) (inference.Prediction, error) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		return inference.Prediction{Label: "finished", Score: 1}, nil
	}), nil)

	h.submit(t, "job-1", job.Payload{})
	<-started

	h.worker.Stop()

	outcome, ok, err := h.store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.True(t, ok, "in-flight job is published before Stop returns")
	assert.Equal(t, "finished", outcome.Prediction)

	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestWorker_StartReturnsOnContextCancel(t *testing.T) {
	w, err := NewWorker(&Config{
		Logger:         testLogger(),
		Queue:          queue.NewMemoryQueue(queue.Options{}),
		Store:          resultstore.NewMemoryStore(time.Minute),
		Processor:      echoProcessor(),
		Concurrency:    2,
		DequeueTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestWorker_QueueClosedEndsLoops(t *testing.T) {
	h := startWorker(t, echoProcessor(), nil)
	h.submit(t, "job-1", job.Payload{"label": "drained"})
	require.NoError(t, h.queue.Close())

	assert.Equal(t, "drained", h.await(t, "job-1").Prediction)

	// loops exit on their own; Stop only has to release Start
	assert.Eventually(t, func() bool {
		n, _ := h.queue.Len(context.Background())
		return n == 0
	}, time.Second, 5*time.Millisecond)
}

func TestWorker_MalformedEnvelopeFromRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	q := queue.NewRedisQueue(rdb, queue.RedisQueueConfig{KeyPrefix: "predict", Name: "jobs"}, testLogger())
	store := resultstore.NewMemoryStore(time.Minute)

	_, err := mr.Lpush(q.Key(), `{"id":"job-42","features":"not-an-object"}`)
	require.NoError(t, err)
	_, err = mr.Lpush(q.Key(), `{"features":{}}`)
	require.NoError(t, err)

	w, err := NewWorker(&Config{
		Logger:         testLogger(),
		Queue:          q,
		Store:          store,
		Processor:      echoProcessor(),
		DequeueTimeout: time.Second,
	})
	require.NoError(t, err)

	go func() { _ = w.Start(context.Background()) }()
	t.Cleanup(w.Stop)

	var outcome job.Outcome
	require.Eventually(t, func() bool {
		o, ok, _ := store.Get(context.Background(), "job-42")
		outcome = o
		return ok
	}, 3*time.Second, 10*time.Millisecond, "no outcome published for job-42")
	assert.Equal(t, job.Failure("malformed job envelope"), outcome)

	// the envelope without an id is drained and dropped
	assert.Eventually(t, func() bool {
		return !mr.Exists(q.Key())
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, Stats{Processed: 1, Failed: 1}, w.Stats())
}
