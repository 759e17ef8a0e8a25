package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/predict-dispatch/internal/inference"
	"github.com/cuongbtq/predict-dispatch/internal/queue"
	"github.com/cuongbtq/predict-dispatch/internal/resultstore"
)

const (
	DefaultConcurrency    = 1
	DefaultDequeueTimeout = time.Second
	DefaultJobTimeout     = 30 * time.Second

	publishTimeout = 10 * time.Second
)

// Config holds worker configuration
type Config struct {
	Logger         *slog.Logger
	Queue          queue.Queue
	Store          resultstore.Store
	Processor      inference.Processor
	WorkerID       string
	Concurrency    int
	DequeueTimeout time.Duration
	JobTimeout     time.Duration
}

// Stats is a snapshot of the worker counters
type Stats struct {
	Processed     uint64
	Succeeded     uint64
	Failed        uint64
	PublishErrors uint64
}

// Worker consumes jobs from the queue and publishes one outcome per job
type Worker struct {
	logger         *slog.Logger
	queue          queue.Queue
	store          resultstore.Store
	processor      inference.Processor
	workerID       string
	concurrency    int
	dequeueTimeout time.Duration
	jobTimeout     time.Duration

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once

	processed     atomic.Uint64
	succeeded     atomic.Uint64
	failed        atomic.Uint64
	publishErrors atomic.Uint64
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) (*Worker, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("worker requires a queue")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("worker requires a result store")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("worker requires a processor")
	}
	if cfg.Concurrency < 0 || cfg.DequeueTimeout < 0 || cfg.JobTimeout < 0 {
		return nil, fmt.Errorf("worker concurrency and timeouts must not be negative")
	}

	w := &Worker{
		logger:         cfg.Logger,
		queue:          cfg.Queue,
		store:          cfg.Store,
		processor:      cfg.Processor,
		workerID:       cfg.WorkerID,
		concurrency:    cfg.Concurrency,
		dequeueTimeout: cfg.DequeueTimeout,
		jobTimeout:     cfg.JobTimeout,
		stopChan:       make(chan struct{}),
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.workerID == "" {
		w.workerID = "worker-" + uuid.NewString()[:8]
	}
	if w.concurrency == 0 {
		w.concurrency = DefaultConcurrency
	}
	if w.dequeueTimeout == 0 {
		w.dequeueTimeout = DefaultDequeueTimeout
	}
	if w.jobTimeout == 0 {
		w.jobTimeout = DefaultJobTimeout
	}

	return w, nil
}

// ID returns the worker identifier used in logs
func (w *Worker) ID() string {
	return w.workerID
}

// Start spawns the worker pool and blocks until ctx is canceled or Stop is
// called. It returns once every loop has finished its current job.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("dequeue_timeout", w.dequeueTimeout),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	w.spawnWorkerPool(ctx)

	select {
	case <-ctx.Done():
		w.logger.Info("Worker context canceled, stopping...")
	case <-w.stopChan:
	}

	w.wg.Wait()
	return nil
}

// Stop gracefully stops the worker, waiting for in-flight jobs
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	w.wg.Wait()
	w.logger.Info("Worker stopped",
		slog.Uint64("processed", w.processed.Load()),
	)
}

// Stats returns the current counters
func (w *Worker) Stats() Stats {
	return Stats{
		Processed:     w.processed.Load(),
		Succeeded:     w.succeeded.Load(),
		Failed:        w.failed.Load(),
		PublishErrors: w.publishErrors.Load(),
	}
}
