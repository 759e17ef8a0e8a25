// Package bootstrap turns a loaded configuration into the running pieces
// shared by the api and worker services.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/predict-dispatch/internal/config"
	"github.com/cuongbtq/predict-dispatch/internal/dispatcher"
	"github.com/cuongbtq/predict-dispatch/internal/inference"
	"github.com/cuongbtq/predict-dispatch/internal/queue"
	"github.com/cuongbtq/predict-dispatch/internal/resultstore"
	"github.com/cuongbtq/predict-dispatch/internal/worker"
	"github.com/cuongbtq/predict-dispatch/shared/postgresql"
	"github.com/cuongbtq/predict-dispatch/shared/rabbitmq"
	"github.com/cuongbtq/predict-dispatch/shared/redis"
)

// Check is a named backend health probe
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Backends owns the queue, the result store and the clients behind them
type Backends struct {
	Queue   queue.Queue
	Store   resultstore.Store
	Expirer resultstore.Expirer // nil when the store expires entries itself
	Checks  []Check

	logger  *slog.Logger
	closers []func() error
}

// Open connects to the configured backends. Clients are shared when the
// queue and the store use the same system.
func Open(cfg *config.Config, logger *slog.Logger) (*Backends, error) {
	b := &Backends{logger: logger}

	var redisClient *redis.Client
	if cfg.Queue.Backend == config.BackendRedis || cfg.Results.Backend == config.BackendRedis {
		client, err := redis.NewClient(redisConfig(&cfg.Redis), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		redisClient = client
		b.closers = append(b.closers, client.Close)
		b.Checks = append(b.Checks, Check{Name: "redis", Fn: client.HealthCheck})
		logger.Info("Redis connection established")
	}

	switch cfg.Queue.Backend {
	case config.BackendMemory:
		q := queue.NewMemoryQueue(cfg.Queue.Options())
		b.Queue = q
		b.Checks = append(b.Checks, Check{Name: "queue", Fn: func(ctx context.Context) error {
			_, err := q.Len(ctx)
			return err
		}})

	case config.BackendRedis:
		b.Queue = queue.NewRedisQueue(redisClient.GetClient(), queue.RedisQueueConfig{
			KeyPrefix: cfg.Queue.KeyPrefix,
			Name:      cfg.Queue.Name,
			Options:   cfg.Queue.Options(),
		}, logger)

	case config.BackendRabbitMQ:
		client, err := rabbitmq.NewClient(rabbitConfig(&cfg.RabbitMQ, cfg.Queue.Capacity), logger)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		b.closers = append(b.closers, client.Close)
		b.Checks = append(b.Checks, Check{Name: "rabbitmq", Fn: client.HealthCheck})
		b.Queue = queue.NewRabbitQueue(client, cfg.Queue.Options(), cfg.RabbitMQ.Consumer.PollInterval, logger)
		logger.Info("RabbitMQ connection established")

	default:
		b.Close()
		return nil, fmt.Errorf("unknown queue backend: %q", cfg.Queue.Backend)
	}
	b.closers = append(b.closers, b.Queue.Close)

	switch cfg.Results.Backend {
	case config.BackendMemory:
		store := resultstore.NewMemoryStore(cfg.Results.TTL)
		b.Store = store
		b.Expirer = store

	case config.BackendRedis:
		b.Store = resultstore.NewRedisStore(redisClient.GetClient(), cfg.Results.KeyPrefix, cfg.Results.TTL, logger)

	case config.BackendPostgres:
		client, err := postgresql.NewClient(postgresConfig(&cfg.Database), logger)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		b.closers = append(b.closers, client.Close)
		b.Checks = append(b.Checks, Check{Name: "postgres", Fn: client.HealthCheck})
		store := resultstore.NewPostgresStore(client.GetDB(), cfg.Results.TTL, logger)
		b.Store = store
		b.Expirer = store
		logger.Info("Database connection established")

	default:
		b.Close()
		return nil, fmt.Errorf("unknown results backend: %q", cfg.Results.Backend)
	}

	logger.Info("Backends ready",
		slog.String("queue", cfg.Queue.Backend),
		slog.String("results", cfg.Results.Backend),
		slog.Int("queue_capacity", cfg.Queue.Capacity),
		slog.Duration("result_ttl", cfg.Results.TTL),
	)

	return b, nil
}

// HealthCheck runs every backend check and joins the failures
func (b *Backends) HealthCheck(ctx context.Context) error {
	var errs []error
	for _, check := range b.Checks {
		if err := check.Fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", check.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Close releases clients in reverse order of creation
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// NewDispatcher builds a dispatcher over the backends
func NewDispatcher(cfg *config.Config, b *Backends, logger *slog.Logger) (*dispatcher.Dispatcher, error) {
	return dispatcher.New(dispatcher.Config{
		Queue:            b.Queue,
		Store:            b.Store,
		Logger:           logger,
		PollInterval:     cfg.Dispatch.PollInterval,
		Deadline:         cfg.Dispatch.Deadline,
		EnqueueTimeout:   cfg.Dispatch.EnqueueTimeout,
		Schema:           cfg.Dispatch.Schema,
		UseNotifications: cfg.Dispatch.Notify,
	})
}

// NewProcessor builds the logistic model from the inference settings
func NewProcessor(cfg *config.InferenceConfig) (*inference.LogisticModel, error) {
	return inference.NewLogisticModel(inference.LogisticConfig{
		Weights:       cfg.Weights,
		Bias:          cfg.Bias,
		Threshold:     cfg.Threshold,
		PositiveLabel: cfg.PositiveLabel,
		NegativeLabel: cfg.NegativeLabel,
		Latency:       cfg.Latency,
	})
}

// NewWorker builds a worker over the backends
func NewWorker(cfg *config.Config, b *Backends, processor inference.Processor, logger *slog.Logger) (*worker.Worker, error) {
	return worker.NewWorker(&worker.Config{
		Logger:         logger,
		Queue:          b.Queue,
		Store:          b.Store,
		Processor:      processor,
		WorkerID:       cfg.Worker.ID,
		Concurrency:    cfg.Worker.Concurrency,
		DequeueTimeout: cfg.Worker.DequeueTimeout,
		JobTimeout:     cfg.Worker.JobTimeout,
	})
}

// RunSweeper removes expired results until ctx is done. It returns at once
// when the store expires entries on its own.
func (b *Backends) RunSweeper(ctx context.Context, cfg *config.ResultsConfig) {
	if b.Expirer == nil {
		return
	}
	resultstore.RunSweeper(ctx, b.Expirer, cfg.SweepInterval, b.logger)
}

func redisConfig(cfg *config.RedisConfig) *redis.Config {
	return &redis.Config{
		Addr:          cfg.Addr,
		Password:      cfg.Password,
		DB:            cfg.DB,
		DialTimeout:   cfg.DialTimeout,
		ReadTimeout:   cfg.ReadTimeout,
		PoolSize:      cfg.PoolSize,
		RetryAttempts: cfg.RetryAttempts,
		RetryInterval: cfg.RetryInterval,
	}
}

func rabbitConfig(cfg *config.RabbitMQConfig, capacity int) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		QueueMaxLength:     capacity,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishConfirms:    cfg.Publish.Confirms,
	}
}

func postgresConfig(cfg *config.DatabaseConfig) *postgresql.Config {
	return &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		AutoMigrate:     cfg.AutoMigrate,
	}
}
