package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/predict-dispatch/internal/job"
	"github.com/cuongbtq/predict-dispatch/internal/queue"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Backend names accepted by queue.backend and results.backend
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendRabbitMQ = "rabbitmq"
	BackendPostgres = "postgres"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Queue     QueueConfig     `yaml:"queue"`
	Results   ResultsConfig   `yaml:"results"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Worker    WorkerConfig    `yaml:"worker"`
	Inference InferenceConfig `yaml:"inference"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string            `yaml:"host"`
	Port       int               `yaml:"port"`
	User       string            `yaml:"user"`
	Password   string            `yaml:"password"`
	VHost      string            `yaml:"vhost"`
	Exchange   ExchangeConfig    `yaml:"exchange"`
	Queue      RabbitQueueConfig `yaml:"queue"`
	RoutingKey string            `yaml:"routing_key"`
	Connection ConnectionConfig  `yaml:"connection"`
	Publish    PublishConfig     `yaml:"publish"`
	Consumer   ConsumerConfig    `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// RabbitQueueConfig holds RabbitMQ queue configuration
type RabbitQueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish settings
type PublishConfig struct {
	Confirms bool `yaml:"confirms"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	// PollInterval is the wait between fetches while the queue is empty
	PollInterval time.Duration `yaml:"poll_interval"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr          string        `yaml:"addr"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	PoolSize      int           `yaml:"pool_size"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// QueueConfig selects the job queue backend and its back-pressure policy
type QueueConfig struct {
	Backend   string `yaml:"backend"`
	Name      string `yaml:"name"`
	KeyPrefix string `yaml:"key_prefix"`
	Capacity  int    `yaml:"capacity"`
	Overflow  string `yaml:"overflow"`
}

// Options returns the capacity and overflow settings of the queue
func (q QueueConfig) Options() queue.Options {
	return queue.Options{Capacity: q.Capacity, Overflow: q.Overflow}
}

// ResultsConfig selects the result store backend
type ResultsConfig struct {
	Backend       string        `yaml:"backend"`
	KeyPrefix     string        `yaml:"key_prefix"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DispatchConfig holds submitter side settings
type DispatchConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	Deadline       time.Duration `yaml:"deadline"`
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout"`
	Notify         bool          `yaml:"notify"`
	Schema         *job.Schema   `yaml:"schema"`
}

// WorkerConfig holds worker settings. Embedded workers run inside the api service.
type WorkerConfig struct {
	ID                string        `yaml:"id"`
	Concurrency       int           `yaml:"concurrency"`
	DequeueTimeout    time.Duration `yaml:"dequeue_timeout"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	Embedded          bool          `yaml:"embedded"`
}

// InferenceConfig holds the parameters of the logistic model
type InferenceConfig struct {
	Weights       map[string]float64 `yaml:"weights"`
	Bias          float64            `yaml:"bias"`
	Threshold     float64            `yaml:"threshold"`
	PositiveLabel string             `yaml:"positive_label"`
	NegativeLabel string             `yaml:"negative_label"`
	Latency       time.Duration      `yaml:"latency"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills unset fields with their defaults
func (c *Config) ApplyDefaults() {
	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "json")
	setDefault(&c.Logging.Output, "stdout")

	setDefault(&c.Server.ShutdownTimeout, 30*time.Second)

	setDefault(&c.Queue.Backend, BackendRedis)
	setDefault(&c.Queue.Name, "predict")
	setDefault(&c.Queue.KeyPrefix, "predict")
	setDefault(&c.Queue.Overflow, queue.OverflowBlock)

	setDefault(&c.Results.Backend, BackendRedis)
	setDefault(&c.Results.KeyPrefix, "predict")
	setDefault(&c.Results.TTL, 10*time.Minute)
	setDefault(&c.Results.SweepInterval, time.Minute)

	setDefault(&c.Dispatch.PollInterval, 100*time.Millisecond)
	setDefault(&c.Dispatch.Deadline, 30*time.Second)
	setDefault(&c.Dispatch.EnqueueTimeout, 5*time.Second)

	setDefault(&c.Worker.Concurrency, 1)
	setDefault(&c.Worker.DequeueTimeout, time.Second)
	setDefault(&c.Worker.JobTimeout, 30*time.Second)
	setDefault(&c.Worker.HeartbeatInterval, 30*time.Second)
	setDefault(&c.Worker.ShutdownTimeout, 30*time.Second)

	setDefault(&c.Redis.Addr, "localhost:6379")
	setDefault(&c.Redis.RetryAttempts, 3)
	setDefault(&c.Redis.RetryInterval, time.Second)

	setDefault(&c.RabbitMQ.Exchange.Type, "direct")
	setDefault(&c.RabbitMQ.Consumer.PollInterval, 100*time.Millisecond)
	setDefault(&c.RabbitMQ.Connection.RetryAttempts, 3)
	setDefault(&c.RabbitMQ.Connection.RetryInterval, 2*time.Second)

	setDefault(&c.Database.SSLMode, "disable")
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// Validate checks the settings shared by both services
func (c *Config) Validate() error {
	switch c.Queue.Backend {
	case BackendMemory, BackendRedis, BackendRabbitMQ:
	default:
		return fmt.Errorf("unknown queue backend: %q", c.Queue.Backend)
	}

	switch c.Results.Backend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("unknown results backend: %q", c.Results.Backend)
	}

	if err := c.Queue.Options().Validate(); err != nil {
		return err
	}

	if c.Results.TTL < 0 || c.Results.SweepInterval < 0 {
		return fmt.Errorf("results ttl and sweep_interval must not be negative")
	}

	if c.usesBackend(BackendRedis) && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}

	if c.usesBackend(BackendRabbitMQ) {
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	}

	if c.usesBackend(BackendPostgres) {
		if err := c.validateDatabase(); err != nil {
			return err
		}
	}

	if err := c.Dispatch.Schema.Check(); err != nil {
		return fmt.Errorf("invalid dispatch schema: %w", err)
	}

	if t := c.Inference.Threshold; t < 0 || t >= 1 {
		return fmt.Errorf("inference threshold must be between 0 and 1")
	}

	return nil
}

func (c *Config) usesBackend(backend string) bool {
	return c.Queue.Backend == backend || c.Results.Backend == backend
}

// UsesMemoryBackend reports whether either backend only works inside one process
func (c *Config) UsesMemoryBackend() bool {
	return c.usesBackend(BackendMemory)
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

// ValidateAPIConfig checks the settings the api service needs
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Dispatch.Deadline <= 0 {
		return fmt.Errorf("dispatch deadline must be greater than 0")
	}

	if c.Dispatch.PollInterval <= 0 {
		return fmt.Errorf("dispatch poll_interval must be greater than 0")
	}

	if c.UsesMemoryBackend() && !c.Worker.Embedded {
		return fmt.Errorf("memory backends require worker.embedded: a separate worker process cannot reach them")
	}

	if c.Worker.Embedded {
		return c.validateWorker()
	}

	return nil
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.UsesMemoryBackend() {
		return fmt.Errorf("memory backends are only available to embedded workers in the api service")
	}

	return c.validateWorker()
}

func (c *Config) validateWorker() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.DequeueTimeout <= 0 {
		return fmt.Errorf("worker dequeue_timeout must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return nil
}
