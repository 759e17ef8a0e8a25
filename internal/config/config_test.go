package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/predict-dispatch/internal/job"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "predict-api-service", cfg.App.Name)
				assert.Equal(t, BackendRedis, cfg.Queue.Backend)
				assert.Equal(t, 1000, cfg.Queue.Capacity)
				assert.Equal(t, "reject", cfg.Queue.Overflow)
				assert.Equal(t, BackendPostgres, cfg.Results.Backend)
				assert.Equal(t, 10*time.Minute, cfg.Results.TTL)
				assert.Equal(t, 100*time.Millisecond, cfg.Dispatch.PollInterval)
				assert.Equal(t, 30*time.Second, cfg.Dispatch.Deadline)
				assert.True(t, cfg.Dispatch.Notify)
				assert.Equal(t, 4, cfg.Worker.Concurrency)
				assert.Equal(t, "predict_db", cfg.Database.Database)
				assert.True(t, cfg.Database.AutoMigrate)
				assert.Equal(t, 0.08, cfg.Inference.Weights["temperature"])
				assert.Equal(t, "You are in fire!", cfg.Inference.PositiveLabel)

				require.NotNil(t, cfg.Dispatch.Schema)
				assert.Equal(t, []job.Field{
					{Name: "temperature", Type: job.FieldNumber, Required: true},
					{Name: "smoke", Type: job.FieldBool},
				}, cfg.Dispatch.Schema.Fields)
			}
		})
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load("testdata/invalid_port.yaml")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "predict", cfg.Queue.Name)
	assert.Equal(t, "block", cfg.Queue.Overflow)
	assert.Equal(t, 10*time.Minute, cfg.Results.TTL)
	assert.Equal(t, 100*time.Millisecond, cfg.Dispatch.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.Deadline)
	assert.Equal(t, 5*time.Second, cfg.Dispatch.EnqueueTimeout)
	assert.Equal(t, 1, cfg.Worker.Concurrency)
	assert.Equal(t, time.Second, cfg.Worker.DequeueTimeout)
	assert.Equal(t, 3, cfg.Redis.RetryAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.RabbitMQ.Consumer.PollInterval)
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("TEST_REDIS_PASSWORD", "s3cret")

	cfg, err := Load("testdata/rabbitmq.yaml")
	require.NoError(t, err)

	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, "s3cret", cfg.Redis.Password)
	assert.True(t, cfg.RabbitMQ.Publish.Confirms)
	assert.Equal(t, 250*time.Millisecond, cfg.RabbitMQ.Consumer.PollInterval)
}

func TestLoad_UnsetVariableFallsBackToDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redis:\n  addr: \"${PREDICT_UNSET_VARIABLE}\"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

// validConfig returns a config that passes every validation
func validConfig() *Config {
	cfg := &Config{
		Server:  ServerConfig{Port: 8080},
		Queue:   QueueConfig{Backend: BackendRabbitMQ},
		Results: ResultsConfig{Backend: BackendPostgres},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "predict_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "predict_exchange"},
			Queue:    RabbitQueueConfig{Name: "predict_jobs"},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:      "unknown queue backend",
			mutate:    func(c *Config) { c.Queue.Backend = "sqs" },
			wantErr:   true,
			errString: "unknown queue backend",
		},
		{
			name:      "unknown results backend",
			mutate:    func(c *Config) { c.Results.Backend = "mongo" },
			wantErr:   true,
			errString: "unknown results backend",
		},
		{
			name:      "negative capacity",
			mutate:    func(c *Config) { c.Queue.Capacity = -1 },
			wantErr:   true,
			errString: "queue capacity must not be negative",
		},
		{
			name:      "unknown overflow policy",
			mutate:    func(c *Config) { c.Queue.Overflow = "drop" },
			wantErr:   true,
			errString: "unknown queue overflow policy",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "invalid database port",
			mutate:    func(c *Config) { c.Database.Port = 0 },
			wantErr:   true,
			errString: "invalid database port",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name: "database not needed without postgres",
			mutate: func(c *Config) {
				c.Results.Backend = BackendRedis
				c.Database = DatabaseConfig{}
			},
			wantErr: false,
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty rabbitmq queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			wantErr:   true,
			errString: "rabbitmq queue name is required",
		},
		{
			name: "empty redis addr",
			mutate: func(c *Config) {
				c.Queue.Backend = BackendRedis
				c.Redis.Addr = ""
			},
			wantErr:   true,
			errString: "redis addr is required",
		},
		{
			name: "invalid schema",
			mutate: func(c *Config) {
				c.Dispatch.Schema = &job.Schema{Fields: []job.Field{{Name: "a", Type: "date"}}}
			},
			wantErr:   true,
			errString: "invalid dispatch schema",
		},
		{
			name:      "threshold out of range",
			mutate:    func(c *Config) { c.Inference.Threshold = 1 },
			wantErr:   true,
			errString: "inference threshold must be between 0 and 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "non-positive deadline",
			mutate:    func(c *Config) { c.Dispatch.Deadline = -time.Second },
			wantErr:   true,
			errString: "dispatch deadline must be greater than 0",
		},
		{
			name:      "memory queue without embedded workers",
			mutate:    func(c *Config) { c.Queue.Backend = BackendMemory },
			wantErr:   true,
			errString: "memory backends require worker.embedded",
		},
		{
			name: "memory backends with embedded workers",
			mutate: func(c *Config) {
				c.Queue.Backend = BackendMemory
				c.Results.Backend = BackendMemory
				c.Worker.Embedded = true
			},
			wantErr: false,
		},
		{
			name: "embedded workers are validated",
			mutate: func(c *Config) {
				c.Worker.Embedded = true
				c.Worker.JobTimeout = -time.Second
			},
			wantErr:   true,
			errString: "worker job_timeout must be greater than 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "server port is not needed",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: false,
		},
		{
			name:      "memory results",
			mutate:    func(c *Config) { c.Results.Backend = BackendMemory },
			wantErr:   true,
			errString: "memory backends are only available to embedded workers",
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			wantErr:   true,
			errString: "worker concurrency must be greater than 0",
		},
		{
			name:      "zero dequeue timeout",
			mutate:    func(c *Config) { c.Worker.DequeueTimeout = 0 },
			wantErr:   true,
			errString: "worker dequeue_timeout must be greater than 0",
		},
		{
			name:      "zero heartbeat interval",
			mutate:    func(c *Config) { c.Worker.HeartbeatInterval = 0 },
			wantErr:   true,
			errString: "worker heartbeat_interval must be greater than 0",
		},
		{
			name:      "zero shutdown timeout",
			mutate:    func(c *Config) { c.Worker.ShutdownTimeout = 0 },
			wantErr:   true,
			errString: "worker shutdown_timeout must be greater than 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})

	t.Run("load in-process config", func(t *testing.T) {
		cfg, err := Load("testdata/memory.yaml")
		require.NoError(t, err)

		require.NoError(t, cfg.ValidateAPIConfig())
		assert.Error(t, cfg.ValidateWorkerConfig())
	})
}

func TestPortConstants(t *testing.T) {
	t.Run("port constants are correct", func(t *testing.T) {
		assert.Equal(t, 1, MinPort)
		assert.Equal(t, 65535, MaxPort)
	})

	t.Run("invalid port range", func(t *testing.T) {
		invalidPorts := []int{0, -1, 65536, 70000}
		for _, port := range invalidPorts {
			valid := port >= MinPort && port <= MaxPort
			assert.False(t, valid, "port %d should be invalid", port)
		}
	})
}
