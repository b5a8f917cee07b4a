package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string        `toml:"environment"` // "development" or "production"
	Storage     StorageConfig `toml:"storage"`
	Queue       QueueConfig   `toml:"queue"`
	Publish     PublishConfig `toml:"publish"`
	Logging     LoggingConfig `toml:"logging"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

// QueueConfig configures the job queue worker pool and retry policy
type QueueConfig struct {
	PollInterval   string `toml:"poll_interval"`                 // e.g., "100ms" - how often workers poll for jobs
	Concurrency    int    `toml:"concurrency" validate:"min=1"`  // Number of concurrent workers
	MaxRetries     int    `toml:"max_retries" validate:"min=0"`  // Default retry budget per job
	RetryBaseDelay string `toml:"retry_base_delay"`              // e.g., "5s" - base backoff, doubles each attempt
	StaleThreshold string `toml:"stale_threshold"`               // e.g., "10m" - heartbeat age before a running job is stale
}

// PublishConfig configures the publish pipeline scheduler
type PublishConfig struct {
	EntitySchedules   map[string]string `toml:"entity_schedules"`                     // entity type -> cron expression (second precision)
	MaxRetries        int               `toml:"max_retries" validate:"min=0"`         // Retry budget per entity
	RetryBaseDelay    string            `toml:"retry_base_delay"`                     // e.g., "5s" - base backoff, doubles each attempt
	DispatchPerSecond int               `toml:"dispatch_per_second" validate:"min=1"` // Rate limit for immediate-schedule dispatch
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// DefaultConfig returns configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/memoro",
				ResetOnStartup: false,
			},
		},
		Queue: QueueConfig{
			PollInterval:   "100ms",
			Concurrency:    1,
			MaxRetries:     3,
			RetryBaseDelay: "5s",
			StaleThreshold: "10m",
		},
		Publish: PublishConfig{
			EntitySchedules:   map[string]string{},
			MaxRetries:        3,
			RetryBaseDelay:    "5s",
			DispatchPerSecond: 5,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
	}
}

// LoadFromFile loads configuration from a TOML file, applies environment
// overrides, and validates the result. A missing path returns defaults.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks structural constraints and cron expressions
func Validate(config *Config) error {
	v := validator.New()
	if err := v.Struct(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"queue.poll_interval", config.Queue.PollInterval},
		{"queue.retry_base_delay", config.Queue.RetryBaseDelay},
		{"queue.stale_threshold", config.Queue.StaleThreshold},
		{"publish.retry_base_delay", config.Publish.RetryBaseDelay},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", field.name, err)
		}
	}

	for entityType, expr := range config.Publish.EntitySchedules {
		if err := ValidateSchedule(expr); err != nil {
			return fmt.Errorf("invalid cron for %s: %w", entityType, err)
		}
	}

	return nil
}

// applyEnvOverrides applies MEMORO_* environment variable overrides
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("MEMORO_ENVIRONMENT"); v != "" {
		config.Environment = v
	}
	if v := os.Getenv("MEMORO_STORAGE_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("MEMORO_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("MEMORO_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Queue.Concurrency = n
		}
	}
	if v := os.Getenv("MEMORO_QUEUE_POLL_INTERVAL"); v != "" {
		config.Queue.PollInterval = v
	}
}

// PollIntervalDuration returns the parsed poll interval (default 100ms)
func (c *QueueConfig) PollIntervalDuration() time.Duration {
	return parseDurationOr(c.PollInterval, 100*time.Millisecond)
}

// RetryBaseDelayDuration returns the parsed retry base delay (default 5s)
func (c *QueueConfig) RetryBaseDelayDuration() time.Duration {
	return parseDurationOr(c.RetryBaseDelay, 5*time.Second)
}

// StaleThresholdDuration returns the parsed stale threshold (default 10m)
func (c *QueueConfig) StaleThresholdDuration() time.Duration {
	return parseDurationOr(c.StaleThreshold, 10*time.Minute)
}

// RetryBaseDelayDuration returns the parsed retry base delay (default 5s)
func (c *PublishConfig) RetryBaseDelayDuration() time.Duration {
	return parseDurationOr(c.RetryBaseDelay, 5*time.Second)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
