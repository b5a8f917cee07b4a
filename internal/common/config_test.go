package common

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Environment != "development" {
		t.Errorf("Expected development environment, got %s", config.Environment)
	}
	if config.Queue.Concurrency != 1 {
		t.Errorf("Expected concurrency 1, got %d", config.Queue.Concurrency)
	}
	if config.Queue.MaxRetries != 3 {
		t.Errorf("Expected max retries 3, got %d", config.Queue.MaxRetries)
	}
	if config.Queue.PollIntervalDuration() != 100*time.Millisecond {
		t.Errorf("Expected 100ms poll interval, got %s", config.Queue.PollIntervalDuration())
	}
	if config.Queue.RetryBaseDelayDuration() != 5*time.Second {
		t.Errorf("Expected 5s retry base delay, got %s", config.Queue.RetryBaseDelayDuration())
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
environment = "production"

[storage.badger]
path = "/tmp/memoro-test"

[queue]
poll_interval = "250ms"
concurrency = 4
max_retries = 5
retry_base_delay = "2s"

[publish]
max_retries = 2
retry_base_delay = "10s"
dispatch_per_second = 3

[publish.entity_schedules]
post = "0 0 9 * * *"
note = "*/30 * * * *"

[logging]
level = "debug"
output = ["stdout"]
`
	path := filepath.Join(t.TempDir(), "memoro.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if !config.IsProduction() {
		t.Error("Expected production environment")
	}
	if config.Queue.Concurrency != 4 {
		t.Errorf("Expected concurrency 4, got %d", config.Queue.Concurrency)
	}
	if config.Queue.PollIntervalDuration() != 250*time.Millisecond {
		t.Errorf("Expected 250ms poll interval, got %s", config.Queue.PollIntervalDuration())
	}
	if config.Publish.RetryBaseDelayDuration() != 10*time.Second {
		t.Errorf("Expected 10s publish retry delay, got %s", config.Publish.RetryBaseDelayDuration())
	}
	if len(config.Publish.EntitySchedules) != 2 {
		t.Errorf("Expected 2 entity schedules, got %d", len(config.Publish.EntitySchedules))
	}
}

func TestLoadFromFile_MissingPathUsesDefaults(t *testing.T) {
	config, err := LoadFromFile("")
	if err != nil {
		t.Fatalf("LoadFromFile with empty path failed: %v", err)
	}
	if config.Queue.Concurrency != 1 {
		t.Errorf("Expected default concurrency, got %d", config.Queue.Concurrency)
	}
}

func TestLoadFromFile_NonexistentFile(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/memoro.toml"); err == nil {
		t.Error("Expected error for nonexistent config file")
	}
}

func TestValidate_InvalidCron(t *testing.T) {
	config := DefaultConfig()
	config.Publish.EntitySchedules = map[string]string{
		"post": "not a cron",
	}

	err := Validate(config)
	if err == nil {
		t.Fatal("Expected validation error for invalid cron")
	}
	if !strings.Contains(err.Error(), "invalid cron for post") {
		t.Errorf("Expected entity type in error, got: %v", err)
	}
}

func TestValidate_InvalidDuration(t *testing.T) {
	config := DefaultConfig()
	config.Queue.PollInterval = "soon"

	if err := Validate(config); err == nil {
		t.Error("Expected validation error for invalid duration")
	}
}

func TestValidate_ZeroConcurrencyRejected(t *testing.T) {
	config := DefaultConfig()
	config.Queue.Concurrency = 0

	if err := Validate(config); err == nil {
		t.Error("Expected validation error for zero concurrency")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MEMORO_ENVIRONMENT", "production")
	t.Setenv("MEMORO_QUEUE_CONCURRENCY", "8")
	t.Setenv("MEMORO_LOG_LEVEL", "warn")

	config, err := LoadFromFile("")
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Environment != "production" {
		t.Errorf("Expected environment override, got %s", config.Environment)
	}
	if config.Queue.Concurrency != 8 {
		t.Errorf("Expected concurrency override, got %d", config.Queue.Concurrency)
	}
	if config.Logging.Level != "warn" {
		t.Errorf("Expected log level override, got %s", config.Logging.Level)
	}
}
