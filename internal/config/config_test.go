package config

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DIRECTORY_URL", "http://directory.internal:8080")
	t.Setenv("EXECUTION_URL", "http://executor.internal:8080/v1/execute")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", cfg.APIPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
	}
	if cfg.MaxConcurrentItems != 5 {
		t.Errorf("MaxConcurrentItems = %d, want 5", cfg.MaxConcurrentItems)
	}
	if cfg.PreferencePollInterval != 60*time.Second {
		t.Errorf("PreferencePollInterval = %s, want 60s", cfg.PreferencePollInterval)
	}
	if cfg.ItemTimeout != 0 {
		t.Errorf("ItemTimeout = %s, want disabled", cfg.ItemTimeout)
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Errorf("ShutdownGracePeriod = %s, want 30s", cfg.ShutdownGracePeriod)
	}
	if cfg.SchedulerTimezone != "UTC" {
		t.Errorf("SchedulerTimezone = %s, want UTC", cfg.SchedulerTimezone)
	}
	if cfg.StrictBatchTypes {
		t.Error("StrictBatchTypes should default to false")
	}
	if cfg.DatabaseDSN != "" || cfg.RedisURL != "" || cfg.RabbitMQURL != "" {
		t.Error("infrastructure urls should be optional")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("API_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("MAX_CONCURRENT_ITEMS", "12")
	t.Setenv("PREFERENCE_POLL_INTERVAL", "2m")
	t.Setenv("ITEM_TIMEOUT", "15s")
	t.Setenv("ITEM_MAX_RETRIES", "3")
	t.Setenv("STRICT_BATCH_TYPES", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", cfg.APIPort)
	}
	if cfg.MaxConcurrentItems != 12 {
		t.Errorf("MaxConcurrentItems = %d, want 12", cfg.MaxConcurrentItems)
	}
	if cfg.PreferencePollInterval != 2*time.Minute {
		t.Errorf("PreferencePollInterval = %s, want 2m", cfg.PreferencePollInterval)
	}
	if cfg.ItemTimeout != 15*time.Second {
		t.Errorf("ItemTimeout = %s, want 15s", cfg.ItemTimeout)
	}
	if cfg.ItemMaxRetries != 3 {
		t.Errorf("ItemMaxRetries = %d, want 3", cfg.ItemMaxRetries)
	}
	if !cfg.StrictBatchTypes {
		t.Error("StrictBatchTypes = false, want true")
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DIRECTORY_URL", "http://directory.internal")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing required env vars, got nil")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value string
	}{
		{name: "zero concurrency", key: "MAX_CONCURRENT_ITEMS", value: "0"},
		{name: "too many retries", key: "ITEM_MAX_RETRIES", value: "50"},
		{name: "sub-second poll", key: "PREFERENCE_POLL_INTERVAL", value: "10ms"},
		{name: "bad directory url", key: "DIRECTORY_URL", value: "not a url"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tc.key, tc.value)

			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tc.key, tc.value)
			}
		})
	}
}
