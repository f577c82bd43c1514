package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{Field: "store.path", Value: "", Message: "must not be empty"}
	want := "store.path: must not be empty (got: )"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		if got := (ValidationErrors{}).Error(); got != "" {
			t.Errorf("Error() = %q, want empty", got)
		}
	})

	t.Run("multiple", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "a", Value: 1, Message: "bad"},
			{Field: "b", Value: 2, Message: "worse"},
		}
		got := errs.Error()
		if !strings.HasPrefix(got, "2 validation errors:") {
			t.Errorf("Error() = %q", got)
		}
		if !strings.Contains(got, "1. a: bad") || !strings.Contains(got, "2. b: worse") {
			t.Errorf("Error() = %q, missing entries", got)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	if errs := Default().Validate(); len(errs) != 0 {
		t.Errorf("default config should be valid, got: %v", errs)
	}
}

func hasField(errs []ValidationError, field string) bool {
	for _, err := range errs {
		if err.Field == field {
			return true
		}
	}
	return false
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"empty store path", func(c *Config) { c.Store.Path = " " }, "store.path"},
		{"negative lock timeout", func(c *Config) { c.Store.LockTimeout = -time.Second }, "store.lock_timeout"},
		{"zero stale after", func(c *Config) { c.Store.StaleAfter = 0 }, "store.stale_after"},
		{"zero retry interval", func(c *Config) { c.Store.RetryInterval = 0 }, "store.retry_interval"},
		{"invalid log level", func(c *Config) { c.Logging.Level = "invalid" }, "logging.level"},
		{"uppercase log level", func(c *Config) { c.Logging.Level = "INFO" }, "logging.level"},
		{"zero max size", func(c *Config) { c.Logging.MaxSizeMB = 0 }, "logging.max_size_mb"},
		{"huge max size", func(c *Config) { c.Logging.MaxSizeMB = 5000 }, "logging.max_size_mb"},
		{"negative backups", func(c *Config) { c.Logging.MaxBackups = -1 }, "logging.max_backups"},
		{"negative limiter", func(c *Config) {
			c.Limiters["git"] = LimiterConfig{MaxConcurrent: -1}
		}, "limiters.git.max_concurrent"},
		{"negative limiter timeout", func(c *Config) {
			c.Limiters["spawn"] = LimiterConfig{MaxConcurrent: 1, Timeout: -time.Second}
		}, "limiters.spawn.timeout"},
		{"negative queue timeout", func(c *Config) {
			c.Limiters["state"] = LimiterConfig{MaxConcurrent: 1, QueueTimeout: -time.Second}
		}, "limiters.state.queue_timeout"},
		{"bad schedule", func(c *Config) { c.Sweep.Schedule = "every now and then" }, "sweep.schedule"},
		{"negative debounce", func(c *Config) { c.Watch.Debounce = -time.Millisecond }, "watch.debounce"},
		{"bad listen address", func(c *Config) { c.Metrics.Listen = "9464" }, "metrics.listen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if errs := cfg.Validate(); !hasField(errs, tt.field) {
				t.Errorf("expected error for %s, got %v", tt.field, errs)
			}
		})
	}
}

func TestConfig_Validate_AcceptedValues(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", ""} {
		cfg := Default()
		cfg.Logging.Level = level
		if hasField(cfg.Validate(), "logging.level") {
			t.Errorf("level %q should be valid", level)
		}
	}

	for _, schedule := range []string{"@every 5m", "*/10 * * * *", "@hourly", ""} {
		cfg := Default()
		cfg.Sweep.Schedule = schedule
		if hasField(cfg.Validate(), "sweep.schedule") {
			t.Errorf("schedule %q should be valid", schedule)
		}
	}

	cfg := Default()
	cfg.Store.LockTimeout = 0
	cfg.Limiters["git"] = LimiterConfig{}
	cfg.Metrics.Listen = "127.0.0.1:9000"
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestValidLogLevels(t *testing.T) {
	levels := ValidLogLevels()
	if len(levels) != 4 {
		t.Errorf("ValidLogLevels() = %v", levels)
	}
}
