package config

import (
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "store.lock_timeout")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	errors = append(errors, c.validateStore()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateLimiters()...)
	errors = append(errors, c.validateSweep()...)
	errors = append(errors, c.validateWatch()...)
	errors = append(errors, c.validateMetrics()...)
	return errors
}

// validateStore validates the StoreConfig
func (c *Config) validateStore() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Store.Path) == "" {
		errors = append(errors, ValidationError{
			Field:   "store.path",
			Value:   c.Store.Path,
			Message: "must not be empty",
		})
	}

	if c.Store.LockTimeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "store.lock_timeout",
			Value:   c.Store.LockTimeout,
			Message: "must be non-negative",
		})
	}

	if c.Store.StaleAfter <= 0 {
		errors = append(errors, ValidationError{
			Field:   "store.stale_after",
			Value:   c.Store.StaleAfter,
			Message: "must be positive",
		})
	}

	if c.Store.RetryInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "store.retry_interval",
			Value:   c.Store.RetryInterval,
			Message: "must be positive",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateLimiters validates every named limiter in a stable order
func (c *Config) validateLimiters() []ValidationError {
	var errors []ValidationError

	names := make([]string, 0, len(c.Limiters))
	for name := range c.Limiters {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		lc := c.Limiters[name]
		prefix := "limiters." + name

		if lc.MaxConcurrent < 0 {
			errors = append(errors, ValidationError{
				Field:   prefix + ".max_concurrent",
				Value:   lc.MaxConcurrent,
				Message: "must be non-negative (0 = unlimited)",
			})
		}
		if lc.Timeout < 0 {
			errors = append(errors, ValidationError{
				Field:   prefix + ".timeout",
				Value:   lc.Timeout,
				Message: "must be non-negative",
			})
		}
		if lc.QueueTimeout < 0 {
			errors = append(errors, ValidationError{
				Field:   prefix + ".queue_timeout",
				Value:   lc.QueueTimeout,
				Message: "must be non-negative",
			})
		}
	}

	return errors
}

// validateSweep checks the schedule parses the same way the scheduler will
func (c *Config) validateSweep() []ValidationError {
	if c.Sweep.Schedule == "" {
		return nil
	}
	if _, err := cron.ParseStandard(c.Sweep.Schedule); err != nil {
		return []ValidationError{{
			Field:   "sweep.schedule",
			Value:   c.Sweep.Schedule,
			Message: fmt.Sprintf("invalid schedule: %v", err),
		}}
	}
	return nil
}

// validateWatch validates the WatchConfig
func (c *Config) validateWatch() []ValidationError {
	if c.Watch.Debounce < 0 {
		return []ValidationError{{
			Field:   "watch.debounce",
			Value:   c.Watch.Debounce,
			Message: "must be non-negative",
		}}
	}
	return nil
}

// validateMetrics validates the MetricsConfig
func (c *Config) validateMetrics() []ValidationError {
	if c.Metrics.Listen == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
		return []ValidationError{{
			Field:   "metrics.listen",
			Value:   c.Metrics.Listen,
			Message: "must be host:port",
		}}
	}
	return nil
}
