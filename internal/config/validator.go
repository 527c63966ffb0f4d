package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "delegation.parallel_limit")
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

	errors = append(errors, c.validateDelegation()...)
	errors = append(errors, c.validateWorker()...)
	errors = append(errors, c.validateOutput()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateDelegation() []ValidationError {
	var errors []ValidationError
	d := c.Delegation

	if d.ParallelLimit < MinParallelLimit || d.ParallelLimit > MaxParallelLimit {
		errors = append(errors, ValidationError{
			Field:   "delegation.parallel_limit",
			Value:   d.ParallelLimit,
			Message: fmt.Sprintf("must be between %d and %d", MinParallelLimit, MaxParallelLimit),
		})
	}

	if d.TaskTimeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "delegation.task_timeout",
			Value:   d.TaskTimeout,
			Message: "must be non-negative (0 disables the timeout)",
		})
	}

	if d.AdmissionsPerSecond < 0 {
		errors = append(errors, ValidationError{
			Field:   "delegation.admissions_per_second",
			Value:   d.AdmissionsPerSecond,
			Message: "must be non-negative (0 means unlimited)",
		})
	}

	if d.MaxRetries < 0 || d.MaxRetries > MaxRetriesLimit {
		errors = append(errors, ValidationError{
			Field:   "delegation.max_retries",
			Value:   d.MaxRetries,
			Message: fmt.Sprintf("must be between 0 and %d", MaxRetriesLimit),
		})
	}

	if d.MaxPerSession < 0 || d.MaxPerSession > MaxPerSessionLimit {
		errors = append(errors, ValidationError{
			Field:   "delegation.max_per_session",
			Value:   d.MaxPerSession,
			Message: fmt.Sprintf("must be between 0 and %d (0 disables the cap)", MaxPerSessionLimit),
		})
	}

	if d.SummaryMaxWords <= 0 {
		errors = append(errors, ValidationError{
			Field:   "delegation.summary_max_words",
			Value:   d.SummaryMaxWords,
			Message: "must be positive",
		})
	}

	if d.ClassifierCacheSize < 0 {
		errors = append(errors, ValidationError{
			Field:   "delegation.classifier_cache_size",
			Value:   d.ClassifierCacheSize,
			Message: "must be non-negative (0 disables the cache)",
		})
	}

	return errors
}

func (c *Config) validateWorker() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Worker.Command) == "" {
		errors = append(errors, ValidationError{
			Field:   "worker.command",
			Value:   c.Worker.Command,
			Message: "must not be empty",
		})
	}

	for i, kv := range c.Worker.Env {
		if !strings.Contains(kv, "=") || strings.HasPrefix(kv, "=") {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("worker.env[%d]", i),
				Value:   kv,
				Message: "must be in KEY=VALUE form",
			})
		}
	}

	return errors
}

func (c *Config) validateOutput() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidOutputFormats(), c.Output.Format) {
		errors = append(errors, ValidationError{
			Field:   "output.format",
			Value:   c.Output.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidOutputFormats(), ", ")),
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
