package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// ValidationError carries every violation found in one pass, so a caller
// sees all problems at once rather than fixing them one by one.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation errors:\n  - %s", strings.Join(e.Violations, "\n  - "))
}

// Validate checks required fields and ranges. It must be called after
// Normalize and before any recorder state is mutated.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.ProjectID == "" {
		errs = append(errs, "project_id is required")
	} else if _, err := uuid.Parse(cfg.ProjectID); err != nil || len(cfg.ProjectID) != 36 {
		errs = append(errs, fmt.Sprintf("project_id %q is not a valid identifier", cfg.ProjectID))
	}

	if cfg.BatchSize < MinBatchSize || cfg.BatchSize > MaxBatchSize {
		errs = append(errs, fmt.Sprintf("batch_size %d out of range [%d, %d]", cfg.BatchSize, MinBatchSize, MaxBatchSize))
	}
	if cfg.FlushIntervalMs < MinFlushIntervalMs || cfg.FlushIntervalMs > MaxFlushIntervalMs {
		errs = append(errs, fmt.Sprintf("flush_interval_ms %d out of range [%d, %d]", cfg.FlushIntervalMs, MinFlushIntervalMs, MaxFlushIntervalMs))
	}

	for name, raw := range map[string]string{
		"api_endpoint":     cfg.APIEndpoint,
		"metrics_endpoint": cfg.MetricsEndpoint,
	} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("%s %q is not a valid http(s) URL", name, raw))
		}
	}

	if cfg.InactivityTimeoutMs < 0 {
		errs = append(errs, "inactivity_timeout_ms must not be negative")
	}
	if cfg.HiddenTimeoutMs < 0 {
		errs = append(errs, "hidden_timeout_ms must not be negative")
	}
	if cfg.MaxQueueSize < 2 {
		errs = append(errs, fmt.Sprintf("max_queue_size %d must be at least 2", cfg.MaxQueueSize))
	}
	if cfg.MaxRetries < 0 {
		errs = append(errs, "max_retries must not be negative")
	}

	if len(errs) > 0 {
		return &ValidationError{Violations: errs}
	}
	return nil
}
