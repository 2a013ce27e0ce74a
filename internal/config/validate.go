package config

import (
	"fmt"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	// REDIS_ADDR is required: the queue has no in-memory fallback
	if cfg.RedisAddr == "" {
		errs = append(errs, ValidationError{
			Field:   "REDIS_ADDR",
			Message: "required",
		})
	}

	requirePositive := func(field, raw string) {
		if raw == "" {
			return
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: "must be positive",
			})
		}
	}

	requirePositive("QUEUE_BACKOFF_BASE", cfg.QueueBackoffBaseStr)
	requirePositive("QUEUE_VISIBILITY_TIMEOUT", cfg.QueueVisibilityTimeoutStr)
	requirePositive("WORKER_POLL_INTERVAL", cfg.WorkerPollIntervalStr)
	requirePositive("REAPER_INTERVAL", cfg.ReaperIntervalStr)
	requirePositive("LEADER_LOCK_TTL", cfg.LeaderLockTTLStr)

	if len(errs) > 0 {
		return errs
	}
	return nil
}
