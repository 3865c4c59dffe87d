package config

import (
	"fmt"
	"strings"

	"github.com/MatthiasKunnen/trlock/pkg/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.BlinkDelayMs < 0 {
		add("blink_delay_ms", "must not be negative, got %d", c.BlinkDelayMs)
	}
	if c.IdleTimeoutMs < 0 {
		add("idle_timeout_ms", "must not be negative, got %d", c.IdleTimeoutMs)
	}
	if c.Grab.Attempts < 1 {
		add("grab.attempts", "must be at least 1, got %d", c.Grab.Attempts)
	}
	if c.Grab.IntervalMs < 0 {
		add("grab.interval_ms", "must not be negative, got %d", c.Grab.IntervalMs)
	}
	if err := c.ThrottleSettings().Validate(); err != nil {
		add("throttle", "%v", err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log.level", "%v", err)
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		add("log.format", "%v", err)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
