package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("validation error")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidBatchType     = errors.New("invalid batch type")
	ErrConfigNotFound       = errors.New("job config not found")
	ErrSchedulerUnavailable = errors.New("scheduler unavailable")
	ErrBatchTerminal        = errors.New("batch is in a terminal state")
)

// ConfigError reports a malformed job or schedule definition. It is scoped to
// a single job so sibling jobs keep scheduling.
type ConfigError struct {
	JobID  string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Field == "" {
		return fmt.Sprintf("job %q: %s", e.JobID, e.Reason)
	}
	return fmt.Sprintf("job %q: %s: %s", e.JobID, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrValidation }
