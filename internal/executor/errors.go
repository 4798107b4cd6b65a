package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ExecutionError is the failure of a single item execution. Transient
// failures are retried by the engine; all others fail the item immediately.
type ExecutionError struct {
	ItemID     string
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *ExecutionError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	b.WriteString("item execution failed")
	if e.ItemID != "" {
		fmt.Fprintf(&b, " (item %s)", e.ItemID)
	}
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, ": status=%d", e.StatusCode)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		b.WriteString(": " + msg)
	}
	if e.Cause != nil {
		b.WriteString(": " + e.Cause.Error())
	}
	return b.String()
}

func (e *ExecutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// statusError builds the error for a non-2xx execution response. Throttling
// and server errors are transient.
func statusError(itemID string, statusCode int, body string) *ExecutionError {
	return &ExecutionError{
		ItemID:     itemID,
		StatusCode: statusCode,
		Message:    executionErrorMessage(statusCode, body),
		Transient:  statusCode == http.StatusTooManyRequests || statusCode >= http.StatusInternalServerError,
	}
}

// IsTransient reports whether an item execution should be retried.
func IsTransient(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
