package talk

import (
	"errors"
	"fmt"
)

var (
	// ErrNotModified means the server had nothing newer than the cursor.
	ErrNotModified = errors.New("not modified")
	// ErrUnauthorized means the session credentials were rejected.
	ErrUnauthorized = errors.New("unauthorized")
)

// TransientError wraps transport and protocol failures that are expected to
// go away on retry: connection resets, truncated bodies, 5xx responses.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err carries a TransientError.
func IsTransient(err error) bool {
	var te *TransientError

	return errors.As(err, &te)
}

// ValidationError reports a server payload that lacks a required field.
type ValidationError struct {
	Kind  string
	Field string
	Index int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s at index %d: missing %s", e.Kind, e.Index, e.Field)
}

// StatusError is a non-retryable unexpected HTTP status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}

	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}
