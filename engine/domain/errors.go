package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for request validation and dependency failures.
var (
	ErrEmptyQuery         = errors.New("empty query")
	ErrEmptyText          = errors.New("empty text")
	ErrTopKOutOfRange     = errors.New("top_k out of range")
	ErrMinScoreOutOfRange = errors.New("min_score out of range")
	ErrEmptyAgentID       = errors.New("empty agent id")
	ErrEmptyAgentName     = errors.New("empty agent name")
	ErrAgentNotFound      = errors.New("agent not found")
	ErrUnavailable        = errors.New("dependency unavailable")
)

// ValidationError wraps a sentinel with the offending field and value.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// NotFoundError reports an agent id absent from the directory.
type NotFoundError struct {
	AgentID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("agent %q: %s", e.AgentID, ErrAgentNotFound)
}

func (e *NotFoundError) Unwrap() error { return ErrAgentNotFound }

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err means the referenced agent does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAgentNotFound)
}
