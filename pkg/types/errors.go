package types

import (
	"errors"
	"fmt"
)

// Domain errors for type validation
var (
	// Search result errors
	ErrInvalidChunkID        = errors.New("invalid chunk ID")
	ErrInvalidRank           = errors.New("rank must be >= 1")
	ErrInvalidRelevanceScore = errors.New("relevance score must be between 0 and 1")
	ErrMissingDocument       = errors.New("document is required")
	ErrEmptyContent          = errors.New("content cannot be empty")

	// Request errors
	ErrEmptyQuery          = errors.New("query cannot be empty")
	ErrUnknownResourceKind = errors.New("unknown resource kind")
)

// ConfigurationError reports a missing or invalid setting. Fatal at construction.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// NewConfigurationError builds a ConfigurationError
func NewConfigurationError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// EmbeddingError reports a malformed or partial embedding batch
type EmbeddingError struct {
	Reason string
	Err    error
}

func (e *EmbeddingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("embedding error: %s: %v", e.Reason, e.Err)
	}
	return "embedding error: " + e.Reason
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// NetworkErrorKind classifies a transport failure
type NetworkErrorKind string

const (
	NetworkTimeout    NetworkErrorKind = "timeout"
	NetworkConnection NetworkErrorKind = "connection"
	NetworkProtocol   NetworkErrorKind = "protocol"
)

// NetworkError is returned once the retry budget of a call is exhausted,
// or immediately for non-retryable failures
type NetworkError struct {
	Kind       NetworkErrorKind
	URL        string
	StatusCode int // Zero when no response was received
	Attempts   int
	Err        error
}

func (e *NetworkError) Error() string {
	msg := fmt.Sprintf("network %s error after %d attempt(s): %s", e.Kind, e.Attempts, e.URL)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IndexError reports a file that could not be read or chunked
type IndexError struct {
	Path string
	Err  error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index error: %s: %v", e.Path, e.Err)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

// SecurityViolation reports a path outside the workspace root.
// It is logged and the offending result dropped, never returned to callers.
type SecurityViolation struct {
	Path string
	Root string
}

func (e *SecurityViolation) Error() string {
	return fmt.Sprintf("security violation: %s escapes workspace %s", e.Path, e.Root)
}

// IsDegradable reports whether err allows a search to continue without vectors
func IsDegradable(err error) bool {
	var embErr *EmbeddingError
	var netErr *NetworkError
	return errors.As(err, &embErr) || errors.As(err, &netErr)
}
