package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the resource changed underneath the caller.
	ErrConflict = errors.New("conflict")
)

// ValidationError reports invalid input detected before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NewValidation builds a ValidationError.
func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// DomainError reports a business-rule violation. The reason is meant for the
// end user; retrying the same call will fail again.
type DomainError struct {
	Reason string
}

func (e *DomainError) Error() string { return e.Reason }

// NewDomain builds a DomainError with a formatted reason.
func NewDomain(format string, args ...any) error {
	return &DomainError{Reason: fmt.Sprintf(format, args...)}
}

// IsDomain reports whether err is a domain-rule violation.
func IsDomain(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}

// RetryableError wraps transient failures (lock timeouts, serialization
// aborts). The operation left no visible side effects and may be retried.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return "retryable: " + e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable marks err as safe to retry.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is a transient failure.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// BulkError records a single failed item of a best-effort bulk operation.
type BulkError struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// BulkResult summarises a best-effort bulk operation.
type BulkResult struct {
	Succeeded int         `json:"succeeded"`
	Errors    []BulkError `json:"errors,omitempty"`
}

// Fail records a failed item.
func (r *BulkResult) Fail(id string, err error) {
	r.Errors = append(r.Errors, BulkError{ID: id, Reason: err.Error()})
}
