package signal

import (
	"errors"
	"fmt"
)

// ErrorCategory is the machine-checkable classification of a reconciliation
// failure, recorded on Failed WorkItems alongside the human-readable reason.
type ErrorCategory string

const (
	// CategoryNotFound covers resources that vanished mid-reconciliation.
	// Treated as normal completion, never as a failure.
	CategoryNotFound ErrorCategory = "not-found"
	// CategoryTransient covers timeouts, rate limiting and temporary API
	// unavailability. Retried with backoff up to the retry budget.
	CategoryTransient ErrorCategory = "transient"
	// CategoryPolicy covers malformed policy sources and invalid evaluation
	// output. Never retried; retrying cannot help.
	CategoryPolicy ErrorCategory = "policy"
	// CategoryConflict covers optimistic-concurrency write conflicts.
	// Retried immediately from a fresh read, small bounded attempt count.
	CategoryConflict ErrorCategory = "conflict"
	// CategoryInternal covers everything else.
	CategoryInternal ErrorCategory = "internal"
)

// CategoryError attaches an ErrorCategory to an underlying error.
type CategoryError struct {
	Category ErrorCategory
	Reason   string
	Err      error
}

// NewCategoryError wraps err with a category and a human-readable reason.
func NewCategoryError(category ErrorCategory, err error, format string, args ...interface{}) *CategoryError {
	return &CategoryError{
		Category: category,
		Reason:   fmt.Sprintf(format, args...),
		Err:      err,
	}
}

// Error returns the error message.
func (e *CategoryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

// Unwrap returns the underlying error.
func (e *CategoryError) Unwrap() error {
	return e.Err
}

// CategoryOf returns the category of err, or CategoryInternal when err
// carries no category.
func CategoryOf(err error) ErrorCategory {
	var ce *CategoryError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return CategoryInternal
}

// IsRetryable reports whether err is worth retrying. Only transient
// infrastructure errors and write conflicts qualify.
func IsRetryable(err error) bool {
	switch CategoryOf(err) {
	case CategoryTransient, CategoryConflict:
		return true
	default:
		return false
	}
}
