// Package retry classifies external call failures and retries transient ones with backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Category determines how a failure is handled by Do.
type Category int

const (
	// Transient failures are retried with exponential backoff.
	// Examples: timeouts, 408, 429, 5xx, connection resets.
	Transient Category = iota

	// Permanent failures stop immediately.
	// Examples: 400, 401, 403, 404, malformed oracle output.
	Permanent
)

// String returns a human-readable representation of the category.
func (c Category) String() string {
	switch c {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// ClassifiedError wraps an error with its retry category.
type ClassifiedError struct {
	Category   Category
	StatusCode int    // HTTP status code (0 for non-HTTP errors)
	Body       string // Response body for debugging
	Underlying error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] HTTP %d: %v", e.Category, e.StatusCode, e.Underlying)
	}
	return fmt.Sprintf("[%s] %v", e.Category, e.Underlying)
}

// Unwrap returns the underlying error for error chain compatibility.
func (e *ClassifiedError) Unwrap() error {
	return e.Underlying
}

// ClassifyHTTPStatus maps an HTTP failure to its retry category.
// 408 and 429 are transient, other 4xx are permanent, 5xx are transient.
func ClassifyHTTPStatus(statusCode int, body string, underlying error) *ClassifiedError {
	if underlying == nil {
		underlying = fmt.Errorf("HTTP %d", statusCode)
	}
	return &ClassifiedError{
		Category:   categoryForStatus(statusCode),
		StatusCode: statusCode,
		Body:       body,
		Underlying: underlying,
	}
}

func categoryForStatus(statusCode int) Category {
	switch {
	case statusCode == 408 || statusCode == 429:
		return Transient
	case statusCode >= 400 && statusCode < 500:
		return Permanent
	default:
		// 5xx and unexpected codes
		return Transient
	}
}

// NewNetworkError classifies a network-level failure as transient.
func NewNetworkError(operation string, err error) *ClassifiedError {
	return &ClassifiedError{
		Category:   Transient,
		Underlying: fmt.Errorf("%s network error: %w", operation, err),
	}
}

// MarkPermanent wraps err so Do will not retry it.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Category: Permanent, Underlying: err}
}

// IsTransient reports whether err should be retried.
// Unclassified errors are retried, except caller cancellation.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Category == Transient
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return true
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	return err != nil && !IsTransient(err)
}
