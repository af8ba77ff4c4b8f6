package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Common errors returned by the transport.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass is the classification of a failed backend request. Every
// failure maps to exactly one class.
type ErrorClass string

const (
	// ErrorClassNetwork represents connection-level failures (refused,
	// reset, DNS).
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassTimeout represents deadline or socket timeout failures.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassAuth represents 401/403 responses.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassRateLimited represents 429 responses.
	ErrorClassRateLimited ErrorClass = "rate_limited"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassValidation represents the remaining 4xx responses.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassClient represents failures that fit no other class.
	ErrorClassClient ErrorClass = "client"
)

// Error is a classified backend failure.
type Error struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Time       time.Time

	// Body holds the backend reply body for non-retryable statuses so
	// callers can surface validation details. Empty otherwise.
	Body []byte

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("backend %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure class is safe to retry
// automatically.
func (e *Error) Retryable() bool {
	return retryable(e.Class)
}

func newError(status int, class ErrorClass, message string, cause error) *Error {
	return &Error{
		StatusCode: status,
		Class:      class,
		Message:    message,
		Time:       time.Now(),
		Err:        cause,
	}
}

// Classify maps a failed request to its error class. err is the transport
// error for requests that produced no response; status is the HTTP status
// otherwise.
func Classify(status int, err error) ErrorClass {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrorClassTimeout
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return ErrorClassTimeout
		}
		return ErrorClassNetwork
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorClassAuth
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimited
	case status >= 500:
		return ErrorClassServer
	case status >= 400:
		return ErrorClassValidation
	default:
		return ErrorClassClient
	}
}

// ClassOf extracts the error class from err, walking the wrap chain.
// Unclassified errors report ErrorClassClient.
func ClassOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassClient
}

// retryable determines if an error class should be retried.
func retryable(class ErrorClass) bool {
	switch class {
	case ErrorClassNetwork:
		// Connection failures are usually transient
		return true
	case ErrorClassTimeout:
		// Timeouts should be retried
		return true
	case ErrorClassRateLimited:
		// 429 backs off and retries
		return true
	case ErrorClassServer:
		// 5xx server errors should be retried
		return true
	default:
		// auth is handled by the refresh path, validation and client
		// errors would fail identically on retry
		return false
	}
}
