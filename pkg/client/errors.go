package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of upstream failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents connection and timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassPayload represents a 200 response whose body is not a usable page.
	ErrorClassPayload ErrorClass = "payload"
)

// TransientNetworkError is a failure worth retrying: network trouble, 5xx,
// 429, or a malformed page payload.
type TransientNetworkError struct {
	Op         string
	URL        string
	StatusCode int
	Class      ErrorClass
	Err        error
}

// Error implements the error interface.
func (e *TransientNetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s error (status %d): %v", e.Op, e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s error (status %d)", e.Op, e.Class, e.StatusCode)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransientNetworkError) Unwrap() error {
	return e.Err
}

// StatusError is a non-retryable HTTP response (4xx other than 429).
type StatusError struct {
	Op         string
	URL        string
	StatusCode int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s error (status %d): %s", e.Op, ErrorClassClient, e.StatusCode, e.URL)
}

// DetailFetchError reports that the category of a listing could not be
// looked up. The listing itself is still usable.
type DetailFetchError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *DetailFetchError) Error() string {
	return fmt.Sprintf("detail fetch %s: %v", e.Path, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *DetailFetchError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err should be retried.
func IsRetryable(err error) bool {
	var transient *TransientNetworkError
	return errors.As(err, &transient)
}

// Classify returns the error class of err, or "" when err is not an upstream
// error.
func Classify(err error) ErrorClass {
	var transient *TransientNetworkError
	if errors.As(err, &transient) {
		return transient.Class
	}
	var status *StatusError
	if errors.As(err, &status) {
		return ErrorClassClient
	}
	return ""
}

// classifyStatus maps a non-2xx status code to an error class.
func classifyStatus(code int) ErrorClass {
	switch {
	case code == 429:
		return ErrorClassRateLimit
	case code >= 400 && code < 500:
		return ErrorClassClient
	case code >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}
