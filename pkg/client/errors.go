package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during a fetch or a wait.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of a failed page fetch.
type ErrorClass string

const (
	// ErrorClassRateLimit represents 429 Too Many Requests responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents connection failures and timeouts.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassMalformed represents a response body that is not a search page.
	ErrorClassMalformed ErrorClass = "malformed"
)

// Retryable reports whether failures of this class are transient.
func (c ErrorClass) Retryable() bool {
	return shouldRetry(c)
}

// FetchError is the terminal error returned by FetchPage once the retry
// policy gives up on a page.
type FetchError struct {
	Kind       ErrorClass
	StatusCode int
	Attempts   int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s error (status %d, attempts %d): %s: %v",
			e.Kind, e.StatusCode, e.Attempts, e.Message, e.Err)
	}
	return fmt.Sprintf("fetch %s error (status %d, attempts %d): %s",
		e.Kind, e.StatusCode, e.Attempts, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsMalformed reports whether err is a FetchError for an unparseable page.
func IsMalformed(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == ErrorClassMalformed
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassNetwork:
		return true
	case ErrorClassRateLimit:
		// 429 resets are time based; the policy waits a flat delay.
		return true
	case ErrorClassClient:
		// Same request will fail the same way.
		return false
	case ErrorClassMalformed:
		// Corrupt pages are skipped by the controller, not re-requested.
		return false
	default:
		return false
	}
}
