package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// TransportError reports a completion request that failed at the network
// or HTTP layer. Err is the last underlying failure, unmodified.
type TransportError struct {
	Attempts   int
	StatusCode int
	Err        error
}

func (err *TransportError) Error() string {
	if err.StatusCode > 0 {
		return fmt.Sprintf("transport failed after %d attempt(s) (status %d): %v", err.Attempts, err.StatusCode, err.Err)
	}
	return fmt.Sprintf("transport failed after %d attempt(s): %v", err.Attempts, err.Err)
}

func (err *TransportError) Unwrap() error {
	return err.Err
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (err *StatusError) Error() string {
	body := strings.TrimSpace(err.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	if body == "" {
		return fmt.Sprintf("http %d %s", err.StatusCode, http.StatusText(err.StatusCode))
	}
	return fmt.Sprintf("http %d %s: %s", err.StatusCode, http.StatusText(err.StatusCode), body)
}

// ParseError reports a response body that is malformed or misses required
// fields. Retrying does not help.
type ParseError struct {
	Field string
	Err   error
}

func (err *ParseError) Error() string {
	if err.Field == "" {
		return fmt.Sprintf("parse response: %v", err.Err)
	}
	return fmt.Sprintf("parse response: %s: %v", err.Field, err.Err)
}

func (err *ParseError) Unwrap() error {
	return err.Err
}

// ConfigurationError is raised before any network call when an option or
// option combination is invalid.
type ConfigurationError struct {
	Option string
	Reason string
}

func (err *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", err.Option, err.Reason)
}

func configErrorf(option, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Option: option, Reason: fmt.Sprintf(format, args...)}
}

func parseErrorf(field, format string, args ...any) *ParseError {
	return &ParseError{Field: field, Err: fmt.Errorf(format, args...)}
}

func RetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}

// IsRetryable reports whether err is a transient condition worth another
// attempt. Caller cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return RetryableStatus(statusErr.StatusCode)
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return false
	}
	var configErr *ConfigurationError
	return !errors.As(err, &configErr)
}
