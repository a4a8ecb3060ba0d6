package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// TransportError wraps network-level failures (dial, timeout, reset).
// Always retryable.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("llm transport error: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// StatusError carries a non-200 HTTP status from the endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm endpoint returned %d: %s", e.Code, e.Body)
}

// IsRetryable classifies failures. Rate limits, server errors, and
// transport failures are transient; authorization and schema errors
// are permanent.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return false
}
