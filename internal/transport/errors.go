// Package transport implements the shared request/response pipeline between
// the client and the transfer gateway: key-casing normalization, identity
// extraction, error classification, and the single session-refresh retry.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// StatusError is an HTTP error response from the gateway. The pipeline
// classifies it (see classify in client.go) but always propagates it, so
// callers can implement local handling such as inline form errors.
type StatusError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("request to %s failed: status %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("request to %s failed: status %d: %s", e.Path, e.StatusCode, e.Body)
}

// NetworkError is a transport-level failure: no response was received at all.
type NetworkError struct {
	Path string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsCancellation reports whether err stems from the caller's cancellation
// signal. Cancellations are never surfaced as notifications: the caller knows
// it cancelled and must be able to tell that apart from a genuine failure.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// StatusCode extracts the HTTP status from an error returned by the pipeline.
func StatusCode(err error) (int, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode, true
	}
	return 0, false
}
