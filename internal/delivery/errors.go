package delivery

import (
	"errors"
	"fmt"
)

// ErrConfigurationMissing is reported when no endpoint is configured. It is
// logged, never surfaced to the code that triggered the event.
var ErrConfigurationMissing = errors.New("activity logger endpoint is not configured")

// TransportError is a network-level failure of one attempt.
type TransportError struct {
	Attempt int
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("attempt %d: transport: %v", e.Attempt, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteRejectedError is a non-2xx response.
type RemoteRejectedError struct {
	Attempt   int
	Status    int
	Body      string
	Retryable bool
}

func (e *RemoteRejectedError) Error() string {
	return fmt.Sprintf("attempt %d: remote rejected payload with status %d", e.Attempt, e.Status)
}

// PermanentFailureError marks a job that exhausted its attempts or hit a
// non-retryable response. Cause is the last TransportError or RemoteRejectedError.
type PermanentFailureError struct {
	Attempts int
	Cause    error
}

func (e *PermanentFailureError) Error() string {
	return fmt.Sprintf("delivery failed permanently after %d attempt(s): %v", e.Attempts, e.Cause)
}

func (e *PermanentFailureError) Unwrap() error { return e.Cause }
