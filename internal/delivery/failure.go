package delivery

import (
	"context"
	"time"
)

const (
	FailureType    = "activity.delivery_failed"
	FailureVersion = "v1"
)

// Failure is the terminal-failure envelope sent to the failure channel. It
// carries the payload but never the job config, which holds credentials.
type Failure struct {
	Type         string         `json:"type"`    // "activity.delivery_failed"
	Version      string         `json:"version"` // schema version
	At           string         `json:"at"`      // RFC3339 time the failure was reported
	Reason       string         `json:"reason"`  // metric reason label, e.g. http_4xx
	Attempts     int            `json:"attempts"`
	HTTPStatus   int            `json:"http_status,omitempty"`
	ResponseBody string         `json:"response_body,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
	JobID        string         `json:"job_id"`
	Event        string         `json:"event"`
	Endpoint     string         `json:"endpoint"`
	EnqueuedAt   time.Time      `json:"enqueued_at"`
	Payload      map[string]any `json:"payload"`
}

// FailureReporter receives every permanently failed job exactly once.
type FailureReporter interface {
	Report(ctx context.Context, f Failure) error
}

// ReporterFunc adapts a function to FailureReporter.
type ReporterFunc func(ctx context.Context, f Failure) error

func (fn ReporterFunc) Report(ctx context.Context, f Failure) error { return fn(ctx, f) }

func NewFailure(j Job, res Result) Failure {
	f := Failure{
		Type:         FailureType,
		Version:      FailureVersion,
		At:           time.Now().UTC().Format(time.RFC3339Nano),
		Reason:       ClassifyReason(res.transportErr(), res.Status),
		Attempts:     res.Attempts,
		HTTPStatus:   res.Status,
		ResponseBody: res.Body,
		JobID:        j.ID,
		Event:        j.Event,
		Endpoint:     j.Config.Endpoint,
		EnqueuedAt:   j.EnqueuedAt,
		Payload:      j.Payload,
	}
	if res.Err != nil {
		f.LastError = res.Err.Error()
	}
	return f
}
