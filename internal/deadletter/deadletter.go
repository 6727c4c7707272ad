// Package deadletter holds the sinks a permanently failed delivery is reported to.
package deadletter

import (
	"context"

	"github.com/austindbirch/activitylogger/internal/delivery"
	"github.com/austindbirch/activitylogger/internal/logging"
)

// LogReporter writes one operator-facing error line per failure.
type LogReporter struct {
	logger *logging.Logger
}

func NewLogReporter(logger *logging.Logger) *LogReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Report(ctx context.Context, f delivery.Failure) error {
	r.logger.WithContext(ctx).
		WithJob(f.JobID).
		WithEvent(f.Event).
		WithFields(map[string]any{
			"reason":        f.Reason,
			"attempts":      f.Attempts,
			"http_status":   f.HTTPStatus,
			"response_body": f.ResponseBody,
			"last_error":    f.LastError,
			"endpoint":      f.Endpoint,
			"payload":       f.Payload,
		}).
		Error("activity delivery permanently failed")
	return nil
}

// Multi fans a failure out to every sink. Sink errors are logged and never
// returned, so one broken sink cannot hide the failure from the others.
type Multi struct {
	sinks  []delivery.FailureReporter
	logger *logging.Logger
}

func NewMulti(logger *logging.Logger, sinks ...delivery.FailureReporter) *Multi {
	if logger == nil {
		logger = logging.Default()
	}
	out := make([]delivery.FailureReporter, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Multi{sinks: out, logger: logger}
}

func (m *Multi) Report(ctx context.Context, f delivery.Failure) error {
	for _, s := range m.sinks {
		if err := s.Report(ctx, f); err != nil {
			m.logger.WithContext(ctx).WithJob(f.JobID).WithError(err).Error("failure sink failed")
		}
	}
	return nil
}

// Len returns the number of configured sinks.
func (m *Multi) Len() int { return len(m.sinks) }
