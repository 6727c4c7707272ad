package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/austindbirch/activitylogger/internal/config"
	"github.com/austindbirch/activitylogger/internal/logging"
	"github.com/austindbirch/activitylogger/internal/metrics"
	"github.com/austindbirch/activitylogger/internal/tracing"
)

// EnqueueOptions routes a job to a connection and lane, optionally delayed.
type EnqueueOptions struct {
	Connection string
	Queue      string
	Delay      time.Duration
}

// Enqueuer is the queue abstraction the dispatcher hands jobs to.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job, opts EnqueueOptions) error
}

// Reasoner is implemented by queue errors that carry a metric label.
type Reasoner interface {
	Reason() string
}

// Dispatcher packages payloads into jobs and enqueues them.
type Dispatcher struct {
	q      Enqueuer
	logger *logging.Logger
}

func NewDispatcher(q Enqueuer, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{q: q, logger: logger}
}

// OptionsFor derives the enqueue routing from a delivery config.
func OptionsFor(cfg config.Delivery) EnqueueOptions {
	return EnqueueOptions{
		Connection: cfg.Queue.Connection,
		Queue:      cfg.Queue.Name,
		Delay:      cfg.Queue.DelayDuration(),
	}
}

// Dispatch snapshots payload and cfg into a job and enqueues it. Enqueue
// failures are logged and counted; they never reach the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, payload map[string]any, cfg config.Delivery) {
	job := NewJob(payload, cfg)
	opts := OptionsFor(cfg)

	ctx, span := tracing.StartSpan(ctx, tracing.SpanDispatch,
		tracing.AttrJobID.String(job.ID),
		tracing.AttrEvent.String(job.Event),
		tracing.AttrConnection.String(opts.Connection),
		tracing.AttrQueue.String(opts.Queue),
	)
	defer span.End()
	job.TraceHeaders = tracing.Inject(ctx)

	if err := d.q.Enqueue(ctx, job, opts); err != nil {
		reason := "enqueue_error"
		var r Reasoner
		if errors.As(err, &r) {
			reason = r.Reason()
		}
		tracing.SetSpanError(ctx, err)
		metrics.RecordEnqueueFailure(opts.Connection, reason)
		d.logger.WithContext(ctx).WithJob(job.ID).WithEvent(job.Event).
			WithLane(opts.Connection, opts.Queue).WithError(err).Error("activity job enqueue failed")
		return
	}
	metrics.RecordEnqueue(opts.Connection, opts.Queue)
	d.logger.WithContext(ctx).WithJob(job.ID).WithEvent(job.Event).
		WithLane(opts.Connection, opts.Queue).Debug("activity job enqueued")
}
