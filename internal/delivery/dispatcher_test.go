package delivery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/austindbirch/activitylogger/internal/logging"
)

type fakeEnqueuer struct {
	jobs []Job
	opts []EnqueueOptions
	err  error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, job Job, opts EnqueueOptions) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	f.opts = append(f.opts, opts)
	return nil
}

type fullErr struct{}

func (fullErr) Error() string  { return "lane full" }
func (fullErr) Reason() string { return "queue_full" }

func TestDispatch(t *testing.T) {
	otel.SetTracerProvider(sdktrace.NewTracerProvider())
	otel.SetTextMapPropagator(propagation.TraceContext{})

	q := &fakeEnqueuer{}
	core, _ := observer.New(zapcore.DebugLevel)
	d := NewDispatcher(q, logging.NewWithCore("test", core))

	cfg := testDelivery("https://collector.test")
	cfg.Queue.Connection = "nsq"
	cfg.Queue.Name = "audit"
	cfg.Queue.Delay = 30
	payload := map[string]any{"event": "auth.login", "user": map[string]any{"id": 1}}

	d.Dispatch(context.Background(), payload, cfg)

	if len(q.jobs) != 1 {
		t.Fatalf("enqueued %d jobs, want 1", len(q.jobs))
	}
	want := EnqueueOptions{Connection: "nsq", Queue: "audit", Delay: 30 * time.Second}
	if q.opts[0] != want {
		t.Errorf("options = %+v, want %+v", q.opts[0], want)
	}
	job := q.jobs[0]
	if job.Event != "auth.login" || job.Config.Endpoint != "https://collector.test" {
		t.Errorf("job = %+v", job)
	}
	if job.TraceHeaders["traceparent"] == "" {
		t.Errorf("trace headers = %v, want traceparent", job.TraceHeaders)
	}

	payload["user"].(map[string]any)["id"] = 2
	if job.Payload["user"].(map[string]any)["id"] != 1 {
		t.Error("dispatched job shares payload with caller")
	}
}

func TestDispatch_EnqueueFailureIsSwallowed(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "plain error", err: errors.New("broker down")},
		{name: "reasoned error", err: fmt.Errorf("enqueue: %w", fullErr{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			d := NewDispatcher(&fakeEnqueuer{err: tt.err}, logging.NewWithCore("test", core))

			d.Dispatch(context.Background(), map[string]any{"event": "x"}, testDelivery("https://collector.test"))

			if logs.FilterMessage("activity job enqueue failed").Len() != 1 {
				t.Errorf("expected enqueue failure log, got %v", logs.All())
			}
		})
	}
}

func TestOptionsFor(t *testing.T) {
	cfg := testDelivery("")
	cfg.Queue.Delay = -5
	if got := OptionsFor(cfg); got.Delay != 0 || got.Queue != "activity-logs" {
		t.Errorf("OptionsFor() = %+v", got)
	}
}
