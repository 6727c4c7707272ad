package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/austindbirch/activitylogger/internal/config"
	"github.com/austindbirch/activitylogger/internal/delivery"
	"github.com/austindbirch/activitylogger/internal/logging"
)

type publish struct {
	topic string
	delay time.Duration
	body  []byte
}

type fakePublisher struct {
	calls []publish
	err   error
}

func (f *fakePublisher) Publish(topic string, body []byte) error {
	f.calls = append(f.calls, publish{topic: topic, body: body})
	return f.err
}

func (f *fakePublisher) DeferredPublish(topic string, delay time.Duration, body []byte) error {
	f.calls = append(f.calls, publish{topic: topic, delay: delay, body: body})
	return f.err
}

func TestNSQ_Enqueue(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		wantTopic string
		wantDelay time.Duration
	}{
		{"immediate default lane", Options{}, DefaultLane, 0},
		{"named lane", Options{Queue: "audit"}, "audit", 0},
		{"deferred", Options{Queue: "audit", Delay: 5 * time.Second}, "audit", 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePublisher{}
			job := testJob("auth.login")
			if err := NewNSQ(p).Enqueue(context.Background(), job, tt.opts); err != nil {
				t.Fatalf("Enqueue() error = %v", err)
			}
			if len(p.calls) != 1 {
				t.Fatalf("publish calls = %d, want 1", len(p.calls))
			}
			got := p.calls[0]
			if got.topic != tt.wantTopic || got.delay != tt.wantDelay {
				t.Errorf("published to %q delay %v, want %q delay %v", got.topic, got.delay, tt.wantTopic, tt.wantDelay)
			}
			decoded, err := delivery.DecodeJob(got.body)
			if err != nil {
				t.Fatalf("DecodeJob() error = %v", err)
			}
			if decoded.ID != job.ID {
				t.Errorf("decoded ID = %q, want %q", decoded.ID, job.ID)
			}
		})
	}
}

func TestNSQ_EnqueueError(t *testing.T) {
	p := &fakePublisher{err: errors.New("connection refused")}
	err := NewNSQ(p).Enqueue(context.Background(), testJob("x"), Options{})
	var qe *Error
	if !errors.As(err, &qe) || qe.Reason() != "broker_unavailable" {
		t.Fatalf("Enqueue() error = %v, want broker_unavailable", err)
	}
}

type fakeDelegate struct {
	mu       sync.Mutex
	finished int
	requeued int
	touched  int
}

func (d *fakeDelegate) OnFinish(*nsq.Message) {
	d.mu.Lock()
	d.finished++
	d.mu.Unlock()
}

func (d *fakeDelegate) OnRequeue(*nsq.Message, time.Duration, bool) {
	d.mu.Lock()
	d.requeued++
	d.mu.Unlock()
}

func (d *fakeDelegate) OnTouch(*nsq.Message) {
	d.mu.Lock()
	d.touched++
	d.mu.Unlock()
}

func newMessage(body []byte, d *fakeDelegate) *nsq.Message {
	var id nsq.MessageID
	copy(id[:], "0123456789abcdef")
	m := nsq.NewMessage(id, body)
	m.Delegate = d
	return m
}

func TestNSQConsumer_Handle(t *testing.T) {
	job := testJob("auth.login")
	body, err := job.Encode()
	if err != nil {
		t.Fatal(err)
	}

	var handled []string
	c, err := NewNSQConsumer(config.NSQ{}, "audit", 1, func(_ context.Context, j delivery.Job) {
		handled = append(handled, j.ID)
		time.Sleep(60 * time.Millisecond)
	}, quietLogger())
	if err != nil {
		t.Fatalf("NewNSQConsumer() error = %v", err)
	}
	c.touchInterval = 10 * time.Millisecond

	d := &fakeDelegate{}
	if err := c.handle(newMessage(body, d)); err != nil {
		t.Fatalf("handle() error = %v", err)
	}
	if len(handled) != 1 || handled[0] != job.ID {
		t.Errorf("handled = %v", handled)
	}
	if d.finished != 1 || d.requeued != 0 {
		t.Errorf("finished=%d requeued=%d, want 1/0", d.finished, d.requeued)
	}
	if d.touched == 0 {
		t.Error("expected heartbeat touches during a long handler")
	}
}

func TestNSQConsumer_BadPayload(t *testing.T) {
	called := false
	c, err := NewNSQConsumer(config.NSQ{}, "audit", 1, func(context.Context, delivery.Job) {
		called = true
	}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	d := &fakeDelegate{}
	if err := c.handle(newMessage([]byte("not json"), d)); err != nil {
		t.Fatalf("handle() error = %v", err)
	}
	if called {
		t.Error("handler should not run for a bad payload")
	}
	if d.finished != 1 {
		t.Errorf("finished = %d, want 1", d.finished)
	}
}

func TestNSQLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := nsqLogger{logging.NewWithCore("test", core)}

	_ = l.Output(2, "ERR    1 (127.0.0.1:4150) IO error")
	_ = l.Output(2, "WRN    1 backing off")
	_ = l.Output(2, "INF    1 connecting")

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	want := []zapcore.Level{zapcore.ErrorLevel, zapcore.WarnLevel, zapcore.DebugLevel}
	for i, e := range entries {
		if e.Level != want[i] {
			t.Errorf("entry %d level = %v, want %v", i, e.Level, want[i])
		}
	}
}
