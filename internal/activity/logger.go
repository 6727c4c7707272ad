package activity

import (
	"context"
	"time"

	"github.com/austindbirch/activitylogger/internal/config"
	"github.com/austindbirch/activitylogger/internal/enrich"
	"github.com/austindbirch/activitylogger/internal/metrics"
	"github.com/austindbirch/activitylogger/internal/scrub"
)

// Provider returns the current delivery configuration. It is read on every
// call so a reload only affects events logged afterwards.
type Provider func() config.Delivery

// StaticProvider always returns cfg.
func StaticProvider(cfg config.Delivery) Provider {
	return func() config.Delivery { return cfg }
}

// Dispatcher hands an assembled event to the queue. *delivery.Dispatcher
// satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload map[string]any, cfg config.Delivery)
}

// Logger is the entry point applications log activity through.
type Logger struct {
	app        config.App
	provider   Provider
	dispatcher Dispatcher
	clock      func() time.Time
}

type LoggerOption func(*Logger)

// WithClock overrides the timestamp source.
func WithClock(clock func() time.Time) LoggerOption {
	return func(l *Logger) { l.clock = clock }
}

func NewLogger(app config.App, provider Provider, d Dispatcher, opts ...LoggerOption) *Logger {
	l := &Logger{app: app, provider: provider, dispatcher: d, clock: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the delivery snapshot the next event would use.
func (l *Logger) Config() config.Delivery {
	return l.provider()
}

// Log assembles event with fields and dispatches it. It does nothing when
// delivery is disabled.
func (l *Logger) Log(ctx context.Context, event string, fields map[string]any) {
	cfg := l.provider()
	if !cfg.Enabled {
		return
	}
	ev := l.assembler(cfg).Assemble(ctx, event, fields)
	metrics.RecordEventLogged(event)
	l.dispatcher.Dispatch(ctx, ev, cfg)
}

// Assemble builds the event Log would send without dispatching it. The
// second result is false when delivery is disabled.
func (l *Logger) Assemble(ctx context.Context, event string, fields map[string]any) (Event, bool) {
	cfg := l.provider()
	if !cfg.Enabled {
		return nil, false
	}
	return l.assembler(cfg).Assemble(ctx, event, fields), true
}

func (l *Logger) assembler(cfg config.Delivery) Assembler {
	return Assembler{App: l.app, Scrub: scrub.New(cfg.Scrub), Clock: l.clock}
}

// LogModelEvent logs event with meta, plus the current context, under "meta".
func (l *Logger) LogModelEvent(ctx context.Context, event string, meta map[string]any) {
	l.Log(ctx, event, map[string]any{"meta": WithContext(ctx, meta)})
}

// LogRequest logs a request_activity event. The request-scoped id is included
// unless meta sets one.
func (l *Logger) LogRequest(ctx context.Context, meta map[string]any) {
	merged := make(map[string]any, len(meta)+1)
	if id := enrich.RequestIDFrom(ctx); id != "" {
		merged["request_id"] = id
	}
	for k, v := range meta {
		merged[k] = v
	}
	l.Log(ctx, EventRequest, map[string]any{"meta": WithContext(ctx, merged)})
}

// WithContext returns meta with the current request context merged into
// meta["context"]. Nil values are dropped.
func WithContext(ctx context.Context, meta map[string]any) map[string]any {
	merged := make(map[string]any)
	if existing, ok := meta["context"].(map[string]any); ok {
		for k, v := range existing {
			merged[k] = v
		}
	}
	for k, v := range enrich.FromContext(ctx) {
		merged[k] = v
	}

	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		if v != nil {
			out[k] = v
		}
	}
	out["context"] = merged
	return out
}
