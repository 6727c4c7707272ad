package activity

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/austindbirch/activitylogger/internal/logging"
)

type modelQueryKey struct{}

type queryStartKey struct{}

type queryStart struct {
	sql  string
	args []any
	at   time.Time
}

// WithModelQuery marks statements run under ctx as issued by model
// persistence so the tracer does not log them twice.
func WithModelQuery(ctx context.Context) context.Context {
	return context.WithValue(ctx, modelQueryKey{}, true)
}

func IsModelQuery(ctx context.Context) bool {
	v, _ := ctx.Value(modelQueryKey{}).(bool)
	return v
}

// QueryTracer is a pgx.QueryTracer that reports raw INSERT, UPDATE and
// DELETE statements to a Listener once they succeed.
type QueryTracer struct {
	listener   *Listener
	connection string
	now        func() time.Time
	logger     *logging.Logger
}

var _ pgx.QueryTracer = (*QueryTracer)(nil)

func NewQueryTracer(l *Listener, connection string, logger *logging.Logger) *QueryTracer {
	if logger == nil {
		logger = logging.Default()
	}
	return &QueryTracer{listener: l, connection: connection, now: time.Now, logger: logger}
}

func (t *QueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	if ClassifyStatement(data.SQL) == "" {
		return ctx
	}
	return context.WithValue(ctx, queryStartKey{}, queryStart{sql: data.SQL, args: data.Args, at: t.now()})
}

func (t *QueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok || data.Err != nil {
		return
	}
	err := t.listener.Handle(ctx, QueryMutation{
		SQL:        start.sql,
		Bindings:   start.args,
		Connection: t.connection,
		Duration:   t.now().Sub(start.at),
		FromModel:  IsModelQuery(ctx),
	})
	if err != nil {
		t.logger.WithContext(ctx).WithError(err).Warn("query activity not logged")
	}
}
