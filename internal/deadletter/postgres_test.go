package deadletter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	execs   []execCall
	execErr error
	rows    *fakeRows
	qErr    error
	qArgs   []any
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), f.execErr
}

func (f *fakeDB) Query(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
	f.qArgs = args
	if f.qErr != nil {
		return nil, f.qErr
	}
	return f.rows, nil
}

// fakeRows serves pre-built records through pgx.Rows.
type fakeRows struct {
	records []Record
	i       int
	closed  bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.i >= len(r.records) {
		return false
	}
	r.i++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	rec := r.records[r.i-1]
	*dest[0].(*int64) = rec.ID
	*dest[1].(*string) = rec.JobID
	*dest[2].(*string) = rec.Event
	*dest[3].(*string) = rec.Reason
	*dest[4].(*int) = rec.Attempts
	*dest[5].(*int) = rec.HTTPStatus
	*dest[6].(*string) = rec.ResponseBody
	*dest[7].(*string) = rec.LastError
	*dest[8].(*string) = rec.Endpoint
	*dest[9].(*time.Time) = rec.FailedAt
	return nil
}

func TestPostgresStore_Migrate(t *testing.T) {
	db := &fakeDB{}
	if err := NewPostgresStore(db).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if len(db.execs) != 1 || !strings.Contains(db.execs[0].sql, "activitylogger.failed_deliveries") {
		t.Errorf("migration sql = %+v", db.execs)
	}

	db.execErr = errors.New("permission denied")
	if err := NewPostgresStore(db).Migrate(context.Background()); err == nil {
		t.Error("expected migrate error")
	}
}

func TestPostgresStore_Report(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(f *failureArgs)
		wantStatus any
		wantLast   any
	}{
		{name: "remote rejection", wantStatus: 400, wantLast: nil},
		{
			name: "transport error",
			mutate: func(f *failureArgs) {
				f.status = 0
				f.lastErr = "dial tcp: connection refused"
			},
			wantStatus: nil,
			wantLast:   "dial tcp: connection refused",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa := failureArgs{status: 400}
			if tt.mutate != nil {
				tt.mutate(&fa)
			}
			f := testFailure()
			f.HTTPStatus = fa.status
			f.LastError = fa.lastErr

			db := &fakeDB{}
			if err := NewPostgresStore(db).Report(context.Background(), f); err != nil {
				t.Fatalf("Report() error = %v", err)
			}
			if len(db.execs) != 1 {
				t.Fatalf("exec calls = %d, want 1", len(db.execs))
			}
			args := db.execs[0].args
			if len(args) != 10 {
				t.Fatalf("args = %d, want 10", len(args))
			}
			if args[0] != "job-1" || args[2] != "http_4xx" {
				t.Errorf("job/reason args = %v / %v", args[0], args[2])
			}
			if args[4] != tt.wantStatus {
				t.Errorf("http_status arg = %v, want %v", args[4], tt.wantStatus)
			}
			if args[6] != tt.wantLast {
				t.Errorf("last_error arg = %v, want %v", args[6], tt.wantLast)
			}
			if !strings.Contains(args[8].(string), "***redacted***") {
				t.Errorf("payload arg = %v", args[8])
			}
		})
	}
}

type failureArgs struct {
	status  int
	lastErr string
}

func TestPostgresStore_List(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := &fakeRows{records: []Record{
		{ID: 2, JobID: "b", Reason: "http_5xx", Attempts: 3, HTTPStatus: 503, FailedAt: at},
		{ID: 1, JobID: "a", Reason: "timeout", Attempts: 3, LastError: "deadline", FailedAt: at.Add(-time.Hour)},
	}}
	db := &fakeDB{rows: rows}

	got, err := NewPostgresStore(db).List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 || got[0].JobID != "b" || got[1].LastError != "deadline" {
		t.Errorf("List() = %+v", got)
	}
	if db.qArgs[0] != 20 {
		t.Errorf("default limit = %v, want 20", db.qArgs[0])
	}
	if !rows.closed {
		t.Error("rows not closed")
	}

	db.qErr = errors.New("relation does not exist")
	if _, err := NewPostgresStore(db).List(context.Background(), 5); err == nil {
		t.Error("expected query error")
	}
}
