package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/austindbirch/activitylogger/internal/delivery"
)

const schemaSQL = `
CREATE SCHEMA IF NOT EXISTS activitylogger;
CREATE TABLE IF NOT EXISTS activitylogger.failed_deliveries (
	id            BIGSERIAL PRIMARY KEY,
	job_id        TEXT NOT NULL,
	event         TEXT NOT NULL DEFAULT '',
	reason        TEXT NOT NULL,
	attempts      INT NOT NULL,
	http_status   INT,
	response_body TEXT,
	last_error    TEXT,
	endpoint      TEXT NOT NULL DEFAULT '',
	payload       JSONB NOT NULL,
	enqueued_at   TIMESTAMPTZ,
	failed_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS failed_deliveries_failed_at_idx
	ON activitylogger.failed_deliveries (failed_at DESC);
`

const insertSQL = `
INSERT INTO activitylogger.failed_deliveries
	(job_id, event, reason, attempts, http_status, response_body, last_error, endpoint, payload, enqueued_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)`

const listSQL = `
SELECT id, job_id, event, reason, attempts, COALESCE(http_status, 0), COALESCE(response_body, ''),
	COALESCE(last_error, ''), endpoint, failed_at
FROM activitylogger.failed_deliveries
ORDER BY failed_at DESC
LIMIT $1`

// DBTX is the part of pgxpool.Pool and pgx.Conn the store uses.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Record is one stored failure, as listed by operators.
type Record struct {
	ID           int64     `json:"id"`
	JobID        string    `json:"job_id"`
	Event        string    `json:"event"`
	Reason       string    `json:"reason"`
	Attempts     int       `json:"attempts"`
	HTTPStatus   int       `json:"http_status,omitempty"`
	ResponseBody string    `json:"response_body,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	Endpoint     string    `json:"endpoint"`
	FailedAt     time.Time `json:"failed_at"`
}

// PostgresStore persists failures to activitylogger.failed_deliveries.
type PostgresStore struct {
	db DBTX
}

func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the schema and table if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate failed_deliveries: %w", err)
	}
	return nil
}

func (s *PostgresStore) Report(ctx context.Context, f delivery.Failure) error {
	payload, err := json.Marshal(f.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	var enqueuedAt any
	if !f.EnqueuedAt.IsZero() {
		enqueuedAt = f.EnqueuedAt
	}
	_, err = s.db.Exec(ctx, insertSQL,
		f.JobID, f.Event, f.Reason, f.Attempts,
		nullInt(f.HTTPStatus), nullString(f.ResponseBody), nullString(f.LastError),
		f.Endpoint, string(payload), enqueuedAt,
	)
	if err != nil {
		return fmt.Errorf("insert failed delivery %s: %w", f.JobID, err)
	}
	return nil
}

// List returns the most recent failures, newest first.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, listSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed deliveries: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.JobID, &r.Event, &r.Reason, &r.Attempts, &r.HTTPStatus,
			&r.ResponseBody, &r.LastError, &r.Endpoint, &r.FailedAt); err != nil {
			return nil, fmt.Errorf("scan failed delivery: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list failed deliveries: %w", err)
	}
	return out, nil
}

func nullInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
