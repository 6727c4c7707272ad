package delivery

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/austindbirch/activitylogger/internal/config"
)

// Job is one queued delivery. It owns a deep copy of the payload and of the
// delivery config as they were at dispatch time.
type Job struct {
	ID           string            `json:"id"`
	Event        string            `json:"event"`
	Payload      map[string]any    `json:"payload"`
	Config       config.Delivery   `json:"config"`
	EnqueuedAt   time.Time         `json:"enqueued_at"`
	TraceHeaders map[string]string `json:"trace_headers,omitempty"` // OTel trace propagation headers
}

// NewJob snapshots payload and cfg into a job with a fresh id.
func NewJob(payload map[string]any, cfg config.Delivery) Job {
	event, _ := payload["event"].(string)
	return Job{
		ID:         uuid.NewString(),
		Event:      event,
		Payload:    CopyPayload(payload),
		Config:     cfg.Clone(),
		EnqueuedAt: time.Now().UTC(),
	}
}

// Encode serializes the job for brokered queues.
func (j Job) Encode() ([]byte, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("encode job %s: %w", j.ID, err)
	}
	return b, nil
}

// DecodeJob parses a job produced by Encode.
func DecodeJob(b []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(b, &j); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if j.ID == "" {
		return Job{}, fmt.Errorf("decode job: missing id")
	}
	return j, nil
}

// CopyPayload deep-copies maps and slices; other values are copied by assignment.
func CopyPayload(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CopyPayload(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, m := range t {
			out[i] = CopyPayload(m)
		}
		return out
	default:
		return v
	}
}
