package activity

import (
	"context"
	"time"

	"github.com/austindbirch/activitylogger/internal/config"
	"github.com/austindbirch/activitylogger/internal/enrich"
	"github.com/austindbirch/activitylogger/internal/scrub"
)

// Assembler builds events from a name and caller fields.
type Assembler struct {
	App   config.App
	Scrub scrub.Scrubber
	Clock func() time.Time
}

// Assemble builds the base record (event, timestamp, app, context), merges
// fields over it, scrubs the result, and drops top-level nil and "" values.
// Nested values are left as scrubbed.
func (a Assembler) Assemble(ctx context.Context, name string, fields map[string]any) Event {
	now := time.Now
	if a.Clock != nil {
		now = a.Clock
	}

	record := map[string]any{
		"event":     name,
		"timestamp": now().UTC().Format(TimestampLayout),
		"app": map[string]any{
			"name": a.App.Name,
			"env":  a.App.Env,
			"url":  a.App.URL,
		},
		"context": enrich.FromContext(ctx),
	}
	for k, v := range fields {
		record[k] = v
	}

	record = a.Scrub.Apply(record)

	out := make(Event, len(record))
	for k, v := range record {
		if isBlank(v) {
			continue
		}
		out[k] = v
	}
	return out
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}
