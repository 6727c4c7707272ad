package activity

import (
	"time"

	"github.com/austindbirch/activitylogger/internal/enrich"
)

// Source is an application occurrence the listener turns into an event.
// The set of implementations is closed to this package.
type Source interface {
	source()
}

// Login is a successful authentication.
type Login struct {
	Principal enrich.Principal
	Guard     string
}

// Failed is a rejected authentication attempt.
type Failed struct {
	Credentials map[string]any
	Guard       string
}

// Logout ends an authenticated session.
type Logout struct {
	Principal enrich.Principal
	Guard     string
}

// ModelRef identifies a mutated record. Extra is merged last into the event meta.
type ModelRef struct {
	Model string
	ID    any
	Table string
	Extra map[string]any
}

func (m ModelRef) meta() map[string]any {
	return map[string]any{"model": m.Model, "id": m.ID, "table": m.Table}
}

type ModelCreated struct {
	Ref        ModelRef
	Attributes map[string]any
}

type ModelUpdated struct {
	Ref      ModelRef
	Original map[string]any
	Changes  map[string]any
}

type ModelDeleted struct {
	Ref      ModelRef
	Original map[string]any
}

type ModelRestored struct {
	Ref        ModelRef
	Attributes map[string]any
}

type ModelForceDeleted struct {
	Ref      ModelRef
	Original map[string]any
}

// RequestCompleted is emitted once the response status is known.
type RequestCompleted struct {
	RequestID  string
	Status     int
	Duration   time.Duration
	Route      string
	Controller string
}

// QueryMutation is a raw statement executed outside the model layer.
type QueryMutation struct {
	SQL        string
	Bindings   []any
	Connection string
	Duration   time.Duration
	// FromModel marks statements issued by model persistence, which already
	// produce model events.
	FromModel bool
}

func (Login) source()             {}
func (Failed) source()            {}
func (Logout) source()            {}
func (ModelCreated) source()      {}
func (ModelUpdated) source()      {}
func (ModelDeleted) source()      {}
func (ModelRestored) source()     {}
func (ModelForceDeleted) source() {}
func (RequestCompleted) source()  {}
func (QueryMutation) source()     {}
