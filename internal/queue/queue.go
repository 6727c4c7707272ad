// Package queue schedules delivery jobs onto named connections and lanes.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/austindbirch/activitylogger/internal/delivery"
)

// DefaultLane is used when a job names no lane.
const DefaultLane = "activity-logs"

// Options routes one job. Zero values pick the default connection and lane.
type Options = delivery.EnqueueOptions

// Handler runs one job to completion.
type Handler func(ctx context.Context, job delivery.Job)

// Queue accepts jobs for at-least-once execution.
type Queue interface {
	Enqueue(ctx context.Context, job delivery.Job, opts Options) error
}

// Error is an enqueue failure carrying a metric reason label.
type Error struct {
	reason string
	err    error
}

func (e *Error) Error() string  { return e.err.Error() }
func (e *Error) Unwrap() error  { return e.err }
func (e *Error) Reason() string { return e.reason }

func newError(reason string, err error) error {
	return &Error{reason: reason, err: err}
}

var (
	ErrQueueFull         = errors.New("queue lane is full")
	ErrClosed            = errors.New("queue is closed")
	ErrUnknownConnection = errors.New("unknown queue connection")
)

// Manager routes jobs to named drivers by Options.Connection.
type Manager struct {
	mu      sync.RWMutex
	drivers map[string]Queue
	def     string
}

// NewManager creates a manager whose default connection is def.
func NewManager(def string) *Manager {
	return &Manager{drivers: make(map[string]Queue), def: def}
}

// Register adds or replaces the driver for a connection name.
func (m *Manager) Register(name string, q Queue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[name] = q
}

// Connection returns the driver registered under name.
func (m *Manager) Connection(name string) (Queue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.drivers[name]
	return q, ok
}

// Enqueue sends job to the driver named by opts.Connection, or the default.
func (m *Manager) Enqueue(ctx context.Context, job delivery.Job, opts Options) error {
	name := opts.Connection
	if name == "" {
		name = m.def
	}
	q, ok := m.Connection(name)
	if !ok {
		return newError("unknown_connection", fmt.Errorf("%w: %q", ErrUnknownConnection, name))
	}
	opts.Connection = name
	opts.Queue = LaneName(opts.Queue)
	return q.Enqueue(ctx, job, opts)
}

// LaneName maps a configured queue name to a topic/key-safe lane name:
// characters outside [.a-zA-Z0-9_-] become '-', at most 64 bytes.
func LaneName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultLane
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
		if b.Len() >= 64 {
			break
		}
	}
	out := b.String()
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}
