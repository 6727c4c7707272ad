package queue

import (
	"context"

	"github.com/austindbirch/activitylogger/internal/delivery"
)

// Sync runs each job inline on the enqueuing goroutine. Delay is ignored.
// Intended for the CLI and tests, where blocking the caller is acceptable.
type Sync struct {
	handler Handler
}

func NewSync(h Handler) *Sync {
	return &Sync{handler: h}
}

func (s *Sync) Enqueue(ctx context.Context, job delivery.Job, _ Options) error {
	s.handler(context.WithoutCancel(ctx), job)
	return nil
}
