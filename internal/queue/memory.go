package queue

import (
	"context"
	"sync"
	"time"

	"github.com/austindbirch/activitylogger/internal/config"
	"github.com/austindbirch/activitylogger/internal/delivery"
	"github.com/austindbirch/activitylogger/internal/logging"
	"github.com/austindbirch/activitylogger/internal/metrics"
)

// lane is a fixed-size goroutine pool with a bounded input queue.
type lane struct {
	queue chan delivery.Job
	wg    sync.WaitGroup
}

func newLane(ctx context.Context, workers, capacity int, h Handler) *lane {
	l := &lane{queue: make(chan delivery.Job, capacity)}
	for i := 0; i < workers; i++ {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			for job := range l.queue {
				h(ctx, job)
			}
		}()
	}
	return l
}

// submit enqueues without blocking; false means the lane is full.
func (l *lane) submit(job delivery.Job) bool {
	select {
	case l.queue <- job:
		return true
	default:
		return false
	}
}

// Memory is an in-process queue: one worker pool per lane. Jobs are lost on
// process exit.
type Memory struct {
	ctx      context.Context
	handler  Handler
	workers  int
	capacity int
	logger   *logging.Logger

	mu      sync.Mutex
	lanes   map[string]*lane
	timers  map[*time.Timer]struct{}
	pending sync.WaitGroup
	closed  bool
}

// NewMemory creates a memory queue running workers goroutines per lane, each
// lane holding at most capacity waiting jobs.
func NewMemory(ctx context.Context, workers, capacity int, h Handler, logger *logging.Logger) *Memory {
	if workers < 1 {
		workers = 1
	}
	if capacity < 1 {
		capacity = 1
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Memory{
		ctx:      context.WithoutCancel(ctx),
		handler:  h,
		workers:  workers,
		capacity: capacity,
		logger:   logger,
		lanes:    make(map[string]*lane),
		timers:   make(map[*time.Timer]struct{}),
	}
}

func (m *Memory) Enqueue(_ context.Context, job delivery.Job, opts Options) error {
	name := LaneName(opts.Queue)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return newError("closed", ErrClosed)
	}
	l := m.laneLocked(name)

	if opts.Delay > 0 {
		m.pending.Add(1)
		var t *time.Timer
		t = time.AfterFunc(opts.Delay, func() {
			defer m.pending.Done()
			m.mu.Lock()
			delete(m.timers, t)
			closed := m.closed
			m.mu.Unlock()
			if closed {
				return
			}
			if !l.submit(job) {
				metrics.RecordEnqueueFailure(config.ConnectionMemory, "queue_full")
				m.logger.Plain().WithJob(job.ID).WithLane(config.ConnectionMemory, name).Error("delayed job dropped, lane full")
			}
			m.updateBacklog(name, l)
		})
		m.timers[t] = struct{}{}
		return nil
	}

	if !l.submit(job) {
		return newError("queue_full", ErrQueueFull)
	}
	m.updateBacklog(name, l)
	return nil
}

func (m *Memory) laneLocked(name string) *lane {
	l, ok := m.lanes[name]
	if !ok {
		l = newLane(m.ctx, m.workers, m.capacity, m.handler)
		m.lanes[name] = l
	}
	return l
}

func (m *Memory) updateBacklog(name string, l *lane) {
	metrics.UpdateLaneBacklog(config.ConnectionMemory, name, float64(len(l.queue)))
}

// Len returns the number of jobs waiting on a lane.
func (m *Memory) Len(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.lanes[LaneName(name)]; ok {
		return len(l.queue)
	}
	return 0
}

// Close stops accepting jobs, cancels pending delayed jobs and waits for
// queued jobs to finish or ctx to expire.
func (m *Memory) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for t := range m.timers {
		if t.Stop() {
			m.pending.Done()
		}
	}
	m.timers = nil
	lanes := make([]*lane, 0, len(m.lanes))
	for _, l := range m.lanes {
		lanes = append(lanes, l)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.pending.Wait()
		for _, l := range lanes {
			close(l.queue)
			l.wg.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
