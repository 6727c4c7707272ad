package main

import (
	"context"

	"github.com/austindbirch/activitylogger/internal/config"
	"github.com/austindbirch/activitylogger/internal/delivery"
	"github.com/austindbirch/activitylogger/internal/logging"
	"github.com/austindbirch/activitylogger/internal/queue"
)

// buildQueues registers the in-process connections plus the configured
// broker. The returned func drains the memory queue and closes producers.
func buildQueues(ctx context.Context, cfg config.Config, exec *delivery.Executor, logger *logging.Logger) (*queue.Manager, func(context.Context), error) {
	handle := func(ctx context.Context, job delivery.Job) { exec.Execute(ctx, job) }

	m := queue.NewManager(cfg.Delivery.Queue.Connection)
	mem := queue.NewMemory(ctx, cfg.Worker.Concurrency, cfg.Worker.MemoryQueueSize, handle, logger)
	m.Register(config.ConnectionSync, queue.NewSync(handle))
	m.Register(config.ConnectionMemory, mem)

	closers := []func(){}
	switch cfg.Delivery.Queue.Connection {
	case config.ConnectionNSQ:
		prod, err := queue.NewNSQProducer(cfg.NSQ.NsqdTCPAddr, logger)
		if err != nil {
			return nil, nil, err
		}
		m.Register(config.ConnectionNSQ, queue.NewNSQ(prod))
		closers = append(closers, prod.Stop)
	case config.ConnectionRedis:
		rdb, err := queue.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		m.Register(config.ConnectionRedis, queue.NewRedis(rdb, cfg.Redis.Prefix))
		closers = append(closers, func() { _ = rdb.Close() })
	}

	return m, func(ctx context.Context) {
		if err := mem.Close(ctx); err != nil {
			logger.Plain().WithError(err).Warn("memory queue did not drain")
		}
		for _, c := range closers {
			c()
		}
	}, nil
}
