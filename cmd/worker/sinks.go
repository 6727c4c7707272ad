package main

import (
	"context"
	"fmt"

	"github.com/austindbirch/activitylogger/internal/config"
	"github.com/austindbirch/activitylogger/internal/db"
	"github.com/austindbirch/activitylogger/internal/deadletter"
	"github.com/austindbirch/activitylogger/internal/delivery"
	"github.com/austindbirch/activitylogger/internal/health"
	"github.com/austindbirch/activitylogger/internal/logging"
	"github.com/austindbirch/activitylogger/internal/queue"
)

// buildSinks assembles the failure channel: always the log line, plus the
// Postgres store and the NSQ DLQ topic when enabled.
func buildSinks(ctx context.Context, cfg config.Config, logger *logging.Logger) (delivery.FailureReporter, map[string]health.Pinger, func(), error) {
	checks := map[string]health.Pinger{}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	sinks := []delivery.FailureReporter{deadletter.NewLogReporter(logger)}

	if cfg.DB.StoreFailures {
		pool, err := db.Connect(ctx, cfg.DSN())
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("db connect: %w", err)
		}
		cleanups = append(cleanups, pool.Close)
		store := deadletter.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		sinks = append(sinks, store)
		checks["database"] = pool
	}

	if cfg.NSQ.PublishDLQ {
		prod, err := queue.NewNSQProducer(cfg.NSQ.NsqdTCPAddr, logger)
		if err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		cleanups = append(cleanups, prod.Stop)
		sinks = append(sinks, deadletter.NewNSQPublisher(prod, cfg.NSQ.DLQTopic, logger))
		checks["nsq"] = health.PingFunc(func(context.Context) error { return prod.Ping() })
	}

	return deadletter.NewMulti(logger, sinks...), checks, cleanup, nil
}
