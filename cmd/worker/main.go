package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/activitylogger/internal/config"
	"github.com/austindbirch/activitylogger/internal/delivery"
	"github.com/austindbirch/activitylogger/internal/health"
	"github.com/austindbirch/activitylogger/internal/logging"
	"github.com/austindbirch/activitylogger/internal/metrics"
	"github.com/austindbirch/activitylogger/internal/queue"
	"github.com/austindbirch/activitylogger/internal/tracing"
)

const serviceName = "activitylogger-worker"

// consumer is a running queue consumer.
type consumer interface {
	Stop()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	logger := logging.New(serviceName)
	defer logger.Sync()

	cfg, err := config.Load(os.Getenv("ACTIVITY_LOGGER_CONFIG"))
	if err != nil {
		logger.Plain().WithError(err).Fatal("load config failed")
	}

	shutdown, err := tracing.InitTracing(ctx, serviceName)
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdown()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Plain().WithError(err).Fatal("worker failed")
	}
}

func run(ctx context.Context, cfg config.Config, logger *logging.Logger) error {
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	sinks, checks, cleanup, err := buildSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	exec := delivery.NewExecutor(sinks, delivery.WithLogger(logger))
	handle := func(ctx context.Context, job delivery.Job) {
		res := exec.Execute(ctx, job)
		logger.WithContext(ctx).WithJob(job.ID).WithEvent(job.Event).
			WithField("outcome", res.Outcome.String()).
			WithField("attempts", res.Attempts).
			Debug("job finished")
	}

	c, err := startConsumer(ctx, cfg, handle, checks, logger)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", health.HTTPHandler(checks))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.Worker.HTTPPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Plain().WithError(err).Errorf("worker HTTP server on %s failed", httpSrv.Addr)
		}
	}()

	logger.Plain().WithLane(cfg.Delivery.Queue.Connection, queue.LaneName(cfg.Delivery.Queue.Name)).
		Info("worker service started")
	<-ctx.Done()

	logger.Plain().Info("Shutting down worker service")
	c.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("worker service stopped")
	return nil
}

func startConsumer(ctx context.Context, cfg config.Config, h queue.Handler, checks map[string]health.Pinger, logger *logging.Logger) (consumer, error) {
	lane := queue.LaneName(cfg.Delivery.Queue.Name)
	switch cfg.Delivery.Queue.Connection {
	case config.ConnectionNSQ:
		c, err := queue.NewNSQConsumer(cfg.NSQ, lane, cfg.Worker.Concurrency, h, logger)
		if err != nil {
			return nil, err
		}
		if err := c.Connect(cfg.NSQ); err != nil {
			return nil, err
		}
		startBacklogMonitor(ctx, cfg.NSQ, lane, 15*time.Second, logger)
		return c, nil

	case config.ConnectionRedis:
		rdb, err := queue.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		checks["redis"] = health.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		c := queue.NewRedisConsumer(queue.NewRedis(rdb, cfg.Redis.Prefix), lane, cfg.Worker.Concurrency, h, logger)
		c.Start(ctx)
		return stopFunc(func() {
			c.Stop()
			_ = rdb.Close()
		}), nil

	default:
		return nil, fmt.Errorf("worker needs a broker connection (nsq or redis), got %q", cfg.Delivery.Queue.Connection)
	}
}

type stopFunc func()

func (f stopFunc) Stop() { f() }
