// Command example-app is a small HTTP service wired to the activity logger.
// It logs auth, model, request and raw query events through the configured
// queue connection.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/austindbirch/activitylogger/internal/activity"
	"github.com/austindbirch/activitylogger/internal/auth"
	"github.com/austindbirch/activitylogger/internal/config"
	"github.com/austindbirch/activitylogger/internal/db"
	"github.com/austindbirch/activitylogger/internal/deadletter"
	"github.com/austindbirch/activitylogger/internal/delivery"
	"github.com/austindbirch/activitylogger/internal/health"
	"github.com/austindbirch/activitylogger/internal/logging"
	"github.com/austindbirch/activitylogger/internal/metrics"
	"github.com/austindbirch/activitylogger/internal/tracing"
)

const serviceName = "activitylogger-example-app"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	logger := logging.New(serviceName)
	defer logger.Sync()

	w, err := config.NewWatcher(os.Getenv("ACTIVITY_LOGGER_CONFIG"))
	if err != nil {
		logger.Plain().WithError(err).Fatal("load config failed")
	}
	w.OnError(func(err error) {
		logger.Plain().WithError(err).Warn("config reload rejected, keeping previous config")
	})
	w.OnChange(func(cfg config.Config) {
		logger.Plain().WithField("config", cfg.Delivery.Redacted()).Info("config reloaded")
	})
	w.Watch()

	shutdown, err := tracing.InitTracing(ctx, serviceName)
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdown()

	if err := run(ctx, w, logger); err != nil {
		logger.Plain().WithError(err).Fatal("example app failed")
	}
}

func run(ctx context.Context, w *config.Watcher, logger *logging.Logger) error {
	cfg := w.Current()
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	exec := delivery.NewExecutor(deadletter.NewLogReporter(logger), delivery.WithLogger(logger))
	qm, closeQueues, err := buildQueues(ctx, cfg, exec, logger)
	if err != nil {
		return err
	}

	features := func() config.Features { return w.Current().Features }
	al := activity.NewLogger(cfg.App, w.Delivery, delivery.NewDispatcher(qm, logger))
	listener := activity.NewListener(al, features)

	a := &app{
		listener: listener,
		orders:   newMemoryOrders(),
		features: features,
		registry: reg,
		checks:   map[string]health.Pinger{},
		logger:   logger,
		users:    demoUsers(),
	}

	if v, err := auth.FromConfig(cfg.JWT); err == nil {
		a.resolver = v
	} else if !errors.Is(err, auth.ErrNotConfigured) {
		return err
	}
	if cfg.JWT.Secret != "" {
		if a.issuer, err = auth.NewHMACIssuer(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience); err != nil {
			return err
		}
	}

	if os.Getenv("EXAMPLE_APP_DATABASE") != "" {
		pool, err := db.Connect(ctx, cfg.DSN(), db.WithTracer(activity.NewQueryTracer(listener, "pgsql", logger)))
		if err != nil {
			return err
		}
		defer pool.Close()
		orders := &pgOrders{pool: pool}
		if err := orders.Migrate(ctx); err != nil {
			return err
		}
		a.orders = orders
		a.checks["database"] = health.PingFunc(pool.Ping)
	}

	port := os.Getenv("EXAMPLE_APP_PORT")
	if port == "" {
		port = ":8080"
	}
	srv := &http.Server{Addr: port, Handler: a.routes(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Plain().WithField("addr", port).Info("example app listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Plain().WithError(err).Error("http server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	closeQueues(shutdownCtx)
	return nil
}

// demoUsers is the fixed account list the login route checks against.
func demoUsers() map[string]demoUser {
	pw := os.Getenv("EXAMPLE_APP_PASSWORD")
	if pw == "" {
		pw = "secret"
	}
	return map[string]demoUser{
		"ada@example.com": {ID: "1", Email: "ada@example.com", Password: pw},
	}
}
