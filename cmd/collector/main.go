// Command collector is a fake activity collector for local runs and tests.
// It checks the configured auth, fails the first N requests and keeps the
// most recent events in memory.
package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/austindbirch/activitylogger/internal/config"
	"github.com/austindbirch/activitylogger/internal/logging"
)

const keepEvents = 100

type collector struct {
	cfg    config.Collector
	auth   config.Auth
	logger *logging.Logger

	mu       sync.Mutex
	count    int
	received []json.RawMessage
}

func newCollector(cfg config.Collector, auth config.Auth, logger *logging.Logger) *collector {
	if cfg.FailStatus == 0 {
		cfg.FailStatus = http.StatusInternalServerError
	}
	return &collector{cfg: cfg, auth: auth, logger: logger}
}

func (c *collector) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	r.Post("/ingest", c.handleIngest)
	r.Post("/", c.handleIngest)
	r.Get("/events", c.handleEvents)
	return r
}

func (c *collector) handleIngest(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	defer r.Body.Close()

	if !c.authorized(r) {
		c.logger.Plain().WithField("path", r.URL.Path).Warn("collector rejected credentials")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !json.Valid(b) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	c.count++
	n := c.count
	c.mu.Unlock()

	if c.cfg.ResponseDelayMS > 0 {
		time.Sleep(time.Duration(c.cfg.ResponseDelayMS) * time.Millisecond)
	}

	// Simulate flakiness: first N requests fail
	if n <= c.cfg.FailFirstN {
		c.logger.Plain().WithField("status", c.cfg.FailStatus).
			Infof("FAILING request %d of %d", n, c.cfg.FailFirstN)
		http.Error(w, "temporary failure", c.cfg.FailStatus)
		return
	}

	c.mu.Lock()
	c.received = append(c.received, json.RawMessage(b))
	if len(c.received) > keepEvents {
		c.received = c.received[len(c.received)-keepEvents:]
	}
	c.mu.Unlock()

	c.logger.Plain().WithFields(map[string]any{
		"request_id": r.Header.Get("X-Request-ID"),
		"body":       truncate(string(b), 160),
	}).Info("collector OK")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

func (c *collector) handleEvents(w http.ResponseWriter, _ *http.Request) {
	c.mu.Lock()
	out := append([]json.RawMessage(nil), c.received...)
	c.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// authorized checks the credentials the pipeline is configured to send.
func (c *collector) authorized(r *http.Request) bool {
	switch c.auth.Type {
	case config.AuthToken:
		if c.auth.Token == "" {
			return true
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		return subtle.ConstantTimeCompare([]byte(got), []byte(c.auth.Token)) == 1
	case config.AuthBasic:
		if c.auth.Username == "" || c.auth.Password == "" {
			return true
		}
		u, p, ok := r.BasicAuth()
		return ok && u == c.auth.Username && subtle.ConstantTimeCompare([]byte(p), []byte(c.auth.Password)) == 1
	default:
		return true
	}
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func main() {
	logger := logging.New("activitylogger-collector")
	defer logger.Sync()

	cfg, err := config.Load(os.Getenv("ACTIVITY_LOGGER_CONFIG"))
	if err != nil {
		logger.Plain().WithError(err).Fatal("load config failed")
	}

	c := newCollector(cfg.Collector, cfg.Delivery.Auth, logger)
	srv := &http.Server{Addr: cfg.Collector.Port, Handler: c.routes(), ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	go func() {
		logger.Plain().WithField("addr", srv.Addr).Info("collector listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Plain().WithError(err).Fatalf("collector server on %s failed", srv.Addr)
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
