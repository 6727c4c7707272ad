package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/activitylogger/internal/activity"
	"github.com/austindbirch/activitylogger/internal/auth"
	"github.com/austindbirch/activitylogger/internal/config"
	"github.com/austindbirch/activitylogger/internal/enrich"
	"github.com/austindbirch/activitylogger/internal/health"
	"github.com/austindbirch/activitylogger/internal/logging"
	"github.com/austindbirch/activitylogger/internal/middleware"
)

const guard = "web"

type demoUser struct {
	ID       string
	Email    string
	Password string
}

// orderStore persists orders. Create goes through the model layer; Purge is
// a raw statement the query tracer reports on its own.
type orderStore interface {
	Create(ctx context.Context, item string, qty int) (int64, error)
	Purge(ctx context.Context, id int64) (bool, error)
}

type app struct {
	listener *activity.Listener
	resolver middleware.Resolver // nil disables bearer auth
	issuer   *auth.Issuer        // nil disables token issuing
	orders   orderStore
	features func() config.Features
	registry *prometheus.Registry
	checks   map[string]health.Pinger
	logger   *logging.Logger
	users    map[string]demoUser
}

func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Context)
	if a.resolver != nil {
		r.Use(middleware.Authenticate(a.resolver, a.logger))
	}
	if a.features().AutoloadMiddleware {
		r.Use(middleware.RequestActivity(a.listener, a.logger))
	}

	r.Get("/healthz", health.HTTPHandler(a.checks))
	if a.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	}
	r.Post("/login", a.handleLogin)
	r.Post("/logout", a.handleLogout)
	r.Post("/orders", a.handleCreateOrder)
	r.Delete("/orders/{id}", a.handlePurgeOrder)
	return r
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *app) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	u, ok := a.users[req.Email]
	if !ok || subtle.ConstantTimeCompare([]byte(u.Password), []byte(req.Password)) != 1 {
		a.emit(r.Context(), activity.Failed{
			Credentials: map[string]any{"email": req.Email, "password": req.Password},
			Guard:       guard,
		})
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	principal := &enrich.User{ID: u.ID, Type: "user", EmailAddr: u.Email}
	ctx := enrich.WithPrincipal(r.Context(), principal)
	a.emit(ctx, activity.Login{Principal: principal, Guard: guard})

	resp := map[string]any{"id": u.ID}
	if a.issuer != nil {
		token, err := a.issuer.Issue(u.ID, u.Email, "user", 0)
		if err != nil {
			a.logger.WithContext(ctx).WithError(err).Error("issue token failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token unavailable"})
			return
		}
		resp["token"] = token
		resp["token_type"] = "Bearer"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *app) handleLogout(w http.ResponseWriter, r *http.Request) {
	p := enrich.PrincipalFrom(r.Context())
	if p == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not signed in"})
		return
	}
	a.emit(r.Context(), activity.Logout{Principal: p, Guard: guard})
	w.WriteHeader(http.StatusNoContent)
}

type orderRequest struct {
	Item string `json:"item"`
	Qty  int    `json:"qty"`
}

func (a *app) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Item == "" || req.Qty < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "item and qty are required"})
		return
	}

	// The model event below describes this insert, so the tracer skips it.
	ctx := activity.WithModelQuery(r.Context())
	id, err := a.orders.Create(ctx, req.Item, req.Qty)
	if err != nil {
		a.logger.WithContext(ctx).WithError(err).Error("create order failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "create failed"})
		return
	}

	a.emit(r.Context(), activity.ModelCreated{
		Ref:        activity.ModelRef{Model: "Order", ID: id, Table: "orders"},
		Attributes: map[string]any{"id": id, "item": req.Item, "qty": req.Qty},
	})
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (a *app) handlePurgeOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	found, err := a.orders.Purge(r.Context(), id)
	if err != nil {
		a.logger.WithContext(r.Context()).WithError(err).Error("purge order failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "purge failed"})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) emit(ctx context.Context, src activity.Source) {
	if err := a.listener.Handle(ctx, src); err != nil {
		a.logger.WithContext(ctx).WithError(err).Warn("activity not logged")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// memoryOrders keeps orders in process when no database is configured.
type memoryOrders struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]string
}

func newMemoryOrders() *memoryOrders {
	return &memoryOrders{items: make(map[int64]string)}
}

func (m *memoryOrders) Create(_ context.Context, item string, _ int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.items[m.nextID] = item
	return m.nextID, nil
}

func (m *memoryOrders) Purge(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return false, nil
	}
	delete(m.items, id)
	return true, nil
}
