// Package middleware captures request context for activity events.
//
// Mount order: RequestID, Context, Authenticate, then RequestActivity, so the
// activity middleware sees the request snapshot and the principal.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/austindbirch/activitylogger/internal/activity"
	"github.com/austindbirch/activitylogger/internal/auth"
	"github.com/austindbirch/activitylogger/internal/enrich"
	"github.com/austindbirch/activitylogger/internal/logging"
)

// RequestID reuses the inbound X-Request-ID or generates a UUID, stores it on
// the context and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(enrich.RequestIDHeader)
		if id == "" {
			id = enrich.RequestIDFrom(r.Context())
		}
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(enrich.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(enrich.WithRequestID(r.Context(), id)))
	})
}

// Context attaches a snapshot of the request for the enricher.
func Context(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := enrich.WithRequest(r.Context(), enrich.FromHTTP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Resolver turns a bearer token into a principal. *auth.JWTValidator satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, token string) (enrich.Principal, error)
}

// Authenticate resolves an optional bearer token. Requests without one pass
// through anonymously; an invalid token is rejected with 401.
func Authenticate(resolver Resolver, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.BearerToken(r)
			if errors.Is(err, auth.ErrMissingToken) {
				next.ServeHTTP(w, r)
				return
			}
			var p enrich.Principal
			if err == nil {
				p, err = resolver.Resolve(r.Context(), token)
			}
			if err != nil {
				logger.WithContext(r.Context()).
					WithField("request_id", enrich.RequestIDFrom(r.Context())).
					WithError(err).
					Warn("token validation failed")
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(enrich.WithPrincipal(r.Context(), p)))
		})
	}
}

// Handler receives request activity. *activity.Listener satisfies it.
type Handler interface {
	Handle(ctx context.Context, src activity.Source) error
}

// RequestActivity emits a RequestCompleted once the wrapped handler returns.
// The response is passed through untouched.
func RequestActivity(h Handler, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			id := r.Header.Get(enrich.RequestIDHeader)
			if id == "" {
				id = enrich.RequestIDFrom(ctx)
			}
			if id == "" {
				id = uuid.NewString()
				ctx = enrich.WithRequestID(ctx, id)
				r = r.WithContext(ctx)
			}

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			elapsed := time.Since(start)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			err := h.Handle(ctx, activity.RequestCompleted{
				RequestID: id,
				Status:    status,
				Duration:  elapsed,
				Route:     routePattern(r),
			})
			if err != nil {
				logger.WithContext(ctx).WithError(err).Warn("request activity not logged")
			}
		})
	}
}

// routePattern returns the matched chi route, or "" outside a chi router.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
