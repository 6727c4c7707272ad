package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

type Status struct {
	OK      bool            `json:"ok"`
	Message string          `json:"message,omitempty"`
	Checks  map[string]bool `json:"checks,omitempty"`
}

// Pinger is a dependency that can report liveness. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HTTPHandler reports the status of every named dependency. Any failing
// check turns the response into a 503.
func HTTPHandler(checks map[string]Pinger) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name, p := range checks {
		if p != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok"}
		if len(names) > 0 {
			st.Checks = make(map[string]bool, len(names))
		}
		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
			err := checks[name].Ping(ctx)
			cancel()
			st.Checks[name] = err == nil
			if err != nil && st.OK {
				st.OK = false
				st.Message = name + " ping failed"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if !st.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	}
}
