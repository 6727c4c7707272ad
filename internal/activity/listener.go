package activity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/austindbirch/activitylogger/internal/config"
	"github.com/austindbirch/activitylogger/internal/enrich"
)

var ErrUnknownEvent = errors.New("activity: unknown event source")

// credentialDenylist is always stripped from failed-login credentials.
var credentialDenylist = []string{"password", "password_confirmation", "current_password"}

// Listener maps each Source variant onto a logged event.
type Listener struct {
	logger   *Logger
	features func() config.Features
}

func NewListener(logger *Logger, features func() config.Features) *Listener {
	if features == nil {
		features = func() config.Features { return config.Features{LogAuthenticationEvents: true} }
	}
	return &Listener{logger: logger, features: features}
}

// Handle logs src. It only fails for a Source it does not know.
func (l *Listener) Handle(ctx context.Context, src Source) error {
	switch ev := src.(type) {
	case Login:
		l.login(ctx, ev)
	case Failed:
		l.failed(ctx, ev)
	case Logout:
		l.logout(ctx, ev)
	case ModelCreated:
		l.model(ctx, EventModelCreated, ev.Ref, map[string]any{"attributes": ev.Attributes})
	case ModelUpdated:
		l.model(ctx, EventModelUpdated, ev.Ref, map[string]any{"original": ev.Original, "changes": ev.Changes})
	case ModelDeleted:
		l.model(ctx, EventModelDeleted, ev.Ref, map[string]any{"original": ev.Original})
	case ModelRestored:
		l.model(ctx, EventModelRestored, ev.Ref, map[string]any{"attributes": ev.Attributes})
	case ModelForceDeleted:
		l.model(ctx, EventModelForceDeleted, ev.Ref, map[string]any{"original": ev.Original})
	case RequestCompleted:
		l.request(ctx, ev)
	case QueryMutation:
		l.query(ctx, ev)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, src)
	}
	return nil
}

func (l *Listener) authEnabled() bool {
	return l.features().LogAuthenticationEvents
}

func (l *Listener) login(ctx context.Context, ev Login) {
	if !l.authEnabled() {
		return
	}
	l.logger.Log(ctx, EventLogin, map[string]any{
		"user": userField(ev.Principal),
		"meta": requestMeta(ctx),
	})
}

func (l *Listener) failed(ctx context.Context, ev Failed) {
	if !l.authEnabled() {
		return
	}
	l.logger.Log(ctx, EventFailed, map[string]any{
		"credentials": sanitizeCredentials(ev.Credentials, l.logger.Config().Scrub.Denylist),
		"meta":        requestMeta(ctx),
		"guard":       ev.Guard,
	})
}

func (l *Listener) logout(ctx context.Context, ev Logout) {
	if !l.authEnabled() {
		return
	}
	l.logger.Log(ctx, EventLogout, map[string]any{
		"user":  userField(ev.Principal),
		"meta":  requestMeta(ctx),
		"guard": ev.Guard,
	})
}

func (l *Listener) model(ctx context.Context, event string, ref ModelRef, diff map[string]any) {
	meta := ref.meta()
	for k, v := range diff {
		meta[k] = v
	}
	for k, v := range ref.Extra {
		meta[k] = v
	}
	l.logger.LogModelEvent(ctx, event, meta)
}

func (l *Listener) request(ctx context.Context, ev RequestCompleted) {
	meta := map[string]any{
		"status":      ev.Status,
		"duration_ms": millis(ev.Duration),
	}
	if ev.RequestID != "" {
		meta["request_id"] = ev.RequestID
	}
	if ev.Route != "" {
		meta["route"] = ev.Route
	}
	if ev.Controller != "" {
		meta["controller"] = ev.Controller
	}
	l.logger.LogRequest(ctx, meta)
}

func (l *Listener) query(ctx context.Context, ev QueryMutation) {
	op := ClassifyStatement(ev.SQL)
	if op == "" || ev.FromModel {
		return
	}
	meta := map[string]any{
		"operation":         op,
		"source":            "query_builder",
		"sql":               ev.SQL,
		"execution_time_ms": millis(ev.Duration),
	}
	if ev.Connection != "" {
		meta["connection"] = ev.Connection
	}
	if table := TableName(ev.SQL, op); table != "" {
		meta["table"] = table
	}
	if len(ev.Bindings) > 0 {
		meta["bindings"] = ev.Bindings
	}
	l.logger.Log(ctx, recordEvent(op), map[string]any{"meta": WithContext(ctx, meta)})
}

// userField returns the principal's {id, type, email}, or nil so the key is pruned.
func userField(p enrich.Principal) any {
	if m := enrich.UserMeta(p); len(m) > 0 {
		return m
	}
	return nil
}

// requestMeta is the request subset attached to auth events.
func requestMeta(ctx context.Context) map[string]any {
	req := enrich.RequestFrom(ctx)
	out := map[string]any{}
	if req == nil {
		return out
	}
	for k, v := range map[string]string{
		"ip":         req.IP,
		"user_agent": req.UserAgent,
		"url":        req.URL,
		"method":     req.Method,
	} {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// sanitizeCredentials drops password fields and any key in denylist. Keys
// match exactly.
func sanitizeCredentials(creds map[string]any, denylist []string) map[string]any {
	deny := make(map[string]struct{}, len(credentialDenylist)+len(denylist))
	for _, k := range credentialDenylist {
		deny[k] = struct{}{}
	}
	for _, k := range denylist {
		if k = strings.TrimSpace(k); k != "" {
			deny[k] = struct{}{}
		}
	}
	out := make(map[string]any, len(creds))
	for k, v := range creds {
		if _, ok := deny[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// millis returns d in milliseconds rounded to two decimals.
func millis(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	return math.Round(ms*100) / 100
}
