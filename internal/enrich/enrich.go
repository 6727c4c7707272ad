// Package enrich projects request and principal state into the per-event
// context map attached to every activity payload.
package enrich

import (
	"context"
	"net"
	"net/http"
	"reflect"
	"strings"
)

// RequestIDHeader is the inbound correlation header.
const RequestIDHeader = "X-Request-ID"

// Request is a snapshot of the inbound HTTP request the event happened in.
type Request struct {
	IP              string
	UserAgent       string
	Method          string
	URL             string
	RequestIDHeader string // value of X-Request-ID as sent by the client
	RequestID       string // id generated for this request by the middleware
}

// FromHTTP snapshots r. The request-scoped id is read from r's context.
func FromHTTP(r *http.Request) *Request {
	if r == nil {
		return nil
	}
	return &Request{
		IP:              clientIP(r),
		UserAgent:       r.UserAgent(),
		Method:          r.Method,
		URL:             fullURL(r),
		RequestIDHeader: r.Header.Get(RequestIDHeader),
		RequestID:       RequestIDFrom(r.Context()),
	}
}

// Principal is the authenticated actor.
type Principal interface {
	PrincipalID() any
	PrincipalType() string
}

// VerificationEmailer is preferred over Emailer when a principal has both.
type VerificationEmailer interface {
	EmailForVerification() string
}

// Emailer exposes a plain email address.
type Emailer interface {
	Email() string
}

// User is a plain Principal.
type User struct {
	ID        any
	Type      string
	EmailAddr string
}

func (u User) PrincipalID() any      { return u.ID }
func (u User) PrincipalType() string { return u.Type }
func (u User) Email() string         { return u.EmailAddr }

// Build projects req and p into a flat context map. Nil and empty values are
// dropped, so a nil request and nil principal yield an empty map.
func Build(req *Request, p Principal) map[string]any {
	out := make(map[string]any)
	if req != nil {
		put(out, "ip", req.IP)
		put(out, "user_agent", req.UserAgent)
		put(out, "method", req.Method)
		put(out, "url", req.URL)
		if req.RequestIDHeader != "" {
			put(out, "request_id", req.RequestIDHeader)
		} else {
			put(out, "request_id", req.RequestID)
		}
	}
	if user := UserMeta(p); user != nil {
		out["user"] = user
	}
	return out
}

// UserMeta returns {id, type, email} for p, or nil when p is nil.
func UserMeta(p Principal) map[string]any {
	if isNil(p) {
		return nil
	}
	user := make(map[string]any, 3)
	if id := p.PrincipalID(); id != nil && id != "" {
		user["id"] = id
	}
	put(user, "type", p.PrincipalType())
	put(user, "email", email(p))
	return user
}

func email(p Principal) string {
	if v, ok := p.(VerificationEmailer); ok {
		return v.EmailForVerification()
	}
	if e, ok := p.(Emailer); ok {
		return e.Email()
	}
	return ""
}

func put(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// isNil also catches typed nils of any principal implementation.
func isNil(p Principal) bool {
	if p == nil {
		return true
	}
	v := reflect.ValueOf(p)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func:
		return v.IsNil()
	}
	return false
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func fullURL(r *http.Request) string {
	if r.URL == nil {
		return ""
	}
	if r.URL.IsAbs() {
		return r.URL.String()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	u := *r.URL
	u.Scheme = scheme
	u.Host = r.Host
	return u.String()
}

type ctxKey int

const (
	requestKey ctxKey = iota
	principalKey
	requestIDKey
)

func WithRequest(ctx context.Context, req *Request) context.Context {
	return context.WithValue(ctx, requestKey, req)
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestFrom(ctx context.Context) *Request {
	req, _ := ctx.Value(requestKey).(*Request)
	return req
}

func PrincipalFrom(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey).(Principal)
	return p
}

func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// FromContext builds a fresh context map from the request and principal on ctx.
// The request-scoped id on ctx fills in when the snapshot lacks one.
func FromContext(ctx context.Context) map[string]any {
	req := RequestFrom(ctx)
	if req != nil && req.RequestID == "" {
		if id := RequestIDFrom(ctx); id != "" {
			cp := *req
			cp.RequestID = id
			req = &cp
		}
	}
	return Build(req, PrincipalFrom(ctx))
}
