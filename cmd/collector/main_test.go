package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/austindbirch/activitylogger/internal/config"
	"github.com/austindbirch/activitylogger/internal/logging"
)

func testLogger() *logging.Logger {
	core, _ := observer.New(zapcore.DebugLevel)
	return logging.NewWithCore("test", core)
}

func post(t *testing.T, h http.Handler, body string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCollector_FailFirstN(t *testing.T) {
	c := newCollector(config.Collector{FailFirstN: 2, FailStatus: http.StatusServiceUnavailable}, config.Auth{Type: config.AuthNone}, testLogger())
	h := c.routes()

	want := []int{503, 503, 200, 200}
	for i, code := range want {
		if rec := post(t, h, `{"event":"x"}`, nil); rec.Code != code {
			t.Errorf("request %d status = %d, want %d", i+1, rec.Code, code)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	var events []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("stored events = %d, want 2", len(events))
	}
}

func TestCollector_Auth(t *testing.T) {
	tests := []struct {
		name   string
		auth   config.Auth
		mutate func(*http.Request)
		want   int
	}{
		{"token ok", config.Auth{Type: config.AuthToken, Token: "t0k"}, func(r *http.Request) { r.Header.Set("Authorization", "Bearer t0k") }, 200},
		{"token wrong", config.Auth{Type: config.AuthToken, Token: "t0k"}, func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, 401},
		{"token missing", config.Auth{Type: config.AuthToken, Token: "t0k"}, nil, 401},
		{"token not configured", config.Auth{Type: config.AuthToken}, nil, 200},
		{"basic ok", config.Auth{Type: config.AuthBasic, Username: "u", Password: "p"}, func(r *http.Request) { r.SetBasicAuth("u", "p") }, 200},
		{"basic wrong", config.Auth{Type: config.AuthBasic, Username: "u", Password: "p"}, func(r *http.Request) { r.SetBasicAuth("u", "x") }, 401},
		{"none", config.Auth{Type: config.AuthNone}, nil, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newCollector(config.Collector{}, tt.auth, testLogger()).routes()
			if rec := post(t, h, `{"event":"x"}`, tt.mutate); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestCollector_InvalidJSON(t *testing.T) {
	h := newCollector(config.Collector{}, config.Auth{Type: config.AuthNone}, testLogger()).routes()
	if rec := post(t, h, `not json`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 3); got != "abc..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("ab", 3); got != "ab" {
		t.Errorf("truncate = %q", got)
	}
}
