package delivery

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/austindbirch/activitylogger/internal/config"
	"github.com/austindbirch/activitylogger/internal/logging"
)

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) sleep(_ context.Context, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
}

type recordingReporter struct {
	mu       sync.Mutex
	failures []Failure
	err      error
}

func (r *recordingReporter) Report(_ context.Context, f Failure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
	return r.err
}

func testDelivery(endpoint string) config.Delivery {
	return config.Delivery{
		Enabled:  true,
		Endpoint: endpoint,
		Auth:     config.Auth{Type: config.AuthNone},
		Queue:    config.Queue{Connection: config.ConnectionSync, Name: "activity-logs"},
		HTTP: config.HTTP{
			Timeout: 5,
			Verify:  true,
			Retry:   config.Retry{Attempts: 3, Backoff: 5, MaxBackoff: 60, Jitter: false},
		},
	}
}

// statusServer answers with statuses in order, repeating the last one.
func statusServer(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		idx := n - 1
		if idx >= len(statuses) {
			idx = len(statuses) - 1
		}
		w.WriteHeader(statuses[idx])
		_, _ = w.Write([]byte(`{"attempt":` + string(rune('0'+n)) + `}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestExecutor(reporter FailureReporter, sleeper *recordingSleeper) *Executor {
	core, _ := observer.New(zapcore.DebugLevel)
	return NewExecutor(reporter,
		WithSleeper(sleeper.sleep),
		WithLogger(logging.NewWithCore("test", core)),
	)
}

func testJob(cfg config.Delivery) Job {
	return NewJob(map[string]any{"event": "auth.login", "user": map[string]any{"id": 1}}, cfg)
}

func TestExecute_RetryScenarios(t *testing.T) {
	tests := []struct {
		name         string
		statuses     []int
		attempts     int
		wantOutcome  Outcome
		wantPosts    int32
		wantDelays   []time.Duration
		wantReports  int
		wantStatus   int
		wantRetryErr bool
	}{
		{
			name:        "500 500 200 delivers on third attempt",
			statuses:    []int{500, 500, 200},
			attempts:    3,
			wantOutcome: Delivered,
			wantPosts:   3,
			wantDelays:  []time.Duration{10 * time.Second, 20 * time.Second},
			wantStatus:  200,
		},
		{
			name:        "400 is terminal immediately",
			statuses:    []int{400},
			attempts:    2,
			wantOutcome: FailedPermanently,
			wantPosts:   1,
			wantReports: 1,
			wantStatus:  400,
		},
		{
			name:         "503 exhausts attempts",
			statuses:     []int{503},
			attempts:     3,
			wantOutcome:  FailedPermanently,
			wantPosts:    3,
			wantDelays:   []time.Duration{10 * time.Second, 20 * time.Second},
			wantReports:  1,
			wantStatus:   503,
			wantRetryErr: true,
		},
		{
			name:        "429 then 201 retries",
			statuses:    []int{429, 201},
			attempts:    5,
			wantOutcome: Delivered,
			wantPosts:   2,
			wantDelays:  []time.Duration{10 * time.Second},
			wantStatus:  201,
		},
		{
			name:        "408 423 425 are retryable",
			statuses:    []int{408, 423, 425, 204},
			attempts:    4,
			wantOutcome: Delivered,
			wantPosts:   4,
			wantDelays:  []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second},
			wantStatus:  204,
		},
		{
			name:        "zero attempts clamps to one",
			statuses:    []int{500},
			attempts:    0,
			wantOutcome: FailedPermanently,
			wantPosts:   1,
			wantReports: 1,
			wantStatus:  500,
		},
		{
			name:        "first attempt success sleeps never",
			statuses:    []int{200},
			attempts:    3,
			wantOutcome: Delivered,
			wantPosts:   1,
			wantStatus:  200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := statusServer(t, tt.statuses...)
			cfg := testDelivery(srv.URL)
			cfg.HTTP.Retry.Attempts = tt.attempts

			sleeper := &recordingSleeper{}
			reporter := &recordingReporter{}
			res := newTestExecutor(reporter, sleeper).Execute(context.Background(), testJob(cfg))

			if res.Outcome != tt.wantOutcome {
				t.Errorf("Outcome = %v, want %v (err=%v)", res.Outcome, tt.wantOutcome, res.Err)
			}
			if got := calls.Load(); got != tt.wantPosts {
				t.Errorf("POSTs = %d, want %d", got, tt.wantPosts)
			}
			if int32(res.Attempts) != tt.wantPosts {
				t.Errorf("Result.Attempts = %d, want %d", res.Attempts, tt.wantPosts)
			}
			if len(sleeper.delays) != len(tt.wantDelays) {
				t.Fatalf("sleeps = %v, want %v", sleeper.delays, tt.wantDelays)
			}
			for i, d := range tt.wantDelays {
				if sleeper.delays[i] != d {
					t.Errorf("sleep[%d] = %v, want %v", i, sleeper.delays[i], d)
				}
			}
			if len(reporter.failures) != tt.wantReports {
				t.Errorf("failure reports = %d, want %d", len(reporter.failures), tt.wantReports)
			}
			if res.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", res.Status, tt.wantStatus)
			}

			if tt.wantOutcome == FailedPermanently {
				var pf *PermanentFailureError
				if !errors.As(res.Err, &pf) {
					t.Fatalf("Err = %T, want *PermanentFailureError", res.Err)
				}
				var rr *RemoteRejectedError
				if !errors.As(res.Err, &rr) || rr.Status != tt.wantStatus {
					t.Errorf("cause = %v, want RemoteRejectedError with status %d", pf.Cause, tt.wantStatus)
				}
				if rr != nil && rr.Retryable != tt.wantRetryErr {
					t.Errorf("Retryable = %v, want %v", rr.Retryable, tt.wantRetryErr)
				}
				f := reporter.failures[0]
				if f.HTTPStatus != tt.wantStatus || f.Attempts != res.Attempts || f.ResponseBody == "" {
					t.Errorf("failure = %+v", f)
				}
				if f.Payload["event"] != "auth.login" {
					t.Errorf("failure payload = %v", f.Payload)
				}
			}
		})
	}
}

func TestExecute_SkipsWithoutEndpoint(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		cfg     config.Delivery
		wantErr error
	}{
		{name: "empty endpoint", cfg: testDelivery(""), wantErr: ErrConfigurationMissing},
		{name: "blank endpoint", cfg: testDelivery("   "), wantErr: ErrConfigurationMissing},
		{name: "disabled", cfg: func() config.Delivery { c := testDelivery(srv.URL); c.Enabled = false; return c }()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reporter := &recordingReporter{}
			sleeper := &recordingSleeper{}
			res := newTestExecutor(reporter, sleeper).Execute(context.Background(), testJob(tt.cfg))

			if res.Outcome != Skipped {
				t.Errorf("Outcome = %v, want skipped", res.Outcome)
			}
			if !errors.Is(res.Err, tt.wantErr) || (tt.wantErr == nil && res.Err != nil) {
				t.Errorf("Err = %v, want %v", res.Err, tt.wantErr)
			}
			if len(reporter.failures) != 0 {
				t.Errorf("failure channel invoked %d times, want 0", len(reporter.failures))
			}
			if res.Attempts != 0 || len(sleeper.delays) != 0 {
				t.Errorf("attempts=%d sleeps=%d, want 0/0", res.Attempts, len(sleeper.delays))
			}
		})
	}
	if posts.Load() != 0 {
		t.Errorf("POSTs = %d, want 0", posts.Load())
	}
}

func TestExecute_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	cfg := testDelivery(url)
	cfg.HTTP.Retry.Attempts = 2
	sleeper := &recordingSleeper{}
	reporter := &recordingReporter{}

	res := newTestExecutor(reporter, sleeper).Execute(context.Background(), testJob(cfg))

	if res.Outcome != FailedPermanently {
		t.Fatalf("Outcome = %v, want failed_permanently", res.Outcome)
	}
	var te *TransportError
	if !errors.As(res.Err, &te) || te.Attempt != 2 {
		t.Errorf("Err = %v, want TransportError on attempt 2", res.Err)
	}
	if res.Attempts != 2 || len(sleeper.delays) != 1 {
		t.Errorf("attempts=%d sleeps=%d, want 2/1", res.Attempts, len(sleeper.delays))
	}
	if len(reporter.failures) != 1 || reporter.failures[0].LastError == "" {
		t.Fatalf("failures = %+v, want one with last error", reporter.failures)
	}
	if reporter.failures[0].HTTPStatus != 0 {
		t.Errorf("HTTPStatus = %d, want 0", reporter.failures[0].HTTPStatus)
	}
}

func TestExecute_RequestShape(t *testing.T) {
	tests := []struct {
		name     string
		auth     config.Auth
		wantAuth string
	}{
		{
			name:     "token",
			auth:     config.Auth{Type: config.AuthToken, Token: "secret-token"},
			wantAuth: "Bearer secret-token",
		},
		{
			name:     "token missing",
			auth:     config.Auth{Type: config.AuthToken},
			wantAuth: "",
		},
		{
			name:     "basic",
			auth:     config.Auth{Type: config.AuthBasic, Username: "svc", Password: "pw"},
			wantAuth: "Basic " + base64.StdEncoding.EncodeToString([]byte("svc:pw")),
		},
		{
			name:     "basic without password",
			auth:     config.Auth{Type: config.AuthBasic, Username: "svc"},
			wantAuth: "",
		},
		{
			name:     "none keeps static authorization header",
			auth:     config.Auth{Type: config.AuthNone, Headers: map[string]string{"Authorization": "ApiKey k"}},
			wantAuth: "ApiKey k",
		},
		{
			name:     "token overrides static authorization header",
			auth:     config.Auth{Type: config.AuthToken, Token: "t", Headers: map[string]string{"Authorization": "ApiKey k"}},
			wantAuth: "Bearer t",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *http.Request
			var gotBody []byte
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Clone(context.Background())
				gotBody, _ = io.ReadAll(r.Body)
				w.WriteHeader(http.StatusAccepted)
			}))
			defer srv.Close()

			cfg := testDelivery(srv.URL + "/ingest/")
			cfg.Auth = tt.auth
			if cfg.Auth.Headers == nil {
				cfg.Auth.Headers = map[string]string{}
			}
			cfg.Auth.Headers["X-Tenant"] = "acme"
			job := testJob(cfg)

			res := newTestExecutor(nil, &recordingSleeper{}).Execute(context.Background(), job)
			if res.Outcome != Delivered {
				t.Fatalf("Outcome = %v, err = %v", res.Outcome, res.Err)
			}

			if got.Method != http.MethodPost {
				t.Errorf("method = %s, want POST", got.Method)
			}
			if got.URL.Path != "/ingest" {
				t.Errorf("path = %q, want trailing slash stripped", got.URL.Path)
			}
			if h := got.Header.Get("Authorization"); h != tt.wantAuth {
				t.Errorf("Authorization = %q, want %q", h, tt.wantAuth)
			}
			if got.Header.Get("Content-Type") != "application/json" {
				t.Errorf("Content-Type = %q", got.Header.Get("Content-Type"))
			}
			if got.Header.Get("X-Tenant") != "acme" {
				t.Errorf("static header missing: %v", got.Header)
			}
			if got.Header.Get("X-Request-ID") != job.ID {
				t.Errorf("X-Request-ID = %q, want %q", got.Header.Get("X-Request-ID"), job.ID)
			}

			var payload map[string]any
			if err := json.Unmarshal(gotBody, &payload); err != nil {
				t.Fatalf("body is not JSON: %v", err)
			}
			if payload["event"] != "auth.login" {
				t.Errorf("body = %v, want assembled event", payload)
			}
		})
	}
}

func TestExecute_IgnoresCancellation(t *testing.T) {
	srv, calls := statusServer(t, 500, 200)
	cfg := testDelivery(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newTestExecutor(nil, &recordingSleeper{}).Execute(ctx, testJob(cfg))
	if res.Outcome != Delivered || calls.Load() != 2 {
		t.Errorf("Outcome = %v after %d POSTs, want delivered after 2", res.Outcome, calls.Load())
	}
}

func TestExecute_JitteredDelaysWithinRange(t *testing.T) {
	srv, _ := statusServer(t, 503)
	cfg := testDelivery(srv.URL)
	cfg.HTTP.Retry = config.Retry{Attempts: 4, Backoff: 2, MaxBackoff: 6, Jitter: true}

	sleeper := &recordingSleeper{}
	core, _ := observer.New(zapcore.DebugLevel)
	exec := NewExecutor(nil,
		WithSleeper(sleeper.sleep),
		WithRand(func(n int) int { return n - 1 }),
		WithLogger(logging.NewWithCore("test", core)),
	)
	exec.Execute(context.Background(), testJob(cfg))

	// raw delays before attempts 2..4 are 4, 6, 6; the ceiling pick equals raw.
	want := []time.Duration{4 * time.Second, 6 * time.Second, 6 * time.Second}
	if len(sleeper.delays) != len(want) {
		t.Fatalf("sleeps = %v, want %v", sleeper.delays, want)
	}
	for i := range want {
		if sleeper.delays[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, sleeper.delays[i], want[i])
		}
	}
}

func TestExecute_ReporterErrorIsLogged(t *testing.T) {
	srv, _ := statusServer(t, 422)
	core, logs := observer.New(zapcore.DebugLevel)
	reporter := &recordingReporter{err: errors.New("sink down")}
	exec := NewExecutor(reporter,
		WithSleeper((&recordingSleeper{}).sleep),
		WithLogger(logging.NewWithCore("test", core)),
	)

	res := exec.Execute(context.Background(), testJob(testDelivery(srv.URL)))
	if res.Outcome != FailedPermanently {
		t.Fatalf("Outcome = %v", res.Outcome)
	}
	if logs.FilterMessage("failure report failed").Len() != 1 {
		t.Errorf("expected reporter error to be logged, got %v", logs.All())
	}
}

func TestExecute_JobSnapshotIsolation(t *testing.T) {
	srv, _ := statusServer(t, 200)
	cfg := testDelivery(srv.URL)
	cfg.Auth.Headers = map[string]string{"X-Version": "1"}
	job := testJob(cfg)

	// Mutating the live config after enqueue must not affect the job.
	cfg.Auth.Headers["X-Version"] = "2"
	cfg.Endpoint = ""

	if job.Config.Auth.Headers["X-Version"] != "1" || job.Config.Endpoint != srv.URL {
		t.Fatalf("job config changed with live config: %+v", job.Config)
	}
	if res := newTestExecutor(nil, &recordingSleeper{}).Execute(context.Background(), job); res.Outcome != Delivered {
		t.Errorf("Outcome = %v, want delivered", res.Outcome)
	}
}

func TestOutcomeString(t *testing.T) {
	for o, want := range map[Outcome]string{Skipped: "skipped", Delivered: "delivered", FailedPermanently: "failed_permanently"} {
		if o.String() != want {
			t.Errorf("%d.String() = %q, want %q", o, o.String(), want)
		}
	}
}
