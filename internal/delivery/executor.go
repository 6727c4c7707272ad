package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/activitylogger/internal/config"
	"github.com/austindbirch/activitylogger/internal/logging"
	"github.com/austindbirch/activitylogger/internal/metrics"
	"github.com/austindbirch/activitylogger/internal/tracing"
)

// maxBodyCapture bounds how much of a rejected response body is kept for diagnostics.
const maxBodyCapture = 8 << 10

// Outcome is the terminal state of one job.
type Outcome int

const (
	Skipped Outcome = iota
	Delivered
	FailedPermanently
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case FailedPermanently:
		return "failed_permanently"
	default:
		return "skipped"
	}
}

// Result describes how a job ended.
type Result struct {
	Outcome  Outcome
	Attempts int    // POSTs issued
	Status   int    // last HTTP status, 0 if none
	Body     string // last response body when rejected
	Err      error  // nil on delivery; *PermanentFailureError on failure
}

func (r Result) transportErr() error {
	var te *TransportError
	if errors.As(r.Err, &te) {
		return te.Err
	}
	return nil
}

// Sleeper suspends the calling goroutine between attempts.
type Sleeper func(ctx context.Context, d time.Duration)

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Executor runs the retry loop for a job.
type Executor struct {
	reporter  FailureReporter
	sleep     Sleeper
	intN      func(n int) int
	logger    *logging.Logger
	transport http.RoundTripper // overrides the per-verify transports when set
	verified  *http.Transport
	insecure  *http.Transport
}

type ExecutorOption func(*Executor)

// WithSleeper replaces the backoff sleep, mainly for tests.
func WithSleeper(s Sleeper) ExecutorOption {
	return func(e *Executor) { e.sleep = s }
}

// WithRand sets the jitter source; intN(n) must return a value in [0, n).
func WithRand(intN func(n int) int) ExecutorOption {
	return func(e *Executor) { e.intN = intN }
}

// WithTransport sends every request through rt regardless of the TLS setting.
func WithTransport(rt http.RoundTripper) ExecutorOption {
	return func(e *Executor) { e.transport = rt }
}

func WithLogger(l *logging.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor builds an Executor. reporter may be nil.
func NewExecutor(reporter FailureReporter, opts ...ExecutorOption) *Executor {
	base, _ := http.DefaultTransport.(*http.Transport)
	if base == nil {
		base = &http.Transport{}
	}
	verified := base.Clone()
	insecure := base.Clone()
	insecure.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	e := &Executor{
		reporter: reporter,
		sleep:    sleepCtx,
		logger:   logging.Default(),
		verified: verified,
		insecure: insecure,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute delivers job and always returns a terminal Result. Cancelling ctx
// does not interrupt a started job.
func (e *Executor) Execute(ctx context.Context, job Job) Result {
	ctx = context.WithoutCancel(tracing.Extract(ctx, job.TraceHeaders))
	ctx, span := tracing.StartSpan(ctx, tracing.SpanDeliver,
		tracing.AttrJobID.String(job.ID),
		tracing.AttrEvent.String(job.Event),
	)
	defer span.End()

	log := func() *logging.LogEntry {
		return e.logger.WithContext(ctx).WithJob(job.ID).WithEvent(job.Event)
	}

	cfg := job.Config
	if !cfg.Enabled {
		metrics.RecordDelivery(Skipped.String(), 0)
		return Result{Outcome: Skipped}
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		log().Warn("activity logger endpoint is not configured, skipping payload dispatch")
		metrics.RecordDelivery(Skipped.String(), 0)
		return Result{Outcome: Skipped, Err: ErrConfigurationMissing}
	}

	body, err := json.Marshal(job.Payload)
	if err != nil {
		res := Result{Outcome: FailedPermanently, Err: &PermanentFailureError{Cause: fmt.Errorf("encode payload: %w", err)}}
		e.fail(ctx, job, res)
		return res
	}

	client := e.client(cfg.HTTP)
	header := buildHeader(ctx, job)
	url := strings.TrimRight(cfg.Endpoint, "/")
	policy := cfg.HTTP.Retry.Normalize()

	var res Result
	for attempt := 1; ; attempt++ {
		status, respBody, latency, doErr := e.post(ctx, client, url, header, body)
		metrics.RecordAttempt(status, latency)
		tracing.AddSpanEvent(ctx, tracing.SpanAttempt,
			tracing.AttrAttempt.Int(attempt),
			tracing.AttrStatus.Int(status),
		)
		res = Result{Attempts: attempt, Status: status}

		if doErr == nil && status >= 200 && status < 300 {
			res.Outcome = Delivered
			break
		}

		var cause error
		retryable := true
		if doErr != nil {
			cause = &TransportError{Attempt: attempt, Err: doErr}
		} else {
			retryable = IsRetryableStatus(status)
			res.Body = respBody
			cause = &RemoteRejectedError{Attempt: attempt, Status: status, Body: respBody, Retryable: retryable}
		}

		if !retryable || attempt >= policy.Attempts {
			res.Outcome = FailedPermanently
			res.Err = &PermanentFailureError{Attempts: attempt, Cause: cause}
			break
		}

		delay := BackoffDuration(policy.Backoff, attempt+1, policy.MaxBackoff, policy.Jitter, e.intN)
		reason := ClassifyReason(doErr, status)
		metrics.RecordRetry(reason, delay)
		log().WithError(cause).WithFields(map[string]any{
			"attempt": attempt,
			"reason":  reason,
			"delay":   delay.String(),
		}).Warn("activity delivery attempt failed, backing off")
		e.sleep(ctx, delay)
	}

	span.SetAttributes(
		tracing.AttrOutcome.String(res.Outcome.String()),
		attribute.Int("activity.attempts", res.Attempts),
	)
	metrics.RecordDelivery(res.Outcome.String(), res.Attempts)

	if res.Outcome == FailedPermanently {
		tracing.SetSpanError(ctx, res.Err)
		e.fail(ctx, job, res)
		return res
	}
	log().WithField("attempts", res.Attempts).Debug("activity delivered")
	return res
}

func (e *Executor) fail(ctx context.Context, job Job, res Result) {
	f := NewFailure(job, res)
	metrics.RecordDeadLetter(f.Reason)
	if e.reporter == nil {
		e.logger.WithContext(ctx).WithJob(job.ID).WithEvent(job.Event).WithError(res.Err).Error("activity delivery permanently failed")
		return
	}
	if err := e.reporter.Report(ctx, f); err != nil {
		e.logger.WithContext(ctx).WithJob(job.ID).WithError(err).Error("failure report failed")
	}
}

func (e *Executor) client(cfg config.HTTP) *http.Client {
	rt := e.transport
	if rt == nil {
		rt = e.verified
		if !cfg.Verify {
			rt = e.insecure
		}
	}
	return &http.Client{Timeout: cfg.TimeoutDuration(), Transport: rt}
}

func (e *Executor) post(ctx context.Context, client *http.Client, url string, header http.Header, body []byte) (int, string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", 0, err
	}
	req.Header = header.Clone()

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, "", latency, err
	}
	defer resp.Body.Close()

	var respBody string
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyCapture))
		respBody = string(b)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, respBody, latency, nil
}

// buildHeader assembles the request headers once per job: static headers
// first, then content type, correlation, trace and auth headers.
func buildHeader(ctx context.Context, job Job) http.Header {
	h := make(http.Header)
	for k, v := range job.Config.Auth.Headers {
		h.Set(k, v)
	}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-Request-ID", job.ID)
	for k, v := range tracing.Inject(ctx) {
		h.Set(k, v)
	}
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		h.Set("X-Trace-Id", traceID)
	}

	auth := job.Config.Auth
	switch auth.Type {
	case config.AuthToken:
		if auth.Token != "" {
			h.Set("Authorization", "Bearer "+auth.Token)
		}
	case config.AuthBasic:
		if auth.Username != "" && auth.Password != "" {
			cred := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
			h.Set("Authorization", "Basic "+cred)
		}
	}
	return h
}
