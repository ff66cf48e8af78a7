// Package delivery performs single outbound webhook calls. There is no
// retry: each call either succeeds, times out or fails, and the caller
// decides what to record.
package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/taskhook/internal/metrics"
	"github.com/austindbirch/taskhook/internal/model"
	"github.com/austindbirch/taskhook/internal/tracing"
)

const (
	DefaultTimeout      = 5 * time.Second
	DefaultMaxRedirects = 3
	DefaultUserAgent    = "taskhook-webhooks/1.0"

	eventHeader   = "X-Webhook-Event"
	webhookHeader = "X-Webhook-Id"
	traceHeader   = "X-Trace-Id"

	maxDrain = 1 << 10
)

// ErrBlockedRedirect is returned when a redirect points at a disallowed URL
var ErrBlockedRedirect = errors.New("redirect target blocked by url guard")

type Result string

const (
	ResultSuccess Result = "success"
	ResultTimeout Result = "timeout"
	ResultFailure Result = "failure"
)

// Outcome describes one delivery attempt. It is never persisted.
type Outcome struct {
	WebhookID  string
	EventType  string
	Result     Result
	StatusCode int
	Latency    time.Duration
	Reason     string // empty on success
	Err        error
}

func (o Outcome) OK() bool { return o.Result == ResultSuccess }

// URLChecker decides whether a URL may be contacted
type URLChecker interface {
	Allowed(rawURL string) bool
}

type Options struct {
	Timeout      time.Duration
	MaxRedirects int
	UserAgent    string
	// Guard vets every redirect hop; nil refuses all redirects
	Guard URLChecker
	// Transport defaults to http.DefaultTransport
	Transport http.RoundTripper
}

// Executor posts JSON bodies to webhook URLs
type Executor struct {
	timeout   time.Duration
	userAgent string
	client    *http.Client
}

func New(opts Options) *Executor {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxRedirects := opts.MaxRedirects
	if maxRedirects < 0 {
		maxRedirects = 0
	} else if maxRedirects == 0 {
		maxRedirects = DefaultMaxRedirects
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	guard := opts.Guard

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if guard == nil || !guard.Allowed(req.URL.String()) {
				metrics.RecordURLBlocked("redirect")
				return ErrBlockedRedirect
			}
			return nil
		},
	}

	return &Executor{
		timeout:   timeout,
		userAgent: userAgent,
		client:    client,
	}
}

// Timeout returns the per-delivery deadline
func (e *Executor) Timeout() time.Duration { return e.timeout }

// Deliver sends body to w.URL once. The call gets its own deadline derived
// from ctx, so cancelling one delivery never affects another.
func (e *Executor) Deliver(ctx context.Context, w model.Webhook, eventType string, body []byte) Outcome {
	ctx, span := tracing.StartSpan(ctx, "delivery.Deliver",
		attribute.String("webhook.id", w.ID),
		attribute.String("event.type", eventType),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out := Outcome{WebhookID: w.ID, EventType: eventType}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		out.Result = ResultFailure
		out.Reason = "other"
		out.Err = fmt.Errorf("build request: %w", err)
		e.record(ctx, &out)
		return out
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set(eventHeader, eventType)
	req.Header.Set(webhookHeader, w.ID)
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set(traceHeader, traceID)
	}
	tracing.InjectHTTP(ctx, req.Header)

	start := time.Now()
	resp, doErr := e.client.Do(req)
	out.Latency = time.Since(start)

	if doErr == nil {
		out.StatusCode = resp.StatusCode
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
		_ = resp.Body.Close()
	}

	span.SetAttributes(
		attribute.Int("http.status_code", out.StatusCode),
		attribute.Int64("http.latency_ms", out.Latency.Milliseconds()),
	)

	switch {
	case doErr == nil && out.StatusCode >= 200 && out.StatusCode < 300:
		out.Result = ResultSuccess
	case doErr != nil && errors.Is(doErr, context.DeadlineExceeded):
		out.Result = ResultTimeout
		out.Reason = "timeout"
		out.Err = doErr
	default:
		out.Result = ResultFailure
		out.Reason = classifyReason(doErr, out.StatusCode)
		out.Err = doErr
		if doErr == nil {
			out.Err = fmt.Errorf("unexpected status %d", out.StatusCode)
		}
	}

	e.record(ctx, &out)
	return out
}

func (e *Executor) record(ctx context.Context, out *Outcome) {
	metrics.RecordDelivery(string(out.Result), out.Latency)
	if out.Result == ResultSuccess {
		tracing.AddSpanEvent(ctx, "delivery.success")
		return
	}
	metrics.RecordDeliveryFailure(out.Reason)
	tracing.AddSpanEvent(ctx, "delivery.failed", attribute.String("failure_reason", out.Reason))
	tracing.SetSpanError(ctx, out.Err)
}

func classifyReason(doErr error, status int) string {
	if doErr != nil {
		if errors.Is(doErr, ErrBlockedRedirect) {
			return "blocked_url"
		}
		errLower := strings.ToLower(doErr.Error())
		if strings.Contains(errLower, "timeout") {
			return "timeout"
		}
		if strings.Contains(errLower, "connection refused") {
			return "connection_refused"
		}
		if strings.Contains(errLower, "no such host") || strings.Contains(errLower, "dns") {
			return "dns_error"
		}
		return "network"
	}
	if status >= 500 {
		return "http_5xx"
	}
	if status == http.StatusTooManyRequests {
		return "http_429"
	}
	if status >= 400 {
		return "http_4xx"
	}
	if status >= 300 {
		return "http_3xx"
	}
	return "other"
}

// StatusText renders an outcome for logs and API responses
func StatusText(o Outcome) string {
	if o.OK() {
		return "HTTP " + strconv.Itoa(o.StatusCode)
	}
	if o.StatusCode > 0 {
		return fmt.Sprintf("HTTP %d (%s)", o.StatusCode, o.Reason)
	}
	return o.Reason
}
