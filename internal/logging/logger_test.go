package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		serviceName string
	}{
		{name: "create logger with service name", serviceName: "test-service"},
		{name: "create logger with empty service name", serviceName: ""},
		{name: "create logger with complex service name", serviceName: "taskhookd-v1.2.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.serviceName)

			if logger == nil {
				t.Fatal("New() returned nil logger")
			}
			if logger.service != tt.serviceName {
				t.Errorf("New() service = %q, want %q", logger.service, tt.serviceName)
			}
		})
	}
}

func TestLogger_WithContext(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)

	tests := []struct {
		name     string
		hasTrace bool
	}{
		{name: "with trace context", hasTrace: true},
		{name: "without trace context", hasTrace: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New("test-service")
			ctx := context.Background()

			if tt.hasTrace {
				newCtx, span := otel.Tracer("test-tracer").Start(ctx, "test-span")
				ctx = newCtx
				defer span.End()
			}

			before := time.Now().UTC()
			entry := logger.WithContext(ctx)
			after := time.Now().UTC()

			if entry.Service != "test-service" {
				t.Errorf("WithContext() Service = %q, want %q", entry.Service, "test-service")
			}
			if entry.Time.Before(before) || entry.Time.After(after) {
				t.Errorf("WithContext() Time %v not between %v and %v", entry.Time, before, after)
			}
			if tt.hasTrace && entry.TraceID == "" {
				t.Error("WithContext() TraceID should not be empty with trace context")
			}
			if !tt.hasTrace && entry.TraceID != "" {
				t.Errorf("WithContext() TraceID = %q, want empty string without trace", entry.TraceID)
			}
		})
	}
}

func TestLogEntry_Output(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("taskhook-test", &buf)

	logger.Plain().
		WithTask("task-1").
		WithWebhook("wh-1").
		WithEventType("task.completed").
		WithIdentity("203.0.113.9").
		WithField("attempt", 1).
		WithError(errors.New("boom")).
		Warn("delivery failed")

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}

	want := map[string]string{
		"level":      "warn",
		"msg":        "delivery failed",
		"service":    "taskhook-test",
		"task_id":    "task-1",
		"webhook_id": "wh-1",
		"event_type": "task.completed",
		"identity":   "203.0.113.9",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("output[%q] = %v, want %q", k, got[k], v)
		}
	}

	fields, ok := got["fields"].(map[string]any)
	if !ok {
		t.Fatalf("output fields missing: %v", got)
	}
	if fields["error"] != "boom" {
		t.Errorf("fields.error = %v, want %q", fields["error"], "boom")
	}
	if fields["attempt"] != float64(1) {
		t.Errorf("fields.attempt = %v, want 1", fields["attempt"])
	}
}

func TestLogEntry_OmitsEmptyFields(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("svc", &buf).Plain().Info("hello")

	out := buf.String()
	for _, key := range []string{`"fields"`, `"task_id"`, `"webhook_id"`, `"trace_id"`} {
		if strings.Contains(out, key) {
			t.Errorf("output %q should not contain %s", out, key)
		}
	}
}

func TestLogEntry_SanitizesLineBreaks(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("svc", &buf).Plain().
		WithError(errors.New("line1\nline2\r\n")).
		Errorf("bad url %s", "https://x\n{\"level\":\"info\"}")

	if n := strings.Count(buf.String(), "\n"); n != 1 {
		t.Errorf("output has %d newlines, want exactly 1: %q", n, buf.String())
	}
}

func TestLogEntry_WithFields(t *testing.T) {
	tests := []struct {
		name    string
		initial map[string]any
		add     map[string]any
		wantLen int
	}{
		{name: "add to nil", initial: nil, add: map[string]any{"a": 1}, wantLen: 1},
		{name: "merge", initial: map[string]any{"a": 1}, add: map[string]any{"b": 2}, wantLen: 2},
		{name: "overwrite", initial: map[string]any{"a": 1}, add: map[string]any{"a": 2}, wantLen: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := New("svc").WithFields(tt.initial).WithFields(tt.add)
			if len(entry.Fields) != tt.wantLen {
				t.Errorf("WithFields() len = %d, want %d", len(entry.Fields), tt.wantLen)
			}
		})
	}
}

func TestSetDefaultService(t *testing.T) {
	original := defaultLogger.service
	defer SetDefaultService(original)

	SetDefaultService("other")
	if got := Plain().Service; got != "other" {
		t.Errorf("Plain().Service = %q, want %q", got, "other")
	}
}
