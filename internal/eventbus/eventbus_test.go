package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/austindbirch/taskhook/internal/config"
	"github.com/austindbirch/taskhook/internal/metrics"
	"github.com/austindbirch/taskhook/internal/tracing"
)

func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func TestPublishersImplementPublisher(t *testing.T) {
	var _ Publisher = (*NoopPublisher)(nil)
	var _ Publisher = (*NSQPublisher)(nil)
	var _ Publisher = (*NATSPublisher)(nil)
}

func TestNoopPublisher(t *testing.T) {
	pub := &NoopPublisher{}
	if err := pub.Publish(context.Background(), "task.created", nil); err != nil {
		t.Errorf("Publish() error: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestTopic(t *testing.T) {
	tests := []struct {
		prefix, eventType, want string
	}{
		{"taskhook", "task.completed", "taskhook.task.completed"},
		{"", "task.created", "task.created"},
	}
	for _, tt := range tests {
		if got := Topic(tt.prefix, tt.eventType); got != tt.want {
			t.Errorf("Topic(%q, %q) = %q, want %q", tt.prefix, tt.eventType, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.EventBus
		want    string
		wantErr bool
	}{
		{name: "none", cfg: config.EventBus{Backend: "none"}, want: "*eventbus.NoopPublisher"},
		{name: "empty", cfg: config.EventBus{}, want: "*eventbus.NoopPublisher"},
		{name: "nsq", cfg: config.EventBus{Backend: "nsq", NsqdTCPAddr: "127.0.0.1:4150"}, want: "*eventbus.NSQPublisher"},
		{name: "unknown", cfg: config.EventBus{Backend: "kafka"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("New() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error: %v", err)
			}
			defer pub.Close()
			if got := typeName(pub); got != tt.want {
				t.Errorf("New() = %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(p Publisher) string {
	switch p.(type) {
	case *NoopPublisher:
		return "*eventbus.NoopPublisher"
	case *NSQPublisher:
		return "*eventbus.NSQPublisher"
	case *NATSPublisher:
		return "*eventbus.NATSPublisher"
	}
	return "unknown"
}

func TestNATSPublisher_Publish(t *testing.T) {
	url := startTestNATS(t)

	pub, err := New(config.EventBus{Backend: "nats", NATSURL: url, TopicPrefix: "taskhook"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer pub.Close()

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting subscriber: %v", err)
	}
	defer nc.Close()

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("taskhook.>", ch)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer sub.Unsubscribe() //nolint:errcheck
	if err := nc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background()) //nolint:errcheck
	tracing.InstallPropagator()
	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	data := map[string]any{"task_id": "t1", "title": "Ship it"}
	if err := pub.Publish(ctx, "task.completed", data); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if err := pub.(*NATSPublisher).conn.Flush(); err != nil {
		t.Fatalf("flush publisher: %v", err)
	}

	select {
	case msg := <-ch:
		if msg.Subject != "taskhook.task.completed" {
			t.Errorf("subject = %q", msg.Subject)
		}
		var env struct {
			ID           string            `json:"id"`
			Version      int               `json:"version"`
			EventType    string            `json:"event_type"`
			Data         map[string]string `json:"data"`
			TraceHeaders map[string]string `json:"trace_headers"`
		}
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if env.ID == "" || env.Version != EnvelopeVersion || env.EventType != "task.completed" {
			t.Errorf("envelope = %+v", env)
		}
		if env.Data["title"] != "Ship it" {
			t.Errorf("data = %v", env.Data)
		}
		if env.TraceHeaders["traceparent"] == "" {
			t.Errorf("trace headers = %v, want traceparent", env.TraceHeaders)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestNATSPublisher_ConnectError(t *testing.T) {
	if _, err := NewNATSPublisher("nats://127.0.0.1:1", "taskhook", nats.Timeout(200*time.Millisecond)); err == nil {
		t.Fatal("NewNATSPublisher() error = nil for unreachable server")
	}
}

func TestNSQPublisher_PublishErrorCounted(t *testing.T) {
	pub, err := NewNSQPublisher("127.0.0.1:1", "taskhook")
	if err != nil {
		t.Fatalf("NewNSQPublisher() error: %v", err)
	}
	defer pub.Close()

	before := testutil.ToFloat64(metrics.EventBusPublishErrorsTotal.WithLabelValues("nsq"))
	if err := pub.Publish(context.Background(), "task.created", map[string]string{"task_id": "t1"}); err == nil {
		t.Fatal("Publish() error = nil with no nsqd running")
	}
	after := testutil.ToFloat64(metrics.EventBusPublishErrorsTotal.WithLabelValues("nsq"))
	if after != before+1 {
		t.Errorf("publish errors = %v, want %v", after, before+1)
	}
}
