// Package eventbus mirrors lifecycle events to a message broker so other
// services can consume them. Publication is best effort and is never used
// to retry webhook deliveries.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/austindbirch/taskhook/internal/config"
	"github.com/austindbirch/taskhook/internal/tracing"
)

const EnvelopeVersion = 1

// Envelope is the JSON document written to the broker
type Envelope struct {
	ID           string            `json:"id"`
	Version      int               `json:"version"`
	EventType    string            `json:"event_type"`
	At           time.Time         `json:"at"`
	Data         any               `json:"data"`
	TraceHeaders map[string]string `json:"trace_headers,omitempty"`
}

// Publisher writes one event to the bus
type Publisher interface {
	Publish(ctx context.Context, eventType string, data any) error
	Close() error
}

// Topic is the subject or topic name for an event type
func Topic(prefix, eventType string) string {
	if prefix == "" {
		return eventType
	}
	return prefix + "." + eventType
}

func encode(ctx context.Context, eventType string, data any) ([]byte, error) {
	env := Envelope{
		ID:           uuid.NewString(),
		Version:      EnvelopeVersion,
		EventType:    eventType,
		At:           time.Now().UTC(),
		Data:         data,
		TraceHeaders: tracing.InjectMap(ctx),
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return b, nil
}

// New builds the publisher selected by cfg.Backend
func New(cfg config.EventBus) (Publisher, error) {
	switch cfg.Backend {
	case "nsq":
		return NewNSQPublisher(cfg.NsqdTCPAddr, cfg.TopicPrefix)
	case "nats":
		return NewNATSPublisher(cfg.NATSURL, cfg.TopicPrefix)
	case "", "none":
		return &NoopPublisher{}, nil
	}
	return nil, fmt.Errorf("unknown event bus backend %q", cfg.Backend)
}

// NoopPublisher drops every event
type NoopPublisher struct{}

func (n *NoopPublisher) Publish(ctx context.Context, eventType string, data any) error {
	return nil
}

func (n *NoopPublisher) Close() error {
	return nil
}
