package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/austindbirch/taskhook/internal/metrics"
)

// NATSPublisher publishes envelopes to subjects named <prefix>.<event type>
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSPublisher(url, prefix string, opts ...nats.Option) (*NATSPublisher, error) {
	defaults := []nats.Option{
		nats.Name("taskhookd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc, prefix: prefix}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, eventType string, data any) error {
	b, err := encode(ctx, eventType, data)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(Topic(p.prefix, eventType), b); err != nil {
		metrics.RecordEventBusError("nats")
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}
