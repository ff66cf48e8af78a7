package eventbus

import (
	"context"
	"fmt"

	"github.com/nsqio/go-nsq"

	"github.com/austindbirch/taskhook/internal/metrics"
)

// NSQPublisher publishes envelopes to nsqd topics named <prefix>.<event type>
type NSQPublisher struct {
	prod   *nsq.Producer
	prefix string
}

// NewNSQPublisher creates a producer for addr. The connection is opened
// lazily on the first publish.
func NewNSQPublisher(addr, prefix string) (*NSQPublisher, error) {
	prod, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer: %w", err)
	}
	prod.SetLoggerLevel(nsq.LogLevelWarning)
	return &NSQPublisher{prod: prod, prefix: prefix}, nil
}

func (p *NSQPublisher) Publish(ctx context.Context, eventType string, data any) error {
	b, err := encode(ctx, eventType, data)
	if err != nil {
		return err
	}
	if err := p.prod.Publish(Topic(p.prefix, eventType), b); err != nil {
		metrics.RecordEventBusError("nsq")
		return fmt.Errorf("nsq publish: %w", err)
	}
	return nil
}

func (p *NSQPublisher) Close() error {
	p.prod.Stop()
	return nil
}
