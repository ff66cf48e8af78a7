// Package notify turns lifecycle events into webhook deliveries. Dispatch is
// fire-and-forget: callers never wait for, or see errors from, delivery.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/taskhook/internal/delivery"
	"github.com/austindbirch/taskhook/internal/logging"
	"github.com/austindbirch/taskhook/internal/metrics"
	"github.com/austindbirch/taskhook/internal/model"
	"github.com/austindbirch/taskhook/internal/ratelimit"
	"github.com/austindbirch/taskhook/internal/tracing"
)

// EventTest is the event type header sent with test messages
const EventTest = "webhook.test"

// WebhookStore is the part of store.Store the dispatcher needs
type WebhookStore interface {
	GetWebhook(ctx context.Context, id string) (*model.Webhook, error)
	ListSubscribedWebhooks(ctx context.Context, eventType string) ([]model.Webhook, error)
	MarkWebhookTriggered(ctx context.Context, id string, at time.Time) error
}

// Deliverer performs one outbound call
type Deliverer interface {
	Deliver(ctx context.Context, w model.Webhook, eventType string, body []byte) delivery.Outcome
}

// Publisher mirrors events to an event bus
type Publisher interface {
	Publish(ctx context.Context, eventType string, data any) error
}

type Options struct {
	Store     WebhookStore
	Deliverer Deliverer
	Guard     Guard
	// Publisher is optional
	Publisher Publisher
	// Outbound throttles deliveries per webhook when OutboundMax > 0
	Outbound       *ratelimit.Limiter
	OutboundMax    int
	OutboundWindow time.Duration
	Now            func() time.Time
	Logger         *logging.Logger
}

type Dispatcher struct {
	store     WebhookStore
	deliverer Deliverer
	guard     Guard
	publisher Publisher

	outbound       *ratelimit.Limiter
	outboundMax    int
	outboundWindow time.Duration

	now    func() time.Time
	logger *logging.Logger

	wg sync.WaitGroup
}

func NewDispatcher(opts Options) *Dispatcher {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.New("taskhook-notify")
	}
	window := opts.OutboundWindow
	if window <= 0 {
		window = time.Minute
	}
	return &Dispatcher{
		store:          opts.Store,
		deliverer:      opts.Deliverer,
		guard:          opts.Guard,
		publisher:      opts.Publisher,
		outbound:       opts.Outbound,
		outboundMax:    opts.OutboundMax,
		outboundWindow: window,
		now:            now,
		logger:         logger,
	}
}

// Dispatch delivers ev in the background and returns immediately. The work
// is detached from ctx cancellation but keeps its trace.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	metrics.RecordEventEmitted(ev.Type())
	bg := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Fanout(bg, ev)
	}()
}

// Wait blocks until every background dispatch has finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Fanout delivers ev to every subscribed webhook concurrently and returns
// the outcome of each attempted delivery. Webhooks skipped by the guard or
// the outbound limit produce no outcome.
func (d *Dispatcher) Fanout(ctx context.Context, ev Event) []delivery.Outcome {
	eventType := ev.Type()
	ctx, span := tracing.StartSpan(ctx, "notify.Dispatch", attribute.String("event.type", eventType))
	defer span.End()

	log := d.logger.WithContext(ctx).WithEventType(eventType)

	if d.publisher != nil {
		if err := d.publisher.Publish(ctx, eventType, eventData(ev)); err != nil {
			log.WithError(err).Warn("event bus publish failed")
		}
	}

	hooks, err := d.store.ListSubscribedWebhooks(ctx, eventType)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		log.WithError(err).Error("failed to load webhooks")
		return nil
	}

	targets := make([]model.Webhook, 0, len(hooks))
	for _, w := range hooks {
		if d.guard == nil || !d.guard.Allowed(w.URL) {
			metrics.RecordURLBlocked("dispatch")
			log.WithWebhook(w.ID).WithField("url", w.URL).Warn("webhook URL blocked, skipping")
			continue
		}
		if d.outbound != nil && d.outboundMax > 0 &&
			!d.outbound.Allow("webhook:"+w.ID, d.outboundMax, d.outboundWindow) {
			metrics.RecordRateLimited("outbound")
			log.WithWebhook(w.ID).Warn("outbound rate limit reached, skipping")
			continue
		}
		targets = append(targets, w)
	}
	span.SetAttributes(
		attribute.Int("webhooks.subscribed", len(hooks)),
		attribute.Int("webhooks.targeted", len(targets)),
	)
	if len(targets) == 0 {
		return nil
	}

	body, err := json.Marshal(BuildMessage(ev))
	if err != nil {
		log.WithError(err).Error("failed to encode message")
		return nil
	}

	outcomes := make([]delivery.Outcome, len(targets))
	var wg sync.WaitGroup
	for i, w := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = d.deliverOne(ctx, w, eventType, body)
		}()
	}
	wg.Wait()
	return outcomes
}

// SendTest posts the fixed test message to one webhook and waits for the
// outcome. The webhook does not need to be active.
func (d *Dispatcher) SendTest(ctx context.Context, webhookID string) (delivery.Outcome, error) {
	w, err := d.store.GetWebhook(ctx, webhookID)
	if err != nil {
		return delivery.Outcome{}, fmt.Errorf("get webhook: %w", err)
	}
	if d.guard == nil || !d.guard.Allowed(w.URL) {
		metrics.RecordURLBlocked("test")
		return delivery.Outcome{}, ErrInvalidURL
	}

	body, err := json.Marshal(TestMessage())
	if err != nil {
		return delivery.Outcome{}, fmt.Errorf("encode test message: %w", err)
	}
	return d.deliverOne(ctx, *w, EventTest, body), nil
}

func (d *Dispatcher) deliverOne(ctx context.Context, w model.Webhook, eventType string, body []byte) (out delivery.Outcome) {
	log := d.logger.WithContext(ctx).WithWebhook(w.ID).WithEventType(eventType)
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("delivery panicked")
			out = delivery.Outcome{
				WebhookID: w.ID,
				EventType: eventType,
				Result:    delivery.ResultFailure,
				Reason:    "other",
				Err:       fmt.Errorf("panic: %v", r),
			}
		}
	}()

	out = d.deliverer.Deliver(ctx, w, eventType, body)
	if !out.OK() {
		log.WithError(out.Err).
			WithField("reason", out.Reason).
			WithField("status", delivery.StatusText(out)).
			Warn("webhook delivery failed")
		return out
	}

	if err := d.store.MarkWebhookTriggered(ctx, w.ID, d.now().UTC()); err != nil {
		log.WithError(err).Warn("failed to update last_triggered")
	}
	log.WithField("latency_ms", out.Latency.Milliseconds()).Info("webhook delivered")
	return out
}
