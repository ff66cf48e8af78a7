package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/austindbirch/taskhook/internal/delivery"
	"github.com/austindbirch/taskhook/internal/logging"
	"github.com/austindbirch/taskhook/internal/model"
	"github.com/austindbirch/taskhook/internal/ratelimit"
	"github.com/austindbirch/taskhook/internal/store"
	"github.com/austindbirch/taskhook/internal/urlguard"
)

// testGuard keeps the metadata and private range checks but allows the
// loopback address httptest listens on
var testGuard = urlguard.Guard{MetadataHosts: urlguard.DefaultMetadataHosts}

type recordingDeliverer struct {
	next Deliverer

	mu   sync.Mutex
	urls []string
}

func (r *recordingDeliverer) Deliver(ctx context.Context, w model.Webhook, eventType string, body []byte) delivery.Outcome {
	r.mu.Lock()
	r.urls = append(r.urls, w.URL)
	r.mu.Unlock()
	return r.next.Deliver(ctx, w, eventType, body)
}

func (r *recordingDeliverer) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.urls...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, eventType string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return p.err
}

type receiver struct {
	srv    *httptest.Server
	hits   atomic.Int32
	mu     sync.Mutex
	bodies [][]byte
}

func newReceiver(t *testing.T, status int) *receiver {
	t.Helper()
	rc := &receiver{}
	rc.srv = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		rc.mu.Lock()
		rc.bodies = append(rc.bodies, b)
		rc.mu.Unlock()
		rc.hits.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(rc.srv.Close)
	return rc
}

type fixture struct {
	store     *store.Memory
	deliverer *recordingDeliverer
	publisher *recordingPublisher
	d         *Dispatcher
}

// httptest TLS servers share one certificate, so any server's client
// transport trusts all of them
func newFixture(t *testing.T, transport http.RoundTripper, timeout time.Duration, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		store:     store.NewMemory(),
		publisher: &recordingPublisher{},
	}
	f.deliverer = &recordingDeliverer{next: delivery.New(delivery.Options{
		Timeout:   timeout,
		Guard:     testGuard,
		Transport: transport,
	})}
	opts.Store = f.store
	opts.Deliverer = f.deliverer
	opts.Guard = testGuard
	opts.Publisher = f.publisher
	opts.Logger = logging.NewWithWriter("test", io.Discard)
	f.d = NewDispatcher(opts)
	return f
}

func (f *fixture) addWebhook(t *testing.T, id, url string, active bool, events ...string) {
	t.Helper()
	now := time.Now().UTC()
	w := &model.Webhook{ID: id, Name: id, URL: url, Events: events, Active: active, CreatedAt: now, UpdatedAt: now}
	if err := f.store.CreateWebhook(context.Background(), w); err != nil {
		t.Fatalf("CreateWebhook(%s) error: %v", id, err)
	}
}

func (f *fixture) lastTriggered(t *testing.T, id string) *time.Time {
	t.Helper()
	w, err := f.store.GetWebhook(context.Background(), id)
	if err != nil {
		t.Fatalf("GetWebhook(%s) error: %v", id, err)
	}
	return w.LastTriggered
}

func completedEvent() TaskCompleted {
	return TaskCompleted{
		Task:        model.Task{ID: "t1", ProjectID: "p1", Title: "Ship it", Status: model.StatusCompleted, Priority: model.PriorityHigh},
		ProjectName: "Launch",
		Actor:       "ana",
	}
}

func TestFanout_SkipsBlockedURL(t *testing.T) {
	a := newReceiver(t, http.StatusOK)
	b := newReceiver(t, http.StatusOK)
	f := newFixture(t, a.srv.Client().Transport, time.Second, Options{})

	f.addWebhook(t, "a", a.srv.URL, true, model.EventTaskCompleted)
	f.addWebhook(t, "b", b.srv.URL, true, model.EventTaskCompleted)
	f.addWebhook(t, "metadata", "https://169.254.169.254/latest", true, model.EventTaskCompleted)
	f.addWebhook(t, "other-event", a.srv.URL, true, model.EventTaskCreated)
	f.addWebhook(t, "inactive", b.srv.URL, false, model.EventTaskCompleted)

	outcomes := f.d.Fanout(context.Background(), completedEvent())

	if len(outcomes) != 2 {
		t.Fatalf("Fanout() returned %d outcomes, want 2", len(outcomes))
	}
	for _, out := range outcomes {
		if !out.OK() {
			t.Errorf("outcome for %s = %+v, want success", out.WebhookID, out)
		}
	}
	for _, u := range f.deliverer.calls() {
		if u == "https://169.254.169.254/latest" {
			t.Error("blocked webhook was handed to the executor")
		}
	}
	if got := len(f.deliverer.calls()); got != 2 {
		t.Errorf("executor called %d times, want 2", got)
	}
	if a.hits.Load() != 1 || b.hits.Load() != 1 {
		t.Errorf("receiver hits a=%d b=%d, want 1 each", a.hits.Load(), b.hits.Load())
	}
	if f.lastTriggered(t, "metadata") != nil {
		t.Error("blocked webhook has last_triggered set")
	}
}

func TestFanout_HangingWebhookDoesNotDelayOthers(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer slow.Close()
	defer close(release)

	start := time.Now()
	var fastAt atomic.Int64
	fast := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fastAt.Store(int64(time.Since(start)))
		w.WriteHeader(http.StatusOK)
	}))
	defer fast.Close()

	const timeout = 500 * time.Millisecond
	f := newFixture(t, fast.Client().Transport, timeout, Options{})
	f.addWebhook(t, "slow", slow.URL, true, model.EventTaskCompleted)
	f.addWebhook(t, "fast", fast.URL, true, model.EventTaskCompleted)

	outcomes := f.d.Fanout(context.Background(), completedEvent())

	byID := map[string]delivery.Outcome{}
	for _, out := range outcomes {
		byID[out.WebhookID] = out
	}
	if got := byID["slow"].Result; got != delivery.ResultTimeout {
		t.Errorf("slow result = %s, want timeout", got)
	}
	if !byID["fast"].OK() {
		t.Errorf("fast outcome = %+v, want success", byID["fast"])
	}
	if got := time.Duration(fastAt.Load()); got == 0 || got >= timeout {
		t.Errorf("fast webhook reached after %v, want well before the %v timeout", got, timeout)
	}
	if f.lastTriggered(t, "slow") != nil {
		t.Error("timed out webhook has last_triggered set")
	}
	if f.lastTriggered(t, "fast") == nil {
		t.Error("delivered webhook has no last_triggered")
	}
}

func TestFanout_SetsLastTriggeredOnSuccessOnly(t *testing.T) {
	ok := newReceiver(t, http.StatusOK)
	broken := newReceiver(t, http.StatusInternalServerError)
	f := newFixture(t, ok.srv.Client().Transport, time.Second, Options{})
	f.addWebhook(t, "ok", ok.srv.URL, true, model.EventTaskCompleted)
	f.addWebhook(t, "broken", broken.srv.URL, true, model.EventTaskCompleted)

	begin := time.Now().UTC()
	f.d.Fanout(context.Background(), completedEvent())

	got := f.lastTriggered(t, "ok")
	if got == nil || got.Before(begin) {
		t.Errorf("ok last_triggered = %v, want after %v", got, begin)
	}
	if f.lastTriggered(t, "broken") != nil {
		t.Error("failed webhook has last_triggered set")
	}
}

func TestFanout_PostsBuiltMessage(t *testing.T) {
	rc := newReceiver(t, http.StatusOK)
	f := newFixture(t, rc.srv.Client().Transport, time.Second, Options{})
	f.addWebhook(t, "w", rc.srv.URL, true, model.EventTaskCompleted)

	f.d.Fanout(context.Background(), completedEvent())

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if len(rc.bodies) != 1 {
		t.Fatalf("receiver got %d bodies, want 1", len(rc.bodies))
	}
	var msg Message
	if err := json.Unmarshal(rc.bodies[0], &msg); err != nil {
		t.Fatalf("body is not a message: %v", err)
	}
	if msg.Text != "Task completed: Ship it" {
		t.Errorf("Text = %q", msg.Text)
	}
}

func TestFanout_MirrorsToPublisher(t *testing.T) {
	f := newFixture(t, nil, time.Second, Options{})
	f.publisher.err = errors.New("bus down")

	if outcomes := f.d.Fanout(context.Background(), completedEvent()); outcomes != nil {
		t.Errorf("Fanout() with no webhooks = %v, want nil", outcomes)
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0] != model.EventTaskCompleted {
		t.Errorf("published events = %v", f.publisher.events)
	}
}

func TestFanout_OutboundLimit(t *testing.T) {
	rc := newReceiver(t, http.StatusOK)
	f := newFixture(t, rc.srv.Client().Transport, time.Second, Options{
		Outbound:       ratelimit.New(ratelimit.Options{}),
		OutboundMax:    1,
		OutboundWindow: time.Minute,
	})
	f.addWebhook(t, "w", rc.srv.URL, true, model.EventTaskCompleted)

	first := f.d.Fanout(context.Background(), completedEvent())
	second := f.d.Fanout(context.Background(), completedEvent())

	if len(first) != 1 || len(second) != 0 {
		t.Errorf("outcomes = %d then %d, want 1 then 0", len(first), len(second))
	}
	if rc.hits.Load() != 1 {
		t.Errorf("receiver hits = %d, want 1", rc.hits.Load())
	}
}

func TestDispatch_ReturnsBeforeDelivery(t *testing.T) {
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		hits.Add(1)
	}))
	defer srv.Close()

	f := newFixture(t, srv.Client().Transport, 5*time.Second, Options{})
	f.addWebhook(t, "w", srv.URL, true, model.EventTaskCompleted)

	ctx, cancel := context.WithCancel(context.Background())
	f.d.Dispatch(ctx, completedEvent())
	// cancelling the triggering request must not abort the delivery
	cancel()

	if hits.Load() != 0 {
		t.Fatal("Dispatch() waited for delivery")
	}
	close(release)
	f.d.Wait()

	if hits.Load() != 1 {
		t.Errorf("receiver hits = %d, want 1", hits.Load())
	}
	if f.lastTriggered(t, "w") == nil {
		t.Error("last_triggered not set after background delivery")
	}
}

func TestSendTest(t *testing.T) {
	rc := newReceiver(t, http.StatusOK)
	f := newFixture(t, rc.srv.Client().Transport, time.Second, Options{})
	f.addWebhook(t, "inactive", rc.srv.URL, false, model.EventTaskCreated)
	f.addWebhook(t, "blocked", "https://10.0.0.8/hook", true, model.EventTaskCreated)

	t.Run("unknown webhook", func(t *testing.T) {
		_, err := f.d.SendTest(context.Background(), "missing")
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("SendTest() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("blocked url", func(t *testing.T) {
		_, err := f.d.SendTest(context.Background(), "blocked")
		if !errors.Is(err, ErrInvalidURL) {
			t.Errorf("SendTest() error = %v, want ErrInvalidURL", err)
		}
	})

	t.Run("inactive webhook still receives the test", func(t *testing.T) {
		out, err := f.d.SendTest(context.Background(), "inactive")
		if err != nil {
			t.Fatalf("SendTest() error: %v", err)
		}
		if !out.OK() || out.EventType != EventTest {
			t.Errorf("SendTest() = %+v", out)
		}
		if f.lastTriggered(t, "inactive") == nil {
			t.Error("last_triggered not set after test delivery")
		}
	})
}
