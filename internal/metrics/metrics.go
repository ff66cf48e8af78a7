package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskhook_events_emitted_total",
			Help: "Total number of lifecycle events handed to the dispatcher.",
		},
		[]string{"event_type"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskhook_deliveries_total",
			Help: "Total number of webhook deliveries by outcome.",
		},
		[]string{"outcome"}, // success, timeout, failure
	)

	DeliveryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskhook_delivery_latency_seconds",
			Help:    "Latency of outbound webhook calls.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"outcome"},
	)

	DeliveryFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskhook_delivery_failures_total",
			Help: "Total number of failed deliveries by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, timeout, network, other
	)

	RateLimitRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskhook_ratelimit_rejections_total",
			Help: "Total number of requests rejected by the rate limiter by endpoint class.",
		},
		[]string{"class"},
	)

	RateLimitBuckets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskhook_ratelimit_buckets",
			Help: "Number of live rate limit buckets after the last sweep.",
		},
	)

	URLGuardBlockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskhook_urlguard_blocked_total",
			Help: "Total number of webhook URLs rejected by the URL guard by stage.",
		},
		[]string{"stage"}, // create, update, dispatch, redirect, test
	)

	EventBusPublishErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskhook_eventbus_publish_errors_total",
			Help: "Total number of failed event bus publications by backend.",
		},
		[]string{"backend"},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		EventsEmittedTotal,
		DeliveriesTotal,
		DeliveryLatency,
		DeliveryFailuresTotal,
		RateLimitRejectionsTotal,
		RateLimitBuckets,
		URLGuardBlockedTotal,
		EventBusPublishErrorsTotal,
	)
}

// RecordEventEmitted counts one lifecycle event
func RecordEventEmitted(eventType string) {
	EventsEmittedTotal.WithLabelValues(eventType).Inc()
}

// RecordDelivery counts one delivery attempt and observes its latency
func RecordDelivery(outcome string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(outcome).Inc()
	DeliveryLatency.WithLabelValues(outcome).Observe(latency.Seconds())
}

// RecordDeliveryFailure counts a failed delivery by its classified reason
func RecordDeliveryFailure(reason string) {
	DeliveryFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordRateLimited counts one rejected request
func RecordRateLimited(class string) {
	RateLimitRejectionsTotal.WithLabelValues(class).Inc()
}

// UpdateRateLimitBuckets sets the live bucket gauge
func UpdateRateLimitBuckets(n int) {
	RateLimitBuckets.Set(float64(n))
}

// RecordURLBlocked counts one URL guard rejection
func RecordURLBlocked(stage string) {
	URLGuardBlockedTotal.WithLabelValues(stage).Inc()
}

// RecordEventBusError counts one failed event bus publication
func RecordEventBusError(backend string) {
	EventBusPublishErrorsTotal.WithLabelValues(backend).Inc()
}
