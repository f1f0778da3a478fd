package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics records outcomes of provider webhook processing.
type WebhookMetrics struct {
	received  *prometheus.CounterVec
	applied   *prometheus.CounterVec
	duplicate *prometheus.CounterVec
	malformed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_received",
		Help: "Webhook events received, before verification.",
	}, []string{"provider"})
	applied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_applied",
		Help: "Webhook events that changed local state.",
	}, []string{"provider", "event_type"})
	duplicate := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_duplicate",
		Help: "Webhook events skipped by the idempotency guard.",
	}, []string{"provider", "event_type"})
	malformed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_malformed",
		Help: "Webhook events acknowledged but unusable (missing metadata).",
	}, []string{"provider", "event_type"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_failed",
		Help: "Webhook events that errored during processing.",
	}, []string{"provider", "event_type"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_processing_seconds",
		Help:    "Duration of webhook event processing in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
	reg.MustRegister(received, applied, duplicate, malformed, failed, duration)
	return &WebhookMetrics{
		received:  received,
		applied:   applied,
		duplicate: duplicate,
		malformed: malformed,
		failed:    failed,
		duration:  duration,
	}
}

// IncReceived counts an incoming event for the provider.
func (w *WebhookMetrics) IncReceived(provider string) {
	if w == nil || w.received == nil {
		return
	}
	w.received.WithLabelValues(normalizeLabel(provider)).Inc()
}

// IncApplied counts an event that mutated local state.
func (w *WebhookMetrics) IncApplied(provider, eventType string) {
	if w == nil || w.applied == nil {
		return
	}
	w.applied.WithLabelValues(normalizeLabel(provider), normalizeLabel(eventType)).Inc()
}

// IncDuplicate counts an event dropped by the idempotency guard.
func (w *WebhookMetrics) IncDuplicate(provider, eventType string) {
	if w == nil || w.duplicate == nil {
		return
	}
	w.duplicate.WithLabelValues(normalizeLabel(provider), normalizeLabel(eventType)).Inc()
}

// IncMalformed counts an event acknowledged without processing.
func (w *WebhookMetrics) IncMalformed(provider, eventType string) {
	if w == nil || w.malformed == nil {
		return
	}
	w.malformed.WithLabelValues(normalizeLabel(provider), normalizeLabel(eventType)).Inc()
}

// IncFailed counts a processing error.
func (w *WebhookMetrics) IncFailed(provider, eventType string) {
	if w == nil || w.failed == nil {
		return
	}
	w.failed.WithLabelValues(normalizeLabel(provider), normalizeLabel(eventType)).Inc()
}

// ObserveDuration records how long processing one event took.
func (w *WebhookMetrics) ObserveDuration(provider string, duration time.Duration) {
	if w == nil || w.duration == nil {
		return
	}
	w.duration.WithLabelValues(normalizeLabel(provider)).Observe(duration.Seconds())
}
