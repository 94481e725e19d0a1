package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/subfold/subfold/pkg/webhook"
)

// Metrics implements webhook.Metrics using Prometheus.
type Metrics struct {
	eventsTotal        *prometheus.CounterVec
	processingDuration *prometheus.HistogramVec
	errorsTotal        *prometheus.CounterVec
	statusChangesTotal *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation for the
// webhook engine.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Total number of webhook events received from the payment provider.",
		}, []string{"event_type", "status"}),

		processingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "processing_duration_seconds",
			Help:      "Duration of webhook processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),

		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "errors_total",
			Help:      "Total number of webhook processing errors.",
		}, []string{"error_type"}),

		statusChangesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "status_changes_total",
			Help:      "Total number of subscription status transitions.",
		}, []string{"from", "to"}),
	}
}

func (m *Metrics) RecordEvent(eventType, status string) {
	m.eventsTotal.WithLabelValues(eventType, status).Inc()
}

func (m *Metrics) RecordProcessingDuration(eventType string, duration time.Duration) {
	m.processingDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *Metrics) RecordError(errorType string) {
	m.errorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) RecordStatusChange(from, to string) {
	m.statusChangesTotal.WithLabelValues(from, to).Inc()
}

// DefaultMetrics returns a Metrics implementation using the default
// Prometheus registerer.
func DefaultMetrics(namespace string) webhook.Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
