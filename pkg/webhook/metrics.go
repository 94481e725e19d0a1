package webhook

import "time"

// Metrics defines the interface for tracking webhook processing.
// All methods are optional - the handler gracefully handles nil metrics.
type Metrics interface {
	// RecordEvent records a webhook event received from the payment
	// provider. status: "success", "ignored" or "error".
	RecordEvent(eventType, status string)

	// RecordProcessingDuration records how long it took to process a
	// webhook end to end.
	RecordProcessingDuration(eventType string, duration time.Duration)

	// RecordError records a webhook processing error.
	// errorType: e.g. "auth_failed", "invalid_payload", "ordering_violation",
	// "storage_error".
	RecordError(errorType string)

	// RecordStatusChange records a subscription status transition.
	RecordStatusChange(from, to string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordEvent(_, _ string)                            {}
func (n *NoopMetrics) RecordProcessingDuration(_ string, _ time.Duration) {}
func (n *NoopMetrics) RecordError(_ string)                               {}
func (n *NoopMetrics) RecordStatusChange(_, _ string)                     {}
