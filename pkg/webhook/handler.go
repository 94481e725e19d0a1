package webhook

import (
	"errors"
	"net/http"
	"time"

	"github.com/subfold/subfold/pkg/subfold"
	"github.com/subfold/subfold/pkg/webhook/internal"
)

const defaultMaxBodyBytes = 256 * 1024

// Config holds webhook handler configuration.
type Config struct {
	// Secret is the shared webhook signing secret (required).
	Secret string

	// Reconciler applies normalized events to subscription state (required).
	Reconciler *subfold.Reconciler

	// Tolerance is the signature timestamp tolerance window.
	// Defaults to DefaultTolerance.
	Tolerance time.Duration

	// MaxBodyBytes caps the request body size. Defaults to 256 KiB.
	MaxBodyBytes int64

	// Logger is used for structured logging (default: NoopLogger).
	Logger subfold.Logger

	// Metrics is an optional metrics collector. If nil, metrics are
	// silently ignored (no-op).
	Metrics Metrics

	// Now returns the current time for signature verification.
	// Defaults to time.Now; override in tests.
	Now func() time.Time
}

// Handler is the inbound webhook endpoint: signature gate, event
// normalization, then reconciliation. It holds no cross-request state.
type Handler struct {
	verifier     Verifier
	reconciler   *subfold.Reconciler
	maxBodyBytes int64
	logger       subfold.Logger
	metrics      Metrics
	now          func() time.Time
}

// NewHandler creates a webhook Handler.
func NewHandler(config Config) (*Handler, error) {
	if config.Secret == "" {
		return nil, errors.New("webhook secret is required")
	}
	if config.Reconciler == nil {
		return nil, errors.New("reconciler is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = &subfold.NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	maxBody := config.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &Handler{
		verifier:     Verifier{Secret: config.Secret, Tolerance: config.Tolerance},
		reconciler:   config.Reconciler,
		maxBodyBytes: maxBody,
		logger:       logger,
		metrics:      metrics,
		now:          now,
	}, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	startTime := h.now()
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, h.maxBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			h.metrics.RecordError("payload_too_large")
		} else {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			h.metrics.RecordError("invalid_payload")
		}
		return
	}

	// Verification runs on the exact bytes received, before any decoding.
	if err := h.verifier.Verify(body, r.Header.Get("Signature"), h.now()); err != nil {
		h.logger.Warn("webhook signature rejected",
			subfold.Field{Key: "error", Value: err.Error()})
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		h.metrics.RecordError("auth_failed")
		return
	}

	env, err := ParseEnvelope(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		h.metrics.RecordError("invalid_payload")
		return
	}

	if !Supported(env.Type) {
		// Unknown event types are acknowledged so the provider does not
		// retry them forever.
		h.logger.Debug("ignoring unsupported event type",
			subfold.Field{Key: "event_type", Value: env.Type})
		h.metrics.RecordEvent(env.Type, "ignored")
		w.WriteHeader(http.StatusOK)
		return
	}

	ev, err := Normalize(env.Data.Object, env.Type)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		h.metrics.RecordEvent(env.Type, "error")
		h.metrics.RecordError("invalid_payload")
		return
	}

	if err := h.dispatch(r, env.Type, ev); err != nil {
		h.writeError(w, env.Type, err)
		h.metrics.RecordEvent(env.Type, "error")
		h.metrics.RecordProcessingDuration(env.Type, h.now().Sub(startTime))
		return
	}

	w.WriteHeader(http.StatusOK)
	h.metrics.RecordEvent(env.Type, "success")
	h.metrics.RecordProcessingDuration(env.Type, h.now().Sub(startTime))
}

func (h *Handler) dispatch(r *http.Request, eventType string, ev *subfold.NormalizedEvent) error {
	ctx := r.Context()
	var err error
	switch eventType {
	case EventCustomerCreated:
		err = h.reconciler.CustomerCreated(ctx, ev)
	case EventInvoicePaid:
		_, err = h.reconciler.InvoicePaid(ctx, ev)
	case EventInvoicePaymentFailed:
		_, err = h.reconciler.PaymentFailed(ctx, ev)
	case EventSubscriptionUpdated:
		_, err = h.reconciler.SubscriptionUpdated(ctx, ev)
	case EventSubscriptionDeleted:
		_, err = h.reconciler.SubscriptionDeleted(ctx, ev)
	}
	return err
}

func (h *Handler) writeError(w http.ResponseWriter, eventType string, err error) {
	switch {
	case errors.Is(err, subfold.ErrSubscriptionNotFound), errors.Is(err, subfold.ErrUserNotFound):
		// Ordering violation: an update/delete/failure arrived before the
		// corresponding creation event. A non-2xx response makes the
		// provider redeliver once the creation event has landed.
		h.logger.Warn("webhook references unknown record",
			subfold.Field{Key: "event_type", Value: eventType},
			subfold.Field{Key: "error", Value: err.Error()})
		http.Error(w, "not found", http.StatusNotFound)
		h.metrics.RecordError("ordering_violation")
	default:
		h.logger.Error("webhook processing failed",
			subfold.Field{Key: "event_type", Value: eventType},
			subfold.Field{Key: "error", Value: err.Error()})
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		h.metrics.RecordError("storage_error")
	}
}
