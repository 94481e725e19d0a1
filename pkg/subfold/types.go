package subfold

import "time"

// Status is the lifecycle state of a locally mirrored subscription.
type Status string

const (
	// StatusTrialing indicates a subscription in its free trial period.
	StatusTrialing Status = "trialing"
	// StatusActive indicates a subscription with a successful charge.
	StatusActive Status = "active"
	// StatusPastDue indicates the most recent charge failed.
	StatusPastDue Status = "past_due"
	// StatusCanceled indicates the subscription was deleted at the provider.
	StatusCanceled Status = "canceled"
	// StatusUnknown is used for provider status strings we don't recognize.
	// Mapping to Unknown instead of failing keeps the mirror tolerant of
	// provider vocabulary growth.
	StatusUnknown Status = "unknown"
)

// StatusFromProvider maps a provider status string to an internal Status.
// Unrecognized strings map to StatusUnknown rather than causing an error.
func StatusFromProvider(s string) Status {
	switch s {
	case "active", "trialing":
		return StatusActive
	case "past_due", "unpaid":
		return StatusPastDue
	case "canceled", "incomplete", "incomplete_expired":
		return StatusCanceled
	default:
		return StatusUnknown
	}
}

// Subscription is the authoritative local mirror of one externally-hosted
// subscription. It is created by the Reconciler on the first successful
// payment event and mutated in place by every subsequent event; the
// reconciliation path never hard-deletes it (cancellation is a status
// transition, not removal).
type Subscription struct {
	// ID is the internal identifier, assigned by the SubscriptionStore.
	ID int64

	// UserID is the internal id of the owning user.
	UserID string

	// CustomerRef, SubscriptionRef, PriceRef and ProductRef are opaque
	// identifiers issued by the payment provider, stored verbatim.
	CustomerRef     string
	SubscriptionRef string
	PriceRef        string
	ProductRef      string

	Status Status

	// HasUsedTrial records whether the user has consumed their free trial.
	HasUsedTrial bool

	// CurrentPeriodEnd is the end of the current billing period, if known.
	CurrentPeriodEnd *time.Time

	// CancelAtPeriodEnd mirrors the provider's pending-cancellation flag.
	CancelAtPeriodEnd bool

	// CanceledAt is set when the provider reports the subscription deleted.
	CanceledAt *time.Time

	CreatedAt time.Time
	UpdatedAt *time.Time
}

// User is the minimal view of a user that reconciliation needs: an internal
// identity plus the provider's customer reference linking the two systems.
type User struct {
	ID          string
	Email       string
	CustomerRef string
}

// NormalizedEvent is the typed projection of a provider webhook payload.
// It is ephemeral: built by the event normalizer, consumed by the
// Reconciler, never persisted. CustomerRef is mandatory for every event
// type; all other fields are populated per event type.
type NormalizedEvent struct {
	CustomerRef     string
	SubscriptionRef string
	PriceRef        string
	ProductRef      string

	// Email is only set for customer lifecycle events.
	Email string

	// BillingReason and AmountPaid classify a successful payment: a
	// "subscription_create" reason with zero amount paid is a trial start.
	BillingReason string
	AmountPaid    int64

	// ProviderStatus is the raw status string from the provider, mapped to
	// an internal Status by the Reconciler.
	ProviderStatus string

	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
	CanceledAt        *time.Time
}
