package subfold

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// BillingReasonSubscriptionCreate is the provider's billing reason for the
// first invoice of a new subscription. Combined with a zero amount paid it
// marks a trial start.
const BillingReasonSubscriptionCreate = "subscription_create"

// ReconcilerConfig holds Reconciler configuration.
type ReconcilerConfig struct {
	// Store is the subscription persistence backend (required).
	Store SubscriptionStore

	// Users resolves provider customer references to internal users
	// (required).
	Users UserDirectory

	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Now returns the current time. Defaults to time.Now; override in
	// tests for deterministic timestamps.
	Now func() time.Time

	// OnTransition, if set, is invoked after a reconciliation has been
	// persisted. previous is empty when the subscription was just created.
	OnTransition TransitionCallback
}

// TransitionCallback observes persisted state transitions, e.g. to feed
// metrics or notifications.
type TransitionCallback func(ctx context.Context, previous Status, sub *Subscription)

// Reconciler folds normalized provider events into local subscription
// state. Each transition is an overwrite of specific fields, so
// re-delivering the same event produces the same resulting state (modulo
// UpdatedAt, which always advances).
type Reconciler struct {
	store        SubscriptionStore
	users        UserDirectory
	logger       Logger
	now          func() time.Time
	onTransition TransitionCallback
}

// NewReconciler creates a Reconciler.
func NewReconciler(config ReconcilerConfig) (*Reconciler, error) {
	if config.Store == nil {
		return nil, errors.New("subscription store is required")
	}
	if config.Users == nil {
		return nil, errors.New("user directory is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = &NoopLogger{}
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		store:        config.Store,
		users:        config.Users,
		logger:       logger,
		now:          now,
		onTransition: config.OnTransition,
	}, nil
}

// InvoicePaid applies a successful payment event. If the user has no local
// subscription yet, one is created (the bootstrap path); otherwise the
// existing record is updated in place. The cancellation flags are left
// untouched on update.
func (r *Reconciler) InvoicePaid(ctx context.Context, ev *NormalizedEvent) (*Subscription, error) {
	user, err := r.resolveUser(ctx, ev.CustomerRef)
	if err != nil {
		return nil, err
	}

	status := StatusActive
	if ev.BillingReason == BillingReasonSubscriptionCreate && ev.AmountPaid == 0 {
		status = StatusTrialing
	}

	sub, err := r.store.FindByUserID(ctx, user.ID)
	switch {
	case err == nil:
		previous := sub.Status
		sub.SubscriptionRef = ev.SubscriptionRef
		sub.PriceRef = ev.PriceRef
		sub.ProductRef = ev.ProductRef
		sub.Status = status
		sub.HasUsedTrial = false
		sub.CurrentPeriodEnd = ev.CurrentPeriodEnd
		r.touch(sub)
		updated, err := r.store.Update(ctx, sub)
		if err != nil {
			return nil, fmt.Errorf("failed to update subscription: %w", err)
		}
		r.logger.Info("subscription renewed",
			Field{Key: "user_id", Value: user.ID},
			Field{Key: "status", Value: string(status)})
		r.notify(ctx, previous, updated)
		return updated, nil

	case errors.Is(err, ErrSubscriptionNotFound):
		created, err := r.store.Create(ctx, &Subscription{
			UserID:           user.ID,
			CustomerRef:      ev.CustomerRef,
			SubscriptionRef:  ev.SubscriptionRef,
			PriceRef:         ev.PriceRef,
			ProductRef:       ev.ProductRef,
			Status:           status,
			HasUsedTrial:     false,
			CurrentPeriodEnd: ev.CurrentPeriodEnd,
			CreatedAt:        r.now().UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create subscription: %w", err)
		}
		r.logger.Info("subscription created",
			Field{Key: "user_id", Value: user.ID},
			Field{Key: "status", Value: string(status)})
		r.notify(ctx, "", created)
		return created, nil

	default:
		return nil, err
	}
}

// PaymentFailed marks the user's subscription past due. The subscription
// must already exist; a failed charge cannot bootstrap a record.
func (r *Reconciler) PaymentFailed(ctx context.Context, ev *NormalizedEvent) (*Subscription, error) {
	sub, err := r.requireSubscription(ctx, ev.CustomerRef, "invoice.payment_failed")
	if err != nil {
		return nil, err
	}

	previous := sub.Status
	sub.Status = StatusPastDue
	r.touch(sub)
	updated, err := r.store.Update(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	r.logger.Warn("payment failed, subscription past due",
		Field{Key: "user_id", Value: sub.UserID})
	r.notify(ctx, previous, updated)
	return updated, nil
}

// SubscriptionUpdated applies a provider-side subscription change: plan
// switches, pending cancellations and status changes. The current period
// end is deliberately not touched; only payment events move it.
func (r *Reconciler) SubscriptionUpdated(ctx context.Context, ev *NormalizedEvent) (*Subscription, error) {
	sub, err := r.requireSubscription(ctx, ev.CustomerRef, "customer.subscription.updated")
	if err != nil {
		return nil, err
	}

	previous := sub.Status
	sub.SubscriptionRef = ev.SubscriptionRef
	sub.PriceRef = ev.PriceRef
	sub.ProductRef = ev.ProductRef
	sub.Status = StatusFromProvider(ev.ProviderStatus)
	sub.CancelAtPeriodEnd = ev.CancelAtPeriodEnd
	r.touch(sub)
	updated, err := r.store.Update(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	r.logger.Info("subscription updated",
		Field{Key: "user_id", Value: sub.UserID},
		Field{Key: "status", Value: string(sub.Status)})
	r.notify(ctx, previous, updated)
	return updated, nil
}

// SubscriptionDeleted marks the subscription canceled. The cancellation
// timestamp comes from the event payload when present, otherwise the
// current clock time.
func (r *Reconciler) SubscriptionDeleted(ctx context.Context, ev *NormalizedEvent) (*Subscription, error) {
	sub, err := r.requireSubscription(ctx, ev.CustomerRef, "customer.subscription.deleted")
	if err != nil {
		return nil, err
	}

	canceledAt := ev.CanceledAt
	if canceledAt == nil {
		t := r.now().UTC()
		canceledAt = &t
	}

	previous := sub.Status
	sub.SubscriptionRef = ev.SubscriptionRef
	sub.PriceRef = ev.PriceRef
	sub.ProductRef = ev.ProductRef
	sub.Status = StatusCanceled
	sub.CanceledAt = canceledAt
	r.touch(sub)
	updated, err := r.store.Update(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	r.logger.Info("subscription canceled",
		Field{Key: "user_id", Value: sub.UserID})
	r.notify(ctx, previous, updated)
	return updated, nil
}

// CustomerCreated links a freshly created provider customer to the local
// user with the same email address.
func (r *Reconciler) CustomerCreated(ctx context.Context, ev *NormalizedEvent) error {
	user, err := r.users.FindByEmail(ctx, ev.Email)
	if err != nil {
		return err
	}
	if err := r.users.AttachCustomerRef(ctx, user.ID, ev.CustomerRef); err != nil {
		return fmt.Errorf("failed to attach customer reference: %w", err)
	}
	r.logger.Info("customer reference attached",
		Field{Key: "user_id", Value: user.ID})
	return nil
}

func (r *Reconciler) resolveUser(ctx context.Context, customerRef string) (*User, error) {
	user, err := r.users.FindByCustomerRef(ctx, customerRef)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// requireSubscription resolves the event's customer reference to a local
// subscription for transitions that cannot bootstrap a record. A miss is an
// ordering violation (update arrived before creation) and is logged
// distinctly for operational visibility.
func (r *Reconciler) requireSubscription(ctx context.Context, customerRef, eventType string) (*Subscription, error) {
	user, err := r.resolveUser(ctx, customerRef)
	if err != nil {
		return nil, err
	}
	sub, err := r.store.FindByUserID(ctx, user.ID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			r.logger.Warn("event ordering violation: no subscription for required-existing transition",
				Field{Key: "event_type", Value: eventType},
				Field{Key: "user_id", Value: user.ID})
		}
		return nil, err
	}
	return sub, nil
}

func (r *Reconciler) notify(ctx context.Context, previous Status, sub *Subscription) {
	if r.onTransition != nil {
		r.onTransition(ctx, previous, sub)
	}
}

func (r *Reconciler) touch(sub *Subscription) {
	t := r.now().UTC()
	sub.UpdatedAt = &t
}
