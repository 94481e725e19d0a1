package subfold

import "context"

// SubscriptionStore is the consumed persistence interface for subscription
// records. Implementations must serialize concurrent writers per
// subscription id (row-level atomicity); the Reconciler performs exactly one
// read and one write per event and relies on that guarantee.
type SubscriptionStore interface {
	// FindByUserID returns the subscription owned by the given internal
	// user id, or ErrSubscriptionNotFound.
	FindByUserID(ctx context.Context, userID string) (*Subscription, error)

	// FindBySubscriptionRef returns the subscription with the given
	// provider subscription reference, or ErrSubscriptionNotFound.
	FindBySubscriptionRef(ctx context.Context, ref string) (*Subscription, error)

	// FindByCustomerRef returns the subscription with the given provider
	// customer reference, or ErrSubscriptionNotFound.
	FindByCustomerRef(ctx context.Context, ref string) (*Subscription, error)

	// Create persists a new subscription and returns it with its assigned
	// internal id.
	Create(ctx context.Context, sub *Subscription) (*Subscription, error)

	// Update persists changes to an existing subscription, located by its
	// internal id.
	Update(ctx context.Context, sub *Subscription) (*Subscription, error)
}

// UserDirectory resolves payment-provider customer references to internal
// users. The subscription store is keyed by internal identity while the
// provider only ever supplies its own references; this indirection bridges
// the two.
type UserDirectory interface {
	// FindByCustomerRef resolves a provider customer reference to a user,
	// or returns ErrUserNotFound.
	FindByCustomerRef(ctx context.Context, ref string) (*User, error)

	// FindByEmail looks a user up by email address, or returns
	// ErrUserNotFound. Used when a customer record is first created at the
	// provider and carries only the email.
	FindByEmail(ctx context.Context, email string) (*User, error)

	// AttachCustomerRef records the provider customer reference on the
	// user, linking the external identity to the internal one.
	AttachCustomerRef(ctx context.Context, userID, ref string) error
}
