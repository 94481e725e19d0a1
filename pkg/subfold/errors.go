package subfold

import "errors"

var (
	// ErrSubscriptionNotFound is returned when no local subscription exists
	// for the referenced user. On update/failed/deleted events this signals
	// an event-ordering violation (the creation event has not arrived yet).
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrUserNotFound is returned when a provider customer reference cannot
	// be resolved to an internal user.
	ErrUserNotFound = errors.New("user not found")

	// ErrStoreUnavailable is returned when the subscription store cannot be
	// reached. Retry is the provider's redelivery mechanism's job, not ours.
	ErrStoreUnavailable = errors.New("subscription store unavailable")
)
