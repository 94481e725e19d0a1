package subfold_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subfold/subfold/pkg/subfold"
	"github.com/subfold/subfold/storage/memory"
)

var testNow = time.Unix(1700000000, 0).UTC()

type fixture struct {
	reconciler  *subfold.Reconciler
	store       *memory.Store
	users       *memory.Directory
	transitions []transition
}

type transition struct {
	previous subfold.Status
	current  subfold.Status
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store: memory.NewStore(),
		users: memory.NewDirectory(),
	}
	f.users.AddUser(subfold.User{ID: "user1", Email: "user1@example.com", CustomerRef: "cus_1"})
	f.users.AddUser(subfold.User{ID: "user2", Email: "user2@example.com"})

	reconciler, err := subfold.NewReconciler(subfold.ReconcilerConfig{
		Store: f.store,
		Users: f.users,
		Now:   func() time.Time { return testNow },
		OnTransition: func(ctx context.Context, previous subfold.Status, sub *subfold.Subscription) {
			f.transitions = append(f.transitions, transition{previous: previous, current: sub.Status})
		},
	})
	require.NoError(t, err)
	f.reconciler = reconciler
	return f
}

func paidEvent() *subfold.NormalizedEvent {
	end := testNow.Add(30 * 24 * time.Hour)
	return &subfold.NormalizedEvent{
		CustomerRef:      "cus_1",
		SubscriptionRef:  "sub_1",
		PriceRef:         "price_1",
		ProductRef:       "prod_1",
		BillingReason:    "subscription_cycle",
		AmountPaid:       1999,
		CurrentPeriodEnd: &end,
	}
}

func TestInvoicePaid_CreatesActiveSubscription(t *testing.T) {
	f := newFixture(t)

	sub, err := f.reconciler.InvoicePaid(t.Context(), paidEvent())
	require.NoError(t, err)

	assert.Equal(t, "user1", sub.UserID)
	assert.Equal(t, subfold.StatusActive, sub.Status)
	assert.False(t, sub.HasUsedTrial)
	assert.Equal(t, "sub_1", sub.SubscriptionRef)
	assert.Equal(t, "price_1", sub.PriceRef)
	assert.Equal(t, "prod_1", sub.ProductRef)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, testNow.Add(30*24*time.Hour), *sub.CurrentPeriodEnd)
	assert.Equal(t, testNow, sub.CreatedAt)
}

func TestInvoicePaid_TrialDetection(t *testing.T) {
	f := newFixture(t)

	ev := paidEvent()
	ev.BillingReason = subfold.BillingReasonSubscriptionCreate
	ev.AmountPaid = 0

	sub, err := f.reconciler.InvoicePaid(t.Context(), ev)
	require.NoError(t, err)
	assert.Equal(t, subfold.StatusTrialing, sub.Status)
}

func TestInvoicePaid_PaidCreationIsActive(t *testing.T) {
	f := newFixture(t)

	// A nonzero first invoice is a paid signup, not a trial.
	ev := paidEvent()
	ev.BillingReason = subfold.BillingReasonSubscriptionCreate
	ev.AmountPaid = 1999

	sub, err := f.reconciler.InvoicePaid(t.Context(), ev)
	require.NoError(t, err)
	assert.Equal(t, subfold.StatusActive, sub.Status)
	assert.False(t, sub.HasUsedTrial)
}

func TestInvoicePaid_RedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	first, err := f.reconciler.InvoicePaid(ctx, paidEvent())
	require.NoError(t, err)
	second, err := f.reconciler.InvoicePaid(ctx, paidEvent())
	require.NoError(t, err)

	assert.Equal(t, 1, f.store.Len())
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.CurrentPeriodEnd, second.CurrentPeriodEnd)
}

func TestInvoicePaid_RenewalRecoversPastDue(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	_, err := f.reconciler.InvoicePaid(ctx, paidEvent())
	require.NoError(t, err)
	_, err = f.reconciler.PaymentFailed(ctx, &subfold.NormalizedEvent{CustomerRef: "cus_1"})
	require.NoError(t, err)

	sub, err := f.reconciler.InvoicePaid(ctx, paidEvent())
	require.NoError(t, err)
	assert.Equal(t, subfold.StatusActive, sub.Status)
}

func TestPaymentFailed_MarksPastDue(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	created, err := f.reconciler.InvoicePaid(ctx, paidEvent())
	require.NoError(t, err)

	sub, err := f.reconciler.PaymentFailed(ctx, &subfold.NormalizedEvent{CustomerRef: "cus_1"})
	require.NoError(t, err)
	assert.Equal(t, subfold.StatusPastDue, sub.Status)
	// A failed charge only flips the status.
	assert.Equal(t, created.SubscriptionRef, sub.SubscriptionRef)
	assert.Equal(t, created.CurrentPeriodEnd, sub.CurrentPeriodEnd)
}

func TestPaymentFailed_WithoutSubscription(t *testing.T) {
	f := newFixture(t)

	_, err := f.reconciler.PaymentFailed(t.Context(), &subfold.NormalizedEvent{CustomerRef: "cus_1"})
	assert.ErrorIs(t, err, subfold.ErrSubscriptionNotFound)
}

func TestSubscriptionUpdated_AppliesProviderState(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	created, err := f.reconciler.InvoicePaid(ctx, paidEvent())
	require.NoError(t, err)

	sub, err := f.reconciler.SubscriptionUpdated(ctx, &subfold.NormalizedEvent{
		CustomerRef:       "cus_1",
		SubscriptionRef:   "sub_1",
		PriceRef:          "price_2",
		ProductRef:        "prod_2",
		ProviderStatus:    "unpaid",
		CancelAtPeriodEnd: true,
	})
	require.NoError(t, err)

	assert.Equal(t, subfold.StatusPastDue, sub.Status)
	assert.Equal(t, "price_2", sub.PriceRef)
	assert.Equal(t, "prod_2", sub.ProductRef)
	assert.True(t, sub.CancelAtPeriodEnd)
	// Only payment events move the period end.
	assert.Equal(t, created.CurrentPeriodEnd, sub.CurrentPeriodEnd)
}

func TestSubscriptionUpdated_UnknownProviderStatus(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	_, err := f.reconciler.InvoicePaid(ctx, paidEvent())
	require.NoError(t, err)

	sub, err := f.reconciler.SubscriptionUpdated(ctx, &subfold.NormalizedEvent{
		CustomerRef:     "cus_1",
		SubscriptionRef: "sub_1",
		PriceRef:        "price_1",
		ProductRef:      "prod_1",
		ProviderStatus:  "paused",
	})
	require.NoError(t, err)
	assert.Equal(t, subfold.StatusUnknown, sub.Status)
}

func TestSubscriptionUpdated_BeforeCreate(t *testing.T) {
	f := newFixture(t)

	_, err := f.reconciler.SubscriptionUpdated(t.Context(), &subfold.NormalizedEvent{
		CustomerRef:     "cus_1",
		SubscriptionRef: "sub_1",
		ProviderStatus:  "active",
	})
	assert.ErrorIs(t, err, subfold.ErrSubscriptionNotFound)
}

func TestSubscriptionDeleted_CancelsWithEventTimestamp(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	created, err := f.reconciler.InvoicePaid(ctx, paidEvent())
	require.NoError(t, err)

	canceledAt := time.Unix(1700000000, 0).UTC()
	sub, err := f.reconciler.SubscriptionDeleted(ctx, &subfold.NormalizedEvent{
		CustomerRef:     "cus_1",
		SubscriptionRef: "sub_1",
		PriceRef:        "price_1",
		ProductRef:      "prod_1",
		CanceledAt:      &canceledAt,
	})
	require.NoError(t, err)

	assert.Equal(t, subfold.StatusCanceled, sub.Status)
	require.NotNil(t, sub.CanceledAt)
	assert.Equal(t, canceledAt, *sub.CanceledAt)
	// References and period end survive cancellation.
	assert.Equal(t, created.SubscriptionRef, sub.SubscriptionRef)
	assert.Equal(t, created.CurrentPeriodEnd, sub.CurrentPeriodEnd)
}

func TestSubscriptionDeleted_FallsBackToClock(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	_, err := f.reconciler.InvoicePaid(ctx, paidEvent())
	require.NoError(t, err)

	sub, err := f.reconciler.SubscriptionDeleted(ctx, &subfold.NormalizedEvent{
		CustomerRef:     "cus_1",
		SubscriptionRef: "sub_1",
		PriceRef:        "price_1",
		ProductRef:      "prod_1",
	})
	require.NoError(t, err)
	require.NotNil(t, sub.CanceledAt)
	assert.Equal(t, testNow, *sub.CanceledAt)
}

func TestCustomerCreated_LinksUserByEmail(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	err := f.reconciler.CustomerCreated(ctx, &subfold.NormalizedEvent{
		CustomerRef: "cus_2",
		Email:       "user2@example.com",
	})
	require.NoError(t, err)

	user, err := f.users.FindByCustomerRef(ctx, "cus_2")
	require.NoError(t, err)
	assert.Equal(t, "user2", user.ID)
}

func TestCustomerCreated_UnknownEmail(t *testing.T) {
	f := newFixture(t)

	err := f.reconciler.CustomerCreated(t.Context(), &subfold.NormalizedEvent{
		CustomerRef: "cus_3",
		Email:       "nobody@example.com",
	})
	assert.ErrorIs(t, err, subfold.ErrUserNotFound)
}

func TestReconciler_UnknownCustomerRef(t *testing.T) {
	f := newFixture(t)

	ev := paidEvent()
	ev.CustomerRef = "cus_unknown"
	_, err := f.reconciler.InvoicePaid(t.Context(), ev)
	assert.ErrorIs(t, err, subfold.ErrUserNotFound)
}

func TestReconciler_TransitionCallback(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	_, err := f.reconciler.InvoicePaid(ctx, paidEvent())
	require.NoError(t, err)
	_, err = f.reconciler.PaymentFailed(ctx, &subfold.NormalizedEvent{CustomerRef: "cus_1"})
	require.NoError(t, err)

	require.Len(t, f.transitions, 2)
	assert.Equal(t, transition{previous: "", current: subfold.StatusActive}, f.transitions[0])
	assert.Equal(t, transition{previous: subfold.StatusActive, current: subfold.StatusPastDue}, f.transitions[1])
}

func TestNewReconciler_Validation(t *testing.T) {
	_, err := subfold.NewReconciler(subfold.ReconcilerConfig{Users: memory.NewDirectory()})
	assert.Error(t, err)

	_, err = subfold.NewReconciler(subfold.ReconcilerConfig{Store: memory.NewStore()})
	assert.Error(t, err)
}
