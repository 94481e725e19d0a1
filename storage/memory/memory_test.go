package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subfold/subfold/pkg/subfold"
)

func TestStore_CreateAssignsIDs(t *testing.T) {
	store := NewStore()
	ctx := t.Context()

	first, err := store.Create(ctx, &subfold.Subscription{UserID: "user1"})
	require.NoError(t, err)
	second, err := store.Create(ctx, &subfold.Subscription{UserID: "user2"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.Equal(t, 2, store.Len())
}

func TestStore_FindByUserID(t *testing.T) {
	store := NewStore()
	ctx := t.Context()

	_, err := store.Create(ctx, &subfold.Subscription{UserID: "user1", Status: subfold.StatusActive})
	require.NoError(t, err)

	sub, err := store.FindByUserID(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, subfold.StatusActive, sub.Status)

	_, err = store.FindByUserID(ctx, "nobody")
	assert.ErrorIs(t, err, subfold.ErrSubscriptionNotFound)
}

func TestStore_FindByRefs(t *testing.T) {
	store := NewStore()
	ctx := t.Context()

	_, err := store.Create(ctx, &subfold.Subscription{
		UserID:          "user1",
		CustomerRef:     "cus_1",
		SubscriptionRef: "sub_1",
	})
	require.NoError(t, err)

	sub, err := store.FindBySubscriptionRef(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "user1", sub.UserID)

	sub, err = store.FindByCustomerRef(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "user1", sub.UserID)
}

func TestStore_UpdateUnknownID(t *testing.T) {
	store := NewStore()

	_, err := store.Update(t.Context(), &subfold.Subscription{ID: 99, UserID: "user1"})
	assert.ErrorIs(t, err, subfold.ErrSubscriptionNotFound)
}

func TestStore_ReturnsCopies(t *testing.T) {
	store := NewStore()
	ctx := t.Context()

	created, err := store.Create(ctx, &subfold.Subscription{UserID: "user1", Status: subfold.StatusActive})
	require.NoError(t, err)

	// Mutating a returned value must not leak into the store.
	created.Status = subfold.StatusCanceled
	stored, err := store.FindByUserID(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, subfold.StatusActive, stored.Status)
}

func TestStore_UpdatePersists(t *testing.T) {
	store := NewStore()
	ctx := t.Context()

	created, err := store.Create(ctx, &subfold.Subscription{UserID: "user1", Status: subfold.StatusActive})
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	created.Status = subfold.StatusPastDue
	created.UpdatedAt = &now
	_, err = store.Update(ctx, created)
	require.NoError(t, err)

	stored, err := store.FindByUserID(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, subfold.StatusPastDue, stored.Status)
	require.NotNil(t, stored.UpdatedAt)
	assert.Equal(t, now, *stored.UpdatedAt)
}

func TestDirectory_Lookups(t *testing.T) {
	dir := NewDirectory()
	ctx := t.Context()

	dir.AddUser(subfold.User{ID: "user1", Email: "user1@example.com", CustomerRef: "cus_1"})

	user, err := dir.FindByCustomerRef(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "user1", user.ID)

	user, err = dir.FindByEmail(ctx, "user1@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user1", user.ID)

	_, err = dir.FindByCustomerRef(ctx, "cus_other")
	assert.ErrorIs(t, err, subfold.ErrUserNotFound)

	// Empty keys never match, even if a user has an empty customer ref.
	dir.AddUser(subfold.User{ID: "user2", Email: "user2@example.com"})
	_, err = dir.FindByCustomerRef(ctx, "")
	assert.ErrorIs(t, err, subfold.ErrUserNotFound)
}

func TestDirectory_AttachCustomerRef(t *testing.T) {
	dir := NewDirectory()
	ctx := t.Context()

	dir.AddUser(subfold.User{ID: "user1", Email: "user1@example.com"})

	require.NoError(t, dir.AttachCustomerRef(ctx, "user1", "cus_1"))
	user, err := dir.FindByCustomerRef(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "user1", user.ID)

	assert.ErrorIs(t, dir.AttachCustomerRef(ctx, "nobody", "cus_2"), subfold.ErrUserNotFound)
}
