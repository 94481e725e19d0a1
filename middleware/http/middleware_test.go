package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subfold/subfold/pkg/subfold"
	"github.com/subfold/subfold/storage/memory"
)

func newGate(t *testing.T, store *memory.Store, cfg Config) http.Handler {
	t.Helper()
	cfg.Store = store
	if cfg.GetUserID == nil {
		cfg.GetUserID = FromHeader("X-User-ID")
	}
	return Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func do(handler http.Handler, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_AllowsActiveSubscription(t *testing.T) {
	store := memory.NewStore()
	_, err := store.Create(t.Context(), &subfold.Subscription{UserID: "user1", Status: subfold.StatusActive})
	require.NoError(t, err)

	handler := newGate(t, store, Config{})
	assert.Equal(t, http.StatusOK, do(handler, "user1").Code)
}

func TestMiddleware_AllowsTrialingSubscription(t *testing.T) {
	store := memory.NewStore()
	_, err := store.Create(t.Context(), &subfold.Subscription{UserID: "user1", Status: subfold.StatusTrialing})
	require.NoError(t, err)

	handler := newGate(t, store, Config{})
	assert.Equal(t, http.StatusOK, do(handler, "user1").Code)
}

func TestMiddleware_DeniesWithoutSubscription(t *testing.T) {
	handler := newGate(t, memory.NewStore(), Config{})
	assert.Equal(t, http.StatusPaymentRequired, do(handler, "user1").Code)
}

func TestMiddleware_DeniesNonQualifyingStatus(t *testing.T) {
	store := memory.NewStore()
	_, err := store.Create(t.Context(), &subfold.Subscription{UserID: "user1", Status: subfold.StatusCanceled})
	require.NoError(t, err)

	handler := newGate(t, store, Config{})
	assert.Equal(t, http.StatusPaymentRequired, do(handler, "user1").Code)
}

func TestMiddleware_CustomAllowedStatuses(t *testing.T) {
	store := memory.NewStore()
	_, err := store.Create(t.Context(), &subfold.Subscription{UserID: "user1", Status: subfold.StatusPastDue})
	require.NoError(t, err)

	// Grace period policy: past due users keep access.
	handler := newGate(t, store, Config{
		AllowedStatuses: []subfold.Status{subfold.StatusActive, subfold.StatusTrialing, subfold.StatusPastDue},
	})
	assert.Equal(t, http.StatusOK, do(handler, "user1").Code)
}

func TestMiddleware_Unauthenticated(t *testing.T) {
	handler := newGate(t, memory.NewStore(), Config{})
	assert.Equal(t, http.StatusUnauthorized, do(handler, "").Code)
}

func TestMiddleware_CustomDeniedHandler(t *testing.T) {
	called := false
	handler := newGate(t, memory.NewStore(), Config{
		OnDenied: func(w http.ResponseWriter, r *http.Request, sub *subfold.Subscription) {
			called = true
			w.WriteHeader(http.StatusForbidden)
		},
	})

	assert.Equal(t, http.StatusForbidden, do(handler, "user1").Code)
	assert.True(t, called)
}

func TestFromContext(t *testing.T) {
	extractor := FromContext(UserIDKey)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", extractor(req))

	req = req.WithContext(WithUserID(req.Context(), "user1"))
	assert.Equal(t, "user1", extractor(req))
}
