// Package http provides HTTP middleware for subscription gating.
package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/subfold/subfold/pkg/subfold"
)

// UserIDExtractor extracts the user ID from an HTTP request.
// Return empty string if the user is not authenticated.
type UserIDExtractor func(r *http.Request) string

// Config holds middleware configuration.
type Config struct {
	// Store is the subscription store to check against (required).
	Store subfold.SubscriptionStore

	// GetUserID extracts the user ID from the request (required).
	GetUserID UserIDExtractor

	// AllowedStatuses lists the subscription statuses that grant access.
	// Default: Active and Trialing.
	AllowedStatuses []subfold.Status

	// OnUnauthorized is called when the user is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnDenied is called when the user has no qualifying subscription.
	// If nil, returns 402 Payment Required.
	OnDenied func(w http.ResponseWriter, r *http.Request, sub *subfold.Subscription)

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that only passes requests from
// users with a qualifying subscription.
func Middleware(config Config) func(http.Handler) http.Handler {
	allowed := config.AllowedStatuses
	if len(allowed) == 0 {
		allowed = []subfold.Status{subfold.StatusActive, subfold.StatusTrialing}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			sub, err := config.Store.FindByUserID(r.Context(), userID)
			if err != nil {
				if errors.Is(err, subfold.ErrSubscriptionNotFound) {
					if config.OnDenied != nil {
						config.OnDenied(w, r, nil)
					} else {
						http.Error(w, "Payment Required", http.StatusPaymentRequired)
					}
					return
				}
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}

			if !statusAllowed(sub.Status, allowed) {
				if config.OnDenied != nil {
					config.OnDenied(w, r, sub)
				} else {
					http.Error(w, "Payment Required", http.StatusPaymentRequired)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HandlerFunc creates an HTTP middleware (HandlerFunc version).
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

func statusAllowed(status subfold.Status, allowed []subfold.Status) bool {
	for _, s := range allowed {
		if status == s {
			return true
		}
	}
	return false
}

// ContextKey is a type for context keys.
type ContextKey string

// UserIDKey is the context key for user ID.
const UserIDKey ContextKey = "subfold:userID"

// FromContext returns a UserIDExtractor that gets the user ID from the
// request context.
func FromContext(key ContextKey) UserIDExtractor {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets the user ID from a header.
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// WithUserID adds the user ID to a request context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}
