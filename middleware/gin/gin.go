// Package gin provides Gin middleware for subscription gating.
package gin

import (
	"errors"
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/subfold/subfold/pkg/subfold"
)

// UserIDExtractor extracts the user ID from a Gin context.
// Return empty string if the user is not authenticated.
type UserIDExtractor func(c *gongin.Context) string

// Config holds middleware configuration.
type Config struct {
	// Store is the subscription store to check against (required).
	Store subfold.SubscriptionStore

	// GetUserID extracts the user ID from the context (required).
	GetUserID UserIDExtractor

	// AllowedStatuses lists the subscription statuses that grant access.
	// Default: Active and Trialing.
	AllowedStatuses []subfold.Status

	// OnUnauthorized is called when the user is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(c *gongin.Context)

	// OnDenied is called when the user has no qualifying subscription.
	// If nil, returns 402 with a JSON body carrying the current status.
	OnDenied func(c *gongin.Context, sub *subfold.Subscription)

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that only passes requests from
// users with a qualifying subscription.
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Store == nil {
		panic("subfold/gin: Config.Store is required")
	}
	if cfg.GetUserID == nil {
		panic("subfold/gin: Config.GetUserID is required")
	}

	allowed := cfg.AllowedStatuses
	if len(allowed) == 0 {
		allowed = []subfold.Status{subfold.StatusActive, subfold.StatusTrialing}
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
			}
			c.Abort()
			return
		}

		sub, err := cfg.Store.FindByUserID(c.Request.Context(), userID)
		if err != nil && !errors.Is(err, subfold.ErrSubscriptionNotFound) {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				c.JSON(http.StatusInternalServerError, gongin.H{"error": "Internal Server Error"})
			}
			c.Abort()
			return
		}

		if sub == nil || !statusAllowed(sub.Status, allowed) {
			if cfg.OnDenied != nil {
				cfg.OnDenied(c, sub)
			} else {
				defaultDenied(c, sub)
			}
			c.Abort()
			return
		}

		c.Next()
	}
}

func defaultDenied(c *gongin.Context, sub *subfold.Subscription) {
	if sub != nil {
		c.JSON(http.StatusPaymentRequired, gongin.H{
			"error":  "Subscription required",
			"status": string(sub.Status),
		})
	} else {
		c.JSON(http.StatusPaymentRequired, gongin.H{"error": "Subscription required"})
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

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets the user ID from Gin
// context values, as set by an auth middleware via c.Set(key, "...").
func FromContext(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets the user ID from a header.
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets the user ID from a route parameter.
func FromParam(paramName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.Param(paramName)
	}
}
