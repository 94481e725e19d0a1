// Package echo provides Echo middleware for subscription gating.
package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/subfold/subfold/pkg/subfold"
)

// UserIDExtractor extracts the user ID from an Echo context.
// Return empty string if the user is not authenticated.
type UserIDExtractor func(c echo.Context) string

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
	OnUnauthorized func(c echo.Context) error

	// OnDenied is called when the user has no qualifying subscription.
	// If nil, returns 402 with a JSON body carrying the current status.
	OnDenied func(c echo.Context, sub *subfold.Subscription) error

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that only passes requests from
// users with a qualifying subscription.
func Middleware(cfg Config) echo.MiddlewareFunc {
	if cfg.Store == nil {
		panic("subfold/echo: Config.Store is required")
	}
	if cfg.GetUserID == nil {
		panic("subfold/echo: Config.GetUserID is required")
	}

	allowed := cfg.AllowedStatuses
	if len(allowed) == 0 {
		allowed = []subfold.Status{subfold.StatusActive, subfold.StatusTrialing}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := cfg.GetUserID(c)
			if userID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			sub, err := cfg.Store.FindByUserID(c.Request().Context(), userID)
			if err != nil && !errors.Is(err, subfold.ErrSubscriptionNotFound) {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
			}

			if sub == nil || !statusAllowed(sub.Status, allowed) {
				if cfg.OnDenied != nil {
					return cfg.OnDenied(c, sub)
				}
				return defaultDenied(c, sub)
			}

			return next(c)
		}
	}
}

func defaultDenied(c echo.Context, sub *subfold.Subscription) error {
	body := map[string]string{"error": "Subscription required"}
	if sub != nil {
		body["status"] = string(sub.Status)
	}
	return c.JSON(http.StatusPaymentRequired, body)
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

// FromContext returns a UserIDExtractor that gets the user ID from Echo
// context values, as set by an auth middleware via c.Set(key, "...").
func FromContext(key string) UserIDExtractor {
	return func(c echo.Context) string {
		if str, ok := c.Get(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets the user ID from a header.
func FromHeader(headerName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets the user ID from a route parameter.
func FromParam(paramName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Param(paramName)
	}
}
