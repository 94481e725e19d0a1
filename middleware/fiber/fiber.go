// Package fiber provides Fiber middleware for subscription gating.
package fiber

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/subfold/subfold/pkg/subfold"
)

// UserIDExtractor extracts the user ID from a Fiber context.
// Return empty string if the user is not authenticated.
type UserIDExtractor func(c *fiber.Ctx) string

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
	OnUnauthorized func(c *fiber.Ctx) error

	// OnDenied is called when the user has no qualifying subscription.
	// If nil, returns 402 with a JSON body carrying the current status.
	OnDenied func(c *fiber.Ctx, sub *subfold.Subscription) error

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that only passes requests from
// users with a qualifying subscription.
func Middleware(cfg Config) fiber.Handler {
	if cfg.Store == nil {
		panic("subfold/fiber: Config.Store is required")
	}
	if cfg.GetUserID == nil {
		panic("subfold/fiber: Config.GetUserID is required")
	}

	allowed := cfg.AllowedStatuses
	if len(allowed) == 0 {
		allowed = []subfold.Status{subfold.StatusActive, subfold.StatusTrialing}
	}

	return func(c *fiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}

		sub, err := cfg.Store.FindByUserID(c.UserContext(), userID)
		if err != nil && !errors.Is(err, subfold.ErrSubscriptionNotFound) {
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
		}

		if sub == nil || !statusAllowed(sub.Status, allowed) {
			if cfg.OnDenied != nil {
				return cfg.OnDenied(c, sub)
			}
			return defaultDenied(c, sub)
		}

		return c.Next()
	}
}

func defaultDenied(c *fiber.Ctx, sub *subfold.Subscription) error {
	body := fiber.Map{"error": "Subscription required"}
	if sub != nil {
		body["status"] = string(sub.Status)
	}
	return c.Status(fiber.StatusPaymentRequired).JSON(body)
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

// FromLocals returns a UserIDExtractor that gets the user ID from Fiber
// locals, as set by an auth middleware via c.Locals(key, "...").
func FromLocals(key string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		if str, ok := c.Locals(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets the user ID from a header.
func FromHeader(headerName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets the user ID from a route parameter.
func FromParam(paramName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Params(paramName)
	}
}
