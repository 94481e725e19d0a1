// Package stripe provides the outbound side of the billing
// integration: creating provider customers, starting checkout sessions
// and opening the customer portal. The inbound side (webhook
// verification and reconciliation) lives in pkg/webhook and does not
// depend on this package.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v83"

	"github.com/subfold/subfold/pkg/subfold"
)

// Config holds outbound client configuration.
type Config struct {
	// APIKey is the provider secret API key (required).
	APIKey string

	// Directory resolves internal users to customer references. When a
	// user has no customer reference yet, CheckoutURL creates the
	// customer through the provider instead (required).
	Directory subfold.UserDirectory

	// Logger is used for structured logging (default: NoopLogger).
	Logger subfold.Logger
}

// Client wraps the provider SDK for the operations the subscription
// flow needs.
type Client struct {
	sc        *stripe.Client
	directory subfold.UserDirectory
	logger    subfold.Logger
}

// NewClient creates an outbound provider client.
func NewClient(config Config) (*Client, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, errors.New("provider API key is required")
	}
	if config.Directory == nil {
		return nil, errors.New("user directory is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = &subfold.NoopLogger{}
	}
	return &Client{
		sc:        stripe.NewClient(apiKey),
		directory: config.Directory,
		logger:    logger,
	}, nil
}

// CreateCustomer creates a provider customer for the user and attaches
// the resulting reference to the directory. If the user already has a
// customer reference, it is returned as-is.
func (c *Client) CreateCustomer(ctx context.Context, user *subfold.User) (string, error) {
	if user == nil || user.ID == "" {
		return "", errors.New("invalid user")
	}
	if user.CustomerRef != "" {
		return user.CustomerRef, nil
	}

	params := &stripe.CustomerCreateParams{
		Email: stripe.String(user.Email),
	}
	params.AddMetadata("user_id", user.ID)

	customer, err := c.sc.V1Customers.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to create customer: %w", err)
	}

	if err := c.directory.AttachCustomerRef(ctx, user.ID, customer.ID); err != nil {
		return "", fmt.Errorf("failed to attach customer reference: %w", err)
	}

	c.logger.Info("provider customer created",
		subfold.Field{Key: "user_id", Value: user.ID})
	return customer.ID, nil
}

// CheckoutURL creates a subscription checkout session for the user and
// returns its URL. An existing customer reference is reused so the
// provider does not create duplicate customers; otherwise the session
// creates one and the customer.created webhook links it back.
func (c *Client) CheckoutURL(ctx context.Context, user *subfold.User, priceRef, successURL, cancelURL string) (string, error) {
	if user == nil || user.ID == "" {
		return "", errors.New("invalid user")
	}
	if priceRef == "" {
		return "", errors.New("price reference is required")
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceRef),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}
	params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
	params.SubscriptionData.AddMetadata("user_id", user.ID)

	if user.CustomerRef != "" {
		params.Customer = stripe.String(user.CustomerRef)
	} else {
		params.ClientReferenceID = stripe.String(user.ID)
		params.CustomerEmail = stripe.String(user.Email)
	}

	session, err := c.sc.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return session.URL, nil
}

// PortalURL creates a customer portal session so the user can manage
// their subscription. The user must already have a customer reference.
func (c *Client) PortalURL(ctx context.Context, user *subfold.User, returnURL string) (string, error) {
	if user == nil || user.CustomerRef == "" {
		return "", subfold.ErrUserNotFound
	}

	params := &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(user.CustomerRef),
		ReturnURL: stripe.String(returnURL),
	}

	session, err := c.sc.V1BillingPortalSessions.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}
	return session.URL, nil
}
