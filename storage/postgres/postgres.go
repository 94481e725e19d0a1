// Package postgres provides a PostgreSQL implementation of the
// subfold.SubscriptionStore and subfold.UserDirectory interfaces.
// Updates are single-statement row writes keyed by internal id, so
// concurrent webhook deliveries for the same subscription are serialized
// by row-level locking in the database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/subfold/subfold/pkg/subfold"
)

// Storage implements subfold.SubscriptionStore using PostgreSQL. The
// user directory side lives on a separate Directory view sharing the
// same pool; see Directory.
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter.
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{pool: pool, config: config}, nil
}

// Close closes the PostgreSQL connection pool.
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the users and subscriptions tables if they do not
// exist yet.
func (s *Storage) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id           TEXT PRIMARY KEY,
			email        TEXT NOT NULL UNIQUE,
			customer_ref TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_users_customer_ref ON users (customer_ref);

		CREATE TABLE IF NOT EXISTS subscriptions (
			id                   BIGSERIAL PRIMARY KEY,
			user_id              TEXT NOT NULL REFERENCES users (id),
			customer_ref         TEXT NOT NULL,
			subscription_ref     TEXT NOT NULL,
			price_ref            TEXT NOT NULL,
			product_ref          TEXT NOT NULL,
			status               TEXT NOT NULL,
			has_used_trial       BOOLEAN NOT NULL DEFAULT FALSE,
			current_period_end   TIMESTAMPTZ,
			cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
			canceled_at          TIMESTAMPTZ,
			created_at           TIMESTAMPTZ NOT NULL,
			updated_at           TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_user_id ON subscriptions (user_id);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_subscription_ref ON subscriptions (subscription_ref);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_customer_ref ON subscriptions (customer_ref);
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

const subscriptionColumns = `id, user_id, customer_ref, subscription_ref, price_ref, product_ref,
	status, has_used_trial, current_period_end, cancel_at_period_end, canceled_at, created_at, updated_at`

// FindByUserID implements subfold.SubscriptionStore.
func (s *Storage) FindByUserID(ctx context.Context, userID string) (*subfold.Subscription, error) {
	return s.findSubscription(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
			WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`, userID)
}

// FindBySubscriptionRef implements subfold.SubscriptionStore.
func (s *Storage) FindBySubscriptionRef(ctx context.Context, ref string) (*subfold.Subscription, error) {
	return s.findSubscription(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
			WHERE subscription_ref = $1 ORDER BY created_at DESC LIMIT 1`, ref)
}

// FindByCustomerRef implements subfold.SubscriptionStore.
func (s *Storage) FindByCustomerRef(ctx context.Context, ref string) (*subfold.Subscription, error) {
	return s.findSubscription(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
			WHERE customer_ref = $1 ORDER BY created_at DESC LIMIT 1`, ref)
}

func (s *Storage) findSubscription(ctx context.Context, query string, arg interface{}) (*subfold.Subscription, error) {
	var sub subfold.Subscription
	var status string

	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&sub.ID,
		&sub.UserID,
		&sub.CustomerRef,
		&sub.SubscriptionRef,
		&sub.PriceRef,
		&sub.ProductRef,
		&status,
		&sub.HasUsedTrial,
		&sub.CurrentPeriodEnd,
		&sub.CancelAtPeriodEnd,
		&sub.CanceledAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, subfold.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	sub.Status = subfold.Status(status)
	return &sub, nil
}

// Create implements subfold.SubscriptionStore.
func (s *Storage) Create(ctx context.Context, sub *subfold.Subscription) (*subfold.Subscription, error) {
	if sub == nil || sub.UserID == "" {
		return nil, fmt.Errorf("invalid subscription")
	}

	created := *sub
	err := s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (
			user_id, customer_ref, subscription_ref, price_ref, product_ref,
			status, has_used_trial, current_period_end, cancel_at_period_end,
			canceled_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		sub.UserID,
		sub.CustomerRef,
		sub.SubscriptionRef,
		sub.PriceRef,
		sub.ProductRef,
		string(sub.Status),
		sub.HasUsedTrial,
		sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd,
		sub.CanceledAt,
		sub.CreatedAt,
		sub.UpdatedAt,
	).Scan(&created.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return &created, nil
}

// Update implements subfold.SubscriptionStore. The write is a single
// UPDATE by internal id; PostgreSQL row-level locking serializes
// concurrent writers on the same subscription.
func (s *Storage) Update(ctx context.Context, sub *subfold.Subscription) (*subfold.Subscription, error) {
	if sub == nil {
		return nil, fmt.Errorf("invalid subscription")
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET
			subscription_ref = $2,
			price_ref = $3,
			product_ref = $4,
			status = $5,
			has_used_trial = $6,
			current_period_end = $7,
			cancel_at_period_end = $8,
			canceled_at = $9,
			updated_at = $10
		WHERE id = $1`,
		sub.ID,
		sub.SubscriptionRef,
		sub.PriceRef,
		sub.ProductRef,
		string(sub.Status),
		sub.HasUsedTrial,
		sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd,
		sub.CanceledAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, subfold.ErrSubscriptionNotFound
	}

	updated := *sub
	return &updated, nil
}

// Directory implements subfold.UserDirectory on top of the users table.
// It shares the Storage connection pool.
type Directory struct {
	pool *pgxpool.Pool
}

// Directory returns the user directory view of the storage.
func (s *Storage) Directory() *Directory {
	return &Directory{pool: s.pool}
}

// FindByCustomerRef implements subfold.UserDirectory.
func (d *Directory) FindByCustomerRef(ctx context.Context, ref string) (*subfold.User, error) {
	if ref == "" {
		return nil, subfold.ErrUserNotFound
	}
	return d.findUser(ctx, `SELECT id, email, customer_ref FROM users WHERE customer_ref = $1`, ref)
}

// FindByEmail implements subfold.UserDirectory.
func (d *Directory) FindByEmail(ctx context.Context, email string) (*subfold.User, error) {
	if email == "" {
		return nil, subfold.ErrUserNotFound
	}
	return d.findUser(ctx, `SELECT id, email, customer_ref FROM users WHERE email = $1`, email)
}

// AttachCustomerRef implements subfold.UserDirectory.
func (d *Directory) AttachCustomerRef(ctx context.Context, userID, ref string) error {
	tag, err := d.pool.Exec(ctx,
		`UPDATE users SET customer_ref = $2 WHERE id = $1`, userID, ref)
	if err != nil {
		return fmt.Errorf("failed to attach customer reference: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subfold.ErrUserNotFound
	}
	return nil
}

// CreateUser inserts a user row. Intended for application signup flows
// and example programs.
func (d *Directory) CreateUser(ctx context.Context, user *subfold.User) error {
	if user == nil || user.ID == "" || user.Email == "" {
		return fmt.Errorf("invalid user")
	}
	_, err := d.pool.Exec(ctx, `
		INSERT INTO users (id, email, customer_ref) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email`,
		user.ID, user.Email, user.CustomerRef)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (d *Directory) findUser(ctx context.Context, query, arg string) (*subfold.User, error) {
	var user subfold.User
	err := d.pool.QueryRow(ctx, query, arg).Scan(&user.ID, &user.Email, &user.CustomerRef)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, subfold.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}
