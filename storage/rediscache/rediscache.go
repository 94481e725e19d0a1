// Package rediscache provides a Redis-backed read-through cache for a
// subfold.UserDirectory. Webhook processing resolves a customer
// reference to a user on every event; for high-volume providers this
// lookup dominates the hot path, so results are cached with a short TTL
// and writes invalidate the affected keys.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/subfold/subfold/pkg/subfold"
)

const defaultTTL = 5 * time.Minute

// notFoundSentinel is stored for misses so that repeated lookups of an
// unknown reference do not hammer the underlying directory.
const notFoundSentinel = "__miss__"

// Config holds cache configuration.
type Config struct {
	// Client is the Redis client to use (required).
	Client *redis.Client

	// Directory is the underlying user directory (required).
	Directory subfold.UserDirectory

	// TTL is how long cached entries live. Defaults to 5 minutes.
	TTL time.Duration

	// KeyPrefix is prepended to all cache keys. Defaults to "subfold".
	KeyPrefix string
}

// Directory is a caching subfold.UserDirectory. Concurrent cache misses
// for the same key are collapsed into a single underlying lookup.
type Directory struct {
	client    *redis.Client
	inner     subfold.UserDirectory
	ttl       time.Duration
	keyPrefix string
	group     singleflight.Group
}

// New creates a caching user directory.
func New(config Config) (*Directory, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Directory == nil {
		return nil, errors.New("user directory is required")
	}
	ttl := config.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = "subfold"
	}
	return &Directory{
		client:    config.Client,
		inner:     config.Directory,
		ttl:       ttl,
		keyPrefix: prefix,
	}, nil
}

// FindByCustomerRef implements subfold.UserDirectory.
func (d *Directory) FindByCustomerRef(ctx context.Context, ref string) (*subfold.User, error) {
	return d.lookup(ctx, d.customerKey(ref), func() (*subfold.User, error) {
		return d.inner.FindByCustomerRef(ctx, ref)
	})
}

// FindByEmail implements subfold.UserDirectory.
func (d *Directory) FindByEmail(ctx context.Context, email string) (*subfold.User, error) {
	return d.lookup(ctx, d.emailKey(email), func() (*subfold.User, error) {
		return d.inner.FindByEmail(ctx, email)
	})
}

// AttachCustomerRef implements subfold.UserDirectory. The write goes to
// the underlying directory first; cache keys for the user are dropped
// afterwards so subsequent reads see the new reference.
func (d *Directory) AttachCustomerRef(ctx context.Context, userID, ref string) error {
	if err := d.inner.AttachCustomerRef(ctx, userID, ref); err != nil {
		return err
	}
	// Best-effort invalidation. A failed delete only means a stale entry
	// until the TTL expires.
	if err := d.client.Del(ctx, d.customerKey(ref)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}

func (d *Directory) lookup(ctx context.Context, key string, fetch func() (*subfold.User, error)) (*subfold.User, error) {
	cached, err := d.client.Get(ctx, key).Result()
	if err == nil {
		if cached == notFoundSentinel {
			return nil, subfold.ErrUserNotFound
		}
		var user subfold.User
		if err := json.Unmarshal([]byte(cached), &user); err == nil {
			return &user, nil
		}
		// Corrupt entry, fall through to the directory.
	} else if !errors.Is(err, redis.Nil) {
		// Redis being down must not break webhook processing.
		return fetch()
	}

	v, err, _ := d.group.Do(key, func() (interface{}, error) {
		user, err := fetch()
		if errors.Is(err, subfold.ErrUserNotFound) {
			d.client.Set(ctx, key, notFoundSentinel, d.ttl)
			return nil, err
		}
		if err != nil {
			return nil, err
		}
		if data, merr := json.Marshal(user); merr == nil {
			d.client.Set(ctx, key, data, d.ttl)
		}
		return user, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*subfold.User), nil
}

func (d *Directory) customerKey(ref string) string {
	return fmt.Sprintf("%s:user:customer:%s", d.keyPrefix, ref)
}

func (d *Directory) emailKey(email string) string {
	return fmt.Sprintf("%s:user:email:%s", d.keyPrefix, email)
}
