// Package memory provides in-memory implementations of the
// subfold.SubscriptionStore and subfold.UserDirectory interfaces.
// Primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/subfold/subfold/pkg/subfold"
)

// Store implements subfold.SubscriptionStore using mutex-guarded maps.
// The mutex serializes writers per store, which trivially satisfies the
// per-subscription atomicity the Reconciler requires.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	subs   map[int64]*subfold.Subscription
}

// NewStore creates a new in-memory subscription store.
func NewStore() *Store {
	return &Store{
		nextID: 1,
		subs:   make(map[int64]*subfold.Subscription),
	}
}

// FindByUserID implements subfold.SubscriptionStore.
func (s *Store) FindByUserID(ctx context.Context, userID string) (*subfold.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(func(sub *subfold.Subscription) bool {
		return sub.UserID == userID
	})
}

// FindBySubscriptionRef implements subfold.SubscriptionStore.
func (s *Store) FindBySubscriptionRef(ctx context.Context, ref string) (*subfold.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(func(sub *subfold.Subscription) bool {
		return sub.SubscriptionRef == ref
	})
}

// FindByCustomerRef implements subfold.SubscriptionStore.
func (s *Store) FindByCustomerRef(ctx context.Context, ref string) (*subfold.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(func(sub *subfold.Subscription) bool {
		return sub.CustomerRef == ref
	})
}

// Create implements subfold.SubscriptionStore.
func (s *Store) Create(ctx context.Context, sub *subfold.Subscription) (*subfold.Subscription, error) {
	if sub == nil || sub.UserID == "" {
		return nil, fmt.Errorf("invalid subscription")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *sub
	stored.ID = s.nextID
	s.nextID++
	s.subs[stored.ID] = &stored

	result := stored
	return &result, nil
}

// Update implements subfold.SubscriptionStore.
func (s *Store) Update(ctx context.Context, sub *subfold.Subscription) (*subfold.Subscription, error) {
	if sub == nil {
		return nil, fmt.Errorf("invalid subscription")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[sub.ID]; !ok {
		return nil, subfold.ErrSubscriptionNotFound
	}

	stored := *sub
	s.subs[stored.ID] = &stored

	result := stored
	return &result, nil
}

// Len returns the number of stored subscriptions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func (s *Store) findLocked(match func(*subfold.Subscription) bool) (*subfold.Subscription, error) {
	for _, sub := range s.subs {
		if match(sub) {
			// Return a copy to prevent external mutations
			subCopy := *sub
			return &subCopy, nil
		}
	}
	return nil, subfold.ErrSubscriptionNotFound
}

// Directory implements subfold.UserDirectory using in-memory maps.
type Directory struct {
	mu    sync.RWMutex
	users map[string]*subfold.User
}

// NewDirectory creates a new in-memory user directory.
func NewDirectory() *Directory {
	return &Directory{users: make(map[string]*subfold.User)}
}

// AddUser registers a user. Existing entries with the same id are
// overwritten.
func (d *Directory) AddUser(user subfold.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	stored := user
	d.users[user.ID] = &stored
}

// FindByCustomerRef implements subfold.UserDirectory.
func (d *Directory) FindByCustomerRef(ctx context.Context, ref string) (*subfold.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, user := range d.users {
		if user.CustomerRef == ref && ref != "" {
			userCopy := *user
			return &userCopy, nil
		}
	}
	return nil, subfold.ErrUserNotFound
}

// FindByEmail implements subfold.UserDirectory.
func (d *Directory) FindByEmail(ctx context.Context, email string) (*subfold.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, user := range d.users {
		if user.Email == email && email != "" {
			userCopy := *user
			return &userCopy, nil
		}
	}
	return nil, subfold.ErrUserNotFound
}

// AttachCustomerRef implements subfold.UserDirectory.
func (d *Directory) AttachCustomerRef(ctx context.Context, userID, ref string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	user, ok := d.users[userID]
	if !ok {
		return subfold.ErrUserNotFound
	}
	user.CustomerRef = ref
	return nil
}
