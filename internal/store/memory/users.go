// Package memory provides mutex-guarded in-process implementations of every
// store port. They back the test suites and the no-DSN mode of cmd/api.
package memory

import (
	"context"
	"sync"
	"time"

	"clinicore.org/internal/session"
	"clinicore.org/internal/user"
)

var _ session.UserStore = (*UserStore)(nil)

// UserStore keeps user snapshots in a map.
type UserStore struct {
	mu      sync.RWMutex
	byID    map[string]user.User
	byEmail map[string]string
}

// NewUserStore creates an empty store.
func NewUserStore() *UserStore {
	return &UserStore{
		byID:    make(map[string]user.User),
		byEmail: make(map[string]string),
	}
}

// Create inserts a new snapshot.
func (s *UserStore) Create(ctx context.Context, u user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[u.ID] = u
	s.byEmail[u.Email] = u.ID
	return nil
}

func (s *UserStore) Find(ctx context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[user.NormalizeEmail(email)]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return s.byID[id], nil
}

// Update replaces the stored snapshot wholesale.
func (s *UserStore) Update(ctx context.Context, u user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.byID[u.ID]
	if !ok {
		return user.ErrNotFound
	}
	if prev.Email != u.Email {
		delete(s.byEmail, prev.Email)
		s.byEmail[u.Email] = u.ID
	}
	s.byID[u.ID] = u
	return nil
}

// RecordFailedLogin advances the failure counter under the store lock so
// concurrent failures each observe a distinct value.
func (s *UserStore) RecordFailedLogin(ctx context.Context, id string, policy session.LockoutPolicy, now time.Time) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	updated := u.RecordFailedLogin(now, policy.Threshold, policy.Window)
	s.byID[id] = updated
	return updated, nil
}
