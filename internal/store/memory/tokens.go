package memory

import (
	"context"
	"sync"
	"time"

	"clinicore.org/internal/session"
)

var _ session.RefreshTokenStore = (*TokenStore)(nil)

// TokenStore keeps refresh token records in maps, with a children index so
// family traversal is a bounded walk rather than a scan.
type TokenStore struct {
	mu       sync.RWMutex
	byID     map[string]session.RefreshToken
	byHash   map[string]string
	children map[string][]string
}

// NewTokenStore creates an empty ledger store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		byID:     make(map[string]session.RefreshToken),
		byHash:   make(map[string]string),
		children: make(map[string][]string),
	}
}

func (s *TokenStore) Save(ctx context.Context, tok session.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(tok)
	return nil
}

func (s *TokenStore) insertLocked(tok session.RefreshToken) {
	s.byID[tok.ID] = tok
	s.byHash[tok.TokenHash] = tok.ID
	if tok.ParentID != "" {
		s.children[tok.ParentID] = append(s.children[tok.ParentID], tok.ID)
	}
}

func (s *TokenStore) Find(ctx context.Context, id string) (session.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.byID[id]
	if !ok {
		return session.RefreshToken{}, session.ErrNotFound
	}
	return tok, nil
}

func (s *TokenStore) FindByHash(ctx context.Context, hash string) (session.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return session.RefreshToken{}, session.ErrNotFound
	}
	return s.byID[id], nil
}

// Rotate applies the compare-and-swap transition and inserts the child under
// one lock acquisition, so two rotations of the same record cannot both win.
func (s *TokenStore) Rotate(ctx context.Context, consumedID string, next session.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	consumed, ok := s.byID[consumedID]
	if !ok {
		return session.ErrNotFound
	}
	if consumed.Status != session.TokenActive {
		return session.ErrRotationConflict
	}
	consumed.Status = session.TokenRotated
	s.byID[consumedID] = consumed
	s.insertLocked(next)
	return nil
}

func (s *TokenStore) UpdateStatus(ctx context.Context, id string, status session.TokenStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.byID[id]
	if !ok {
		return session.ErrNotFound
	}
	tok.Status = status
	s.byID[id] = tok
	return nil
}

// FindFamilyRoot walks parent links until the node with no parent.
func (s *TokenStore) FindFamilyRoot(ctx context.Context, id string) (session.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.byID[id]
	if !ok {
		return session.RefreshToken{}, session.ErrNotFound
	}
	for tok.ParentID != "" {
		parent, ok := s.byID[tok.ParentID]
		if !ok {
			// Pruned ancestor: the oldest surviving record acts as root.
			break
		}
		tok = parent
	}
	return tok, nil
}

// RevokeFamily revokes the root and all descendants in one critical section,
// so an in-flight rotation cannot leave a child active afterwards.
func (s *TokenStore) RevokeFamily(ctx context.Context, rootID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[rootID]; !ok {
		return 0, session.ErrNotFound
	}

	revoked := 0
	queue := []string{rootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		tok, ok := s.byID[id]
		if !ok {
			continue
		}
		if tok.Status != session.TokenRevoked {
			tok.Status = session.TokenRevoked
			s.byID[id] = tok
			revoked++
		}
		queue = append(queue, s.children[id]...)
	}
	return revoked, nil
}

func (s *TokenStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, tok := range s.byID {
		if tok.ExpiresAt.Before(before) {
			delete(s.byID, id)
			delete(s.byHash, tok.TokenHash)
			delete(s.children, id)
			deleted++
		}
	}
	return deleted, nil
}
