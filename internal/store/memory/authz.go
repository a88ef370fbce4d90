package memory

import (
	"context"
	"sync"
	"time"

	"clinicore.org/internal/authz"
)

var (
	_ authz.GrantStore      = (*GrantStore)(nil)
	_ authz.MembershipStore = (*MembershipStore)(nil)
)

// GrantStore keeps admin permission grants keyed by (admin, permission).
type GrantStore struct {
	mu     sync.RWMutex
	grants map[string]map[authz.Permission]authz.AdminPermissionGrant
}

// NewGrantStore creates an empty grant store.
func NewGrantStore() *GrantStore {
	return &GrantStore{grants: make(map[string]map[authz.Permission]authz.AdminPermissionGrant)}
}

func (s *GrantStore) Grant(ctx context.Context, grant authz.AdminPermissionGrant) (authz.AdminPermissionGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPerm, ok := s.grants[grant.AdminUserID]
	if !ok {
		byPerm = make(map[authz.Permission]authz.AdminPermissionGrant)
		s.grants[grant.AdminUserID] = byPerm
	}
	if existing, ok := byPerm[grant.Permission]; ok {
		return existing, nil
	}
	byPerm[grant.Permission] = grant
	return grant, nil
}

func (s *GrantStore) Revoke(ctx context.Context, adminUserID string, perm authz.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPerm, ok := s.grants[adminUserID]
	if !ok {
		return authz.ErrNotFound
	}
	if _, ok := byPerm[perm]; !ok {
		return authz.ErrNotFound
	}
	delete(byPerm, perm)
	return nil
}

func (s *GrantStore) FindByUser(ctx context.Context, adminUserID string) ([]authz.AdminPermissionGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []authz.AdminPermissionGrant
	for _, g := range s.grants[adminUserID] {
		out = append(out, g)
	}
	return out, nil
}

func (s *GrantStore) HasGrant(ctx context.Context, adminUserID string, perm authz.Permission) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.grants[adminUserID][perm]
	return ok, nil
}

type membershipKey struct {
	userID string
	orgID  string
}

// MembershipStore keeps membership history per (user, organization) pair.
// The head of each slice that is active is the current membership.
type MembershipStore struct {
	mu      sync.RWMutex
	records map[membershipKey][]authz.OrganizationMembership
}

// NewMembershipStore creates an empty membership store.
func NewMembershipStore() *MembershipStore {
	return &MembershipStore{records: make(map[membershipKey][]authz.OrganizationMembership)}
}

func (s *MembershipStore) Assign(ctx context.Context, m authz.OrganizationMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := membershipKey{userID: m.UserID, orgID: m.OrganizationID}
	for _, existing := range s.records[key] {
		if existing.IsActive {
			return authz.ErrMembershipExists
		}
	}
	s.records[key] = append(s.records[key], m)
	return nil
}

func (s *MembershipStore) Deactivate(ctx context.Context, userID, organizationID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := membershipKey{userID: userID, orgID: organizationID}
	list := s.records[key]
	for i, m := range list {
		if m.IsActive {
			m.IsActive = false
			m.LeftAt = now.UTC()
			list[i] = m
			return nil
		}
	}
	return authz.ErrNotFound
}

func (s *MembershipStore) FindActive(ctx context.Context, userID, organizationID string) (authz.OrganizationMembership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := membershipKey{userID: userID, orgID: organizationID}
	for _, m := range s.records[key] {
		if m.IsActive {
			return m, nil
		}
	}
	return authz.OrganizationMembership{}, authz.ErrNotFound
}

func (s *MembershipStore) FindByUser(ctx context.Context, userID string, filter authz.MembershipFilter) ([]authz.OrganizationMembership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []authz.OrganizationMembership
	for key, list := range s.records {
		if key.userID != userID {
			continue
		}
		out = append(out, filterMemberships(list, filter)...)
	}
	return out, nil
}

func (s *MembershipStore) FindByOrganization(ctx context.Context, organizationID string, filter authz.MembershipFilter) ([]authz.OrganizationMembership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []authz.OrganizationMembership
	for key, list := range s.records {
		if key.orgID != organizationID {
			continue
		}
		out = append(out, filterMemberships(list, filter)...)
	}
	return out, nil
}

func filterMemberships(list []authz.OrganizationMembership, filter authz.MembershipFilter) []authz.OrganizationMembership {
	var out []authz.OrganizationMembership
	for _, m := range list {
		switch filter {
		case authz.MembershipActiveOnly:
			if !m.IsActive {
				continue
			}
		case authz.MembershipInactiveOnly:
			if m.IsActive {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}
