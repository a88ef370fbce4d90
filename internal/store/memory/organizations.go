package memory

import (
	"context"
	"sort"
	"sync"

	"clinicore.org/internal/authz"
)

var _ authz.OrganizationStore = (*OrganizationStore)(nil)

// OrganizationStore keeps tenants in a map.
type OrganizationStore struct {
	mu   sync.RWMutex
	orgs map[string]authz.Organization
}

// NewOrganizationStore creates an empty organization store.
func NewOrganizationStore() *OrganizationStore {
	return &OrganizationStore{orgs: make(map[string]authz.Organization)}
}

func (s *OrganizationStore) Create(ctx context.Context, org authz.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[org.ID]; ok {
		return authz.ErrOrganizationExists
	}
	s.orgs[org.ID] = org
	return nil
}

func (s *OrganizationStore) Find(ctx context.Context, id string) (authz.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[id]
	if !ok {
		return authz.Organization{}, authz.ErrNotFound
	}
	return org, nil
}

func (s *OrganizationStore) List(ctx context.Context) ([]authz.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]authz.Organization, 0, len(s.orgs))
	for _, org := range s.orgs {
		out = append(out, org)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
