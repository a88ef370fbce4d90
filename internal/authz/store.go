package authz

import (
	"context"
	"time"
)

// GrantStore persists admin permission grants.
type GrantStore interface {
	// Grant inserts the record. Granting an existing (admin, permission)
	// pair returns the stored record unchanged.
	Grant(ctx context.Context, grant AdminPermissionGrant) (AdminPermissionGrant, error)
	// Revoke deletes the grant for the pair. Revoking a missing grant
	// returns ErrNotFound.
	Revoke(ctx context.Context, adminUserID string, perm Permission) error
	FindByUser(ctx context.Context, adminUserID string) ([]AdminPermissionGrant, error)
	HasGrant(ctx context.Context, adminUserID string, perm Permission) (bool, error)
}

// OrganizationStore persists tenants.
type OrganizationStore interface {
	// Create inserts the organization. A duplicate id fails with
	// ErrOrganizationExists.
	Create(ctx context.Context, org Organization) error
	Find(ctx context.Context, id string) (Organization, error)
	List(ctx context.Context) ([]Organization, error)
}

// MembershipStore persists organization memberships.
type MembershipStore interface {
	// Assign activates a membership. A second active membership for the same
	// (user, organization) pair fails with ErrMembershipExists.
	Assign(ctx context.Context, m OrganizationMembership) error
	// Deactivate sets leftAt to now and clears the active flag. Missing or
	// already inactive memberships return ErrNotFound.
	Deactivate(ctx context.Context, userID, organizationID string, now time.Time) error
	FindActive(ctx context.Context, userID, organizationID string) (OrganizationMembership, error)
	FindByUser(ctx context.Context, userID string, filter MembershipFilter) ([]OrganizationMembership, error)
	FindByOrganization(ctx context.Context, organizationID string, filter MembershipFilter) ([]OrganizationMembership, error)
}
