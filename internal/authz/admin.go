package authz

import (
	"context"
	"errors"
	"strings"
	"time"

	"clinicore.org/internal/audit"
	"clinicore.org/internal/ids"
	"clinicore.org/internal/user"
)

// UserDirectory extends the lookup port with snapshot persistence, needed by
// role-management actions.
type UserDirectory interface {
	Find(ctx context.Context, id string) (user.User, error)
	Update(ctx context.Context, u user.User) error
}

// AdminService implements the management use cases above the engine:
// promote/demote system roles, grant/revoke admin permissions and manage
// organization memberships. Every mutating action requires a super_admin
// executor, and a super_admin target is never modifiable.
type AdminService struct {
	users       UserDirectory
	grants      GrantStore
	memberships MembershipStore
	orgs        OrganizationStore
	now         func() time.Time
	newID       func() string
}

// AdminOption configures AdminService.
type AdminOption func(*AdminService)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) AdminOption {
	return func(s *AdminService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithIDGenerator overrides grant id generation.
func WithIDGenerator(fn func() string) AdminOption {
	return func(s *AdminService) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewAdminService constructs the management service.
func NewAdminService(users UserDirectory, grants GrantStore, memberships MembershipStore, orgs OrganizationStore, opts ...AdminOption) (*AdminService, error) {
	if users == nil || grants == nil || memberships == nil || orgs == nil {
		return nil, errors.New("authz: users, grants, memberships and organizations stores are required")
	}
	s := &AdminService{
		users:       users,
		grants:      grants,
		memberships: memberships,
		orgs:        orgs,
		now:         time.Now,
		newID:       ids.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// requireSuperAdmin loads the executor and rejects anyone below super_admin.
func (s *AdminService) requireSuperAdmin(ctx context.Context, executorID string) error {
	executor, err := s.users.Find(ctx, executorID)
	if err != nil {
		return err
	}
	if executor.SystemRole != user.RoleSuperAdmin {
		return ErrInsufficientPermissions
	}
	return nil
}

// PromoteToAdmin raises the target to the admin system role. Idempotent: a
// target already holding admin is a successful no-op.
func (s *AdminService) PromoteToAdmin(ctx context.Context, executorID, targetID string) (user.User, error) {
	return s.changeSystemRole(ctx, executorID, targetID, user.RoleAdmin, "authz.promote")
}

// DemoteToUser lowers the target to the plain user system role. Idempotent.
func (s *AdminService) DemoteToUser(ctx context.Context, executorID, targetID string) (user.User, error) {
	return s.changeSystemRole(ctx, executorID, targetID, user.RoleUser, "authz.demote")
}

func (s *AdminService) changeSystemRole(ctx context.Context, executorID, targetID string, role user.SystemRole, event string) (user.User, error) {
	if err := s.requireSuperAdmin(ctx, executorID); err != nil {
		return user.User{}, err
	}
	target, err := s.users.Find(ctx, targetID)
	if err != nil {
		return user.User{}, err
	}
	if target.SystemRole == user.RoleSuperAdmin {
		return user.User{}, ErrCannotModifySuperAdmin
	}
	if target.SystemRole == role {
		return target, nil
	}
	updated, err := target.WithSystemRole(role, s.now())
	if err != nil {
		if errors.Is(err, user.ErrCannotModifySuperAdmin) {
			return user.User{}, ErrCannotModifySuperAdmin
		}
		return user.User{}, err
	}
	if err := s.users.Update(ctx, updated); err != nil {
		return user.User{}, err
	}
	_ = audit.LogEvent(ctx, event, audit.SeverityInfo, map[string]any{
		"executor_id": executorID,
		"target_id":   targetID,
		"role":        string(role),
	})
	return updated, nil
}

// GrantPermission records an explicit permission for an admin. Granting an
// already-held permission returns the existing record.
func (s *AdminService) GrantPermission(ctx context.Context, executorID, adminUserID string, perm Permission) (AdminPermissionGrant, error) {
	if err := s.requireSuperAdmin(ctx, executorID); err != nil {
		return AdminPermissionGrant{}, err
	}
	if strings.TrimSpace(string(perm)) == "" {
		return AdminPermissionGrant{}, errors.New("authz: permission is required")
	}
	target, err := s.users.Find(ctx, adminUserID)
	if err != nil {
		return AdminPermissionGrant{}, err
	}
	if target.SystemRole == user.RoleSuperAdmin {
		return AdminPermissionGrant{}, ErrCannotModifySuperAdmin
	}
	if target.SystemRole != user.RoleAdmin {
		return AdminPermissionGrant{}, ErrInsufficientPermissions
	}

	grant, err := s.grants.Grant(ctx, AdminPermissionGrant{
		ID:          s.newID(),
		AdminUserID: adminUserID,
		Permission:  perm,
		GrantedBy:   executorID,
		GrantedAt:   s.now().UTC(),
	})
	if err != nil {
		return AdminPermissionGrant{}, err
	}
	_ = audit.LogEvent(ctx, "authz.grant", audit.SeverityInfo, map[string]any{
		"executor_id": executorID,
		"admin_id":    adminUserID,
		"permission":  string(perm),
	})
	return grant, nil
}

// RevokePermission deletes an explicit grant.
func (s *AdminService) RevokePermission(ctx context.Context, executorID, adminUserID string, perm Permission) error {
	if err := s.requireSuperAdmin(ctx, executorID); err != nil {
		return err
	}
	target, err := s.users.Find(ctx, adminUserID)
	if err != nil {
		return err
	}
	if target.SystemRole == user.RoleSuperAdmin {
		return ErrCannotModifySuperAdmin
	}
	if err := s.grants.Revoke(ctx, adminUserID, perm); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "authz.revoke", audit.SeverityInfo, map[string]any{
		"executor_id": executorID,
		"admin_id":    adminUserID,
		"permission":  string(perm),
	})
	return nil
}

// CreateOrganization registers a new tenant.
func (s *AdminService) CreateOrganization(ctx context.Context, executorID, name string) (Organization, error) {
	if err := s.requireSuperAdmin(ctx, executorID); err != nil {
		return Organization{}, err
	}
	if strings.TrimSpace(name) == "" {
		return Organization{}, errors.New("authz: organization name is required")
	}
	now := s.now().UTC()
	org := Organization{
		ID:        s.newID(),
		Name:      name,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.orgs.Create(ctx, org); err != nil {
		return Organization{}, err
	}
	_ = audit.LogEvent(ctx, "authz.org_created", audit.SeverityInfo, map[string]any{
		"executor_id": executorID,
		"org_id":      org.ID,
		"name":        name,
	})
	return org, nil
}

// AssignMembership activates a membership for the user in the organization.
func (s *AdminService) AssignMembership(ctx context.Context, executorID, userID, organizationID string, role OrgRole) (OrganizationMembership, error) {
	if err := s.requireSuperAdmin(ctx, executorID); err != nil {
		return OrganizationMembership{}, err
	}
	if !ValidOrgRole(role) {
		return OrganizationMembership{}, ErrInvalidRole
	}
	if _, err := s.users.Find(ctx, userID); err != nil {
		return OrganizationMembership{}, err
	}
	if _, err := s.orgs.Find(ctx, organizationID); err != nil {
		return OrganizationMembership{}, err
	}
	m := OrganizationMembership{
		UserID:         userID,
		OrganizationID: organizationID,
		Role:           role,
		JoinedAt:       s.now().UTC(),
		IsActive:       true,
	}
	if err := s.memberships.Assign(ctx, m); err != nil {
		return OrganizationMembership{}, err
	}
	return m, nil
}

// ListGrants returns the explicit grants held by one admin.
func (s *AdminService) ListGrants(ctx context.Context, executorID, adminUserID string) ([]AdminPermissionGrant, error) {
	if err := s.requireSuperAdmin(ctx, executorID); err != nil {
		return nil, err
	}
	if _, err := s.users.Find(ctx, adminUserID); err != nil {
		return nil, err
	}
	return s.grants.FindByUser(ctx, adminUserID)
}

// ListMemberships returns an organization's membership records, optionally
// narrowed by activity state.
func (s *AdminService) ListMemberships(ctx context.Context, executorID, organizationID string, filter MembershipFilter) ([]OrganizationMembership, error) {
	if err := s.requireSuperAdmin(ctx, executorID); err != nil {
		return nil, err
	}
	if _, err := s.orgs.Find(ctx, organizationID); err != nil {
		return nil, err
	}
	return s.memberships.FindByOrganization(ctx, organizationID, filter)
}

// RemoveMembership deactivates the user's active membership.
func (s *AdminService) RemoveMembership(ctx context.Context, executorID, userID, organizationID string) error {
	if err := s.requireSuperAdmin(ctx, executorID); err != nil {
		return err
	}
	return s.memberships.Deactivate(ctx, userID, organizationID, s.now().UTC())
}
