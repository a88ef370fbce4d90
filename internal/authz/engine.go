// Package authz resolves whether a principal may perform an action. The
// resolver is three-tiered, in strict precedence order: a super_admin system
// role allows everything; an admin is allowed exactly what was explicitly
// granted; a plain user is allowed what the role of their active membership
// in the scoped organization permits.
package authz

import (
	"context"
	"errors"
	"strings"

	"clinicore.org/internal/obs"
	"clinicore.org/internal/user"
)

// UserStore is the narrow lookup port the engine needs.
type UserStore interface {
	Find(ctx context.Context, id string) (user.User, error)
}

// Tier names the precedence level that produced a decision.
type Tier string

const (
	TierSuperAdmin Tier = "super_admin"
	TierAdminGrant Tier = "admin_grant"
	TierMembership Tier = "membership"
)

// Decision is the tagged result of one permission resolution. Keeping the
// deciding tier explicit makes the precedence auditable per check.
type Decision struct {
	Tier    Tier
	Allowed bool
}

// Engine is the three-tier permission resolver.
type Engine struct {
	users       UserStore
	grants      GrantStore
	memberships MembershipStore
}

// NewEngine wires the resolver to its stores.
func NewEngine(users UserStore, grants GrantStore, memberships MembershipStore) (*Engine, error) {
	if users == nil || grants == nil || memberships == nil {
		return nil, errors.New("authz: users, grants and memberships stores are required")
	}
	return &Engine{users: users, grants: grants, memberships: memberships}, nil
}

// Decide resolves the permission through the ordered tier list.
// organizationID may be empty; the membership tier then denies.
func (e *Engine) Decide(ctx context.Context, userID string, perm Permission, organizationID string) (Decision, error) {
	u, err := e.users.Find(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	var d Decision
	switch u.SystemRole {
	case user.RoleSuperAdmin:
		// Tier 1: unconditional, never further checked.
		d = Decision{Tier: TierSuperAdmin, Allowed: true}

	case user.RoleAdmin:
		// Tier 2: admins hold no implicit permissions.
		ok, err := e.grants.HasGrant(ctx, u.ID, perm)
		if err != nil {
			return Decision{}, err
		}
		d = Decision{Tier: TierAdminGrant, Allowed: ok}

	default:
		// Tier 3: organization-scoped membership role.
		d = Decision{Tier: TierMembership}
		if strings.TrimSpace(organizationID) != "" {
			m, err := e.memberships.FindActive(ctx, u.ID, organizationID)
			switch {
			case err == nil:
				d.Allowed = RoleHasPermission(m.Role, perm)
			case errors.Is(err, ErrNotFound):
				// no membership, no access
			default:
				return Decision{}, err
			}
		}
	}

	obs.IncAuthzDecision(string(d.Tier), d.Allowed)
	return d, nil
}

// HasPermission reports whether the user may perform the action, optionally
// scoped to an organization.
func (e *Engine) HasPermission(ctx context.Context, userID string, perm Permission, organizationID string) (bool, error) {
	d, err := e.Decide(ctx, userID, perm, organizationID)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// CanAccessOrganization reports whether the user may see the organization at
// all: super admins always, admins holding view_all_data, members always.
func (e *Engine) CanAccessOrganization(ctx context.Context, userID, organizationID string) (bool, error) {
	u, err := e.users.Find(ctx, userID)
	if err != nil {
		return false, err
	}
	switch u.SystemRole {
	case user.RoleSuperAdmin:
		return true, nil
	case user.RoleAdmin:
		ok, err := e.grants.HasGrant(ctx, u.ID, PermViewAllData)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	_, err = e.memberships.FindActive(ctx, userID, organizationID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// GetUserOrganizationRole returns the role of the user's active membership.
func (e *Engine) GetUserOrganizationRole(ctx context.Context, userID, organizationID string) (OrgRole, error) {
	m, err := e.memberships.FindActive(ctx, userID, organizationID)
	if err != nil {
		return "", err
	}
	return m.Role, nil
}

// IsSuperAdmin reports whether the user holds the super_admin system role.
func (e *Engine) IsSuperAdmin(ctx context.Context, userID string) (bool, error) {
	u, err := e.users.Find(ctx, userID)
	if err != nil {
		return false, err
	}
	return u.SystemRole == user.RoleSuperAdmin, nil
}

// IsAdmin reports whether the user holds the admin system role.
func (e *Engine) IsAdmin(ctx context.Context, userID string) (bool, error) {
	u, err := e.users.Find(ctx, userID)
	if err != nil {
		return false, err
	}
	return u.SystemRole == user.RoleAdmin, nil
}

// HasAdminPermission reports whether an explicit grant exists for the pair.
func (e *Engine) HasAdminPermission(ctx context.Context, userID string, perm Permission) (bool, error) {
	return e.grants.HasGrant(ctx, userID, perm)
}
