package authz

import "errors"

var (
	// ErrInsufficientPermissions rejects an executor lacking the authority
	// for an admin-management action.
	ErrInsufficientPermissions = errors.New("authz: insufficient permissions")

	// ErrCannotModifySuperAdmin rejects any attempt to change a super admin's
	// role or grants.
	ErrCannotModifySuperAdmin = errors.New("authz: cannot modify super admin")

	ErrInvalidRole = errors.New("authz: invalid organization role")

	// ErrNotFound is returned by stores for missing grants or memberships.
	ErrNotFound = errors.New("authz: not found")

	// ErrMembershipExists is returned when assigning a second active
	// membership for the same (user, organization) pair.
	ErrMembershipExists = errors.New("authz: active membership already exists")

	// ErrOrganizationExists is returned when creating a tenant with a taken id.
	ErrOrganizationExists = errors.New("authz: organization already exists")
)
