package authz

import "time"

// Permission is a fine-grained capability key.
type Permission string

// Permissions checked by the engine. Admin grants may reference keys outside
// this list; the engine compares keys verbatim.
const (
	PermManageUsers         Permission = "manage_users"
	PermManageOrganizations Permission = "manage_organizations"
	PermViewAllData         Permission = "view_all_data"
	PermManagePatients      Permission = "manage_patients"
	PermEditPatients        Permission = "edit_patients"
	PermViewPatients        Permission = "view_patients"
	PermManageSchedule      Permission = "manage_schedule"
	PermViewSchedule        Permission = "view_schedule"
	PermManageMembers       Permission = "manage_members"
)

// OrgRole is a membership role inside one organization.
type OrgRole string

const (
	RoleOrgAdmin   OrgRole = "org_admin"
	RoleDoctor     OrgRole = "doctor"
	RoleNurse      OrgRole = "nurse"
	RoleSpecialist OrgRole = "specialist"
	RoleStaff      OrgRole = "staff"
	RoleGuest      OrgRole = "guest"
)

// AdminPermissionGrant is an immutable record of a permission explicitly
// given to an admin by a super admin. Grants are never mutated, only revoked.
type AdminPermissionGrant struct {
	ID          string
	AdminUserID string
	Permission  Permission
	GrantedBy   string
	GrantedAt   time.Time
}

// OrganizationMembership is a user's role assignment within one organization.
// At most one active membership may exist per (user, organization) pair.
// Removal deactivates the record; it is never deleted.
type OrganizationMembership struct {
	UserID         string
	OrganizationID string
	Role           OrgRole
	JoinedAt       time.Time
	LeftAt         time.Time
	IsActive       bool
}

// MembershipFilter selects memberships by activity state in list operations.
type MembershipFilter int

const (
	MembershipAll MembershipFilter = iota
	MembershipActiveOnly
	MembershipInactiveOnly
)

// Organization is a tenant.
type Organization struct {
	ID        string
	Name      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
