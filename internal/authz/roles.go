package authz

// rolePermissions is the fixed role→permission table for organization
// memberships. It is a constant of the system, not user-configurable:
// org_admin ⊃ clinical roles (doctor/nurse/specialist) ⊃ staff ⊃ guest.
var rolePermissions = map[OrgRole][]Permission{
	RoleOrgAdmin: {
		PermManageMembers,
		PermManagePatients,
		PermEditPatients,
		PermViewPatients,
		PermManageSchedule,
		PermViewSchedule,
	},
	RoleDoctor: {
		PermManagePatients,
		PermEditPatients,
		PermViewPatients,
		PermManageSchedule,
		PermViewSchedule,
	},
	RoleNurse: {
		PermEditPatients,
		PermViewPatients,
		PermViewSchedule,
	},
	RoleSpecialist: {
		PermEditPatients,
		PermViewPatients,
		PermViewSchedule,
	},
	RoleStaff: {
		PermViewPatients,
		PermManageSchedule,
		PermViewSchedule,
	},
	RoleGuest: {
		PermViewSchedule,
	},
}

// RoleHasPermission consults the static table.
func RoleHasPermission(role OrgRole, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// RolePermissions returns a copy of the role's permission set.
func RolePermissions(role OrgRole) []Permission {
	src := rolePermissions[role]
	out := make([]Permission, len(src))
	copy(out, src)
	return out
}

// ValidOrgRole reports whether the role is one of the known membership roles.
func ValidOrgRole(role OrgRole) bool {
	_, ok := rolePermissions[role]
	return ok
}
