package authz_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"clinicore.org/internal/authz"
	"clinicore.org/internal/store/memory"
	"clinicore.org/internal/user"
)

type fixture struct {
	engine      *authz.Engine
	admin       *authz.AdminService
	users       *memory.UserStore
	grants      *memory.GrantStore
	memberships *memory.MembershipStore
	orgs        *memory.OrganizationStore
	now         time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		users:       memory.NewUserStore(),
		grants:      memory.NewGrantStore(),
		memberships: memory.NewMembershipStore(),
		orgs:        memory.NewOrganizationStore(),
		now:         time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	engine, err := authz.NewEngine(f.users, f.grants, f.memberships)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	f.engine = engine

	admin, err := authz.NewAdminService(f.users, f.grants, f.memberships, f.orgs, authz.WithClock(func() time.Time { return f.now }))
	if err != nil {
		t.Fatalf("NewAdminService: %v", err)
	}
	f.admin = admin
	return f
}

func (f *fixture) addOrg(t *testing.T, id string) {
	t.Helper()
	err := f.orgs.Create(context.Background(), authz.Organization{
		ID: id, Name: id, IsActive: true, CreatedAt: f.now, UpdatedAt: f.now,
	})
	if err != nil {
		t.Fatalf("Create org: %v", err)
	}
}

func (f *fixture) addUser(t *testing.T, id string, role user.SystemRole) user.User {
	t.Helper()
	u := user.New(id, id+"@x.com", "hash", "", "", f.now)
	u.Status = user.StatusActive
	u.SystemRole = role
	if err := f.users.Create(context.Background(), u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return u
}

func (f *fixture) join(t *testing.T, userID, orgID string, role authz.OrgRole) {
	t.Helper()
	err := f.memberships.Assign(context.Background(), authz.OrganizationMembership{
		UserID:         userID,
		OrganizationID: orgID,
		Role:           role,
		JoinedAt:       f.now,
		IsActive:       true,
	})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
}

func TestSuperAdminAllowsEverything(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "root", user.RoleSuperAdmin)
	ctx := context.Background()

	for _, perm := range []authz.Permission{authz.PermManageUsers, authz.PermManageOrganizations, "some_unknown_permission"} {
		d, err := f.engine.Decide(ctx, "root", perm, "")
		if err != nil {
			t.Fatalf("Decide(%s): %v", perm, err)
		}
		if !d.Allowed || d.Tier != authz.TierSuperAdmin {
			t.Fatalf("Decide(%s) = %+v", perm, d)
		}
	}
}

func TestAdminHasNoImplicitPermissions(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "root", user.RoleSuperAdmin)
	f.addUser(t, "adm", user.RoleAdmin)
	ctx := context.Background()

	for _, perm := range []authz.Permission{authz.PermManageUsers, authz.PermViewAllData, authz.PermEditPatients} {
		ok, err := f.engine.HasPermission(ctx, "adm", perm, "")
		if err != nil {
			t.Fatalf("HasPermission(%s): %v", perm, err)
		}
		if ok {
			t.Fatalf("ungranted permission allowed: %s", perm)
		}
	}

	if _, err := f.admin.GrantPermission(ctx, "root", "adm", authz.PermManageUsers); err != nil {
		t.Fatalf("GrantPermission: %v", err)
	}

	d, err := f.engine.Decide(ctx, "adm", authz.PermManageUsers, "")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !d.Allowed || d.Tier != authz.TierAdminGrant {
		t.Fatalf("granted permission denied: %+v", d)
	}
	// The grant covers exactly one permission.
	if ok, _ := f.engine.HasPermission(ctx, "adm", authz.PermViewAllData, ""); ok {
		t.Fatalf("grant leaked to other permissions")
	}
}

func TestMembershipTier(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "doc", user.RoleUser)
	f.join(t, "doc", "org-x", authz.RoleDoctor)
	ctx := context.Background()

	cases := []struct {
		perm  authz.Permission
		org   string
		allow bool
	}{
		{authz.PermEditPatients, "org-x", true},
		{authz.PermManageOrganizations, "org-x", false},
		{authz.PermEditPatients, "org-y", false}, // no membership there
		{authz.PermEditPatients, "", false},      // membership tier needs a scope
	}
	for _, tc := range cases {
		d, err := f.engine.Decide(ctx, "doc", tc.perm, tc.org)
		if err != nil {
			t.Fatalf("Decide(%s, %q): %v", tc.perm, tc.org, err)
		}
		if d.Tier != authz.TierMembership {
			t.Fatalf("wrong tier: %+v", d)
		}
		if d.Allowed != tc.allow {
			t.Fatalf("Decide(%s, %q) = %v, want %v", tc.perm, tc.org, d.Allowed, tc.allow)
		}
	}
}

func TestMembershipDeactivationEndsAccess(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "root", user.RoleSuperAdmin)
	f.addUser(t, "doc", user.RoleUser)
	f.join(t, "doc", "org-x", authz.RoleDoctor)
	ctx := context.Background()

	if err := f.admin.RemoveMembership(ctx, "root", "doc", "org-x"); err != nil {
		t.Fatalf("RemoveMembership: %v", err)
	}
	if ok, _ := f.engine.HasPermission(ctx, "doc", authz.PermEditPatients, "org-x"); ok {
		t.Fatalf("deactivated membership still grants access")
	}

	// History survives; only the active view is empty.
	all, err := f.memberships.FindByUser(ctx, "doc", authz.MembershipAll)
	if err != nil || len(all) != 1 {
		t.Fatalf("FindByUser(all) = %v, %v", all, err)
	}
	if all[0].IsActive || all[0].LeftAt.IsZero() {
		t.Fatalf("deactivation bookkeeping wrong: %+v", all[0])
	}
	inactive, err := f.memberships.FindByUser(ctx, "doc", authz.MembershipInactiveOnly)
	if err != nil || len(inactive) != 1 {
		t.Fatalf("FindByUser(inactive) = %v, %v", inactive, err)
	}
	active, err := f.memberships.FindByUser(ctx, "doc", authz.MembershipActiveOnly)
	if err != nil || len(active) != 0 {
		t.Fatalf("FindByUser(active) = %v, %v", active, err)
	}
}

func TestCanAccessOrganization(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "root", user.RoleSuperAdmin)
	f.addUser(t, "adm", user.RoleAdmin)
	f.addUser(t, "viewer", user.RoleAdmin)
	f.addUser(t, "doc", user.RoleUser)
	f.addUser(t, "stranger", user.RoleUser)
	f.join(t, "doc", "org-x", authz.RoleDoctor)
	ctx := context.Background()

	if _, err := f.admin.GrantPermission(ctx, "root", "viewer", authz.PermViewAllData); err != nil {
		t.Fatalf("GrantPermission: %v", err)
	}

	cases := []struct {
		userID string
		want   bool
	}{
		{"root", true},
		{"viewer", true},
		{"adm", false},
		{"doc", true},
		{"stranger", false},
	}
	for _, tc := range cases {
		got, err := f.engine.CanAccessOrganization(ctx, tc.userID, "org-x")
		if err != nil {
			t.Fatalf("CanAccessOrganization(%s): %v", tc.userID, err)
		}
		if got != tc.want {
			t.Fatalf("CanAccessOrganization(%s) = %v, want %v", tc.userID, got, tc.want)
		}
	}
}

func TestGetUserOrganizationRole(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "doc", user.RoleUser)
	f.join(t, "doc", "org-x", authz.RoleNurse)
	ctx := context.Background()

	role, err := f.engine.GetUserOrganizationRole(ctx, "doc", "org-x")
	if err != nil {
		t.Fatalf("GetUserOrganizationRole: %v", err)
	}
	if role != authz.RoleNurse {
		t.Fatalf("unexpected role: %s", role)
	}
	if _, err := f.engine.GetUserOrganizationRole(ctx, "doc", "org-y"); !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRolePermissionTable(t *testing.T) {
	if !authz.RoleHasPermission(authz.RoleOrgAdmin, authz.PermManageMembers) {
		t.Fatalf("org_admin missing manage_members")
	}
	if !authz.RoleHasPermission(authz.RoleDoctor, authz.PermEditPatients) {
		t.Fatalf("doctor missing edit_patients")
	}
	if authz.RoleHasPermission(authz.RoleGuest, authz.PermEditPatients) {
		t.Fatalf("guest must not edit patients")
	}
	if authz.RoleHasPermission(authz.RoleStaff, authz.PermManagePatients) {
		t.Fatalf("staff must not manage patients")
	}
	if authz.RoleHasPermission(authz.RoleDoctor, authz.PermManageMembers) {
		t.Fatalf("doctor must not manage members")
	}
	if !authz.ValidOrgRole(authz.RoleSpecialist) || authz.ValidOrgRole("janitor") {
		t.Fatalf("ValidOrgRole misbehaves")
	}
}
