package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"clinicore.org/internal/authz"
)

var (
	_ authz.GrantStore        = (*GrantStore)(nil)
	_ authz.MembershipStore   = (*MembershipStore)(nil)
	_ authz.OrganizationStore = (*OrganizationStore)(nil)
)

// Grant inserts the record; a duplicate (admin, permission) pair hits the
// unique constraint and the stored record is returned instead.
func (s *GrantStore) Grant(ctx context.Context, grant authz.AdminPermissionGrant) (authz.AdminPermissionGrant, error) {
	_, err := s.db.ExecContext(ctx, `
		insert into admin_permission_grants (id, admin_user_id, permission, granted_by, granted_at)
		values ($1,$2,$3,$4,$5)
	`, grant.ID, grant.AdminUserID, grant.Permission, grant.GrantedBy, grant.GrantedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return s.find(ctx, grant.AdminUserID, grant.Permission)
	}
	if err != nil {
		return authz.AdminPermissionGrant{}, err
	}
	return grant, nil
}

func (s *GrantStore) Revoke(ctx context.Context, adminUserID string, perm authz.Permission) error {
	res, err := s.db.ExecContext(ctx, `
		delete from admin_permission_grants where admin_user_id=$1 and permission=$2
	`, adminUserID, perm)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return authz.ErrNotFound
	}
	return nil
}

func (s *GrantStore) FindByUser(ctx context.Context, adminUserID string) ([]authz.AdminPermissionGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, admin_user_id, permission, granted_by, granted_at
		from admin_permission_grants where admin_user_id=$1
		order by granted_at
	`, adminUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []authz.AdminPermissionGrant
	for rows.Next() {
		var g authz.AdminPermissionGrant
		if err := rows.Scan(&g.ID, &g.AdminUserID, &g.Permission, &g.GrantedBy, &g.GrantedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *GrantStore) HasGrant(ctx context.Context, adminUserID string, perm authz.Permission) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from admin_permission_grants where admin_user_id=$1 and permission=$2)
	`, adminUserID, perm).Scan(&ok)
	return ok, err
}

func (s *GrantStore) find(ctx context.Context, adminUserID string, perm authz.Permission) (authz.AdminPermissionGrant, error) {
	var g authz.AdminPermissionGrant
	err := s.db.QueryRowContext(ctx, `
		select id, admin_user_id, permission, granted_by, granted_at
		from admin_permission_grants where admin_user_id=$1 and permission=$2
	`, adminUserID, perm).Scan(&g.ID, &g.AdminUserID, &g.Permission, &g.GrantedBy, &g.GrantedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.AdminPermissionGrant{}, authz.ErrNotFound
	}
	return g, err
}

const membershipColumns = `user_id, organization_id, role, joined_at, left_at, is_active`

// Assign inserts an active membership. The partial unique index on
// (user_id, organization_id) where is_active enforces the one-active rule.
func (s *MembershipStore) Assign(ctx context.Context, m authz.OrganizationMembership) error {
	_, err := s.db.ExecContext(ctx, `
		insert into organization_memberships (`+membershipColumns+`)
		values ($1,$2,$3,$4,$5,$6)
	`, m.UserID, m.OrganizationID, m.Role, m.JoinedAt, nullTime(m.LeftAt), m.IsActive)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return authz.ErrMembershipExists
		case pgErrForeignKeyViolation:
			return authz.ErrNotFound
		}
	}
	return err
}

func (s *MembershipStore) Deactivate(ctx context.Context, userID, organizationID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update organization_memberships set is_active=false, left_at=$3
		where user_id=$1 and organization_id=$2 and is_active
	`, userID, organizationID, now.UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return authz.ErrNotFound
	}
	return nil
}

func (s *MembershipStore) FindActive(ctx context.Context, userID, organizationID string) (authz.OrganizationMembership, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+membershipColumns+` from organization_memberships
		where user_id=$1 and organization_id=$2 and is_active
	`, userID, organizationID)
	return scanMembership(row)
}

func (s *MembershipStore) FindByUser(ctx context.Context, userID string, filter authz.MembershipFilter) ([]authz.OrganizationMembership, error) {
	return s.list(ctx, `user_id`, userID, filter)
}

func (s *MembershipStore) FindByOrganization(ctx context.Context, organizationID string, filter authz.MembershipFilter) ([]authz.OrganizationMembership, error) {
	return s.list(ctx, `organization_id`, organizationID, filter)
}

func (s *MembershipStore) list(ctx context.Context, column, value string, filter authz.MembershipFilter) ([]authz.OrganizationMembership, error) {
	q := `select ` + membershipColumns + ` from organization_memberships where ` + column + `=$1`
	switch filter {
	case authz.MembershipActiveOnly:
		q += ` and is_active`
	case authz.MembershipInactiveOnly:
		q += ` and not is_active`
	}
	q += ` order by joined_at`

	rows, err := s.db.QueryContext(ctx, q, value)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []authz.OrganizationMembership
	for rows.Next() {
		var (
			m      authz.OrganizationMembership
			leftAt sql.NullTime
		)
		if err := rows.Scan(&m.UserID, &m.OrganizationID, &m.Role, &m.JoinedAt, &leftAt, &m.IsActive); err != nil {
			return nil, err
		}
		m.LeftAt = fromNullTime(leftAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMembership(row *sql.Row) (authz.OrganizationMembership, error) {
	var (
		m      authz.OrganizationMembership
		leftAt sql.NullTime
	)
	err := row.Scan(&m.UserID, &m.OrganizationID, &m.Role, &m.JoinedAt, &leftAt, &m.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authz.OrganizationMembership{}, authz.ErrNotFound
		}
		return authz.OrganizationMembership{}, err
	}
	m.LeftAt = fromNullTime(leftAt)
	return m, nil
}

func (s *OrganizationStore) Create(ctx context.Context, org authz.Organization) error {
	_, err := s.db.ExecContext(ctx, `
		insert into organizations (id, name, is_active, created_at, updated_at)
		values ($1,$2,$3,$4,$5)
	`, org.ID, org.Name, org.IsActive, org.CreatedAt, org.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return authz.ErrOrganizationExists
	}
	return err
}

func (s *OrganizationStore) Find(ctx context.Context, id string) (authz.Organization, error) {
	var org authz.Organization
	err := s.db.QueryRowContext(ctx, `
		select id, name, is_active, created_at, updated_at from organizations where id=$1
	`, id).Scan(&org.ID, &org.Name, &org.IsActive, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Organization{}, authz.ErrNotFound
	}
	return org, err
}

func (s *OrganizationStore) List(ctx context.Context) ([]authz.Organization, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, is_active, created_at, updated_at from organizations order by created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []authz.Organization
	for rows.Next() {
		var org authz.Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.IsActive, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, rows.Err()
}
