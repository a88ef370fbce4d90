package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"clinicore.org/internal/session"
	"clinicore.org/internal/user"
)

var _ session.UserStore = (*UserStore)(nil)

const userColumns = `id, email, password_hash, first_name, last_name, status, system_role,
	failed_login_attempts, locked_until, email_verified_at, last_login_at, created_at, updated_at`

// Create inserts a new account snapshot.
func (s *UserStore) Create(ctx context.Context, u user.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users (`+userColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Status, u.SystemRole,
		u.FailedLoginAttempts, nullTime(u.LockedUntil), nullTime(u.EmailVerifiedAt),
		nullTime(u.LastLoginAt), u.CreatedAt, u.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return errors.New("pg: email already registered")
	}
	return err
}

// Find loads a snapshot by id.
func (s *UserStore) Find(ctx context.Context, id string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

// FindByEmail loads a snapshot by normalized address.
func (s *UserStore) FindByEmail(ctx context.Context, email string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email=$1`, email)
	return scanUser(row)
}

// Update replaces the stored snapshot wholesale.
func (s *UserStore) Update(ctx context.Context, u user.User) error {
	res, err := s.db.ExecContext(ctx, `
		update users set
			email=$2, password_hash=$3, first_name=$4, last_name=$5, status=$6,
			system_role=$7, failed_login_attempts=$8, locked_until=$9,
			email_verified_at=$10, last_login_at=$11, updated_at=$12
		where id=$1
	`, u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Status, u.SystemRole,
		u.FailedLoginAttempts, nullTime(u.LockedUntil), nullTime(u.EmailVerifiedAt),
		nullTime(u.LastLoginAt), u.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return user.ErrNotFound
	}
	return nil
}

// RecordFailedLogin advances the failure counter in one conditional UPDATE so
// concurrent failed attempts each observe a distinct value, and applies the
// lockout the moment the threshold is reached.
func (s *UserStore) RecordFailedLogin(ctx context.Context, id string, policy session.LockoutPolicy, now time.Time) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		update users set
			failed_login_attempts = failed_login_attempts + 1,
			locked_until = case
				when failed_login_attempts + 1 >= $2 then $3
				else locked_until
			end,
			updated_at = $4
		where id = $1
		returning `+userColumns+`
	`, id, policy.Threshold, now.UTC().Add(policy.Window), now.UTC())
	return scanUser(row)
}

func scanUser(row *sql.Row) (user.User, error) {
	var (
		u           user.User
		lockedUntil sql.NullTime
		verifiedAt  sql.NullTime
		lastLoginAt sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.Status, &u.SystemRole, &u.FailedLoginAttempts, &lockedUntil,
		&verifiedAt, &lastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}
	u.LockedUntil = fromNullTime(lockedUntil)
	u.EmailVerifiedAt = fromNullTime(verifiedAt)
	u.LastLoginAt = fromNullTime(lastLoginAt)
	return u, nil
}
