package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"clinicore.org/internal/session"
)

var _ session.RefreshTokenStore = (*TokenStore)(nil)

const tokenColumns = `id, user_id, parent_id, token_hash, device_info, issued_at, expires_at, status`

// Save inserts a ledger record.
func (s *TokenStore) Save(ctx context.Context, tok session.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (`+tokenColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, tok.ID, tok.UserID, nullString(tok.ParentID), tok.TokenHash, tok.DeviceInfo,
		tok.IssuedAt, tok.ExpiresAt, tok.Status)
	return err
}

// Find loads a record by id.
func (s *TokenStore) Find(ctx context.Context, id string) (session.RefreshToken, error) {
	row := s.db.QueryRowContext(ctx, `select `+tokenColumns+` from refresh_tokens where id=$1`, id)
	return scanToken(row)
}

// FindByHash loads a record by the token value digest.
func (s *TokenStore) FindByHash(ctx context.Context, hash string) (session.RefreshToken, error) {
	row := s.db.QueryRowContext(ctx, `select `+tokenColumns+` from refresh_tokens where token_hash=$1`, hash)
	return scanToken(row)
}

// Rotate marks the consumed record rotated and inserts its child in one
// transaction. The status change is a compare-and-swap on status='active';
// two rotations of the same record cannot both pass it, the loser gets
// session.ErrRotationConflict and no state change.
func (s *TokenStore) Rotate(ctx context.Context, consumedID string, next session.RefreshToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update refresh_tokens set status=$2 where id=$1 and status=$3
	`, consumedID, session.TokenRotated, session.TokenActive)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`select exists(select 1 from refresh_tokens where id=$1)`, consumedID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return session.ErrNotFound
		}
		return session.ErrRotationConflict
	}

	if _, err := tx.ExecContext(ctx, `
		insert into refresh_tokens (`+tokenColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, next.ID, next.UserID, nullString(next.ParentID), next.TokenHash, next.DeviceInfo,
		next.IssuedAt, next.ExpiresAt, next.Status); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateStatus forces a record into the given status.
func (s *TokenStore) UpdateStatus(ctx context.Context, id string, status session.TokenStatus) error {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set status=$2 where id=$1`, id, status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return session.ErrNotFound
	}
	return nil
}

// FindFamilyRoot walks parent links upward with a recursive CTE. If the true
// root was pruned by retention, the oldest surviving ancestor acts as root.
func (s *TokenStore) FindFamilyRoot(ctx context.Context, id string) (session.RefreshToken, error) {
	row := s.db.QueryRowContext(ctx, `
		with recursive chain as (
			select `+tokenColumns+` from refresh_tokens where id=$1
			union all
			select t.id, t.user_id, t.parent_id, t.token_hash, t.device_info, t.issued_at, t.expires_at, t.status
			from refresh_tokens t
			join chain c on t.id = c.parent_id
		)
		select `+tokenColumns+` from chain
		order by (parent_id is null) desc, issued_at asc
		limit 1
	`, id)
	return scanToken(row)
}

// RevokeFamily revokes the root and all descendants. The recursive UPDATE is
// repeated until it converges: a rotation that commits while the first pass
// runs inserts a child the pass cannot see, and the follow-up pass catches
// it. Convergence is guaranteed because rotations of revoked parents fail
// their compare-and-swap.
func (s *TokenStore) RevokeFamily(ctx context.Context, rootID string) (int, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from refresh_tokens where id=$1)`, rootID).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, session.ErrNotFound
	}

	total := 0
	for {
		res, err := s.db.ExecContext(ctx, `
			with recursive family as (
				select id from refresh_tokens where id=$1
				union all
				select t.id from refresh_tokens t join family f on t.parent_id = f.id
			)
			update refresh_tokens set status=$2
			where id in (select id from family) and status <> $2
		`, rootID, session.TokenRevoked)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += int(n)
		if n == 0 {
			return total, nil
		}
	}
}

// DeleteExpired prunes records whose expiry predates the cutoff.
func (s *TokenStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where expires_at < $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanToken(row *sql.Row) (session.RefreshToken, error) {
	var (
		tok      session.RefreshToken
		parentID sql.NullString
	)
	err := row.Scan(&tok.ID, &tok.UserID, &parentID, &tok.TokenHash, &tok.DeviceInfo,
		&tok.IssuedAt, &tok.ExpiresAt, &tok.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.RefreshToken{}, session.ErrNotFound
		}
		return session.RefreshToken{}, err
	}
	tok.ParentID = fromNullString(parentID)
	return tok, nil
}
