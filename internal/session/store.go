package session

import (
	"context"
	"time"

	"clinicore.org/internal/user"
)

// UserStore is the persistence port for user snapshots.
type UserStore interface {
	Find(ctx context.Context, id string) (user.User, error)
	FindByEmail(ctx context.Context, email string) (user.User, error)
	// Update replaces the stored snapshot wholesale.
	Update(ctx context.Context, u user.User) error
	// RecordFailedLogin advances the failure counter atomically and applies
	// the lockout once the threshold is reached. Concurrent failed attempts
	// must each observe a distinct counter value.
	RecordFailedLogin(ctx context.Context, id string, policy LockoutPolicy, now time.Time) (user.User, error)
}

// RefreshTokenStore is the persistence port for the rotation ledger.
type RefreshTokenStore interface {
	Save(ctx context.Context, tok RefreshToken) error
	Find(ctx context.Context, id string) (RefreshToken, error)
	FindByHash(ctx context.Context, hash string) (RefreshToken, error)
	// Rotate marks consumedID rotated and inserts next in one atomic step.
	// The status transition is a compare-and-swap: if the record is no longer
	// active the call fails with ErrRotationConflict and neither change is
	// applied.
	Rotate(ctx context.Context, consumedID string, next RefreshToken) error
	UpdateStatus(ctx context.Context, id string, status TokenStatus) error
	// FindFamilyRoot walks parent links from any member to the chain root.
	FindFamilyRoot(ctx context.Context, id string) (RefreshToken, error)
	// RevokeFamily revokes the root and every descendant, atomically with
	// respect to in-flight rotations on family members. Returns the number of
	// records newly revoked; revoking an already-revoked family is a no-op.
	RevokeFamily(ctx context.Context, rootID string) (int, error)
	// DeleteExpired removes records whose expiry is before the cutoff.
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}
