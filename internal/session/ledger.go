package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clinicore.org/internal/audit"
	"clinicore.org/internal/obs"
	"clinicore.org/internal/token"
	"clinicore.org/internal/user"
)

// Ledger is the refresh-token rotation state machine. Every refresh token
// belongs to a family: a singly-linked chain rooted at the token minted on
// login. Rotation consumes the presented token and appends a child; replaying
// a consumed token is treated as a stolen-token signal and kills the whole
// family.
type Ledger struct {
	tokens RefreshTokenStore
	users  UserStore
	issuer token.Issuer
	now    func() time.Time
	newID  func() string
}

// NewLedger wires the rotation machine to its ports.
func NewLedger(tokens RefreshTokenStore, users UserStore, issuer token.Issuer, now func() time.Time, newID func() string) *Ledger {
	if now == nil {
		now = time.Now
	}
	if newID == nil {
		newID = uuid.NewString
	}
	return &Ledger{tokens: tokens, users: users, issuer: issuer, now: now, newID: newID}
}

// IssueRoot mints a new family root for a fresh login and persists its record.
func (l *Ledger) IssueRoot(ctx context.Context, u user.User, deviceInfo string) (token.Issued, error) {
	return l.issue(ctx, u, "", deviceInfo)
}

func (l *Ledger) issue(ctx context.Context, u user.User, parentID, deviceInfo string) (token.Issued, error) {
	id := l.newID()
	issued, err := l.issuer.GenerateRefreshToken(u.ID, id, parentID, deviceInfo)
	if err != nil {
		return token.Issued{}, fmt.Errorf("generate refresh token: %w", err)
	}
	rec := RefreshToken{
		ID:         id,
		UserID:     u.ID,
		ParentID:   parentID,
		TokenHash:  l.issuer.HashRefreshToken(issued.Value),
		DeviceInfo: deviceInfo,
		IssuedAt:   l.now().UTC(),
		ExpiresAt:  issued.ExpiresAt,
		Status:     TokenActive,
	}
	if err := l.tokens.Save(ctx, rec); err != nil {
		return token.Issued{}, err
	}
	return issued, nil
}

// Rotate consumes the presented refresh token and returns a fresh pair. The
// consumed record stays in the ledger as rotated so later replays are
// recognized. Exactly one of two concurrent rotations of the same value can
// win; the loser observes the rotated record and lands in reuse detection.
func (l *Ledger) Rotate(ctx context.Context, presented string) (TokenPair, error) {
	if _, err := l.issuer.ValidateRefreshToken(presented); err != nil {
		return TokenPair{}, ErrInvalidRefreshToken
	}

	hash := l.issuer.HashRefreshToken(presented)
	rec, err := l.tokens.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Unknown and malformed tokens look identical to the caller.
			return TokenPair{}, ErrInvalidRefreshToken
		}
		return TokenPair{}, err
	}

	switch rec.Status {
	case TokenRotated:
		return TokenPair{}, l.detectReuse(ctx, rec)
	case TokenRevoked:
		return TokenPair{}, ErrRefreshTokenRevoked
	}

	if rec.Expired(l.now()) {
		return TokenPair{}, ErrRefreshTokenExpired
	}

	owner, err := l.users.Find(ctx, rec.UserID)
	if err != nil {
		return TokenPair{}, err
	}
	if !owner.CanLogin() {
		return TokenPair{}, &UserNotActiveError{Status: owner.Status}
	}

	pair, err := l.rotateInto(ctx, owner, rec)
	if err == nil {
		obs.IncTokenRotation()
		return pair, nil
	}
	if !errors.Is(err, ErrRotationConflict) {
		return TokenPair{}, err
	}

	// Lost the race: re-read and route through the terminal-status paths.
	// The winner has already marked the record rotated, so this presentation
	// is a replay by definition.
	rec, ferr := l.tokens.Find(ctx, rec.ID)
	if ferr != nil {
		return TokenPair{}, ferr
	}
	switch rec.Status {
	case TokenRotated:
		return TokenPair{}, l.detectReuse(ctx, rec)
	case TokenRevoked:
		return TokenPair{}, ErrRefreshTokenRevoked
	default:
		return TokenPair{}, err
	}
}

// rotateInto issues the successor pair and applies the atomic
// mark-rotated + insert-child write.
func (l *Ledger) rotateInto(ctx context.Context, owner user.User, consumed RefreshToken) (TokenPair, error) {
	access, err := l.issuer.GenerateAccessToken(owner.ID, owner.Email)
	if err != nil {
		return TokenPair{}, fmt.Errorf("generate access token: %w", err)
	}

	childID := l.newID()
	refresh, err := l.issuer.GenerateRefreshToken(owner.ID, childID, consumed.ID, consumed.DeviceInfo)
	if err != nil {
		return TokenPair{}, fmt.Errorf("generate refresh token: %w", err)
	}
	child := RefreshToken{
		ID:         childID,
		UserID:     owner.ID,
		ParentID:   consumed.ID,
		TokenHash:  l.issuer.HashRefreshToken(refresh.Value),
		DeviceInfo: consumed.DeviceInfo,
		IssuedAt:   l.now().UTC(),
		ExpiresAt:  refresh.ExpiresAt,
		Status:     TokenActive,
	}
	if err := l.tokens.Rotate(ctx, consumed.ID, child); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// detectReuse handles a replayed (already rotated) token: the entire family
// is revoked and the event is surfaced with critical severity.
func (l *Ledger) detectReuse(ctx context.Context, rec RefreshToken) error {
	root, err := l.tokens.FindFamilyRoot(ctx, rec.ID)
	if err != nil {
		return err
	}
	revoked, err := l.tokens.RevokeFamily(ctx, root.ID)
	if err != nil {
		return err
	}

	obs.IncTokenReuseDetected()
	if revoked > 0 {
		obs.IncFamilyRevoked()
	}
	_ = audit.LogEvent(ctx, "session.refresh.reuse_detected", audit.SeverityCritical, map[string]any{
		"token_id":       rec.ID,
		"family_root_id": root.ID,
		"user_id":        rec.UserID,
		"revoked_count":  revoked,
	})

	return &ReuseDetectedError{TokenID: rec.ID, FamilyRootID: root.ID}
}

// RevokeFamily revokes the family containing the given member. Idempotent:
// a fully revoked family yields zero additional revocations and no error.
func (l *Ledger) RevokeFamily(ctx context.Context, memberID string) (int, error) {
	root, err := l.tokens.FindFamilyRoot(ctx, memberID)
	if err != nil {
		return 0, err
	}
	revoked, err := l.tokens.RevokeFamily(ctx, root.ID)
	if err != nil {
		return 0, err
	}
	if revoked > 0 {
		obs.IncFamilyRevoked()
	}
	return revoked, nil
}

// DeleteExpired prunes records whose expiry predates the retention cutoff.
// Maintenance only; reuse detection needs rotated records, so callers should
// keep the cutoff comfortably behind the refresh TTL.
func (l *Ledger) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	return l.tokens.DeleteExpired(ctx, before)
}
