// Package session implements the authentication use cases and the
// refresh-token rotation ledger behind them.
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

// Service orchestrates login, refresh and logout over the injected ports.
type Service struct {
	users    UserStore
	tokens   RefreshTokenStore
	issuer   token.Issuer
	verifier CredentialVerifier
	ledger   *Ledger
	lockout  LockoutPolicy
	now      func() time.Time
	newID    func() string
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithIDGenerator overrides refresh-token id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithLockoutPolicy overrides failed-login accounting.
func WithLockoutPolicy(p LockoutPolicy) Option {
	return func(s *Service) {
		if p.Threshold > 0 && p.Window > 0 {
			s.lockout = p
		}
	}
}

// WithVerifier overrides the credential verifier.
func WithVerifier(v CredentialVerifier) Option {
	return func(s *Service) {
		if v != nil {
			s.verifier = v
		}
	}
}

// NewService constructs the session service.
func NewService(users UserStore, tokens RefreshTokenStore, issuer token.Issuer, opts ...Option) (*Service, error) {
	if users == nil || tokens == nil || issuer == nil {
		return nil, errors.New("session: users, tokens and issuer are required")
	}
	s := &Service{
		users:    users,
		tokens:   tokens,
		issuer:   issuer,
		verifier: BcryptVerifier{},
		lockout:  DefaultLockoutPolicy,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ledger = NewLedger(tokens, users, issuer, s.now, s.newID)
	return s, nil
}

// Ledger exposes the rotation machine for maintenance callers.
func (s *Service) Ledger() *Ledger { return s.ledger }

// Login authenticates credentials and opens a new token family.
//
// Failure shaping is deliberate: unknown emails, wrong passwords and
// unverified accounts all fail with ErrInvalidCredentials so the endpoint
// cannot be used to enumerate accounts. Suspended and deactivated accounts
// disclose their status.
func (s *Service) Login(ctx context.Context, email, password, deviceInfo string) (LoginResult, error) {
	u, err := s.users.FindByEmail(ctx, user.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			obs.IncLoginAttempt("invalid_credentials")
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	now := s.now().UTC()
	if u.IsLocked(now) {
		obs.IncLoginAttempt("locked")
		return LoginResult{}, &AccountLockedError{RetryAfter: u.LockRemaining(now)}
	}

	if err := s.verifier.Verify(u.PasswordHash, password); err != nil {
		updated, rerr := s.users.RecordFailedLogin(ctx, u.ID, s.lockout, now)
		if rerr != nil {
			return LoginResult{}, rerr
		}
		obs.IncLoginAttempt("invalid_credentials")
		if updated.IsLocked(now) && !u.IsLocked(now) {
			obs.IncAccountLockout()
			_ = audit.LogEvent(ctx, "session.login.lockout", audit.SeverityWarning, map[string]any{
				"user_id":  u.ID,
				"attempts": updated.FailedLoginAttempts,
			})
		}
		return LoginResult{}, ErrInvalidCredentials
	}

	switch u.Status {
	case user.StatusActive:
	case user.StatusPendingVerification:
		// Do not leak verification state.
		obs.IncLoginAttempt("invalid_credentials")
		return LoginResult{}, ErrInvalidCredentials
	default:
		obs.IncLoginAttempt("not_active")
		return LoginResult{}, &UserNotActiveError{Status: u.Status}
	}

	access, err := s.issuer.GenerateAccessToken(u.ID, u.Email)
	if err != nil {
		return LoginResult{}, fmt.Errorf("generate access token: %w", err)
	}
	refresh, err := s.ledger.IssueRoot(ctx, u, deviceInfo)
	if err != nil {
		return LoginResult{}, err
	}

	if err := s.users.Update(ctx, u.RecordLogin(now)); err != nil {
		return LoginResult{}, err
	}

	obs.IncLoginAttempt("success")
	_ = audit.LogEvent(ctx, "session.login.success", audit.SeverityInfo, map[string]any{
		"user_id": u.ID,
	})

	return LoginResult{
		User:      u.SafeView(),
		TokenPair: TokenPair{AccessToken: access, RefreshToken: refresh},
	}, nil
}

// Refresh rotates the presented refresh token. The returned refresh value is
// always new; the presented one is never usable again.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	return s.ledger.Rotate(ctx, refreshToken)
}

// Logout revokes the whole family of the presented refresh token. Revoking an
// already-dead family succeeds quietly.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if _, err := s.issuer.ValidateRefreshToken(refreshToken); err != nil {
		return ErrInvalidRefreshToken
	}
	rec, err := s.tokens.FindByHash(ctx, s.issuer.HashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidRefreshToken
		}
		return err
	}
	if _, err := s.ledger.RevokeFamily(ctx, rec.ID); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "session.logout", audit.SeverityInfo, map[string]any{
		"user_id": rec.UserID,
	})
	return nil
}

// Authenticate resolves the user behind a bearer access token. Used by the
// transport layer's authn middleware.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (user.User, error) {
	claims, err := s.issuer.ValidateAccessToken(accessToken)
	if err != nil {
		return user.User{}, ErrInvalidAccessToken
	}
	u, err := s.users.Find(ctx, claims.UserID)
	if err != nil {
		return user.User{}, err
	}
	if !u.CanLogin() {
		return user.User{}, &UserNotActiveError{Status: u.Status}
	}
	return u, nil
}
