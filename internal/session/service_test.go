package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"clinicore.org/internal/session"
	"clinicore.org/internal/store/memory"
	"clinicore.org/internal/token"
	"clinicore.org/internal/user"
)

type testEnv struct {
	svc    *session.Service
	users  *memory.UserStore
	tokens *memory.TokenStore
	issuer *token.JWTIssuer
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		users:  memory.NewUserStore(),
		tokens: memory.NewTokenStore(),
		now:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return env.now }

	iss, err := token.NewJWTIssuer("test-secret", token.WithClock(clock))
	if err != nil {
		t.Fatalf("NewJWTIssuer: %v", err)
	}
	env.issuer = iss

	svc, err := session.NewService(env.users, env.tokens, iss, session.WithClock(clock))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	env.svc = svc
	return env
}

func (e *testEnv) addUser(t *testing.T, email, password string, status user.Status) user.User {
	t.Helper()
	hash, err := session.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	u := user.New("u-"+email, email, hash, "Ada", "Gray", e.now)
	u.Status = status
	if err := e.users.Create(context.Background(), u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return u
}

func TestLoginSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "a@x.com", "correct", user.StatusActive)

	res, err := env.svc.Login(context.Background(), "A@X.com", "correct", "test-device")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.TokenPair.AccessToken.Value == "" || res.TokenPair.RefreshToken.Value == "" {
		t.Fatalf("expected token pair")
	}
	if res.User.Email != "a@x.com" {
		t.Fatalf("unexpected user: %+v", res.User)
	}

	stored, err := env.users.Find(context.Background(), res.User.ID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !stored.LastLoginAt.Equal(env.now) {
		t.Fatalf("last login not recorded: %v", stored.LastLoginAt)
	}
}

func TestLoginUnknownEmailAndWrongPasswordLookAlike(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "a@x.com", "correct", user.StatusActive)

	_, errUnknown := env.svc.Login(context.Background(), "ghost@x.com", "whatever", "")
	_, errWrong := env.svc.Login(context.Background(), "a@x.com", "wrong", "")

	if !errors.Is(errUnknown, session.ErrInvalidCredentials) {
		t.Fatalf("unknown email: %v", errUnknown)
	}
	if !errors.Is(errWrong, session.ErrInvalidCredentials) {
		t.Fatalf("wrong password: %v", errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatalf("error shapes differ: %q vs %q", errUnknown, errWrong)
	}
}

func TestLoginLockoutAfterThreshold(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "a@x.com", "correct", user.StatusActive)

	for i := 0; i < session.DefaultLockoutPolicy.Threshold; i++ {
		if _, err := env.svc.Login(context.Background(), "a@x.com", "wrong", ""); !errors.Is(err, session.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	// Correct password during the lockout window still fails, with the
	// remaining seconds disclosed.
	_, err := env.svc.Login(context.Background(), "a@x.com", "correct", "")
	var locked *session.AccountLockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected AccountLockedError, got %v", err)
	}
	if locked.RetryAfter <= 0 || locked.RetryAfter > session.DefaultLockoutPolicy.Window {
		t.Fatalf("unexpected retry-after: %v", locked.RetryAfter)
	}
	if !errors.Is(err, session.ErrAccountLocked) {
		t.Fatalf("sentinel match failed: %v", err)
	}

	// After the window passes, the correct password succeeds and clears the
	// counter.
	env.now = env.now.Add(session.DefaultLockoutPolicy.Window + time.Minute)
	res, err := env.svc.Login(context.Background(), "a@x.com", "correct", "")
	if err != nil {
		t.Fatalf("Login after lockout: %v", err)
	}
	stored, _ := env.users.Find(context.Background(), res.User.ID)
	if stored.FailedLoginAttempts != 0 || !stored.LockedUntil.IsZero() {
		t.Fatalf("lockout bookkeeping not cleared: %+v", stored)
	}
}

func TestLoginStatusGates(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "pending@x.com", "correct", user.StatusPendingVerification)
	env.addUser(t, "suspended@x.com", "correct", user.StatusSuspended)
	env.addUser(t, "gone@x.com", "correct", user.StatusDeactivated)

	// Unverified accounts must not be distinguishable from bad credentials.
	if _, err := env.svc.Login(context.Background(), "pending@x.com", "correct", ""); !errors.Is(err, session.ErrInvalidCredentials) {
		t.Fatalf("pending: %v", err)
	}

	_, err := env.svc.Login(context.Background(), "suspended@x.com", "correct", "")
	var notActive *session.UserNotActiveError
	if !errors.As(err, &notActive) || notActive.Status != user.StatusSuspended {
		t.Fatalf("suspended: %v", err)
	}

	_, err = env.svc.Login(context.Background(), "gone@x.com", "correct", "")
	if !errors.As(err, &notActive) || notActive.Status != user.StatusDeactivated {
		t.Fatalf("deactivated: %v", err)
	}
}

func TestRefreshRotatesAndRetiresPresentedToken(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "a@x.com", "correct", user.StatusActive)

	res, err := env.svc.Login(context.Background(), "a@x.com", "correct", "device-1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	r1 := res.TokenPair.RefreshToken.Value

	pair, err := env.svc.Refresh(context.Background(), r1)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if pair.RefreshToken.Value == r1 {
		t.Fatalf("rotation returned the presented token")
	}
	if pair.AccessToken.Value == "" {
		t.Fatalf("expected new access token")
	}

	// Device info travels down the chain.
	claims, err := env.issuer.ValidateRefreshToken(pair.RefreshToken.Value)
	if err != nil {
		t.Fatalf("ValidateRefreshToken: %v", err)
	}
	if claims.DeviceInfo != "device-1" {
		t.Fatalf("device info lost: %+v", claims)
	}
	if claims.ParentID == "" {
		t.Fatalf("expected parent link on rotated token")
	}

	// The consumed record stays queryable as rotated.
	rec, err := env.tokens.FindByHash(context.Background(), env.issuer.HashRefreshToken(r1))
	if err != nil {
		t.Fatalf("FindByHash: %v", err)
	}
	if rec.Status != session.TokenRotated {
		t.Fatalf("expected rotated, got %s", rec.Status)
	}
}

func TestRefreshReuseRevokesWholeFamily(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "a@x.com", "correct", user.StatusActive)

	res, err := env.svc.Login(context.Background(), "a@x.com", "correct", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	r1 := res.TokenPair.RefreshToken.Value

	pair, err := env.svc.Refresh(context.Background(), r1)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	r2 := pair.RefreshToken.Value

	// Replaying R1 is reuse: the whole family dies.
	_, err = env.svc.Refresh(context.Background(), r1)
	var reuse *session.ReuseDetectedError
	if !errors.As(err, &reuse) {
		t.Fatalf("expected ReuseDetectedError, got %v", err)
	}
	if reuse.TokenID == "" || reuse.FamilyRootID == "" {
		t.Fatalf("incomplete reuse report: %+v", reuse)
	}

	// R2 was collateral of the purge.
	if _, err := env.svc.Refresh(context.Background(), r2); !errors.Is(err, session.ErrRefreshTokenRevoked) {
		t.Fatalf("expected ErrRefreshTokenRevoked, got %v", err)
	}

	// Every record of the family now reports revoked.
	root, err := env.tokens.Find(context.Background(), reuse.FamilyRootID)
	if err != nil {
		t.Fatalf("Find root: %v", err)
	}
	if root.Status != session.TokenRevoked {
		t.Fatalf("root not revoked: %s", root.Status)
	}
}

func TestRefreshRejectsGarbageAndForeignTokens(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "a@x.com", "correct", user.StatusActive)

	if _, err := env.svc.Refresh(context.Background(), "garbage"); !errors.Is(err, session.ErrInvalidRefreshToken) {
		t.Fatalf("garbage: %v", err)
	}

	// A validly signed token without a ledger record is just as invalid.
	orphan, err := env.issuer.GenerateRefreshToken("u-a@x.com", "orphan-id", "", "")
	if err != nil {
		t.Fatalf("GenerateRefreshToken: %v", err)
	}
	if _, err := env.svc.Refresh(context.Background(), orphan.Value); !errors.Is(err, session.ErrInvalidRefreshToken) {
		t.Fatalf("orphan: %v", err)
	}
}

func TestRefreshExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "a@x.com", "correct", user.StatusActive)

	res, err := env.svc.Login(context.Background(), "a@x.com", "correct", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	env.now = env.now.Add(token.DefaultRefreshTTL + time.Hour)
	if _, err := env.svc.Refresh(context.Background(), res.TokenPair.RefreshToken.Value); !errors.Is(err, session.ErrRefreshTokenExpired) {
		t.Fatalf("expected ErrRefreshTokenExpired, got %v", err)
	}
}

func TestRefreshBlockedForInactiveOwner(t *testing.T) {
	env := newTestEnv(t)
	u := env.addUser(t, "a@x.com", "correct", user.StatusActive)

	res, err := env.svc.Login(context.Background(), "a@x.com", "correct", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	suspended, err := u.WithStatus(user.StatusSuspended, env.now)
	if err != nil {
		t.Fatalf("WithStatus: %v", err)
	}
	if err := env.users.Update(context.Background(), suspended); err != nil {
		t.Fatalf("Update: %v", err)
	}

	_, err = env.svc.Refresh(context.Background(), res.TokenPair.RefreshToken.Value)
	if !errors.Is(err, session.ErrUserNotActive) {
		t.Fatalf("expected ErrUserNotActive, got %v", err)
	}
}

func TestLogoutRevokesFamilyIdempotently(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "a@x.com", "correct", user.StatusActive)

	res, err := env.svc.Login(context.Background(), "a@x.com", "correct", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	r1 := res.TokenPair.RefreshToken.Value

	if err := env.svc.Logout(context.Background(), r1); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := env.svc.Refresh(context.Background(), r1); !errors.Is(err, session.ErrRefreshTokenRevoked) {
		t.Fatalf("expected ErrRefreshTokenRevoked, got %v", err)
	}
	// Second logout of the same family is a quiet no-op.
	if err := env.svc.Logout(context.Background(), r1); err != nil {
		t.Fatalf("repeat Logout: %v", err)
	}
}

func TestAuthenticateResolvesBearerToken(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "a@x.com", "correct", user.StatusActive)

	res, err := env.svc.Login(context.Background(), "a@x.com", "correct", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	u, err := env.svc.Authenticate(context.Background(), res.TokenPair.AccessToken.Value)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if u.Email != "a@x.com" {
		t.Fatalf("unexpected user: %+v", u)
	}

	if _, err := env.svc.Authenticate(context.Background(), "garbage"); !errors.Is(err, session.ErrInvalidAccessToken) {
		t.Fatalf("garbage bearer: %v", err)
	}
}
