package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

// JWTIssuer implements Issuer with HS256-signed JWTs.
type JWTIssuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// Option configures JWTIssuer behavior.
type Option func(*JWTIssuer)

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) Option {
	return func(i *JWTIssuer) {
		if v := strings.TrimSpace(issuer); v != "" {
			i.issuer = v
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(i *JWTIssuer) {
		if ttl > 0 {
			i.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(i *JWTIssuer) {
		if ttl > 0 {
			i.refreshTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(i *JWTIssuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewJWTIssuer constructs an issuer signing with the given secret.
func NewJWTIssuer(secret string, opts ...Option) (*JWTIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token: signing secret is required")
	}
	iss := &JWTIssuer{
		secret:     []byte(secret),
		issuer:     "clinicore",
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(iss)
	}
	return iss, nil
}

type accessJWTClaims struct {
	Email     string `json:"email"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

type refreshJWTClaims struct {
	TokenType  string `json:"token_type"`
	ParentID   string `json:"parent_id,omitempty"`
	DeviceInfo string `json:"device_info,omitempty"`
	jwt.RegisteredClaims
}

// GenerateAccessToken signs a short-lived access token for the user.
func (i *JWTIssuer) GenerateAccessToken(userID, email string) (Issued, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Issued{}, errors.New("token: userID is required")
	}
	now := i.now().UTC()
	exp := now.Add(i.accessTTL)
	claims := accessJWTClaims{
		Email:     email,
		TokenType: typeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Issued{}, fmt.Errorf("sign access token: %w", err)
	}
	return Issued{Value: signed, ExpiresAt: exp}, nil
}

// GenerateRefreshToken signs a long-lived refresh token. tokenID becomes the
// jti claim and must match the ledger record it will be stored under.
func (i *JWTIssuer) GenerateRefreshToken(userID, tokenID, parentID, deviceInfo string) (Issued, error) {
	userID = strings.TrimSpace(userID)
	tokenID = strings.TrimSpace(tokenID)
	if userID == "" || tokenID == "" {
		return Issued{}, errors.New("token: userID and tokenID are required")
	}
	now := i.now().UTC()
	exp := now.Add(i.refreshTTL)
	claims := refreshJWTClaims{
		TokenType:  typeRefresh,
		ParentID:   strings.TrimSpace(parentID),
		DeviceInfo: strings.TrimSpace(deviceInfo),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        tokenID,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Issued{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return Issued{Value: signed, ExpiresAt: exp}, nil
}

// ValidateAccessToken verifies signature and shape of an access token.
func (i *JWTIssuer) ValidateAccessToken(value string) (AccessClaims, error) {
	var claims accessJWTClaims
	if err := i.parse(value, &claims); err != nil {
		return AccessClaims{}, err
	}
	if claims.TokenType != typeAccess {
		return AccessClaims{}, ErrWrongType
	}
	out := AccessClaims{
		UserID:  claims.Subject,
		Email:   claims.Email,
		TokenID: claims.ID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// ValidateRefreshToken verifies signature and shape of a refresh token.
// Expiry is deliberately NOT enforced here: the ledger needs to find expired
// records to keep reuse detection working, so it checks expiry itself against
// the stored record.
func (i *JWTIssuer) ValidateRefreshToken(value string) (RefreshClaims, error) {
	var claims refreshJWTClaims
	if err := i.parse(value, &claims); err != nil && !errors.Is(err, ErrExpired) {
		return RefreshClaims{}, err
	}
	if claims.TokenType != typeRefresh {
		return RefreshClaims{}, ErrWrongType
	}
	out := RefreshClaims{
		UserID:     claims.Subject,
		TokenID:    claims.ID,
		ParentID:   claims.ParentID,
		DeviceInfo: claims.DeviceInfo,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// HashRefreshToken returns the storage lookup digest for a refresh token.
func (i *JWTIssuer) HashRefreshToken(value string) string {
	return HashValue(value)
}

func (i *JWTIssuer) parse(value string, claims jwt.Claims) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return ErrMalformed
	}
	parsed, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidSignature
		}
		return i.secret, nil
	}, jwt.WithIssuer(i.issuer), jwt.WithTimeFunc(i.now))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, ErrInvalidSignature):
			return ErrInvalidSignature
		default:
			return ErrMalformed
		}
	}
	if !parsed.Valid {
		return ErrInvalidSignature
	}
	return nil
}
