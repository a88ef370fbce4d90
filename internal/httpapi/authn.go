package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"clinicore.org/internal/audit"
	"clinicore.org/internal/session"
	"clinicore.org/internal/user"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/auth/logout",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

type principalKey struct{}

// ContextWithPrincipal stores the authenticated user on the context.
func ContextWithPrincipal(ctx context.Context, u user.User) context.Context {
	return context.WithValue(ctx, principalKey{}, u)
}

// PrincipalFromContext returns the authenticated user, if any.
func PrincipalFromContext(ctx context.Context) (user.User, bool) {
	u, ok := ctx.Value(principalKey{}).(user.User)
	return u, ok
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		value, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		principal, err := a.sessions.Authenticate(r.Context(), value)
		if err != nil {
			var notActive *session.UserNotActiveError
			switch {
			case errors.Is(err, session.ErrInvalidAccessToken):
				writeErrorCode(w, r, http.StatusUnauthorized, "invalid_access_token", "invalid token", nil)
			case errors.As(err, &notActive):
				writeErrorCode(w, r, http.StatusForbidden, "user_not_active", err.Error(), map[string]any{
					"status": string(notActive.Status),
				})
			case errors.Is(err, user.ErrNotFound):
				writeErrorCode(w, r, http.StatusUnauthorized, "invalid_access_token", "invalid token", nil)
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := ContextWithPrincipal(r.Context(), principal)
		ctx = audit.WithUserID(ctx, principal.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePrincipal resolves the caller or writes a 401.
func requirePrincipal(w http.ResponseWriter, r *http.Request) (user.User, bool) {
	u, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	}
	return u, ok
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	value := strings.TrimSpace(header[len(bearer):])
	if value == "" {
		return "", errors.New("missing bearer token")
	}
	return value, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
