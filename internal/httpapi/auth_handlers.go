package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clinicore.org/internal/session"
	"clinicore.org/internal/user"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPairResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type loginResponse struct {
	User struct {
		ID         string `json:"id"`
		Email      string `json:"email"`
		FirstName  string `json:"first_name,omitempty"`
		LastName   string `json:"last_name,omitempty"`
		SystemRole string `json:"system_role"`
	} `json:"user"`
	tokenPairResponse
}

func pairResponse(pair session.TokenPair) tokenPairResponse {
	return tokenPairResponse{
		AccessToken:      pair.AccessToken.Value,
		AccessExpiresAt:  pair.AccessToken.ExpiresAt,
		RefreshToken:     pair.RefreshToken.Value,
		RefreshExpiresAt: pair.RefreshToken.ExpiresAt,
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	result, err := a.sessions.Login(r.Context(), req.Email, req.Password, deviceInfo(r))
	if err != nil {
		handleSessionError(w, r, err)
		return
	}

	var resp loginResponse
	resp.User.ID = result.User.ID
	resp.User.Email = result.User.Email
	resp.User.FirstName = result.User.FirstName
	resp.User.LastName = result.User.LastName
	resp.User.SystemRole = string(result.User.SystemRole)
	resp.tokenPairResponse = pairResponse(result.TokenPair)
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, err := a.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		handleSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pairResponse(pair))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	if err := a.sessions.Logout(r.Context(), req.RefreshToken); err != nil {
		handleSessionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// deviceInfo condenses the client identity stored alongside each token family.
func deviceInfo(r *http.Request) string {
	ua := strings.TrimSpace(r.UserAgent())
	if len(ua) > 256 {
		ua = ua[:256]
	}
	return ua
}

func handleSessionError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		locked *session.AccountLockedError
		status *session.UserNotActiveError
		reuse  *session.ReuseDetectedError
	)
	switch {
	case errors.As(err, &locked):
		secs := int(locked.RetryAfter.Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeErrorCode(w, r, http.StatusLocked, "account_locked", err.Error(), map[string]any{
			"remaining_seconds": secs,
		})
	case errors.As(err, &status):
		writeErrorCode(w, r, http.StatusForbidden, "user_not_active", err.Error(), map[string]any{
			"status": string(status.Status),
		})
	case errors.As(err, &reuse):
		writeErrorCode(w, r, http.StatusUnauthorized, "refresh_token_reuse_detected", err.Error(), map[string]any{
			"token_id":       reuse.TokenID,
			"family_root_id": reuse.FamilyRootID,
		})
	case errors.Is(err, session.ErrInvalidCredentials):
		writeErrorCode(w, r, http.StatusUnauthorized, "invalid_credentials", err.Error(), nil)
	case errors.Is(err, session.ErrRefreshTokenExpired):
		writeErrorCode(w, r, http.StatusUnauthorized, "refresh_token_expired", err.Error(), nil)
	case errors.Is(err, session.ErrRefreshTokenRevoked):
		writeErrorCode(w, r, http.StatusUnauthorized, "refresh_token_revoked", err.Error(), nil)
	case errors.Is(err, session.ErrInvalidRefreshToken):
		writeErrorCode(w, r, http.StatusUnauthorized, "invalid_refresh_token", err.Error(), nil)
	case errors.Is(err, user.ErrNotFound):
		writeErrorCode(w, r, http.StatusNotFound, "user_not_found", err.Error(), nil)
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
