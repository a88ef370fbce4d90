package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"clinicore.org/internal/authz"
	"clinicore.org/internal/user"
)

type roleChangeRequest struct {
	UserID string `json:"user_id"`
}

type grantRequest struct {
	AdminUserID string `json:"admin_user_id"`
	Permission  string `json:"permission"`
}

type createOrgRequest struct {
	Name string `json:"name"`
}

type membershipRequest struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
}

type checkResponse struct {
	Allowed bool   `json:"allowed"`
	Tier    string `json:"tier"`
}

type membershipResponse struct {
	UserID         string     `json:"user_id"`
	OrganizationID string     `json:"organization_id"`
	Role           string     `json:"role"`
	JoinedAt       time.Time  `json:"joined_at"`
	LeftAt         *time.Time `json:"left_at,omitempty"`
	IsActive       bool       `json:"is_active"`
}

func toMembershipResponse(m authz.OrganizationMembership) membershipResponse {
	resp := membershipResponse{
		UserID:         m.UserID,
		OrganizationID: m.OrganizationID,
		Role:           string(m.Role),
		JoinedAt:       m.JoinedAt,
		IsActive:       m.IsActive,
	}
	if !m.LeftAt.IsZero() {
		left := m.LeftAt
		resp.LeftAt = &left
	}
	return resp
}

// handleAuthzCheck resolves one permission for the caller.
func (a *API) handleAuthzCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	perm := strings.TrimSpace(r.URL.Query().Get("permission"))
	if perm == "" {
		writeError(w, r, http.StatusBadRequest, "permission query parameter is required")
		return
	}
	orgID := strings.TrimSpace(r.URL.Query().Get("organization_id"))

	d, err := a.engine.Decide(r.Context(), principal.ID, authz.Permission(perm), orgID)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{Allowed: d.Allowed, Tier: string(d.Tier)})
}

func (a *API) handlePromote(w http.ResponseWriter, r *http.Request) {
	a.changeRole(w, r, a.admin.PromoteToAdmin)
}

func (a *API) handleDemote(w http.ResponseWriter, r *http.Request) {
	a.changeRole(w, r, a.admin.DemoteToUser)
}

func (a *API) changeRole(w http.ResponseWriter, r *http.Request, change func(ctx context.Context, executorID, targetID string) (user.User, error)) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req roleChangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, r, http.StatusBadRequest, "user_id is required")
		return
	}

	updated, err := change(r.Context(), principal.ID, req.UserID)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     updated.ID,
		"system_role": string(updated.SystemRole),
	})
}

func (a *API) handleGrants(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		adminID := strings.TrimSpace(r.URL.Query().Get("admin_user_id"))
		if adminID == "" {
			writeError(w, r, http.StatusBadRequest, "admin_user_id query parameter is required")
			return
		}
		grants, err := a.admin.ListGrants(r.Context(), principal.ID, adminID)
		if err != nil {
			handleAuthzError(w, r, err)
			return
		}
		out := make([]map[string]any, 0, len(grants))
		for _, g := range grants {
			out = append(out, map[string]any{
				"id":            g.ID,
				"admin_user_id": g.AdminUserID,
				"permission":    string(g.Permission),
				"granted_by":    g.GrantedBy,
				"granted_at":    g.GrantedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"grants": out})

	case http.MethodPost:
		var req grantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.AdminUserID) == "" || strings.TrimSpace(req.Permission) == "" {
			writeError(w, r, http.StatusBadRequest, "admin_user_id and permission are required")
			return
		}
		grant, err := a.admin.GrantPermission(r.Context(), principal.ID, req.AdminUserID, authz.Permission(req.Permission))
		if err != nil {
			handleAuthzError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"id":            grant.ID,
			"admin_user_id": grant.AdminUserID,
			"permission":    string(grant.Permission),
			"granted_by":    grant.GrantedBy,
			"granted_at":    grant.GrantedAt,
		})

	case http.MethodDelete:
		var req grantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.AdminUserID) == "" || strings.TrimSpace(req.Permission) == "" {
			writeError(w, r, http.StatusBadRequest, "admin_user_id and permission are required")
			return
		}
		if err := a.admin.RevokePermission(r.Context(), principal.ID, req.AdminUserID, authz.Permission(req.Permission)); err != nil {
			handleAuthzError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) handleOrganizations(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req createOrgRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}
	org, err := a.admin.CreateOrganization(r.Context(), principal.ID, req.Name)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/admin/organizations/"+org.ID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         org.ID,
		"name":       org.Name,
		"is_active":  org.IsActive,
		"created_at": org.CreatedAt,
	})
}

func (a *API) handleMemberships(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		orgID := strings.TrimSpace(r.URL.Query().Get("organization_id"))
		if orgID == "" {
			writeError(w, r, http.StatusBadRequest, "organization_id query parameter is required")
			return
		}
		filter, err := membershipFilterFromQuery(r.URL.Query().Get("state"))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		records, err := a.admin.ListMemberships(r.Context(), principal.ID, orgID, filter)
		if err != nil {
			handleAuthzError(w, r, err)
			return
		}
		out := make([]membershipResponse, 0, len(records))
		for _, m := range records {
			out = append(out, toMembershipResponse(m))
		}
		writeJSON(w, http.StatusOK, map[string]any{"memberships": out})

	case http.MethodPost:
		var req membershipRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.OrganizationID) == "" {
			writeError(w, r, http.StatusBadRequest, "user_id and organization_id are required")
			return
		}
		m, err := a.admin.AssignMembership(r.Context(), principal.ID, req.UserID, req.OrganizationID, authz.OrgRole(req.Role))
		if err != nil {
			handleAuthzError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toMembershipResponse(m))

	case http.MethodDelete:
		var req membershipRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.OrganizationID) == "" {
			writeError(w, r, http.StatusBadRequest, "user_id and organization_id are required")
			return
		}
		if err := a.admin.RemoveMembership(r.Context(), principal.ID, req.UserID, req.OrganizationID); err != nil {
			handleAuthzError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func membershipFilterFromQuery(state string) (authz.MembershipFilter, error) {
	switch strings.TrimSpace(state) {
	case "", "all":
		return authz.MembershipAll, nil
	case "active":
		return authz.MembershipActiveOnly, nil
	case "inactive":
		return authz.MembershipInactiveOnly, nil
	default:
		return authz.MembershipAll, errors.New("state must be one of all, active, inactive")
	}
}

func handleAuthzError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, authz.ErrCannotModifySuperAdmin):
		writeErrorCode(w, r, http.StatusForbidden, "cannot_modify_super_admin", err.Error(), nil)
	case errors.Is(err, authz.ErrInsufficientPermissions):
		writeErrorCode(w, r, http.StatusForbidden, "insufficient_permissions", err.Error(), nil)
	case errors.Is(err, authz.ErrInvalidRole):
		writeErrorCode(w, r, http.StatusBadRequest, "invalid_role", err.Error(), nil)
	case errors.Is(err, authz.ErrMembershipExists):
		writeErrorCode(w, r, http.StatusConflict, "membership_exists", err.Error(), nil)
	case errors.Is(err, authz.ErrOrganizationExists):
		writeErrorCode(w, r, http.StatusConflict, "organization_exists", err.Error(), nil)
	case errors.Is(err, user.ErrNotFound):
		writeErrorCode(w, r, http.StatusNotFound, "user_not_found", err.Error(), nil)
	case errors.Is(err, authz.ErrNotFound):
		writeErrorCode(w, r, http.StatusNotFound, "not_found", err.Error(), nil)
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
