package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/voicockpit/cockpit/internal/rbac"
)

// rolesHandler groups role and permission HTTP handlers.
type rolesHandler struct {
	svc *rbac.Service
}

func newRolesHandler(svc *rbac.Service) *rolesHandler {
	return &rolesHandler{svc: svc}
}

// ListRoles handles GET /api/v1/admin/roles.
func (h *rolesHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.svc.ListRoles(r.Context())
	if err != nil {
		writeDomainError(w, r, err, "role not found")
		return
	}
	if roles == nil {
		roles = []*rbac.Role{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"roles": roles})
}

// CreateRole handles POST /api/v1/admin/roles.
func (h *rolesHandler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req rbac.CreateRoleInput
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	role, err := h.svc.CreateRole(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err, "role not found")
		return
	}

	auditLog(r, "create", "role", role.ID, "name", role.Name)
	writeJSON(w, http.StatusCreated, role)
}

// UpdateRole handles PUT /api/v1/admin/roles/{id}.
func (h *rolesHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req rbac.UpdateRoleInput
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	role, err := h.svc.UpdateRole(r.Context(), id, req)
	if err != nil {
		writeDomainError(w, r, err, "role not found")
		return
	}

	auditLog(r, "update", "role", id)
	writeJSON(w, http.StatusOK, role)
}

// DeleteRole handles DELETE /api/v1/admin/roles/{id}.
func (h *rolesHandler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.svc.DeleteRole(r.Context(), id); err != nil {
		writeDomainError(w, r, err, "role not found")
		return
	}

	auditLog(r, "delete", "role", id)
	w.WriteHeader(http.StatusNoContent)
}

// SetPermissions handles PUT /api/v1/admin/roles/{id}/permissions.
func (h *rolesHandler) SetPermissions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		PermissionIDs []string `json:"permission_ids"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	role, err := h.svc.SetRolePermissions(r.Context(), id, req.PermissionIDs)
	if err != nil {
		writeDomainError(w, r, err, "role not found")
		return
	}

	auditLog(r, "set_permissions", "role", id, "count", len(req.PermissionIDs))
	writeJSON(w, http.StatusOK, role)
}

// ListPermissions handles GET /api/v1/admin/permissions.
func (h *rolesHandler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.svc.ListPermissions(r.Context())
	if err != nil {
		writeDomainError(w, r, err, "permission not found")
		return
	}
	if perms == nil {
		perms = []*rbac.Permission{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"permissions": perms})
}
