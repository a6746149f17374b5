package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/voicockpit/cockpit/internal/account"
	"github.com/voicockpit/cockpit/internal/auth"
	"github.com/voicockpit/cockpit/internal/user"
)

// userAdmin is the part of *account.Guard the admin user handlers use.
type userAdmin interface {
	CreateUser(ctx context.Context, actorID string, in account.CreateUserInput) (*user.User, error)
	UpdateUser(ctx context.Context, actorID, id string, in account.UpdateUserInput) (*user.User, error)
	ChangeRole(ctx context.Context, actorID, id string, role auth.Role) (*user.User, error)
	SetStatus(ctx context.Context, actorID, id string, active bool) (*user.User, error)
	DeleteUser(ctx context.Context, actorID, id string) error
}

// userLister lists accounts. *user.Store and *user.MemoryStore satisfy it.
type userLister interface {
	List(ctx context.Context) ([]*user.User, error)
}

// usersHandler groups user management HTTP handlers (admin only).
type usersHandler struct {
	accounts userAdmin
	users    userLister
}

func newUsersHandler(accounts userAdmin, users userLister) *usersHandler {
	return &usersHandler{accounts: accounts, users: users}
}

func actorID(r *http.Request) string {
	if p := auth.PrincipalFromContext(r.Context()); p != nil {
		return p.ID
	}
	return ""
}

// ListUsers handles GET /api/v1/admin/users.
func (h *usersHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		writeDomainError(w, r, err, "user not found")
		return
	}
	if users == nil {
		users = []*user.User{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

// CreateUser handles POST /api/v1/admin/users.
func (h *usersHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req account.CreateUserInput
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	u, err := h.accounts.CreateUser(r.Context(), actorID(r), req)
	if err != nil {
		writeDomainError(w, r, err, "user not found")
		return
	}

	auditLog(r, "create", "user", u.ID, "email", u.Email, "role", u.Role)
	writeJSON(w, http.StatusCreated, u)
}

// UpdateUser handles PUT /api/v1/admin/users/{id}.
func (h *usersHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req account.UpdateUserInput
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	u, err := h.accounts.UpdateUser(r.Context(), actorID(r), id, req)
	if err != nil {
		writeDomainError(w, r, err, "user not found")
		return
	}

	auditLog(r, "update", "user", id)
	writeJSON(w, http.StatusOK, u)
}

// ChangeRole handles PUT /api/v1/admin/users/{id}/role.
func (h *usersHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Role auth.Role `json:"role"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	u, err := h.accounts.ChangeRole(r.Context(), actorID(r), id, req.Role)
	if err != nil {
		writeDomainError(w, r, err, "user not found")
		return
	}

	auditLog(r, "change_role", "user", id, "role", req.Role)
	writeJSON(w, http.StatusOK, u)
}

// SetStatus handles PUT /api/v1/admin/users/{id}/status.
func (h *usersHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.IsActive == nil {
		writeError(w, http.StatusBadRequest, "validation_error", "is_active is required")
		return
	}

	u, err := h.accounts.SetStatus(r.Context(), actorID(r), id, *req.IsActive)
	if err != nil {
		writeDomainError(w, r, err, "user not found")
		return
	}

	auditLog(r, "set_status", "user", id, "is_active", *req.IsActive)
	writeJSON(w, http.StatusOK, u)
}

// DeleteUser handles DELETE /api/v1/admin/users/{id}.
func (h *usersHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.accounts.DeleteUser(r.Context(), actorID(r), id); err != nil {
		writeDomainError(w, r, err, "user not found")
		return
	}

	auditLog(r, "delete", "user", id)
	w.WriteHeader(http.StatusNoContent)
}
