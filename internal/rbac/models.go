package rbac

import "time"

// Role is a named, assignable bundle of permissions. System roles are
// seeded at setup and cannot be renamed, deleted or have their permissions
// edited.
type Role struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description *string       `json:"description"`
	IsSystem    bool          `json:"is_system"`
	Permissions []*Permission `json:"permissions"`
	UserCount   int           `json:"user_count"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Permission is an atomic capability identified by (resource, action).
type Permission struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Resource    string  `json:"resource"`
	Action      string  `json:"action"`
	Description *string `json:"description"`
}

// Key returns the "resource:action" form of the permission.
func (p *Permission) Key() string {
	return p.Resource + ":" + p.Action
}

// CreateRoleInput holds the fields accepted when creating a role.
type CreateRoleInput struct {
	Name          string   `json:"name"`
	Description   *string  `json:"description,omitempty"`
	PermissionIDs []string `json:"permission_ids,omitempty"`
}

// UpdateRoleInput holds optional fields for a partial role update.
type UpdateRoleInput struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}
