package auth

import "context"

// Role is the primary role enum stored on every user.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleUser    Role = "USER"
	RoleViewer  Role = "VIEWER"
)

// Valid reports whether r is one of the known primary roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleUser, RoleViewer:
		return true
	}
	return false
}

// Permission is an atomic (resource, action) capability.
type Permission struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// Assignment is a role granted to a principal beyond the primary enum role,
// flattened with the permissions that role carries.
type Assignment struct {
	RoleID      string       `json:"role_id"`
	RoleName    string       `json:"role_name"`
	Permissions []Permission `json:"permissions"`
}

// Principal is the authenticated identity performing a request. It is
// resolved once per request from the session and never cached.
type Principal struct {
	ID          string
	Email       string
	Name        string
	Role        Role
	IsActive    bool
	Assignments []Assignment
}

// Authorize decides whether p may perform action on resource. Admins are
// allowed everything. Everyone else needs an exact (resource, action) match
// in any of their assignments; there are no deny rules.
func Authorize(p *Principal, resource, action string) bool {
	if p == nil {
		return false
	}
	if p.Role == RoleAdmin {
		return true
	}
	for _, a := range p.Assignments {
		for _, perm := range a.Permissions {
			if perm.Resource == resource && perm.Action == action {
				return true
			}
		}
	}
	return false
}

// HasAnyPermission returns true if p holds at least one of perms.
func HasAnyPermission(p *Principal, perms []Permission) bool {
	for _, perm := range perms {
		if Authorize(p, perm.Resource, perm.Action) {
			return true
		}
	}
	return false
}

// Can returns a check for one (resource, action) pair, for use with Require.
func Can(resource, action string) func(*Principal) bool {
	return func(p *Principal) bool {
		return Authorize(p, resource, action)
	}
}

// IsAdmin returns true if p has the ADMIN primary role.
func IsAdmin(p *Principal) bool {
	return p != nil && p.Role == RoleAdmin
}

// IsManager returns true for MANAGER and ADMIN principals.
func IsManager(p *Principal) bool {
	return p != nil && (p.Role == RoleManager || p.Role == RoleAdmin)
}

// CanManageUsers returns true if p may create, edit or delete users.
func CanManageUsers(p *Principal) bool {
	return Authorize(p, "admin", "manage_users") || IsAdmin(p)
}

// CanManageRoles returns true if p may edit roles and their permissions.
func CanManageRoles(p *Principal) bool {
	return Authorize(p, "admin", "manage_roles") || IsAdmin(p)
}

// CanAccessAdmin returns true if p may open the admin panel.
func CanAccessAdmin(p *Principal) bool {
	return Authorize(p, "admin", "access") || IsAdmin(p)
}

// SessionLookup is the interface for resolving session tokens to principals.
type SessionLookup interface {
	LookupSession(ctx context.Context, token string) (*Principal, error)
}
