package rbac

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/voicockpit/cockpit/internal/auth"
)

func strPtr(s string) *string { return &s }

// Catalog is the immutable permission catalog installed by Seed.
var Catalog = []Permission{
	{Name: "Access admin panel", Resource: "admin", Action: "access", Description: strPtr("Open the admin panel")},
	{Name: "Manage users", Resource: "admin", Action: "manage_users", Description: strPtr("Create, edit and delete users")},
	{Name: "Manage roles", Resource: "admin", Action: "manage_roles", Description: strPtr("Edit roles and their permissions")},
	{Name: "Create tasks", Resource: "tasks", Action: "create"},
	{Name: "Read tasks", Resource: "tasks", Action: "read"},
	{Name: "Update tasks", Resource: "tasks", Action: "update"},
	{Name: "Delete tasks", Resource: "tasks", Action: "delete"},
	{Name: "Run alert checks", Resource: "alerts", Action: "check"},
	{Name: "Export reports", Resource: "reports", Action: "export"},
}

// SystemRole describes a seeded role named after a primary role value.
type SystemRole struct {
	Role        auth.Role
	Description string
	Permissions []string // resource:action keys
}

// SystemRoles are the roles that mirror the primary role enum.
var SystemRoles = []SystemRole{
	{
		Role:        auth.RoleAdmin,
		Description: "Full access",
		Permissions: []string{
			"admin:access", "admin:manage_users", "admin:manage_roles",
			"tasks:create", "tasks:read", "tasks:update", "tasks:delete",
			"alerts:check", "reports:export",
		},
	},
	{
		Role:        auth.RoleManager,
		Description: "Manages tasks and reporting",
		Permissions: []string{"tasks:create", "tasks:read", "tasks:update", "tasks:delete", "alerts:check", "reports:export"},
	},
	{
		Role:        auth.RoleUser,
		Description: "Works on own tasks",
		Permissions: []string{"tasks:create", "tasks:read", "tasks:update"},
	},
	{
		Role:        auth.RoleViewer,
		Description: "Read-only access",
		Permissions: []string{"tasks:read"},
	},
}

// Seeder is the subset of Store used by Seed.
type Seeder interface {
	EnsurePermission(ctx context.Context, p Permission) (string, error)
	EnsureSystemRole(ctx context.Context, name, description string) (id string, created bool, err error)
	SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error
}

// Seed installs the permission catalog and the system roles. It is safe to
// run repeatedly; permission bundles are only written when a role is first
// created.
func Seed(ctx context.Context, s Seeder) error {
	ids := make(map[string]string, len(Catalog))
	for _, p := range Catalog {
		id, err := s.EnsurePermission(ctx, p)
		if err != nil {
			return err
		}
		ids[p.Key()] = id
	}

	for _, sr := range SystemRoles {
		roleID, created, err := s.EnsureSystemRole(ctx, string(sr.Role), sr.Description)
		if err != nil {
			return err
		}
		if !created {
			continue
		}
		permIDs := make([]string, 0, len(sr.Permissions))
		for _, key := range sr.Permissions {
			id, ok := ids[key]
			if !ok {
				return fmt.Errorf("role %s references unknown permission %s", sr.Role, key)
			}
			permIDs = append(permIDs, id)
		}
		if err := s.SetRolePermissions(ctx, roleID, permIDs); err != nil {
			return fmt.Errorf("seeding permissions for %s: %w", sr.Role, err)
		}
		slog.Info("seeded system role", "role", sr.Role, "permissions", len(permIDs))
	}
	return nil
}
