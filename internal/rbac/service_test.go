package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicockpit/cockpit/internal/apperr"
	"github.com/voicockpit/cockpit/internal/auth"
)

func seededService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	require.NoError(t, Seed(context.Background(), store))
	return NewService(store), store
}

func permissionID(t *testing.T, store *MemoryStore, key string) string {
	t.Helper()
	perms, err := store.ListPermissions(context.Background())
	require.NoError(t, err)
	for _, p := range perms {
		if p.Key() == key {
			return p.ID
		}
	}
	t.Fatalf("permission %s not seeded", key)
	return ""
}

func TestSeed_InstallsCatalogAndSystemRoles(t *testing.T) {
	svc, _ := seededService(t)
	ctx := context.Background()

	perms, err := svc.ListPermissions(ctx)
	require.NoError(t, err)
	assert.Len(t, perms, len(Catalog))

	roles, err := svc.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, len(SystemRoles))
	for _, r := range roles {
		assert.True(t, r.IsSystem, "role %s should be a system role", r.Name)
		assert.NotEmpty(t, r.Permissions, "role %s should carry permissions", r.Name)
	}
}

func TestSeed_Idempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, Seed(ctx, store))
	require.NoError(t, Seed(ctx, store))

	roles, _ := store.ListRoles(ctx)
	perms, _ := store.ListPermissions(ctx)
	assert.Len(t, roles, len(SystemRoles))
	assert.Len(t, perms, len(Catalog))
}

func TestCreateRole_DuplicateNameConflicts(t *testing.T) {
	svc, store := seededService(t)
	ctx := context.Background()

	_, err := svc.CreateRole(ctx, CreateRoleInput{Name: "Manager"})
	require.NoError(t, err)
	before, _ := store.ListRoles(ctx)

	_, err = svc.CreateRole(ctx, CreateRoleInput{Name: "Manager"})
	require.ErrorIs(t, err, ErrNameTaken)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	after, _ := store.ListRoles(ctx)
	assert.Len(t, after, len(before), "no row should be inserted on conflict")
}

func TestCreateRole_NameMatchIsCaseSensitive(t *testing.T) {
	svc, _ := seededService(t)
	ctx := context.Background()

	_, err := svc.CreateRole(ctx, CreateRoleInput{Name: "Manager"})
	require.NoError(t, err)
	_, err = svc.CreateRole(ctx, CreateRoleInput{Name: "manager"})
	assert.NoError(t, err)
}

func TestCreateRole_Validation(t *testing.T) {
	svc, _ := seededService(t)
	ctx := context.Background()

	_, err := svc.CreateRole(ctx, CreateRoleInput{Name: "   "})
	assert.ErrorIs(t, err, ErrNameRequired)

	_, err = svc.CreateRole(ctx, CreateRoleInput{Name: "Auditor", PermissionIDs: []string{"nope"}})
	assert.ErrorIs(t, err, ErrUnknownPermission)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCreateRole_WithPermissions(t *testing.T) {
	svc, store := seededService(t)
	ctx := context.Background()

	r, err := svc.CreateRole(ctx, CreateRoleInput{
		Name:          "Auditor",
		PermissionIDs: []string{permissionID(t, store, "admin:access")},
	})
	require.NoError(t, err)
	require.Len(t, r.Permissions, 1)
	assert.Equal(t, "admin:access", r.Permissions[0].Key())
	assert.False(t, r.IsSystem)
}

func TestSystemRolesAreImmutable(t *testing.T) {
	svc, store := seededService(t)
	ctx := context.Background()

	admin, err := store.GetRoleByName(ctx, "ADMIN")
	require.NoError(t, err)
	newName := "Superuser"

	_, err = svc.UpdateRole(ctx, admin.ID, UpdateRoleInput{Name: &newName})
	assert.ErrorIs(t, err, ErrSystemRole)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	assert.ErrorIs(t, svc.DeleteRole(ctx, admin.ID), ErrSystemRole)

	_, err = svc.SetRolePermissions(ctx, admin.ID, nil)
	assert.ErrorIs(t, err, ErrSystemRole)

	after, err := store.GetRole(ctx, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, "ADMIN", after.Name)
	assert.Len(t, after.Permissions, len(SystemRoles[0].Permissions))
}

func TestUpdateRole(t *testing.T) {
	svc, _ := seededService(t)
	ctx := context.Background()

	a, err := svc.CreateRole(ctx, CreateRoleInput{Name: "Auditor"})
	require.NoError(t, err)
	_, err = svc.CreateRole(ctx, CreateRoleInput{Name: "Reviewer"})
	require.NoError(t, err)

	taken := "Reviewer"
	_, err = svc.UpdateRole(ctx, a.ID, UpdateRoleInput{Name: &taken})
	assert.ErrorIs(t, err, ErrNameTaken)

	same := "Auditor"
	desc := "Reads everything"
	r, err := svc.UpdateRole(ctx, a.ID, UpdateRoleInput{Name: &same, Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "Reads everything", *r.Description)

	_, err = svc.UpdateRole(ctx, "missing", UpdateRoleInput{Name: &same})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeleteAndSetPermissions(t *testing.T) {
	svc, store := seededService(t)
	ctx := context.Background()

	r, err := svc.CreateRole(ctx, CreateRoleInput{Name: "Auditor"})
	require.NoError(t, err)

	updated, err := svc.SetRolePermissions(ctx, r.ID, []string{
		permissionID(t, store, "tasks:read"),
		permissionID(t, store, "reports:export"),
	})
	require.NoError(t, err)
	assert.Len(t, updated.Permissions, 2)

	require.NoError(t, svc.DeleteRole(ctx, r.ID))
	assert.ErrorIs(t, svc.DeleteRole(ctx, r.ID), apperr.ErrNotFound)
}

func TestAssignRole_KeepsEnumAndAssignmentInLockstep(t *testing.T) {
	svc, store := seededService(t)
	ctx := context.Background()

	require.NoError(t, svc.AssignRole(ctx, "u1", auth.RoleManager, "admin-1"))
	assert.Equal(t, auth.RoleManager, store.UserRole("u1"))

	assignments, err := svc.AssignmentsForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, "MANAGER", assignments[0].RoleName)

	// Reassigning replaces rather than accumulates.
	require.NoError(t, svc.AssignRole(ctx, "u1", auth.RoleViewer, "admin-1"))
	assignments, err = svc.AssignmentsForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, "VIEWER", assignments[0].RoleName)

	p := &auth.Principal{ID: "u1", Role: auth.RoleViewer, Assignments: assignments}
	assert.True(t, auth.Authorize(p, "tasks", "read"))
	assert.False(t, auth.Authorize(p, "tasks", "delete"))
}

func TestAssignRole_Rejections(t *testing.T) {
	ctx := context.Background()

	svc, _ := seededService(t)
	assert.ErrorIs(t, svc.AssignRole(ctx, "u1", auth.Role("OWNER"), ""), ErrInvalidRole)

	// Without seeded role records the update is rejected and nothing changes.
	bare := NewMemoryStore()
	err := NewService(bare).AssignRole(ctx, "u1", auth.RoleManager, "")
	assert.ErrorIs(t, err, ErrRoleNotSeeded)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	assert.Equal(t, auth.Role(""), bare.UserRole("u1"))
}
