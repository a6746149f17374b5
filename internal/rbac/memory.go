package rbac

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicockpit/cockpit/internal/apperr"
	"github.com/voicockpit/cockpit/internal/auth"
)

// MemoryStore implements Repository and Seeder in memory. Used by tests of
// packages that sit on top of the rbac service.
type MemoryStore struct {
	mu sync.RWMutex

	roles       map[string]*Role
	permissions map[string]*Permission
	rolePerms   map[string][]string // role id -> permission ids
	assignments map[string][]string // user id -> role ids
	userRoles   map[string]auth.Role
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roles:       make(map[string]*Role),
		permissions: make(map[string]*Permission),
		rolePerms:   make(map[string][]string),
		assignments: make(map[string][]string),
		userRoles:   make(map[string]auth.Role),
	}
}

func (m *MemoryStore) withPermissions(r *Role) *Role {
	out := *r
	out.Permissions = []*Permission{}
	for _, pid := range m.rolePerms[r.ID] {
		if p, ok := m.permissions[pid]; ok {
			out.Permissions = append(out.Permissions, p)
		}
	}
	out.UserCount = 0
	for _, ids := range m.assignments {
		for _, id := range ids {
			if id == r.ID {
				out.UserCount++
			}
		}
	}
	return &out
}

// ListRoles returns all roles ordered by name.
func (m *MemoryStore) ListRoles(_ context.Context) ([]*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, m.withPermissions(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetRole returns a role by id.
func (m *MemoryStore) GetRole(_ context.Context, id string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.roles[id]
	if !ok {
		return nil, fmt.Errorf("getting role: %w", apperr.ErrNotFound)
	}
	return m.withPermissions(r), nil
}

// GetRoleByName returns a role by exact name.
func (m *MemoryStore) GetRoleByName(_ context.Context, name string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.roles {
		if r.Name == name {
			return m.withPermissions(r), nil
		}
	}
	return nil, fmt.Errorf("getting role: %w", apperr.ErrNotFound)
}

// CreateRole inserts a non-system role.
func (m *MemoryStore) CreateRole(_ context.Context, in CreateRoleInput) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.roles {
		if r.Name == in.Name {
			return nil, fmt.Errorf("creating role: %w", apperr.ErrConflict)
		}
	}
	now := time.Now()
	r := &Role{ID: uuid.NewString(), Name: in.Name, Description: in.Description, CreatedAt: now, UpdatedAt: now}
	m.roles[r.ID] = r
	m.rolePerms[r.ID] = append([]string(nil), in.PermissionIDs...)
	return m.withPermissions(r), nil
}

// UpdateRole applies a partial update.
func (m *MemoryStore) UpdateRole(_ context.Context, id string, in UpdateRoleInput) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.roles[id]
	if !ok {
		return nil, fmt.Errorf("updating role: %w", apperr.ErrNotFound)
	}
	if in.Name != nil {
		for _, other := range m.roles {
			if other.ID != id && other.Name == *in.Name {
				return nil, fmt.Errorf("updating role: %w", apperr.ErrConflict)
			}
		}
		r.Name = *in.Name
	}
	if in.Description != nil {
		r.Description = in.Description
	}
	r.UpdatedAt = time.Now()
	return m.withPermissions(r), nil
}

// DeleteRole removes a role with its links and assignments.
func (m *MemoryStore) DeleteRole(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.roles[id]; !ok {
		return fmt.Errorf("deleting role: %w", apperr.ErrNotFound)
	}
	delete(m.roles, id)
	delete(m.rolePerms, id)
	for user, ids := range m.assignments {
		kept := ids[:0]
		for _, rid := range ids {
			if rid != id {
				kept = append(kept, rid)
			}
		}
		m.assignments[user] = kept
	}
	return nil
}

// SetRolePermissions replaces a role's permission set.
func (m *MemoryStore) SetRolePermissions(_ context.Context, roleID string, permissionIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.roles[roleID]; !ok {
		return fmt.Errorf("setting permissions: %w", apperr.ErrNotFound)
	}
	m.rolePerms[roleID] = append([]string(nil), permissionIDs...)
	return nil
}

// ListPermissions returns the catalog ordered by resource, action.
func (m *MemoryStore) ListPermissions(_ context.Context) ([]*Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Permission, 0, len(m.permissions))
	for _, p := range m.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// AssignRole records the primary role and replaces the user's assignments.
func (m *MemoryStore) AssignRole(_ context.Context, userID, roleID string, role auth.Role, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.userRoles[userID] = role
	m.assignments[userID] = []string{roleID}
	return nil
}

// UserRole returns the primary role last set through AssignRole.
func (m *MemoryStore) UserRole(userID string) auth.Role {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userRoles[userID]
}

// AssignmentsForUser flattens the user's assigned roles with their permissions.
func (m *MemoryStore) AssignmentsForUser(_ context.Context, userID string) ([]auth.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []auth.Assignment
	for _, rid := range m.assignments[userID] {
		r, ok := m.roles[rid]
		if !ok {
			continue
		}
		a := auth.Assignment{RoleID: r.ID, RoleName: r.Name}
		for _, pid := range m.rolePerms[rid] {
			if p, ok := m.permissions[pid]; ok {
				a.Permissions = append(a.Permissions, auth.Permission{Resource: p.Resource, Action: p.Action})
			}
		}
		out = append(out, a)
	}
	return out, nil
}

// EnsurePermission adds a catalog permission if missing.
func (m *MemoryStore) EnsurePermission(_ context.Context, p Permission) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.permissions {
		if existing.Resource == p.Resource && existing.Action == p.Action {
			return existing.ID, nil
		}
	}
	p.ID = uuid.NewString()
	m.permissions[p.ID] = &p
	return p.ID, nil
}

// EnsureSystemRole adds a system role if missing.
func (m *MemoryStore) EnsureSystemRole(_ context.Context, name, description string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.roles {
		if r.Name == name {
			r.IsSystem = true
			return r.ID, false, nil
		}
	}
	now := time.Now()
	r := &Role{ID: uuid.NewString(), Name: name, Description: &description, IsSystem: true, CreatedAt: now, UpdatedAt: now}
	m.roles[r.ID] = r
	return r.ID, true, nil
}
