package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/voicockpit/cockpit/internal/apperr"
	"github.com/voicockpit/cockpit/internal/auth"
)

// Errors returned by the Service layer. Each wraps an apperr kind.
var (
	ErrNameRequired      = fmt.Errorf("%w: role name is required", apperr.ErrValidation)
	ErrNameTaken         = fmt.Errorf("%w: role name already exists", apperr.ErrConflict)
	ErrSystemRole        = fmt.Errorf("%w: system roles cannot be modified", apperr.ErrUnauthorized)
	ErrUnknownPermission = fmt.Errorf("%w: unknown permission id", apperr.ErrValidation)
	ErrInvalidRole       = fmt.Errorf("%w: role must be one of ADMIN, MANAGER, USER, VIEWER", apperr.ErrValidation)
	ErrRoleNotSeeded     = fmt.Errorf("%w: no role record matches the requested role", apperr.ErrValidation)
)

// Repository is the persistence contract of the Service.
type Repository interface {
	ListRoles(ctx context.Context) ([]*Role, error)
	GetRole(ctx context.Context, id string) (*Role, error)
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	CreateRole(ctx context.Context, in CreateRoleInput) (*Role, error)
	UpdateRole(ctx context.Context, id string, in UpdateRoleInput) (*Role, error)
	DeleteRole(ctx context.Context, id string) error
	SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error
	ListPermissions(ctx context.Context) ([]*Permission, error)
	AssignRole(ctx context.Context, userID, roleID string, role auth.Role, assignedBy string) error
	AssignmentsForUser(ctx context.Context, userID string) ([]auth.Assignment, error)
}

// Service provides validated role and permission management.
type Service struct {
	repo Repository
}

// NewService creates a new Service over the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ListRoles returns every role with its permissions.
func (s *Service) ListRoles(ctx context.Context) ([]*Role, error) {
	return s.repo.ListRoles(ctx)
}

// ListPermissions returns the permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]*Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// AssignmentsForUser returns the user's assignments with their permissions.
func (s *Service) AssignmentsForUser(ctx context.Context, userID string) ([]auth.Assignment, error) {
	return s.repo.AssignmentsForUser(ctx, userID)
}

// CreateRole validates and inserts a new role. Names are unique with an
// exact, case-sensitive match.
func (s *Service) CreateRole(ctx context.Context, in CreateRoleInput) (*Role, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, ErrNameRequired
	}
	if err := s.nameAvailable(ctx, in.Name, ""); err != nil {
		return nil, err
	}
	if err := s.checkPermissions(ctx, in.PermissionIDs); err != nil {
		return nil, err
	}
	r, err := s.repo.CreateRole(ctx, in)
	if errors.Is(err, apperr.ErrConflict) {
		return nil, ErrNameTaken
	}
	return r, err
}

// UpdateRole renames or re-describes a non-system role.
func (s *Service) UpdateRole(ctx context.Context, id string, in UpdateRoleInput) (*Role, error) {
	if _, err := s.mutableRole(ctx, id); err != nil {
		return nil, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, ErrNameRequired
		}
		if err := s.nameAvailable(ctx, name, id); err != nil {
			return nil, err
		}
		in.Name = &name
	}
	r, err := s.repo.UpdateRole(ctx, id, in)
	if errors.Is(err, apperr.ErrConflict) {
		return nil, ErrNameTaken
	}
	return r, err
}

// DeleteRole removes a non-system role.
func (s *Service) DeleteRole(ctx context.Context, id string) error {
	if _, err := s.mutableRole(ctx, id); err != nil {
		return err
	}
	return s.repo.DeleteRole(ctx, id)
}

// SetRolePermissions replaces the permissions of a non-system role.
func (s *Service) SetRolePermissions(ctx context.Context, id string, permissionIDs []string) (*Role, error) {
	if _, err := s.mutableRole(ctx, id); err != nil {
		return nil, err
	}
	if err := s.checkPermissions(ctx, permissionIDs); err != nil {
		return nil, err
	}
	if err := s.repo.SetRolePermissions(ctx, id, permissionIDs); err != nil {
		return nil, err
	}
	return s.repo.GetRole(ctx, id)
}

// AssignRole changes a user's primary role and, in the same step, replaces
// their assignments with the role record of the same name. The change is
// rejected when no such record exists so the enum and the assignment table
// never drift apart.
func (s *Service) AssignRole(ctx context.Context, userID string, role auth.Role, assignedBy string) error {
	if !role.Valid() {
		return ErrInvalidRole
	}
	r, err := s.repo.GetRoleByName(ctx, string(role))
	if errors.Is(err, apperr.ErrNotFound) {
		return ErrRoleNotSeeded
	}
	if err != nil {
		return err
	}
	return s.repo.AssignRole(ctx, userID, r.ID, role, assignedBy)
}

func (s *Service) mutableRole(ctx context.Context, id string) (*Role, error) {
	r, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.IsSystem {
		return nil, ErrSystemRole
	}
	return r, nil
}

// nameAvailable fails with ErrNameTaken when another role (not exceptID)
// already uses name.
func (s *Service) nameAvailable(ctx context.Context, name, exceptID string) error {
	existing, err := s.repo.GetRoleByName(ctx, name)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID != exceptID:
		return ErrNameTaken
	}
	return nil
}

func (s *Service) checkPermissions(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	catalog, err := s.repo.ListPermissions(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(catalog))
	for _, p := range catalog {
		known[p.ID] = true
	}
	for _, id := range ids {
		if !known[id] {
			return fmt.Errorf("%w: %s", ErrUnknownPermission, id)
		}
	}
	return nil
}
