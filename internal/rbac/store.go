package rbac

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voicockpit/cockpit/internal/apperr"
	"github.com/voicockpit/cockpit/internal/auth"
)

const roleColumns = `r.id, r.name, r.description, r.is_system, r.created_at, r.updated_at,
	(SELECT count(*) FROM user_role_assignments a WHERE a.role_id = r.id)`

// Store provides database operations for roles, permissions and user role
// assignments.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new rbac store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// scanRole scans a row selected with roleColumns.
func scanRole(scan func(dest ...any) error) (*Role, error) {
	r := &Role{}
	if err := scan(&r.ID, &r.Name, &r.Description, &r.IsSystem, &r.CreatedAt, &r.UpdatedAt, &r.UserCount); err != nil {
		return nil, err
	}
	return r, nil
}

// ListRoles returns every role with its permissions, ordered by name.
func (s *Store) ListRoles(ctx context.Context) ([]*Role, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles r ORDER BY r.name`)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()

	var roles []*Role
	byID := map[string]*Role{}
	for rows.Next() {
		r, err := scanRole(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning role row: %w", err)
		}
		r.Permissions = []*Permission{}
		roles = append(roles, r)
		byID[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	permRows, err := s.pool.Query(ctx,
		`SELECT rp.role_id, p.id, p.name, p.resource, p.action, p.description
		 FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id
		 ORDER BY p.resource, p.action`)
	if err != nil {
		return nil, fmt.Errorf("listing role permissions: %w", err)
	}
	defer permRows.Close()

	for permRows.Next() {
		var roleID string
		p := &Permission{}
		if err := permRows.Scan(&roleID, &p.ID, &p.Name, &p.Resource, &p.Action, &p.Description); err != nil {
			return nil, fmt.Errorf("scanning role permission row: %w", err)
		}
		if r, ok := byID[roleID]; ok {
			r.Permissions = append(r.Permissions, p)
		}
	}
	return roles, permRows.Err()
}

// GetRole retrieves a role and its permissions by id.
func (s *Store) GetRole(ctx context.Context, id string) (*Role, error) {
	if err := apperr.CheckID("getting role", id); err != nil {
		return nil, err
	}
	return s.getRole(ctx, "r.id", id)
}

// GetRoleByName retrieves a role by its exact, case-sensitive name.
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	return s.getRole(ctx, "r.name", name)
}

func (s *Store) getRole(ctx context.Context, column, value string) (*Role, error) {
	r, err := scanRole(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+roleColumns+` FROM roles r WHERE `+column+` = $1`, value,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("getting role: %w", apperr.FromDB(err))
	}
	perms, err := s.rolePermissions(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	r.Permissions = perms
	return r, nil
}

func (s *Store) rolePermissions(ctx context.Context, roleID string) ([]*Permission, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.name, p.resource, p.action, p.description
		 FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id
		 WHERE rp.role_id = $1
		 ORDER BY p.resource, p.action`, roleID)
	if err != nil {
		return nil, fmt.Errorf("listing permissions for role: %w", err)
	}
	defer rows.Close()

	perms := []*Permission{}
	for rows.Next() {
		p := &Permission{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description); err != nil {
			return nil, fmt.Errorf("scanning permission row: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// CreateRole inserts a non-system role together with its permission links.
func (s *Store) CreateRole(ctx context.Context, in CreateRoleInput) (*Role, error) {
	id := uuid.NewString()
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO roles (id, name, description, is_system) VALUES ($1, $2, $3, FALSE)`,
			id, in.Name, in.Description,
		); err != nil {
			return apperr.FromDB(err)
		}
		return replacePermissions(ctx, tx, id, in.PermissionIDs)
	})
	if err != nil {
		return nil, fmt.Errorf("creating role: %w", err)
	}
	return s.GetRole(ctx, id)
}

// UpdateRole applies a partial update to a role.
func (s *Store) UpdateRole(ctx context.Context, id string, in UpdateRoleInput) (*Role, error) {
	if err := apperr.CheckID("updating role", id); err != nil {
		return nil, err
	}
	var setClauses []string
	var args []any
	argIdx := 1

	if in.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argIdx))
		args = append(args, *in.Name)
		argIdx++
	}
	if in.Description != nil {
		setClauses = append(setClauses, fmt.Sprintf("description = $%d", argIdx))
		args = append(args, *in.Description)
		argIdx++
	}
	if len(setClauses) == 0 {
		return s.GetRole(ctx, id)
	}

	setClauses = append(setClauses, "updated_at = now()")
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE roles SET %s WHERE id = $%d`, strings.Join(setClauses, ", "), argIdx)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("updating role: %w", apperr.FromDB(err))
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("updating role: %w", apperr.ErrNotFound)
	}
	return s.GetRole(ctx, id)
}

// DeleteRole removes a role. Its permission links and assignments go with it.
func (s *Store) DeleteRole(ctx context.Context, id string) error {
	if err := apperr.CheckID("deleting role", id); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deleting role: %w", apperr.ErrNotFound)
	}
	return nil
}

// SetRolePermissions replaces the permission set of a role.
func (s *Store) SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	if err := apperr.CheckID("setting role permissions", roleID); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE roles SET updated_at = now() WHERE id = $1`, roleID); err != nil {
			return fmt.Errorf("touching role: %w", err)
		}
		return replacePermissions(ctx, tx, roleID, permissionIDs)
	})
}

func replacePermissions(ctx context.Context, tx pgx.Tx, roleID string, permissionIDs []string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("clearing role permissions: %w", err)
	}
	for _, pid := range permissionIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			roleID, pid,
		); err != nil {
			return fmt.Errorf("linking permission %s: %w", pid, err)
		}
	}
	return nil
}

// ListPermissions returns the permission catalog ordered by resource, action.
func (s *Store) ListPermissions(ctx context.Context) ([]*Permission, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, resource, action, description FROM permissions ORDER BY resource, action`)
	if err != nil {
		return nil, fmt.Errorf("listing permissions: %w", err)
	}
	defer rows.Close()

	var perms []*Permission
	for rows.Next() {
		p := &Permission{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description); err != nil {
			return nil, fmt.Errorf("scanning permission row: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// AssignRole sets the user's primary role and replaces their assignment rows
// with a single assignment to roleID, all in one transaction.
func (s *Store) AssignRole(ctx context.Context, userID, roleID string, role auth.Role, assignedBy string) error {
	if err := apperr.CheckID("assigning role", userID); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE users SET role = $2, updated_at = now() WHERE id = $1`, userID, string(role))
		if err != nil {
			return fmt.Errorf("updating user role: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("updating user role: %w", apperr.ErrNotFound)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM user_role_assignments WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("clearing assignments: %w", err)
		}
		var by *string
		if assignedBy != "" {
			by = &assignedBy
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_role_assignments (id, user_id, role_id, assigned_by) VALUES ($1, $2, $3, $4)`,
			uuid.NewString(), userID, roleID, by,
		); err != nil {
			return fmt.Errorf("inserting assignment: %w", err)
		}
		return nil
	})
}

// AssignmentsForUser returns every role assigned to the user flattened with
// its permissions. It satisfies user.AssignmentSource.
func (s *Store) AssignmentsForUser(ctx context.Context, userID string) ([]auth.Assignment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.id, r.name, p.resource, p.action
		 FROM user_role_assignments a
		 JOIN roles r ON r.id = a.role_id
		 LEFT JOIN role_permissions rp ON rp.role_id = r.id
		 LEFT JOIN permissions p ON p.id = rp.permission_id
		 WHERE a.user_id = $1
		 ORDER BY a.assigned_at, r.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing assignments: %w", err)
	}
	defer rows.Close()

	var out []auth.Assignment
	index := map[string]int{}
	for rows.Next() {
		var roleID, roleName string
		var resource, action *string
		if err := rows.Scan(&roleID, &roleName, &resource, &action); err != nil {
			return nil, fmt.Errorf("scanning assignment row: %w", err)
		}
		i, ok := index[roleID]
		if !ok {
			out = append(out, auth.Assignment{RoleID: roleID, RoleName: roleName})
			i = len(out) - 1
			index[roleID] = i
		}
		if resource != nil && action != nil {
			out[i].Permissions = append(out[i].Permissions, auth.Permission{Resource: *resource, Action: *action})
		}
	}
	return out, rows.Err()
}

// EnsurePermission inserts a catalog permission if it does not exist yet and
// returns its id.
func (s *Store) EnsurePermission(ctx context.Context, p Permission) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO permissions (id, name, resource, action, description)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (resource, action) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`,
		uuid.NewString(), p.Name, p.Resource, p.Action, p.Description,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("ensuring permission %s: %w", p.Key(), err)
	}
	return id, nil
}

// EnsureSystemRole inserts a system role if missing, marks it as system and
// returns its id. Existing permission links are left alone.
func (s *Store) EnsureSystemRole(ctx context.Context, name, description string) (id string, created bool, err error) {
	err = s.pool.QueryRow(ctx,
		`INSERT INTO roles (id, name, description, is_system)
		 VALUES ($1, $2, $3, TRUE)
		 ON CONFLICT (name) DO UPDATE SET is_system = TRUE
		 RETURNING id, (xmax = 0)`,
		uuid.NewString(), name, description,
	).Scan(&id, &created)
	if err != nil {
		return "", false, fmt.Errorf("ensuring role %s: %w", name, err)
	}
	return id, created, nil
}
