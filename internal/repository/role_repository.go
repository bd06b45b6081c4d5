package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/filevault-api/internal/models"
)

// RoleRepository persists roles and user role assignments.
type RoleRepository struct {
	db *sqlx.DB
}

// NewRoleRepository constructs the repository.
func NewRoleRepository(db *sqlx.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// List returns all roles ordered by name.
func (r *RoleRepository) List(ctx context.Context) ([]models.Role, error) {
	const query = `SELECT id, name, description, created_at, updated_at FROM roles ORDER BY name ASC`
	var roles []models.Role
	if err := r.db.SelectContext(ctx, &roles, query); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

// FindByID returns one role.
func (r *RoleRepository) FindByID(ctx context.Context, id int64) (*models.Role, error) {
	const query = `SELECT id, name, description, created_at, updated_at FROM roles WHERE id = $1`
	var role models.Role
	if err := r.db.GetContext(ctx, &role, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find role: %w", err)
	}
	return &role, nil
}

// FindByIDs returns the roles among ids that exist.
func (r *RoleRepository) FindByIDs(ctx context.Context, ids []int64) ([]models.Role, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT id, name, description, created_at, updated_at FROM roles WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build role lookup: %w", err)
	}
	var roles []models.Role
	if err := r.db.SelectContext(ctx, &roles, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("find roles: %w", err)
	}
	return roles, nil
}

// ExistsByName reports whether another role already uses name.
func (r *RoleRepository) ExistsByName(ctx context.Context, name models.RoleName, excludeID int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM roles WHERE LOWER(name) = LOWER($1) AND id <> $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, name, excludeID); err != nil {
		return false, fmt.Errorf("check role name: %w", err)
	}
	return exists, nil
}

// Create inserts a role.
func (r *RoleRepository) Create(ctx context.Context, role *models.Role) error {
	now := time.Now().UTC()
	role.CreatedAt, role.UpdatedAt = now, now
	const query = `INSERT INTO roles (name, description, created_at, updated_at) VALUES ($1, $2, $3, $4) RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query, role.Name, role.Description, now, now).Scan(&role.ID); err != nil {
		return fmt.Errorf("create role: %w", err)
	}
	return nil
}

// Update modifies a role.
func (r *RoleRepository) Update(ctx context.Context, role *models.Role) error {
	role.UpdatedAt = time.Now().UTC()
	const query = `UPDATE roles SET name = $2, description = $3, updated_at = $4 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, role.ID, role.Name, role.Description, role.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	return expectAffected(res, "update role")
}

// Delete removes a role. Grants and assignments cascade.
func (r *RoleRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	return expectAffected(res, "delete role")
}

// ListNamesByUser returns the names of roles assigned to a user.
func (r *RoleRepository) ListNamesByUser(ctx context.Context, userID int64) ([]models.RoleName, error) {
	const query = `SELECT r.name FROM user_roles ur JOIN roles r ON r.id = ur.role_id WHERE ur.user_id = $1 ORDER BY r.name ASC`
	var names []models.RoleName
	if err := r.db.SelectContext(ctx, &names, query, userID); err != nil {
		return nil, fmt.Errorf("list user roles: %w", err)
	}
	return names, nil
}

// ListAssignments returns a user's role assignments.
func (r *RoleRepository) ListAssignments(ctx context.Context, userID int64) ([]models.UserRoleAssignment, error) {
	const query = `SELECT ur.user_id, ur.role_id, r.name AS role_name, ur.assigned_at, ur.assigned_by
	FROM user_roles ur JOIN roles r ON r.id = ur.role_id WHERE ur.user_id = $1 ORDER BY r.name ASC`
	var assignments []models.UserRoleAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, userID); err != nil {
		return nil, fmt.Errorf("list role assignments: %w", err)
	}
	return assignments, nil
}

// Assign grants a role to a user. Re-assigning is a no-op.
func (r *RoleRepository) Assign(ctx context.Context, userID, roleID int64, assignedBy *int64) error {
	const query = `INSERT INTO user_roles (user_id, role_id, assigned_at, assigned_by) VALUES ($1, $2, $3, $4)
	ON CONFLICT (user_id, role_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, userID, roleID, time.Now().UTC(), assignedBy); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

// Unassign removes a role from a user.
func (r *RoleRepository) Unassign(ctx context.Context, userID, roleID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return fmt.Errorf("unassign role: %w", err)
	}
	return expectAffected(res, "unassign role")
}

func expectAffected(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
