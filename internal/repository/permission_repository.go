package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/filevault-api/internal/models"
)

const permissionColumns = `fp.id, fp.file_id, fp.role_id, r.name AS role_name, fp.can_view, fp.can_edit, fp.can_upload,
       fp.can_download, fp.can_delete, fp.start_date, fp.end_date, fp.updated_at`

// PermissionRepository persists per file role grants.
type PermissionRepository struct {
	db *sqlx.DB
}

// NewPermissionRepository constructs the repository.
func NewPermissionRepository(db *sqlx.DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

// ListByFile returns every grant on a file.
func (r *PermissionRepository) ListByFile(ctx context.Context, fileID int64) ([]models.FilePermission, error) {
	query := `SELECT ` + permissionColumns + ` FROM file_permissions fp JOIN roles r ON r.id = fp.role_id
	WHERE fp.file_id = $1 ORDER BY fp.role_id ASC`
	var perms []models.FilePermission
	if err := r.db.SelectContext(ctx, &perms, query, fileID); err != nil {
		return nil, fmt.Errorf("list file permissions: %w", err)
	}
	return perms, nil
}

// ListForRoles returns the grants on the given files held by any of the named roles.
func (r *PermissionRepository) ListForRoles(ctx context.Context, fileIDs []int64, roles []models.RoleName) ([]models.FilePermission, error) {
	if len(fileIDs) == 0 || len(roles) == 0 {
		return nil, nil
	}
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}
	query := `SELECT ` + permissionColumns + ` FROM file_permissions fp JOIN roles r ON r.id = fp.role_id
	WHERE fp.file_id = ANY($1) AND r.name = ANY($2)`
	var perms []models.FilePermission
	if err := r.db.SelectContext(ctx, &perms, query, pq.Array(fileIDs), pq.Array(names)); err != nil {
		return nil, fmt.Errorf("list role permissions: %w", err)
	}
	return perms, nil
}

// Replace swaps the full grant set of a file in one transaction.
func (r *PermissionRepository) Replace(ctx context.Context, fileID int64, perms []models.FilePermission) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin permission replace: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM file_permissions WHERE file_id = $1`, fileID); err != nil {
		return fmt.Errorf("clear file permissions: %w", err)
	}

	const insert = `INSERT INTO file_permissions
	(file_id, role_id, can_view, can_edit, can_upload, can_download, can_delete, start_date, end_date, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	now := time.Now().UTC()
	for _, p := range perms {
		if _, err := tx.ExecContext(ctx, insert, fileID, p.RoleID, p.CanView, p.CanEdit, p.CanUpload,
			p.CanDownload, p.CanDelete, p.StartDate, p.EndDate, now); err != nil {
			return fmt.Errorf("insert file permission: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit permission replace: %w", err)
	}
	return nil
}
