package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/filevault-api/internal/models"
)

// ErrVersionConflict is returned when a row changed since it was read.
var ErrVersionConflict = errors.New("file version conflict")

const fileColumns = `f.id, f.file_name, f.extension, f.mime_type, f.storage_backend, f.file_path, f.cloud_file_id,
       f.size_bytes, f.category_id, c.name AS category_name, f.uploaded_by, f.uploaded_at, f.modified_by,
       f.modified_at, f.is_active, f.is_public, f.is_synced_to_cloud, f.version`

const fileFrom = ` FROM files f LEFT JOIN categories c ON c.id = f.category_id`

// FileRepository persists file metadata.
type FileRepository struct {
	db *sqlx.DB
}

// NewFileRepository constructs the repository.
func NewFileRepository(db *sqlx.DB) *FileRepository {
	return &FileRepository{db: db}
}

// Create inserts a new record and fills its id, upload time and version.
func (r *FileRepository) Create(ctx context.Context, file *models.FileRecord) error {
	if file.UploadedAt.IsZero() {
		file.UploadedAt = time.Now().UTC()
	}
	const query = `INSERT INTO files
	(file_name, extension, mime_type, storage_backend, file_path, cloud_file_id, size_bytes, category_id,
	 uploaded_by, uploaded_at, is_active, is_public, is_synced_to_cloud, version)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE, $11, $12, 1)
	RETURNING id, version`
	row := r.db.QueryRowxContext(ctx, query,
		file.FileName, file.Extension, file.MimeType, file.StorageBackend, file.FilePath, file.CloudFileID,
		file.SizeBytes, file.CategoryID, file.UploadedBy, file.UploadedAt, file.IsPublic, file.IsSyncedToCloud,
	)
	if err := row.Scan(&file.ID, &file.Version); err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	file.IsActive = true
	return nil
}

// FindByID returns a record regardless of its active flag.
func (r *FileRepository) FindByID(ctx context.Context, id int64) (*models.FileRecord, error) {
	query := `SELECT ` + fileColumns + fileFrom + ` WHERE f.id = $1`
	var file models.FileRecord
	if err := r.db.GetContext(ctx, &file, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find file: %w", err)
	}
	return &file, nil
}

// FindByLocalPath resolves a local physical name to its record.
func (r *FileRepository) FindByLocalPath(ctx context.Context, name string) (*models.FileRecord, error) {
	query := `SELECT ` + fileColumns + fileFrom + ` WHERE f.storage_backend = 'local' AND f.file_path = $1`
	var file models.FileRecord
	if err := r.db.GetContext(ctx, &file, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find file by path: %w", err)
	}
	return &file, nil
}

// List returns records matching filter ordered by id descending, plus the total count.
func (r *FileRepository) List(ctx context.Context, filter models.FileFilter) ([]models.FileRecord, int, error) {
	where, args := buildFileConditions(filter)

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	listQuery := `SELECT ` + fileColumns + fileFrom + where + fmt.Sprintf(" ORDER BY f.id DESC LIMIT %d OFFSET %d", limit, offset)
	var files []models.FileRecord
	if err := r.db.SelectContext(ctx, &files, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list files: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM files f`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count files: %w", err)
	}
	return files, total, nil
}

// ListBatch returns up to filter.Limit records matching filter with ids below filter.BeforeID,
// ordered by id descending. Callers page through a result set by passing the last id seen.
func (r *FileRepository) ListBatch(ctx context.Context, filter models.FileFilter) ([]models.FileRecord, error) {
	where, args := buildFileConditions(filter)
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query := `SELECT ` + fileColumns + fileFrom + where + fmt.Sprintf(" ORDER BY f.id DESC LIMIT %d", limit)
	var files []models.FileRecord
	if err := r.db.SelectContext(ctx, &files, query, args...); err != nil {
		return nil, fmt.Errorf("list file batch: %w", err)
	}
	return files, nil
}

func buildFileConditions(filter models.FileFilter) (string, []interface{}) {
	conditions := make([]string, 0, 5)
	args := make([]interface{}, 0, 4)

	if !filter.IncludeInactive {
		conditions = append(conditions, "f.is_active = TRUE")
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+escapeLike(strings.ToLower(q))+"%")
		conditions = append(conditions, fmt.Sprintf("LOWER(f.file_name) LIKE $%d ESCAPE '\\'", len(args)))
	}
	if filter.CategoryID != nil {
		args = append(args, *filter.CategoryID)
		conditions = append(conditions, fmt.Sprintf("f.category_id = $%d", len(args)))
	}
	if filter.UploadedBy != nil {
		args = append(args, *filter.UploadedBy)
		conditions = append(conditions, fmt.Sprintf("f.uploaded_by = $%d", len(args)))
	}
	if filter.BeforeID > 0 {
		args = append(args, filter.BeforeID)
		conditions = append(conditions, fmt.Sprintf("f.id < $%d", len(args)))
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Update writes every mutable column when the stored version matches expectedVersion and bumps
// the version. A missing row yields sql.ErrNoRows, a stale version ErrVersionConflict.
func (r *FileRepository) Update(ctx context.Context, file *models.FileRecord, expectedVersion int) error {
	const query = `UPDATE files SET
	file_name = $1, extension = $2, mime_type = $3, storage_backend = $4, file_path = $5, cloud_file_id = $6,
	size_bytes = $7, category_id = $8, modified_by = $9, modified_at = $10, is_active = $11, is_public = $12,
	is_synced_to_cloud = $13, version = version + 1
	WHERE id = $14 AND version = $15
	RETURNING version`
	row := r.db.QueryRowxContext(ctx, query,
		file.FileName, file.Extension, file.MimeType, file.StorageBackend, file.FilePath, file.CloudFileID,
		file.SizeBytes, file.CategoryID, file.ModifiedBy, file.ModifiedAt, file.IsActive, file.IsPublic,
		file.IsSyncedToCloud, file.ID, expectedVersion,
	)
	var version int
	if err := row.Scan(&version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r.classifyMissedUpdate(ctx, file.ID)
		}
		return fmt.Errorf("update file: %w", err)
	}
	file.Version = version
	return nil
}

func (r *FileRepository) classifyMissedUpdate(ctx context.Context, id int64) error {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM files WHERE id = $1)`, id); err != nil {
		return fmt.Errorf("check file exists: %w", err)
	}
	if !exists {
		return sql.ErrNoRows
	}
	return ErrVersionConflict
}

// Purge removes an inactive record. Active rows are never removed.
func (r *FileRepository) Purge(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1 AND is_active = FALSE`, id)
	if err != nil {
		return fmt.Errorf("purge file: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check purge rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListLocators pages through every record by id for consistency checks.
func (r *FileRepository) ListLocators(ctx context.Context, afterID int64, limit int) ([]models.FileLocatorRef, error) {
	if limit <= 0 {
		limit = 500
	}
	const query = `SELECT id, storage_backend, file_path, cloud_file_id, size_bytes
	FROM files WHERE id > $1 ORDER BY id ASC LIMIT $2`
	var refs []models.FileLocatorRef
	if err := r.db.SelectContext(ctx, &refs, query, afterID, limit); err != nil {
		return nil, fmt.Errorf("list file locators: %w", err)
	}
	return refs, nil
}
