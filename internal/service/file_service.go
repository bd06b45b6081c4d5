package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/filevault-api/internal/dto"
	"github.com/noah-isme/filevault-api/internal/models"
	"github.com/noah-isme/filevault-api/internal/repository"
	"github.com/noah-isme/filevault-api/pkg/convert"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
	"github.com/noah-isme/filevault-api/pkg/jobs"
	"github.com/noah-isme/filevault-api/pkg/storage"
)

const maxLogicalNameLength = 255

type fileStore interface {
	Create(ctx context.Context, file *models.FileRecord) error
	FindByID(ctx context.Context, id int64) (*models.FileRecord, error)
	FindByLocalPath(ctx context.Context, name string) (*models.FileRecord, error)
	List(ctx context.Context, filter models.FileFilter) ([]models.FileRecord, int, error)
	ListBatch(ctx context.Context, filter models.FileFilter) ([]models.FileRecord, error)
	Update(ctx context.Context, file *models.FileRecord, expectedVersion int) error
	Purge(ctx context.Context, id int64) error
}

type fileAuthorizer interface {
	Authorize(ctx context.Context, capability models.Capability, file *models.FileRecord, identity *models.Identity) error
	EffectiveCapabilities(ctx context.Context, file *models.FileRecord, identity *models.Identity) (models.Capabilities, error)
	FilterViewable(ctx context.Context, files []models.FileRecord, identity *models.Identity) ([]models.FileRecord, error)
}

type filePermissionStore interface {
	ListByFile(ctx context.Context, fileID int64) ([]models.FilePermission, error)
	Replace(ctx context.Context, fileID int64, perms []models.FilePermission) error
}

type roleFinder interface {
	FindByIDs(ctx context.Context, ids []int64) ([]models.Role, error)
}

type categoryFinder interface {
	FindByID(ctx context.Context, id int64) (*models.Category, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) (string, error)
}

type serveTokenVerifier interface {
	VerifyToken(token, locator string) error
}

// FileServiceConfig holds registry policy.
type FileServiceConfig struct {
	DefaultBackend     storage.Kind
	ViewableExtensions []string
	// ListBatchSize is the number of rows read per batch when filtering listings by permission.
	ListBatchSize int
}

// FileServiceDeps collects the collaborators of the registry. Mirror and MirrorValidator are nil
// when no cloud mirror is configured.
type FileServiceDeps struct {
	Files           fileStore
	Permissions     filePermissionStore
	Roles           roleFinder
	Categories      categoryFinder
	Authorizer      fileAuthorizer
	Audit           auditRecorder
	Local           storage.Backend
	LocalValidator  *storage.Validator
	ServeTokens     serveTokenVerifier
	Mirror          storage.Backend
	MirrorValidator *storage.Validator
	Converter       *convert.Converter
	Metrics         *MetricsService
	Logger          *zap.Logger
}

// FileContent is an open file ready to be streamed to a client.
type FileContent struct {
	Body       io.ReadCloser
	FileName   string
	MimeType   string
	Size       int64
	Inline     bool
	ModifiedAt time.Time
}

// FileService is the file registry. It owns file metadata and mediates every storage call so that
// metadata and stored bytes stay consistent.
type FileService struct {
	files       fileStore
	permissions filePermissionStore
	roles       roleFinder
	categories  categoryFinder
	authz       fileAuthorizer
	audit       auditRecorder
	local       storage.Backend
	localCheck  *storage.Validator
	serveTokens serveTokenVerifier
	mirror      storage.Backend
	mirrorCheck *storage.Validator
	converter   *convert.Converter
	queue       jobEnqueuer
	metrics     *MetricsService
	logger      *zap.Logger
	cfg         FileServiceConfig
	viewable    map[string]struct{}
	now         func() time.Time
}

// NewFileService constructs the registry.
func NewFileService(deps FileServiceDeps, cfg FileServiceConfig) *FileService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultBackend == "" {
		cfg.DefaultBackend = storage.KindLocal
	}
	if cfg.ListBatchSize <= 0 {
		cfg.ListBatchSize = 200
	}
	converter := deps.Converter
	if converter == nil {
		converter = convert.NewConverter(0)
	}
	viewable := make(map[string]struct{}, len(cfg.ViewableExtensions))
	for _, ext := range cfg.ViewableExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		viewable[ext] = struct{}{}
	}
	return &FileService{
		files:       deps.Files,
		permissions: deps.Permissions,
		roles:       deps.Roles,
		categories:  deps.Categories,
		authz:       deps.Authorizer,
		audit:       deps.Audit,
		local:       withMetrics(deps.Local, deps.Metrics),
		localCheck:  deps.LocalValidator,
		serveTokens: deps.ServeTokens,
		mirror:      withMetrics(deps.Mirror, deps.Metrics),
		mirrorCheck: deps.MirrorValidator,
		converter:   converter,
		metrics:     deps.Metrics,
		logger:      logger,
		cfg:         cfg,
		viewable:    viewable,
		now:         time.Now,
	}
}

// SetMirrorQueue wires the queue that runs mirror jobs. The queue's handler is RunMirrorJob, so
// it can only be attached after construction.
func (s *FileService) SetMirrorQueue(queue jobEnqueuer) {
	s.queue = queue
}

// List returns the page of active files matching query that the caller may view.
func (s *FileService) List(ctx context.Context, query dto.FileListQuery, actor *models.Identity) ([]models.FileRecord, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthenticated
	}
	page, size, err := normalizePage(query.Page, query.PageSize)
	if err != nil {
		return nil, nil, err
	}
	filter := models.FileFilter{
		Query:      strings.TrimSpace(query.Query),
		CategoryID: query.CategoryID,
		UploadedBy: query.UploadedBy,
	}

	if actor.IsSuperAdmin() {
		filter.Limit = size
		filter.Offset = (page - 1) * size
		files, total, err := s.files.List(ctx, filter)
		if err != nil {
			return nil, nil, appErrors.Internal(err, "failed to list files")
		}
		return nonNil(files), models.NewPagination(page, size, total), nil
	}

	// Rows are read newest first in id-keyed batches. Only the requested page is retained; the scan
	// runs to the end so the total counts every viewable file.
	start := (page - 1) * size
	items := make([]models.FileRecord, 0, size)
	total := 0
	filter.Limit = s.cfg.ListBatchSize
	for {
		batch, err := s.files.ListBatch(ctx, filter)
		if err != nil {
			return nil, nil, appErrors.Internal(err, "failed to list files")
		}
		visible, err := s.authz.FilterViewable(ctx, batch, actor)
		if err != nil {
			return nil, nil, err
		}
		for _, f := range visible {
			if total >= start && len(items) < size {
				items = append(items, f)
			}
			total++
		}
		if len(batch) < filter.Limit {
			break
		}
		filter.BeforeID = batch[len(batch)-1].ID
	}
	return items, models.NewPagination(page, size, total), nil
}

// Get returns metadata for one file. Inactive files are returned with isActive=false.
func (s *FileService) Get(ctx context.Context, fileID int64, actor *models.Identity) (*models.FileRecord, error) {
	file, err := s.load(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, models.CapabilityView, file, actor); err != nil {
		return nil, err
	}
	return file, nil
}

// Capabilities returns the caller's effective capability set on a file.
func (s *FileService) Capabilities(ctx context.Context, fileID int64, actor *models.Identity) (models.Capabilities, error) {
	file, err := s.load(ctx, fileID)
	if err != nil {
		return models.Capabilities{}, err
	}
	return s.authz.EffectiveCapabilities(ctx, file, actor)
}

// Upload validates and stores a new document, then records its metadata. Nothing persists unless
// both the write and the insert succeed.
func (s *FileService) Upload(ctx context.Context, req dto.UploadFileRequest, actor *models.Identity, meta models.RequestMeta) (*models.FileRecord, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthenticated
	}
	entry := newAuditEntry(models.AuditActionUpload, actor, nil, meta, "")
	file, err := s.upload(ctx, req, actor)
	if file != nil {
		entry.FileID = &file.ID
		entry.Detail = fmt.Sprintf("uploaded %q (%d bytes, %s)", file.FileName, file.SizeBytes, file.StorageBackend)
	} else {
		entry.Detail = fmt.Sprintf("upload %q", req.FileName)
	}
	if err := auditOutcome(ctx, s.audit, s.logger, entry, err); err != nil {
		return nil, err
	}
	return file, nil
}

func (s *FileService) upload(ctx context.Context, req dto.UploadFileRequest, actor *models.Identity) (*models.FileRecord, error) {
	if !actor.HasAnyRole(models.UploadRoles...) {
		s.metrics.RecordPermissionDenied(string(models.CapabilityUpload))
		return nil, appErrors.ErrPermissionDenied
	}
	if req.Content == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	kind := req.Backend
	if kind == "" {
		kind = s.cfg.DefaultBackend
	}
	if err := s.checkCategory(ctx, req.CategoryID); err != nil {
		return nil, err
	}
	return s.create(ctx, kind, req.FileName, req.Size, req.Content, req.CategoryID, req.IsPublic, actor)
}

// create writes content and inserts the record, removing the written object when the insert fails.
func (s *FileService) create(ctx context.Context, kind storage.Kind, name string, size int64, content io.Reader, categoryID *int64, public bool, actor *models.Identity) (*models.FileRecord, error) {
	logical, err := logicalName(name)
	if err != nil {
		return nil, err
	}
	stored, err := s.store(ctx, kind, logical, size, content)
	if err != nil {
		return nil, err
	}

	file := &models.FileRecord{
		FileName:        logical,
		Extension:       stored.extension,
		MimeType:        stored.mimeType,
		SizeBytes:       stored.size,
		CategoryID:      categoryID,
		UploadedBy:      actor.UserID,
		UploadedAt:      s.now().UTC(),
		IsPublic:        public,
		IsSyncedToCloud: kind == storage.KindCloud,
	}
	file.SetLocator(kind, stored.locator)

	if err := s.files.Create(ctx, file); err != nil {
		s.discard(ctx, stored.backend, stored.locator)
		return nil, appErrors.Internal(err, "failed to save file metadata")
	}
	return file, nil
}

// Update changes metadata and optionally replaces content. New content is written first, the
// record is repointed under a version check, and only then is the old object removed.
func (s *FileService) Update(ctx context.Context, fileID int64, req dto.UpdateFileRequest, actor *models.Identity, meta models.RequestMeta) (*models.FileRecord, error) {
	entry := newAuditEntry(models.AuditActionUpdate, actor, &fileID, meta, "")
	file, changes, err := s.update(ctx, fileID, req, actor)
	if len(changes) > 0 {
		entry.Detail = "changed " + strings.Join(changes, ",")
	}
	if err := auditOutcome(ctx, s.audit, s.logger, entry, err); err != nil {
		return nil, err
	}
	return file, nil
}

func (s *FileService) update(ctx context.Context, fileID int64, req dto.UpdateFileRequest, actor *models.Identity) (*models.FileRecord, []string, error) {
	file, err := s.loadActive(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.authz.Authorize(ctx, models.CapabilityEdit, file, actor); err != nil {
		return nil, nil, err
	}
	expected := file.Version
	if req.Version != nil {
		if *req.Version != file.Version {
			return nil, nil, appErrors.Clone(appErrors.ErrConflict, "file was modified by someone else")
		}
		expected = *req.Version
	}

	var changes []string
	if req.ClearCategory {
		file.CategoryID = nil
		changes = append(changes, "category")
	} else if req.CategoryID != nil {
		if err := s.checkCategory(ctx, req.CategoryID); err != nil {
			return nil, nil, err
		}
		file.CategoryID = req.CategoryID
		changes = append(changes, "category")
	}
	if req.IsPublic != nil {
		file.IsPublic = *req.IsPublic
		changes = append(changes, "visibility")
	}

	newName := file.FileName
	if req.FileName != nil {
		if newName, err = logicalName(*req.FileName); err != nil {
			return nil, nil, err
		}
		changes = append(changes, "name")
	}

	var replaced *storedObject
	oldLocator := file.Locator()
	if req.HasContent() {
		contentName := req.ContentName
		if contentName == "" {
			contentName = newName
		}
		replaced, err = s.store(ctx, file.StorageBackend, contentName, req.Size, req.Content)
		if err != nil {
			return nil, nil, err
		}
		if req.FileName == nil {
			newName = strings.TrimSuffix(file.FileName, path.Ext(file.FileName)) + replaced.extension
		}
		file.Extension = replaced.extension
		file.MimeType = replaced.mimeType
		file.SizeBytes = replaced.size
		file.SetLocator(file.StorageBackend, replaced.locator)
		changes = append(changes, "content")
	}

	if !strings.EqualFold(path.Ext(newName), file.Extension) {
		s.discardStored(ctx, replaced)
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "file name must keep the "+file.Extension+" extension")
	}
	file.FileName = newName

	now := s.now().UTC()
	modifiedBy := actor.UserID
	file.ModifiedBy = &modifiedBy
	file.ModifiedAt = &now

	if err := s.files.Update(ctx, file, expected); err != nil {
		s.discardStored(ctx, replaced)
		return nil, changes, s.updateFailure(err)
	}
	if replaced != nil {
		s.discard(ctx, replaced.backend, oldLocator)
	}
	return file, changes, nil
}

// Delete soft-deletes a file. Its bytes and metadata are retained.
func (s *FileService) Delete(ctx context.Context, fileID int64, actor *models.Identity, meta models.RequestMeta) error {
	entry := newAuditEntry(models.AuditActionDelete, actor, &fileID, meta, "soft delete")
	return auditOutcome(ctx, s.audit, s.logger, entry, s.softDelete(ctx, fileID, actor))
}

func (s *FileService) softDelete(ctx context.Context, fileID int64, actor *models.Identity) error {
	file, err := s.loadActive(ctx, fileID)
	if err != nil {
		return err
	}
	if err := s.authz.Authorize(ctx, models.CapabilityDelete, file, actor); err != nil {
		return err
	}
	now := s.now().UTC()
	modifiedBy := actor.UserID
	file.IsActive = false
	file.ModifiedBy = &modifiedBy
	file.ModifiedAt = &now
	if err := s.files.Update(ctx, file, file.Version); err != nil {
		return s.updateFailure(err)
	}
	return nil
}

// Purge removes an already inactive file and its bytes. Only SuperAdmin may purge.
func (s *FileService) Purge(ctx context.Context, fileID int64, actor *models.Identity, meta models.RequestMeta) error {
	entry := newAuditEntry(models.AuditActionPurge, actor, &fileID, meta, "purge")
	return auditOutcome(ctx, s.audit, s.logger, entry, s.purge(ctx, fileID, actor))
}

func (s *FileService) purge(ctx context.Context, fileID int64, actor *models.Identity) error {
	if actor == nil {
		return appErrors.ErrUnauthenticated
	}
	if !actor.IsSuperAdmin() {
		return appErrors.ErrPermissionDenied
	}
	file, err := s.load(ctx, fileID)
	if err != nil {
		return err
	}
	if file.IsActive {
		return appErrors.Clone(appErrors.ErrConflict, "only deleted files can be purged")
	}
	if err := s.files.Purge(ctx, file.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "only deleted files can be purged")
		}
		return appErrors.Internal(err, "failed to purge file")
	}
	backend, err := s.backendFor(file.StorageBackend)
	if err != nil {
		s.logger.Error("purged file on unavailable backend, bytes left behind",
			zap.Int64("file_id", file.ID), zap.String("locator", file.Locator()))
		return nil
	}
	s.discard(ctx, backend, file.Locator())
	return nil
}

// GetPermissions returns the grants configured on a file.
func (s *FileService) GetPermissions(ctx context.Context, fileID int64, actor *models.Identity) (*models.FilePermissionsView, error) {
	file, err := s.load(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, models.CapabilityView, file, actor); err != nil {
		return nil, err
	}
	perms, err := s.permissions.ListByFile(ctx, fileID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load permissions")
	}
	view := &models.FilePermissionsView{FileID: fileID, Roles: make(map[int64]bool, len(perms)), Grants: nonNilPerms(perms)}
	for _, p := range perms {
		view.Roles[p.RoleID] = p.CanView
	}
	return view, nil
}

// SetPermissions replaces every grant on a file. Only permission managers may do this.
func (s *FileService) SetPermissions(ctx context.Context, fileID int64, req models.SetPermissionsRequest, actor *models.Identity, meta models.RequestMeta) error {
	entry := newAuditEntry(models.AuditActionPermissionChange, actor, &fileID, meta, "")
	perms, err := s.setPermissions(ctx, fileID, req, actor)
	roleIDs := make([]string, 0, len(perms))
	for _, p := range perms {
		roleIDs = append(roleIDs, fmt.Sprintf("%d", p.RoleID))
	}
	entry.Detail = "granted roles [" + strings.Join(roleIDs, ",") + "]"
	return auditOutcome(ctx, s.audit, s.logger, entry, err)
}

func (s *FileService) setPermissions(ctx context.Context, fileID int64, req models.SetPermissionsRequest, actor *models.Identity) ([]models.FilePermission, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthenticated
	}
	if !actor.HasAnyRole(models.PermissionManagerRoles...) {
		return nil, appErrors.ErrPermissionDenied
	}
	if _, err := s.load(ctx, fileID); err != nil {
		return nil, err
	}
	perms, err := permissionsFromRequest(fileID, req)
	if err != nil {
		return nil, err
	}
	if len(perms) > 0 {
		ids := make([]int64, 0, len(perms))
		for _, p := range perms {
			ids = append(ids, p.RoleID)
		}
		roles, err := s.roles.FindByIDs(ctx, ids)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to load roles")
		}
		if len(roles) != len(ids) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown role id")
		}
	}
	if err := s.permissions.Replace(ctx, fileID, perms); err != nil {
		return nil, appErrors.Internal(err, "failed to save permissions")
	}
	return perms, nil
}

// permissionsFromRequest merges the plain role map and the detailed grants. Detailed grants win;
// a role mapped to true gets view and download; a role mapped to false gets no row.
func permissionsFromRequest(fileID int64, req models.SetPermissionsRequest) ([]models.FilePermission, error) {
	byRole := make(map[int64]models.FilePermission, len(req.Roles)+len(req.Grants))
	for roleID, allowed := range req.Roles {
		if roleID <= 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "role ids must be positive")
		}
		if allowed {
			byRole[roleID] = models.FilePermission{FileID: fileID, RoleID: roleID, CanView: true, CanDownload: true}
		}
	}
	for roleID, grant := range req.Grants {
		if roleID <= 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "role ids must be positive")
		}
		if grant.StartDate != nil && grant.EndDate != nil && grant.StartDate.After(*grant.EndDate) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "start_date must not be after end_date")
		}
		perm := models.FilePermission{
			FileID:      fileID,
			RoleID:      roleID,
			CanView:     grant.CanView,
			CanEdit:     grant.CanEdit,
			CanUpload:   grant.CanUpload,
			CanDownload: grant.CanDownload,
			CanDelete:   grant.CanDelete,
			StartDate:   grant.StartDate,
			EndDate:     grant.EndDate,
		}
		if !perm.CanView && !perm.CanEdit && !perm.CanUpload && !perm.CanDownload && !perm.CanDelete {
			delete(byRole, roleID)
			continue
		}
		byRole[roleID] = perm
	}
	perms := make([]models.FilePermission, 0, len(byRole))
	for _, p := range byRole {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].RoleID < perms[j].RoleID })
	return perms, nil
}

func (s *FileService) load(ctx context.Context, fileID int64) (*models.FileRecord, error) {
	file, err := s.files.FindByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return nil, appErrors.Internal(err, "failed to load file")
	}
	return file, nil
}

func (s *FileService) loadActive(ctx context.Context, fileID int64) (*models.FileRecord, error) {
	file, err := s.load(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !file.IsActive {
		return nil, appErrors.ErrFileInactive
	}
	return file, nil
}

func (s *FileService) checkCategory(ctx context.Context, categoryID *int64) error {
	if categoryID == nil {
		return nil
	}
	category, err := s.categories.FindByID(ctx, *categoryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "category does not exist")
		}
		return appErrors.Internal(err, "failed to load category")
	}
	if !category.IsActive {
		return appErrors.Clone(appErrors.ErrValidation, "category is inactive")
	}
	return nil
}

func (s *FileService) updateFailure(err error) error {
	switch {
	case errors.Is(err, repository.ErrVersionConflict):
		return appErrors.Clone(appErrors.ErrConflict, "file was modified by someone else")
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "file not found")
	default:
		return appErrors.Internal(err, "failed to update file")
	}
}

func logicalName(raw string) (string, error) {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(raw), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return "", appErrors.Clone(appErrors.ErrValidation, storage.ErrMissingName.Error())
	}
	if len(name) > maxLogicalNameLength {
		return "", appErrors.Clone(appErrors.ErrValidation, "file name is too long")
	}
	return name, nil
}

func nonNil(files []models.FileRecord) []models.FileRecord {
	if files == nil {
		return []models.FileRecord{}
	}
	return files
}

func nonNilPerms(perms []models.FilePermission) []models.FilePermission {
	if perms == nil {
		return []models.FilePermission{}
	}
	return perms
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
