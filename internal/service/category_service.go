package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/filevault-api/internal/models"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
)

const categoryCachePattern = "categories:*"

type categoryStore interface {
	List(ctx context.Context, includeInactive bool) ([]models.Category, error)
	FindByID(ctx context.Context, id int64) (*models.Category, error)
	ExistsByName(ctx context.Context, name string, excludeID int64) (bool, error)
	Create(ctx context.Context, category *models.Category) error
	Update(ctx context.Context, category *models.Category) error
	Delete(ctx context.Context, id int64) (int64, error)
}

// CategoryService manages the category directory. Listings are cached in Redis and every write
// drops the cached listings.
type CategoryService struct {
	repo      categoryStore
	cache     *CacheService
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCategoryService constructs the service. cache may be nil.
func NewCategoryService(repo categoryStore, cache *CacheService, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *CategoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &CategoryService{repo: repo, cache: cache, audit: audit, validator: validate, logger: logger}
}

func categoryCacheKey(includeInactive bool) string {
	if includeInactive {
		return "categories:all"
	}
	return "categories:active"
}

// List returns categories ordered by name and whether they came from the cache.
func (s *CategoryService) List(ctx context.Context, includeInactive bool) ([]models.Category, bool, error) {
	key := categoryCacheKey(includeInactive)
	var cached []models.Category
	if s.cache != nil && s.cache.Get(ctx, key, &cached) {
		return cached, true, nil
	}
	categories, err := s.repo.List(ctx, includeInactive)
	if err != nil {
		return nil, false, appErrors.Internal(err, "failed to list categories")
	}
	if categories == nil {
		categories = []models.Category{}
	}
	if s.cache != nil {
		s.cache.Set(ctx, key, categories, 0)
	}
	return categories, false, nil
}

// Get returns one category.
func (s *CategoryService) Get(ctx context.Context, id int64) (*models.Category, error) {
	category, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "category not found")
		}
		return nil, appErrors.Internal(err, "failed to load category")
	}
	return category, nil
}

// Create adds a category.
func (s *CategoryService) Create(ctx context.Context, req models.CategoryRequest, actor *models.Identity, meta models.RequestMeta) (*models.Category, error) {
	entry := newAuditEntry(models.AuditActionCategoryChange, actor, nil, meta, fmt.Sprintf("create category %q", req.Name))
	category, err := s.create(ctx, req, actor)
	if category != nil {
		entry.Detail = fmt.Sprintf("created category %d %q", category.ID, category.Name)
	}
	if err := auditOutcome(ctx, s.audit, s.logger, entry, err); err != nil {
		return nil, err
	}
	return category, nil
}

func (s *CategoryService) create(ctx context.Context, req models.CategoryRequest, actor *models.Identity) (*models.Category, error) {
	if err := requireManager(actor); err != nil {
		return nil, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid category payload")
	}
	if err := s.checkNameFree(ctx, req.Name, 0); err != nil {
		return nil, err
	}
	category := &models.Category{Name: req.Name, Description: req.Description, IsActive: true}
	if req.IsActive != nil {
		category.IsActive = *req.IsActive
	}
	if err := s.repo.Create(ctx, category); err != nil {
		return nil, appErrors.Internal(err, "failed to create category")
	}
	s.invalidate(ctx)
	return category, nil
}

// Update renames or (de)activates a category.
func (s *CategoryService) Update(ctx context.Context, id int64, req models.CategoryRequest, actor *models.Identity, meta models.RequestMeta) (*models.Category, error) {
	entry := newAuditEntry(models.AuditActionCategoryChange, actor, nil, meta, fmt.Sprintf("update category %d", id))
	category, err := s.update(ctx, id, req, actor)
	if category != nil {
		entry.Detail = fmt.Sprintf("updated category %d %q active=%t", category.ID, category.Name, category.IsActive)
	}
	if err := auditOutcome(ctx, s.audit, s.logger, entry, err); err != nil {
		return nil, err
	}
	return category, nil
}

func (s *CategoryService) update(ctx context.Context, id int64, req models.CategoryRequest, actor *models.Identity) (*models.Category, error) {
	if err := requireManager(actor); err != nil {
		return nil, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid category payload")
	}
	category, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkNameFree(ctx, req.Name, id); err != nil {
		return nil, err
	}
	category.Name = req.Name
	category.Description = req.Description
	if req.IsActive != nil {
		category.IsActive = *req.IsActive
	}
	if err := s.repo.Update(ctx, category); err != nil {
		if isNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "category not found")
		}
		return nil, appErrors.Internal(err, "failed to update category")
	}
	s.invalidate(ctx)
	return category, nil
}

// Delete removes a category and detaches its files.
func (s *CategoryService) Delete(ctx context.Context, id int64, actor *models.Identity, meta models.RequestMeta) (*models.CategoryDeleteResult, error) {
	entry := newAuditEntry(models.AuditActionCategoryChange, actor, nil, meta, fmt.Sprintf("delete category %d", id))
	result, err := s.delete(ctx, id, actor)
	if result != nil {
		entry.Detail = fmt.Sprintf("deleted category %d, detached %d files", id, result.DetachedFiles)
	}
	if err := auditOutcome(ctx, s.audit, s.logger, entry, err); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *CategoryService) delete(ctx context.Context, id int64, actor *models.Identity) (*models.CategoryDeleteResult, error) {
	if err := requireManager(actor); err != nil {
		return nil, err
	}
	detached, err := s.repo.Delete(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "category not found")
		}
		return nil, appErrors.Internal(err, "failed to delete category")
	}
	s.invalidate(ctx)
	return &models.CategoryDeleteResult{CategoryID: id, DetachedFiles: detached}, nil
}

func (s *CategoryService) checkNameFree(ctx context.Context, name string, excludeID int64) error {
	exists, err := s.repo.ExistsByName(ctx, name, excludeID)
	if err != nil {
		return appErrors.Internal(err, "failed to check category name")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrConflict, "category name already exists")
	}
	return nil
}

// invalidate drops cached listings. A failed invalidation leaves entries to expire with their TTL.
func (s *CategoryService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(context.WithoutCancel(ctx), categoryCachePattern); err != nil {
		s.logger.Error("category cache left stale until ttl", zap.Error(err))
	}
}

func requireManager(actor *models.Identity) error {
	if actor == nil {
		return appErrors.ErrUnauthenticated
	}
	if !actor.HasAnyRole(models.PermissionManagerRoles...) {
		return appErrors.ErrPermissionDenied
	}
	return nil
}
