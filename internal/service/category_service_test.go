package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/filevault-api/internal/models"
	"github.com/noah-isme/filevault-api/internal/repository"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
)

type categoryStoreStub struct {
	categories map[int64]models.Category
	nextID     int64
	listCalls  int
	detached   int64
}

func newCategoryStoreStub() *categoryStoreStub {
	return &categoryStoreStub{categories: map[int64]models.Category{}}
}

func (s *categoryStoreStub) List(_ context.Context, includeInactive bool) ([]models.Category, error) {
	s.listCalls++
	var out []models.Category
	for id := int64(1); id <= s.nextID; id++ {
		c, ok := s.categories[id]
		if ok && (includeInactive || c.IsActive) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *categoryStoreStub) FindByID(_ context.Context, id int64) (*models.Category, error) {
	c, ok := s.categories[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &c, nil
}

func (s *categoryStoreStub) ExistsByName(_ context.Context, name string, excludeID int64) (bool, error) {
	for id, c := range s.categories {
		if id != excludeID && strings.EqualFold(c.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func (s *categoryStoreStub) Create(_ context.Context, c *models.Category) error {
	s.nextID++
	c.ID = s.nextID
	s.categories[c.ID] = *c
	return nil
}

func (s *categoryStoreStub) Update(_ context.Context, c *models.Category) error {
	if _, ok := s.categories[c.ID]; !ok {
		return sql.ErrNoRows
	}
	s.categories[c.ID] = *c
	return nil
}

func (s *categoryStoreStub) Delete(_ context.Context, id int64) (int64, error) {
	if _, ok := s.categories[id]; !ok {
		return 0, sql.ErrNoRows
	}
	delete(s.categories, id)
	return s.detached, nil
}

func newCachedCategoryService(t *testing.T) (*CategoryService, *categoryStoreStub, *auditStub) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache := NewCacheService(repository.NewCacheRepository(client, "test:", nil), nil, time.Minute, nil, true)
	store := newCategoryStoreStub()
	audit := &auditStub{}
	return NewCategoryService(store, cache, audit, nil, nil), store, audit
}

func TestCategoryListIsCachedAndInvalidated(t *testing.T) {
	svc, store, audit := newCachedCategoryService(t)
	ctx := context.Background()
	admin := identity(1, models.RoleAdmin)

	_, err := svc.Create(ctx, models.CategoryRequest{Name: "Reports"}, admin, models.RequestMeta{})
	require.NoError(t, err)

	first, hit, err := svc.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.False(t, hit)
	_, hit, err = svc.List(ctx, false)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, store.listCalls, "second read served from cache")

	_, err = svc.Create(ctx, models.CategoryRequest{Name: "Contracts"}, admin, models.RequestMeta{})
	require.NoError(t, err)
	after, _, err := svc.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, after, 2)
	assert.Equal(t, 2, store.listCalls)
	assert.Equal(t, []models.AuditAction{models.AuditActionCategoryChange, models.AuditActionCategoryChange}, audit.actions())
}

func TestCategoryNameConflictAndPermissions(t *testing.T) {
	svc, _, _ := newCachedCategoryService(t)
	ctx := context.Background()
	admin := identity(1, models.RoleSuperAdmin)

	_, err := svc.Create(ctx, models.CategoryRequest{Name: "Reports"}, admin, models.RequestMeta{})
	require.NoError(t, err)

	_, err = svc.Create(ctx, models.CategoryRequest{Name: "reports"}, admin, models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrConflict.Code))

	_, err = svc.Create(ctx, models.CategoryRequest{Name: "  "}, admin, models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))

	_, err = svc.Create(ctx, models.CategoryRequest{Name: "Drafts"}, identity(2, models.RoleEditor), models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrPermissionDenied.Code))
}

func TestCategoryUpdateAndDelete(t *testing.T) {
	svc, store, audit := newCachedCategoryService(t)
	ctx := context.Background()
	admin := identity(1, models.RoleAdmin)

	created, err := svc.Create(ctx, models.CategoryRequest{Name: "Reports"}, admin, models.RequestMeta{})
	require.NoError(t, err)

	inactive := false
	updated, err := svc.Update(ctx, created.ID, models.CategoryRequest{Name: "Archive", IsActive: &inactive}, admin, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "Archive", updated.Name)
	assert.False(t, updated.IsActive)

	active, _, err := svc.List(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, active)

	store.detached = 3
	result, err := svc.Delete(ctx, created.ID, admin, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.DetachedFiles)
	assert.Contains(t, audit.last().Detail, "detached 3 files")

	_, err = svc.Delete(ctx, created.ID, admin, models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrNotFound.Code))
}
