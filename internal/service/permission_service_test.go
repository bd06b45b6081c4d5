package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/filevault-api/internal/models"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
)

type permissionStoreStub struct {
	perms []models.FilePermission
	calls int
	err   error
}

func (s *permissionStoreStub) ListByFile(_ context.Context, fileID int64) ([]models.FilePermission, error) {
	var out []models.FilePermission
	for _, p := range s.perms {
		if p.FileID == fileID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *permissionStoreStub) ListForRoles(_ context.Context, fileIDs []int64, roles []models.RoleName) ([]models.FilePermission, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	files := map[int64]bool{}
	for _, id := range fileIDs {
		files[id] = true
	}
	held := map[models.RoleName]bool{}
	for _, r := range roles {
		held[r] = true
	}
	var out []models.FilePermission
	for _, p := range s.perms {
		if files[p.FileID] && held[p.RoleName] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *permissionStoreStub) Replace(_ context.Context, fileID int64, perms []models.FilePermission) error {
	kept := s.perms[:0]
	for _, p := range s.perms {
		if p.FileID != fileID {
			kept = append(kept, p)
		}
	}
	for _, p := range perms {
		p.FileID = fileID
		kept = append(kept, p)
	}
	s.perms = kept
	return nil
}

func fixedEvaluator(store permissionStore, now time.Time) *PermissionEvaluator {
	e := NewPermissionEvaluator(store, nil, nil)
	e.now = func() time.Time { return now }
	return e
}

func TestEvaluatorSuperAdminAndPublic(t *testing.T) {
	store := &permissionStoreStub{}
	e := fixedEvaluator(store, time.Now())
	ctx := context.Background()
	file := &models.FileRecord{ID: 1, UploadedBy: 99}

	ok, err := e.CanPerform(ctx, models.CapabilityDelete, file, identity(1, models.RoleSuperAdmin))
	require.NoError(t, err)
	assert.True(t, ok)

	file.IsPublic = true
	ok, _ = e.CanPerform(ctx, models.CapabilityDownload, file, identity(2))
	assert.True(t, ok)
	ok, _ = e.CanPerform(ctx, models.CapabilityEdit, file, identity(2))
	assert.False(t, ok)
	assert.Zero(t, store.calls, "public read and SuperAdmin never hit the store")
}

func TestEvaluatorUnionAcrossRoles(t *testing.T) {
	store := &permissionStoreStub{perms: []models.FilePermission{
		{FileID: 1, RoleName: models.RoleViewer, CanView: true},
		{FileID: 1, RoleName: models.RoleUploader, CanDownload: true},
	}}
	e := fixedEvaluator(store, time.Now())
	file := &models.FileRecord{ID: 1, UploadedBy: 99}

	caps, err := e.EffectiveCapabilities(context.Background(), file, identity(2, models.RoleViewer, models.RoleUploader))
	require.NoError(t, err)
	assert.Equal(t, models.Capabilities{View: true, Download: true}, caps)

	caps, err = e.EffectiveCapabilities(context.Background(), file, identity(2, models.RoleViewer))
	require.NoError(t, err)
	assert.Equal(t, models.Capabilities{View: true}, caps)
}

func TestEvaluatorHonoursGrantWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	start := now.Add(24 * time.Hour)
	end := now.Add(-time.Hour)
	store := &permissionStoreStub{perms: []models.FilePermission{
		{FileID: 1, RoleName: models.RoleViewer, CanView: true, StartDate: &start},
		{FileID: 2, RoleName: models.RoleViewer, CanView: true, EndDate: &end},
		{FileID: 3, RoleName: models.RoleViewer, CanView: true, EndDate: &start},
	}}
	e := fixedEvaluator(store, now)
	viewer := identity(2, models.RoleViewer)

	for id, want := range map[int64]bool{1: false, 2: false, 3: true} {
		ok, err := e.CanPerform(context.Background(), models.CapabilityView, &models.FileRecord{ID: id}, viewer)
		require.NoError(t, err)
		assert.Equal(t, want, ok, "file %d", id)
	}
}

func TestEvaluatorOwnerOverrideNeedsEditorTier(t *testing.T) {
	e := fixedEvaluator(&permissionStoreStub{}, time.Now())
	file := &models.FileRecord{ID: 1, UploadedBy: 5}
	ctx := context.Background()

	ok, _ := e.CanPerform(ctx, models.CapabilityEdit, file, identity(5, models.RoleUploader))
	assert.False(t, ok, "uploader tier does not get the override")

	ok, _ = e.CanPerform(ctx, models.CapabilityDelete, file, identity(5, models.RoleEditor))
	assert.True(t, ok)

	ok, _ = e.CanPerform(ctx, models.CapabilityDownload, file, identity(5, models.RoleEditor))
	assert.False(t, ok, "override covers edit and delete only")

	ok, _ = e.CanPerform(ctx, models.CapabilityEdit, file, identity(6, models.RoleAdmin))
	assert.False(t, ok, "override is for the uploader only")
}

func TestEvaluatorAuthorizeErrors(t *testing.T) {
	store := &permissionStoreStub{}
	e := fixedEvaluator(store, time.Now())
	file := &models.FileRecord{ID: 1}

	err := e.Authorize(context.Background(), models.CapabilityView, file, nil)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrUnauthenticated.Code))

	err = e.Authorize(context.Background(), models.CapabilityView, file, identity(2, models.RoleViewer))
	assert.True(t, appErrors.IsCode(err, appErrors.ErrPermissionDenied.Code))

	store.err = errStub
	err = e.Authorize(context.Background(), models.CapabilityView, file, identity(2, models.RoleViewer))
	assert.True(t, appErrors.IsCode(err, appErrors.ErrInternal.Code))
}

func TestEvaluatorFilterViewableLoadsGrantsOnce(t *testing.T) {
	store := &permissionStoreStub{perms: []models.FilePermission{
		{FileID: 2, RoleName: models.RoleViewer, CanView: true},
	}}
	e := fixedEvaluator(store, time.Now())
	files := []models.FileRecord{{ID: 3}, {ID: 2}, {ID: 1, IsPublic: true}}

	visible, err := e.FilterViewable(context.Background(), files, identity(9, models.RoleViewer))
	require.NoError(t, err)
	require.Len(t, visible, 2)
	assert.Equal(t, int64(2), visible[0].ID)
	assert.Equal(t, int64(1), visible[1].ID)
	assert.Equal(t, 1, store.calls)
}
