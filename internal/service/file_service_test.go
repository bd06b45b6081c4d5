package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/filevault-api/internal/dto"
	"github.com/noah-isme/filevault-api/internal/models"
	"github.com/noah-isme/filevault-api/internal/repository"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
	"github.com/noah-isme/filevault-api/pkg/jobs"
	"github.com/noah-isme/filevault-api/pkg/storage"
)

type fileStoreStub struct {
	mu        sync.Mutex
	batches   int
	files     map[int64]models.FileRecord
	nextID    int64
	createErr error
}

func newFileStoreStub() *fileStoreStub {
	return &fileStoreStub{files: map[int64]models.FileRecord{}}
}

func (s *fileStoreStub) Create(_ context.Context, file *models.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.nextID++
	file.ID = s.nextID
	file.IsActive = true
	file.Version = 1
	s.files[file.ID] = *file
	return nil
}

func (s *fileStoreStub) FindByID(_ context.Context, id int64) (*models.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &f, nil
}

func (s *fileStoreStub) FindByLocalPath(_ context.Context, name string) (*models.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.files {
		if f.FilePath != nil && *f.FilePath == name {
			out := f
			return &out, nil
		}
	}
	return nil, sql.ErrNoRows
}

// matching returns active records that match filter, newest first.
func (s *fileStoreStub) matching(filter models.FileFilter) []models.FileRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FileRecord
	for id := s.nextID; id >= 1; id-- {
		f, ok := s.files[id]
		if !ok || (!f.IsActive && !filter.IncludeInactive) {
			continue
		}
		if filter.BeforeID > 0 && id >= filter.BeforeID {
			continue
		}
		if filter.Query != "" && !strings.Contains(strings.ToLower(f.FileName), strings.ToLower(filter.Query)) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (s *fileStoreStub) ListBatch(_ context.Context, filter models.FileFilter) ([]models.FileRecord, error) {
	s.mu.Lock()
	s.batches++
	s.mu.Unlock()
	out := s.matching(filter)
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *fileStoreStub) List(_ context.Context, filter models.FileFilter) ([]models.FileRecord, int, error) {
	all := s.matching(filter)
	total := len(all)
	start := filter.Offset
	if start > total {
		start = total
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (s *fileStoreStub) Update(_ context.Context, file *models.FileRecord, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.files[file.ID]
	if !ok {
		return sql.ErrNoRows
	}
	if current.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	file.Version = expectedVersion + 1
	s.files[file.ID] = *file
	return nil
}

func (s *fileStoreStub) Purge(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok || f.IsActive {
		return sql.ErrNoRows
	}
	delete(s.files, id)
	return nil
}

type categoryStub map[int64]models.Category

func (c categoryStub) FindByID(_ context.Context, id int64) (*models.Category, error) {
	cat, ok := c[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &cat, nil
}

type roleFinderStub map[int64]models.Role

func (r roleFinderStub) FindByIDs(_ context.Context, ids []int64) ([]models.Role, error) {
	var out []models.Role
	for _, id := range ids {
		if role, ok := r[id]; ok {
			out = append(out, role)
		}
	}
	return out, nil
}

type enqueueStub struct {
	jobs []jobs.Job
}

func (q *enqueueStub) Enqueue(job jobs.Job) (string, error) {
	job.ID = "job-1"
	q.jobs = append(q.jobs, job)
	return job.ID, nil
}

type fileFixture struct {
	svc    *FileService
	files  *fileStoreStub
	perms  *permissionStoreStub
	audit  *auditStub
	local  *storage.LocalStore
	root   string
	mirror storage.Backend
}

func newFileFixture(t *testing.T) *fileFixture {
	t.Helper()
	root := t.TempDir()
	local, err := storage.NewLocalStore(root, storage.NewSignedURLSigner("secret", time.Minute), "/api/v1/files/serve/")
	require.NoError(t, err)

	fx := &fileFixture{
		files: newFileStoreStub(),
		perms: &permissionStoreStub{},
		audit: &auditStub{},
		local: local,
		root:  root,
	}
	fx.svc = NewFileService(FileServiceDeps{
		Files:          fx.files,
		Permissions:    fx.perms,
		Roles:          roleFinderStub{1: {ID: 1, Name: models.RoleViewer}, 2: {ID: 2, Name: models.RoleEditor}},
		Categories:     categoryStub{1: {ID: 1, Name: "Reports", IsActive: true}, 2: {ID: 2, Name: "Old", IsActive: false}},
		Authorizer:     NewPermissionEvaluator(fx.perms, nil, nil),
		Audit:          fx.audit,
		Local:          local,
		LocalValidator: storage.NewValidator(1<<20, []string{".pdf", ".txt", ".csv"}),
		ServeTokens:    local,
	}, FileServiceConfig{ViewableExtensions: []string{"pdf", ".txt"}})
	return fx
}

func (fx *fileFixture) upload(t *testing.T, actor *models.Identity, name, body string) *models.FileRecord {
	t.Helper()
	file, err := fx.svc.Upload(context.Background(), dto.UploadFileRequest{
		FileName: name,
		Size:     int64(len(body)),
		Content:  strings.NewReader(body),
	}, actor, models.RequestMeta{IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	return file
}

func (fx *fileFixture) objectCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(fx.root)
	require.NoError(t, err)
	return len(entries)
}

func TestUploadRenameByRole(t *testing.T) {
	fx := newFileFixture(t)
	ctx := context.Background()
	uploader := identity(7, models.RoleUploader)
	admin := identity(1, models.RoleSuperAdmin)

	file := fx.upload(t, uploader, "Report.pdf", "%PDF-1.4 report")
	assert.Equal(t, ".pdf", file.Extension)
	assert.Equal(t, storage.KindLocal, file.StorageBackend)
	assert.Equal(t, int64(7), file.UploadedBy)

	rename := "Q3.pdf"
	_, err := fx.svc.Update(ctx, file.ID, dto.UpdateFileRequest{FileName: &rename}, uploader, models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrPermissionDenied.Code))

	updated, err := fx.svc.Update(ctx, file.ID, dto.UpdateFileRequest{FileName: &rename}, admin, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "Q3.pdf", updated.FileName)
	assert.Equal(t, 2, updated.Version)

	assert.Equal(t, []models.AuditAction{models.AuditActionUpload, models.AuditActionUpdate, models.AuditActionUpdate}, fx.audit.actions())
	assert.Contains(t, fx.audit.entries[1].Detail, "failed: PERMISSION_DENIED")
}

func TestUploadRejectsViewerAndBadInput(t *testing.T) {
	fx := newFileFixture(t)
	ctx := context.Background()
	editor := identity(2, models.RoleEditor)

	_, err := fx.svc.Upload(ctx, dto.UploadFileRequest{FileName: "a.pdf", Size: 3, Content: strings.NewReader("abc")}, identity(3, models.RoleViewer), models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrPermissionDenied.Code))

	_, err = fx.svc.Upload(ctx, dto.UploadFileRequest{FileName: "a.exe", Size: 3, Content: strings.NewReader("abc")}, editor, models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))

	_, err = fx.svc.Upload(ctx, dto.UploadFileRequest{FileName: "a.txt", Size: 0, Content: strings.NewReader("")}, editor, models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))

	inactive := int64(2)
	_, err = fx.svc.Upload(ctx, dto.UploadFileRequest{FileName: "a.txt", Size: 3, Content: strings.NewReader("abc"), CategoryID: &inactive}, editor, models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))

	_, err = fx.svc.Upload(ctx, dto.UploadFileRequest{FileName: "a.txt", Size: 3, Content: strings.NewReader("abc"), Backend: storage.KindCloud}, editor, models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code), "no mirror configured")

	assert.Zero(t, fx.objectCount(t))
}

func TestUploadOversizeStreamLeavesNothing(t *testing.T) {
	fx := newFileFixture(t)
	fx.svc.localCheck = storage.NewValidator(4, nil)

	_, err := fx.svc.Upload(context.Background(), dto.UploadFileRequest{
		FileName: "big.txt",
		Size:     -1,
		Content:  strings.NewReader("0123456789"),
	}, identity(2, models.RoleEditor), models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))
	assert.Zero(t, fx.objectCount(t))
	assert.Empty(t, fx.files.files)
}

func TestUploadInsertFailureRemovesObject(t *testing.T) {
	fx := newFileFixture(t)
	fx.files.createErr = errStub

	_, err := fx.svc.Upload(context.Background(), dto.UploadFileRequest{
		FileName: "notes.txt", Size: 5, Content: strings.NewReader("hello"),
	}, identity(2, models.RoleEditor), models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrInternal.Code))
	assert.Zero(t, fx.objectCount(t))
}

func TestUploadFailsWhenAuditFails(t *testing.T) {
	fx := newFileFixture(t)
	fx.audit.err = errStub

	_, err := fx.svc.Upload(context.Background(), dto.UploadFileRequest{
		FileName: "notes.txt", Size: 5, Content: strings.NewReader("hello"),
	}, identity(2, models.RoleEditor), models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrInternal.Code))
}

func TestUpdateReplacesContentAfterRepoint(t *testing.T) {
	fx := newFileFixture(t)
	ctx := context.Background()
	admin := identity(1, models.RoleSuperAdmin)
	file := fx.upload(t, admin, "notes.txt", "first")
	oldLocator := file.Locator()

	updated, err := fx.svc.Update(ctx, file.ID, dto.UpdateFileRequest{
		Content: strings.NewReader("second version"), Size: 14,
	}, admin, models.RequestMeta{})
	require.NoError(t, err)
	assert.NotEqual(t, oldLocator, updated.Locator())
	assert.Equal(t, int64(14), updated.SizeBytes)
	assert.Equal(t, 1, fx.objectCount(t))
	_, err = os.Stat(filepath.Join(fx.root, oldLocator))
	assert.True(t, os.IsNotExist(err))

	content, err := fx.svc.Download(ctx, file.ID, admin)
	require.NoError(t, err)
	body, _ := io.ReadAll(content.Body)
	require.NoError(t, content.Body.Close())
	assert.Equal(t, "second version", string(body))
}

func TestUpdateStaleVersionKeepsOldContent(t *testing.T) {
	fx := newFileFixture(t)
	ctx := context.Background()
	admin := identity(1, models.RoleSuperAdmin)
	file := fx.upload(t, admin, "notes.txt", "first")

	stale := 0
	_, err := fx.svc.Update(ctx, file.ID, dto.UpdateFileRequest{
		Version: &stale, Content: strings.NewReader("second"), Size: 6,
	}, admin, models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrConflict.Code))
	assert.Equal(t, 1, fx.objectCount(t))

	stored, _ := fx.files.FindByID(ctx, file.ID)
	assert.Equal(t, file.Locator(), stored.Locator())
}

func TestUpdateRenameMustKeepExtension(t *testing.T) {
	fx := newFileFixture(t)
	admin := identity(1, models.RoleSuperAdmin)
	file := fx.upload(t, admin, "notes.txt", "first")

	name := "notes.pdf"
	_, err := fx.svc.Update(context.Background(), file.ID, dto.UpdateFileRequest{FileName: &name}, admin, models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))
}

func TestDeleteThenPurge(t *testing.T) {
	fx := newFileFixture(t)
	ctx := context.Background()
	admin := identity(1, models.RoleSuperAdmin)
	editor := identity(2, models.RoleEditor)
	file := fx.upload(t, editor, "notes.txt", "hello")

	err := fx.svc.Purge(ctx, file.ID, admin, models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrConflict.Code), "active files cannot be purged")

	require.NoError(t, fx.svc.Delete(ctx, file.ID, editor, models.RequestMeta{}), "owner override")

	err = fx.svc.Delete(ctx, file.ID, editor, models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrFileInactive.Code))
	_, err = fx.svc.Download(ctx, file.ID, admin)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrFileInactive.Code))

	got, err := fx.svc.Get(ctx, file.ID, admin)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	items, _, err := fx.svc.List(ctx, dto.FileListQuery{Query: "notes"}, admin)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 1, fx.objectCount(t), "soft delete keeps bytes")

	err = fx.svc.Purge(ctx, file.ID, editor, models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrPermissionDenied.Code))
	require.NoError(t, fx.svc.Purge(ctx, file.ID, admin, models.RequestMeta{}))
	assert.Zero(t, fx.objectCount(t))
	assert.Equal(t, models.AuditActionPurge, fx.audit.last().Action)
}

func TestDownloadMissingBytesIsInconsistency(t *testing.T) {
	fx := newFileFixture(t)
	admin := identity(1, models.RoleSuperAdmin)
	file := fx.upload(t, admin, "notes.txt", "hello")
	require.NoError(t, os.Remove(filepath.Join(fx.root, file.Locator())))

	_, err := fx.svc.Download(context.Background(), file.ID, admin)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrStorageInconsistency.Code))
	assert.Equal(t, 404, appErrors.FromError(err).Status)
}

func TestListFiltersByPermission(t *testing.T) {
	fx := newFileFixture(t)
	ctx := context.Background()
	admin := identity(1, models.RoleSuperAdmin)
	viewer := identity(3, models.RoleViewer)

	shared := fx.upload(t, admin, "shared.txt", "a")
	fx.upload(t, admin, "private.txt", "b")
	public, err := fx.svc.Upload(ctx, dto.UploadFileRequest{FileName: "public.txt", Size: 1, Content: strings.NewReader("c"), IsPublic: true}, admin, models.RequestMeta{})
	require.NoError(t, err)
	fx.perms.perms = append(fx.perms.perms, models.FilePermission{FileID: shared.ID, RoleID: 1, RoleName: models.RoleViewer, CanView: true})

	items, page, err := fx.svc.List(ctx, dto.FileListQuery{}, viewer)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, public.ID, items[0].ID)
	assert.Equal(t, shared.ID, items[1].ID)
	assert.Equal(t, 2, page.TotalCount)

	items, _, err = fx.svc.List(ctx, dto.FileListQuery{}, admin)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	_, _, err = fx.svc.List(ctx, dto.FileListQuery{Page: -1}, admin)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))
}

func TestListPagesViewableFilesInBatches(t *testing.T) {
	fx := newFileFixture(t)
	fx.svc.cfg.ListBatchSize = 2
	ctx := context.Background()
	admin := identity(1, models.RoleSuperAdmin)
	viewer := identity(3, models.RoleViewer)

	var public []int64
	for i := 0; i < 7; i++ {
		name := fmt.Sprintf("doc%d.txt", i)
		if i%2 == 0 {
			f, err := fx.svc.Upload(ctx, dto.UploadFileRequest{FileName: name, Size: 1, Content: strings.NewReader("x"), IsPublic: true}, admin, models.RequestMeta{})
			require.NoError(t, err)
			public = append(public, f.ID)
			continue
		}
		fx.upload(t, admin, name, "x")
	}

	items, page, err := fx.svc.List(ctx, dto.FileListQuery{Page: 2, PageSize: 2}, viewer)
	require.NoError(t, err)
	require.Len(t, items, 2)
	// Newest first: public ids are 7, 5, 3, 1.
	assert.Equal(t, public[1], items[0].ID)
	assert.Equal(t, public[0], items[1].ID)
	assert.Equal(t, 4, page.TotalCount)
	assert.Equal(t, 4, fx.files.batches, "seven rows in batches of two")

	items, page, err = fx.svc.List(ctx, dto.FileListQuery{Page: 3, PageSize: 2}, viewer)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NotNil(t, items)
	assert.Equal(t, 4, page.TotalCount)
}

func TestSetPermissionsMergesRolesAndGrants(t *testing.T) {
	fx := newFileFixture(t)
	ctx := context.Background()
	admin := identity(1, models.RoleSuperAdmin)
	file := fx.upload(t, admin, "notes.txt", "hello")

	err := fx.svc.SetPermissions(ctx, file.ID, models.SetPermissionsRequest{Roles: map[int64]bool{1: true}}, identity(2, models.RoleEditor), models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrPermissionDenied.Code))

	err = fx.svc.SetPermissions(ctx, file.ID, models.SetPermissionsRequest{Roles: map[int64]bool{99: true}}, admin, models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))

	err = fx.svc.SetPermissions(ctx, file.ID, models.SetPermissionsRequest{
		Roles:  map[int64]bool{1: true, 2: true},
		Grants: map[int64]models.PermissionGrant{2: {CanView: true, CanEdit: true}},
	}, admin, models.RequestMeta{})
	require.NoError(t, err)

	view, err := fx.svc.GetPermissions(ctx, file.ID, admin)
	require.NoError(t, err)
	require.Len(t, view.Grants, 2)
	assert.True(t, view.Grants[0].CanDownload)
	assert.True(t, view.Grants[1].CanEdit)
	assert.False(t, view.Grants[1].CanDownload)
	assert.Equal(t, map[int64]bool{1: true, 2: true}, view.Roles)
	assert.Equal(t, models.AuditActionPermissionChange, fx.audit.last().Action)
}

func TestPermissionsFromRequestOrdersByRole(t *testing.T) {
	perms, err := permissionsFromRequest(7, models.SetPermissionsRequest{
		Roles:  map[int64]bool{9: true, 3: true, 5: false, 12: true},
		Grants: map[int64]models.PermissionGrant{1: {CanView: true}, 4: {}},
	})
	require.NoError(t, err)

	ids := make([]int64, 0, len(perms))
	for _, p := range perms {
		assert.Equal(t, int64(7), p.FileID)
		ids = append(ids, p.RoleID)
	}
	assert.Equal(t, []int64{1, 3, 9, 12}, ids)
}

func TestServeByTokenOrIdentity(t *testing.T) {
	fx := newFileFixture(t)
	ctx := context.Background()
	admin := identity(1, models.RoleSuperAdmin)
	file := fx.upload(t, admin, "doc.pdf", "%PDF-1.4 body")

	link, err := fx.svc.DownloadLink(ctx, file.ID, admin)
	require.NoError(t, err)
	token := link.URL[strings.Index(link.URL, "token=")+len("token="):]

	content, err := fx.svc.Serve(ctx, file.Locator(), token, true, nil)
	require.NoError(t, err)
	require.NoError(t, content.Body.Close())
	assert.True(t, content.Inline)

	_, err = fx.svc.Serve(ctx, file.Locator(), "bogus", false, nil)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrUnauthenticated.Code))

	_, err = fx.svc.Serve(ctx, file.Locator(), "", false, identity(3, models.RoleViewer))
	assert.True(t, appErrors.IsCode(err, appErrors.ErrPermissionDenied.Code))

	_, err = fx.svc.Serve(ctx, "../etc/passwd", "", false, admin)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrNotFound.Code))
}

func TestConvertCreatesPDFCopy(t *testing.T) {
	fx := newFileFixture(t)
	ctx := context.Background()
	admin := identity(1, models.RoleSuperAdmin)
	file := fx.upload(t, admin, "Notes.TXT", "line one\nline two\n")

	converted, err := fx.svc.Convert(ctx, file.ID, "pdf", admin, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "Notes.pdf", converted.FileName)
	assert.Equal(t, "application/pdf", converted.MimeType)
	assert.NotEqual(t, file.ID, converted.ID)
	assert.Equal(t, models.AuditActionConvert, fx.audit.last().Action)

	_, err = fx.svc.Convert(ctx, converted.ID, "pdf", admin, models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))
}

func TestMirrorJobMovesFileToCloud(t *testing.T) {
	fx := newFileFixture(t)
	ctx := context.Background()
	cloudRoot := t.TempDir()
	cloud, err := storage.NewLocalStore(cloudRoot, storage.NewSignedURLSigner("cloud", time.Minute), "/cloud/")
	require.NoError(t, err)
	fx.svc.mirror = cloudBackend{cloud}
	queue := &enqueueStub{}
	fx.svc.SetMirrorQueue(queue)

	admin := identity(1, models.RoleSuperAdmin)
	file := fx.upload(t, admin, "notes.txt", "hello")

	status, err := fx.svc.Mirror(ctx, file.ID, admin, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "queued", status.Status)
	require.Len(t, queue.jobs, 1)

	job := queue.jobs[0]
	job.ID = status.JobID
	require.NoError(t, fx.svc.RunMirrorJob(ctx, job))

	stored, _ := fx.files.FindByID(ctx, file.ID)
	assert.Equal(t, storage.KindCloud, stored.StorageBackend)
	assert.True(t, stored.IsSyncedToCloud)
	assert.Nil(t, stored.FilePath)
	assert.Zero(t, fx.objectCount(t))

	_, err = fx.svc.Mirror(ctx, file.ID, admin, models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrConflict.Code))
}

func TestMirrorJobWritesOnceWhenMirrorFails(t *testing.T) {
	fx := newFileFixture(t)
	ctx := context.Background()
	cloudRoot := t.TempDir()
	cloud, err := storage.NewLocalStore(cloudRoot, storage.NewSignedURLSigner("cloud", time.Minute), "/cloud/")
	require.NoError(t, err)
	mirror := &failingMirror{cloudBackend: cloudBackend{cloud}}
	fx.svc.mirror = mirror

	failed := make(chan error, 1)
	queue := jobs.NewQueue("mirror", fx.svc.RunMirrorJob, jobs.QueueConfig{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		OnFailure: func(ctx context.Context, job jobs.Job, err error) {
			fx.svc.MirrorJobFailed(ctx, job, err)
			failed <- err
		},
	})
	queue.Start(ctx)
	fx.svc.SetMirrorQueue(queue)

	admin := identity(1, models.RoleSuperAdmin)
	file := fx.upload(t, admin, "notes.txt", "hello")
	_, err = fx.svc.Mirror(ctx, file.ID, admin, models.RequestMeta{})
	require.NoError(t, err)

	select {
	case err := <-failed:
		assert.True(t, appErrors.IsCode(err, appErrors.ErrUpstreamTimeout.Code))
	case <-time.After(2 * time.Second):
		t.Fatal("mirror job did not fail")
	}
	queue.Stop()

	assert.Equal(t, int32(1), atomic.LoadInt32(&mirror.writes))
	entries, err := os.ReadDir(cloudRoot)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "the single attempted write is the only remote object")

	stored, _ := fx.files.FindByID(ctx, file.ID)
	assert.Equal(t, storage.KindLocal, stored.StorageBackend)
	assert.Equal(t, 1, fx.objectCount(t))
}

// failingMirror stores the bytes and then reports a timeout, like an upload whose response was lost.
type failingMirror struct {
	cloudBackend
	writes int32
}

func (m *failingMirror) Write(ctx context.Context, r io.Reader, logicalName string) (storage.Object, error) {
	atomic.AddInt32(&m.writes, 1)
	if _, err := m.cloudBackend.Write(ctx, r, logicalName); err != nil {
		return storage.Object{}, err
	}
	return storage.Object{}, appErrors.Clone(appErrors.ErrUpstreamTimeout, "mirror write timed out")
}

// cloudBackend presents a directory store as the cloud mirror.
type cloudBackend struct{ *storage.LocalStore }

func (cloudBackend) Kind() storage.Kind { return storage.KindCloud }
