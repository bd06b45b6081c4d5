package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/filevault-api/internal/models"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
)

type auditStoreStub struct {
	created   []models.AuditLog
	createErr error
	entries   []models.AuditLog
	filter    models.AuditFilter
}

func (s *auditStoreStub) Create(_ context.Context, entry *models.AuditLog) error {
	if s.createErr != nil {
		return s.createErr
	}
	entry.ID = int64(len(s.created) + 1)
	s.created = append(s.created, *entry)
	return nil
}

func (s *auditStoreStub) List(_ context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error) {
	s.filter = filter
	return s.entries, len(s.entries), nil
}

func fixedAuditService(store *auditStoreStub) *AuditService {
	svc := NewAuditService(store, nil)
	svc.now = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) }
	return svc
}

func TestAuditRecordStampsAndRejectsUnknownActions(t *testing.T) {
	store := &auditStoreStub{}
	svc := fixedAuditService(store)

	require.NoError(t, svc.Record(context.Background(), &models.AuditLog{Action: models.AuditActionUpload}))
	require.Len(t, store.created, 1)
	assert.Equal(t, 2024, store.created[0].CreatedAt.Year())

	err := svc.Record(context.Background(), &models.AuditLog{Action: "TELEPORT"})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrInternal.Code))
	assert.Len(t, store.created, 1)
}

func TestAuditRecordSurfacesStoreFailure(t *testing.T) {
	svc := fixedAuditService(&auditStoreStub{createErr: errors.New("disk full")})
	err := svc.Record(context.Background(), &models.AuditLog{Action: models.AuditActionDelete})
	require.Error(t, err)
	assert.NotContains(t, appErrors.FromError(err).Message, "disk full")
}

func TestAuditListValidatesFilters(t *testing.T) {
	store := &auditStoreStub{}
	svc := fixedAuditService(store)
	from := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)

	_, _, err := svc.List(context.Background(), models.AuditQuery{From: &from, To: &to})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))

	_, _, err = svc.List(context.Background(), models.AuditQuery{Action: "NOPE"})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))

	_, pag, err := svc.List(context.Background(), models.AuditQuery{Action: models.AuditActionLogin, Page: 3, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 20, store.filter.Offset)
	assert.Equal(t, 10, store.filter.Limit)
	assert.Equal(t, 3, pag.Page)
}

func TestAuditExportCSVAndPDF(t *testing.T) {
	fileID := int64(12)
	userID := int64(4)
	store := &auditStoreStub{entries: []models.AuditLog{{
		ID: 1, UserID: &userID, FileID: &fileID, Action: models.AuditActionPurge,
		CreatedAt: time.Date(2024, 2, 2, 8, 0, 0, 0, time.UTC), IPAddress: "10.0.0.1", Detail: "purged report.pdf",
	}}}
	svc := fixedAuditService(store)

	csvExport, err := svc.Export(context.Background(), models.AuditQuery{}, "")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", csvExport.ContentType)
	assert.Equal(t, "audit-20240301-093000.csv", csvExport.FileName)
	lines := strings.Split(strings.TrimSpace(string(csvExport.Content)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "id,created_at,user_id,action,file_id,ip_address,user_agent,detail", lines[0])
	assert.Contains(t, lines[1], "PURGE,12,10.0.0.1")
	assert.Equal(t, maxAuditExportRows, store.filter.Limit)

	pdfExport, err := svc.Export(context.Background(), models.AuditQuery{}, "PDF")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", pdfExport.ContentType)
	assert.True(t, strings.HasPrefix(string(pdfExport.Content), "%PDF"))

	_, err = svc.Export(context.Background(), models.AuditQuery{}, "xlsx")
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))
}

func TestAuditOutcomeKeepsOperationError(t *testing.T) {
	store := &auditStoreStub{createErr: errors.New("db down")}
	svc := fixedAuditService(store)
	opErr := appErrors.Clone(appErrors.ErrPermissionDenied, "nope")

	entry := newAuditEntry(models.AuditActionUpdate, identity(3, models.RoleViewer), nil, models.RequestMeta{}, "rename")
	err := auditOutcome(context.Background(), svc, svc.logger, entry, opErr)
	assert.Same(t, opErr, err)
	assert.Contains(t, entry.Detail, "failed: PERMISSION_DENIED")

	err = auditOutcome(context.Background(), svc, svc.logger, newAuditEntry(models.AuditActionUpdate, nil, nil, models.RequestMeta{}, ""), nil)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrInternal.Code))
}
