package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/filevault-api/internal/models"
)

func TestAuditRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	userID, fileID := int64(1), int64(2)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WithArgs(&userID, models.AuditActionUpload, &fileID, "127.0.0.1", "curl", "uploaded", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))

	entry := &models.AuditLog{UserID: &userID, Action: models.AuditActionUpload, FileID: &fileID, IPAddress: "127.0.0.1", UserAgent: "curl", Detail: "uploaded"}
	require.NoError(t, repo.Create(context.Background(), entry))
	assert.Equal(t, int64(11), entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	fileID := int64(2)
	rows := sqlmock.NewRows([]string{"id", "user_id", "action", "file_id", "ip_address", "user_agent", "detail", "created_at"}).
		AddRow(int64(11), int64(1), "DELETE", fileID, "", "", "", time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_logs WHERE file_id = $1 AND action = $2 ORDER BY id DESC LIMIT 20 OFFSET 40")).
		WithArgs(fileID, models.AuditActionDelete).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_logs WHERE file_id = $1 AND action = $2")).
		WithArgs(fileID, models.AuditActionDelete).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(41))

	entries, total, err := repo.List(context.Background(), models.AuditFilter{FileID: &fileID, Action: models.AuditActionDelete, Limit: 20, Offset: 40})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditActionDelete, entries[0].Action)
	assert.Equal(t, 41, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
