package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/filevault-api/internal/models"
	"github.com/noah-isme/filevault-api/pkg/convert"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
)

const maxAuditExportRows = 10000

// Export formats.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

type auditStore interface {
	Create(ctx context.Context, entry *models.AuditLog) error
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error)
}

// auditRecorder is what mutating services depend on.
type auditRecorder interface {
	Record(ctx context.Context, entry *models.AuditLog) error
}

// AuditExport is a rendered audit log export.
type AuditExport struct {
	Content     []byte
	ContentType string
	FileName    string
}

// AuditService writes and reads the audit trail.
type AuditService struct {
	repo   auditStore
	logger *zap.Logger
	now    func() time.Time
}

// NewAuditService constructs the service.
func NewAuditService(repo auditStore, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{repo: repo, logger: logger, now: time.Now}
}

// Record appends entry synchronously. Callers fail their request when this fails.
func (s *AuditService) Record(ctx context.Context, entry *models.AuditLog) error {
	if entry == nil || !entry.Action.Valid() {
		return appErrors.Internal(fmt.Errorf("invalid audit action"), "failed to record audit log")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		s.logger.Error("audit write failed",
			zap.String("action", string(entry.Action)),
			zap.Int64p("user_id", entry.UserID),
			zap.Int64p("file_id", entry.FileID),
			zap.Error(err),
		)
		return appErrors.Internal(err, "failed to record audit log")
	}
	return nil
}

// List returns a page of entries, newest first.
func (s *AuditService) List(ctx context.Context, query models.AuditQuery) ([]models.AuditLog, *models.Pagination, error) {
	page, size, err := normalizePage(query.Page, query.PageSize)
	if err != nil {
		return nil, nil, err
	}
	filter, err := auditFilter(query)
	if err != nil {
		return nil, nil, err
	}
	filter.Limit = size
	filter.Offset = (page - 1) * size

	entries, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list audit logs")
	}
	return entries, models.NewPagination(page, size, total), nil
}

// Export renders matching entries as CSV or PDF.
func (s *AuditService) Export(ctx context.Context, query models.AuditQuery, format string) (*AuditExport, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	filter, err := auditFilter(query)
	if err != nil {
		return nil, err
	}
	filter.Limit = maxAuditExportRows

	entries, _, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load audit logs")
	}
	dataset := auditDataset(entries)
	stamp := s.now().UTC().Format("20060102-150405")

	if format == ExportFormatPDF {
		content, err := convert.RenderPDF(dataset, "Audit log")
		if err != nil {
			return nil, appErrors.Internal(err, "failed to render audit export")
		}
		return &AuditExport{Content: content, ContentType: "application/pdf", FileName: "audit-" + stamp + ".pdf"}, nil
	}
	content, err := convert.RenderCSV(dataset)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render audit export")
	}
	return &AuditExport{Content: content, ContentType: "text/csv", FileName: "audit-" + stamp + ".csv"}, nil
}

func auditFilter(query models.AuditQuery) (models.AuditFilter, error) {
	if query.Action != "" && !query.Action.Valid() {
		return models.AuditFilter{}, appErrors.Clone(appErrors.ErrValidation, "unknown audit action")
	}
	if query.From != nil && query.To != nil && query.From.After(*query.To) {
		return models.AuditFilter{}, appErrors.Clone(appErrors.ErrValidation, "from must not be after to")
	}
	return models.AuditFilter{
		UserID: query.UserID,
		FileID: query.FileID,
		Action: query.Action,
		From:   query.From,
		To:     query.To,
	}, nil
}

var auditHeaders = []string{"id", "created_at", "user_id", "action", "file_id", "ip_address", "user_agent", "detail"}

func auditDataset(entries []models.AuditLog) convert.Dataset {
	rows := make([]map[string]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, map[string]string{
			"id":         strconv.FormatInt(e.ID, 10),
			"created_at": e.CreatedAt.UTC().Format(time.RFC3339),
			"user_id":    optionalID(e.UserID),
			"action":     string(e.Action),
			"file_id":    optionalID(e.FileID),
			"ip_address": e.IPAddress,
			"user_agent": e.UserAgent,
			"detail":     e.Detail,
		})
	}
	return convert.Dataset{Headers: auditHeaders, Rows: rows}
}

func optionalID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}

// newAuditEntry fills the common fields of an audit entry.
func newAuditEntry(action models.AuditAction, actor *models.Identity, fileID *int64, meta models.RequestMeta, detail string) *models.AuditLog {
	entry := &models.AuditLog{
		Action:    action,
		FileID:    fileID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Detail:    detail,
	}
	if actor != nil {
		id := actor.UserID
		entry.UserID = &id
	}
	return entry
}

// auditOutcome records entry for a finished operation. A failed operation is recorded with its
// error code and its error is returned whatever happens to the audit write; a successful one fails
// when the audit write fails.
func auditOutcome(ctx context.Context, audit auditRecorder, logger *zap.Logger, entry *models.AuditLog, opErr error) error {
	if audit == nil {
		return opErr
	}
	if opErr == nil {
		return audit.Record(ctx, entry)
	}
	entry.Detail = strings.TrimSpace(entry.Detail + " failed: " + appErrors.FromError(opErr).Code)
	if err := audit.Record(context.WithoutCancel(ctx), entry); err != nil {
		logger.Error("audit write for failed operation",
			zap.String("action", string(entry.Action)),
			zap.NamedError("operation_error", opErr),
			zap.Error(err),
		)
	}
	return opErr
}
