package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/filevault-api/internal/models"
	"github.com/noah-isme/filevault-api/internal/service"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
	"github.com/noah-isme/filevault-api/pkg/response"
)

type auditService interface {
	List(ctx context.Context, query models.AuditQuery) ([]models.AuditLog, *models.Pagination, error)
	Export(ctx context.Context, query models.AuditQuery, format string) (*service.AuditExport, error)
}

// AuditHandler exposes the audit trail.
type AuditHandler struct {
	service auditService
}

// NewAuditHandler creates an audit handler.
func NewAuditHandler(svc auditService) *AuditHandler {
	return &AuditHandler{service: svc}
}

// List godoc
// @Summary List audit logs
// @Tags Audit
// @Produce json
// @Param user_id query int false "Actor filter"
// @Param file_id query int false "File filter"
// @Param action query string false "Action filter"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /audit-logs [get]
func (h *AuditHandler) List(c *gin.Context) {
	query, err := auditQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if query.Page, err = queryPositiveInt(c, "page"); err != nil {
		response.Error(c, err)
		return
	}
	if query.PageSize, err = queryPositiveInt(c, "page_size"); err != nil {
		response.Error(c, err)
		return
	}
	entries, pagination, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}

// Export godoc
// @Summary Export audit logs
// @Tags Audit
// @Produce text/csv,application/pdf
// @Param format query string false "csv or pdf"
// @Success 200 {file} binary
// @Router /audit-logs/export [get]
func (h *AuditHandler) Export(c *gin.Context) {
	query, err := auditQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	export, err := h.service.Export(c.Request.Context(), query, c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=\""+export.FileName+"\"")
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, export.ContentType, export.Content)
}

func auditQuery(c *gin.Context) (models.AuditQuery, error) {
	var (
		query models.AuditQuery
		err   error
	)
	if query.UserID, err = queryOptionalID(c, "user_id"); err != nil {
		return query, err
	}
	if query.FileID, err = queryOptionalID(c, "file_id"); err != nil {
		return query, err
	}
	query.Action = models.AuditAction(strings.ToUpper(strings.TrimSpace(c.Query("action"))))
	if query.From, err = queryTime(c, "from"); err != nil {
		return query, err
	}
	if query.To, err = queryTime(c, "to"); err != nil {
		return query, err
	}
	return query, nil
}

func queryTime(c *gin.Context, key string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, key+" must be an RFC3339 timestamp")
	}
	return &t, nil
}
