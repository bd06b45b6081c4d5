package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/filevault-api/internal/service"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
	"github.com/noah-isme/filevault-api/pkg/response"
)

type storageScanner interface {
	Run(ctx context.Context) (*service.ScanReport, error)
}

// StorageHandler runs the storage consistency scan on demand.
type StorageHandler struct {
	scanner storageScanner
}

// NewStorageHandler creates a storage handler.
func NewStorageHandler(scanner storageScanner) *StorageHandler {
	return &StorageHandler{scanner: scanner}
}

// Scan godoc
// @Summary Run storage consistency scan
// @Description Compares file records with stored bytes and reports mismatches and orphans. Never repairs (SuperAdmin)
// @Tags Storage
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/storage/scan [post]
func (h *StorageHandler) Scan(c *gin.Context) {
	report, err := h.scanner.Run(c.Request.Context())
	if err != nil {
		if errors.Is(err, service.ErrScanRunning) {
			response.Error(c, appErrors.Clone(appErrors.ErrConflict, "a storage scan is already running"))
			return
		}
		response.Error(c, appErrors.Internal(err, "storage scan failed"))
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}
