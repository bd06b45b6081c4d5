package handler

import (
	"context"
	"errors"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/filevault-api/internal/dto"
	"github.com/noah-isme/filevault-api/internal/models"
	"github.com/noah-isme/filevault-api/internal/service"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
	"github.com/noah-isme/filevault-api/pkg/response"
	"github.com/noah-isme/filevault-api/pkg/storage"
)

type fileService interface {
	List(ctx context.Context, query dto.FileListQuery, actor *models.Identity) ([]models.FileRecord, *models.Pagination, error)
	Get(ctx context.Context, fileID int64, actor *models.Identity) (*models.FileRecord, error)
	Capabilities(ctx context.Context, fileID int64, actor *models.Identity) (models.Capabilities, error)
	Upload(ctx context.Context, req dto.UploadFileRequest, actor *models.Identity, meta models.RequestMeta) (*models.FileRecord, error)
	Update(ctx context.Context, fileID int64, req dto.UpdateFileRequest, actor *models.Identity, meta models.RequestMeta) (*models.FileRecord, error)
	Delete(ctx context.Context, fileID int64, actor *models.Identity, meta models.RequestMeta) error
	Purge(ctx context.Context, fileID int64, actor *models.Identity, meta models.RequestMeta) error
	Download(ctx context.Context, fileID int64, actor *models.Identity) (*service.FileContent, error)
	DownloadLink(ctx context.Context, fileID int64, actor *models.Identity) (*models.FileLink, error)
	Serve(ctx context.Context, name, token string, view bool, actor *models.Identity) (*service.FileContent, error)
	GetPermissions(ctx context.Context, fileID int64, actor *models.Identity) (*models.FilePermissionsView, error)
	SetPermissions(ctx context.Context, fileID int64, req models.SetPermissionsRequest, actor *models.Identity, meta models.RequestMeta) error
	Convert(ctx context.Context, fileID int64, target string, actor *models.Identity, meta models.RequestMeta) (*models.FileRecord, error)
	Mirror(ctx context.Context, fileID int64, actor *models.Identity, meta models.RequestMeta) (*models.MirrorJobStatus, error)
}

// Multipart form fields.
const (
	formFile       = "file"
	formFileName   = "fileName"
	formCategoryID = "categoryId"
	formIsPublic   = "isPublic"
	formMirror     = "mirror"
	formVersion    = "version"
)

// multipartOverhead is added to the upload limit when capping the request body so that form
// boundaries and small fields do not count against the file itself.
const multipartOverhead = 1 << 20

// FileHandler exposes the file registry over HTTP.
type FileHandler struct {
	service      fileService
	maxBodyBytes int64
}

// NewFileHandler creates a file handler. maxUploadBytes caps request bodies on upload and update;
// zero disables the cap.
func NewFileHandler(svc fileService, maxUploadBytes int64) *FileHandler {
	h := &FileHandler{service: svc}
	if maxUploadBytes > 0 {
		h.maxBodyBytes = maxUploadBytes + multipartOverhead
	}
	return h
}

// List godoc
// @Summary List files
// @Description Lists active files the caller can view, newest first. Supports keyword search and filters
// @Tags Files
// @Produce json
// @Param page query int false "Page number (>= 1)"
// @Param page_size query int false "Page size (1-100)"
// @Param q query string false "Case-insensitive name substring"
// @Param category_id query int false "Category filter"
// @Param uploaded_by query int false "Uploader filter"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /files [get]
func (h *FileHandler) List(c *gin.Context) {
	var (
		query dto.FileListQuery
		err   error
	)
	if query.Page, err = queryPositiveInt(c, "page"); err != nil {
		response.Error(c, err)
		return
	}
	if query.PageSize, err = queryPositiveInt(c, "page_size"); err != nil {
		response.Error(c, err)
		return
	}
	if query.CategoryID, err = queryOptionalID(c, "category_id"); err != nil {
		response.Error(c, err)
		return
	}
	if query.UploadedBy, err = queryOptionalID(c, "uploaded_by"); err != nil {
		response.Error(c, err)
		return
	}
	query.Query = strings.TrimSpace(c.Query("q"))

	files, pagination, err := h.service.List(c.Request.Context(), query, identityFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, files, pagination)
}

// Get godoc
// @Summary Get file metadata
// @Tags Files
// @Produce json
// @Param id path int true "File ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /files/{id} [get]
func (h *FileHandler) Get(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.service.Get(c.Request.Context(), id, identityFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, file, nil)
}

// Capabilities godoc
// @Summary Effective capabilities
// @Description Returns what the caller may do with the file
// @Tags Files
// @Produce json
// @Param id path int true "File ID"
// @Success 200 {object} response.Envelope
// @Router /files/{id}/capabilities [get]
func (h *FileHandler) Capabilities(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	caps, err := h.service.Capabilities(c.Request.Context(), id, identityFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, caps, nil)
}

// Upload godoc
// @Summary Upload file
// @Description Stores a new document. Set mirror=true to write it to the cloud mirror instead of local storage
// @Tags Files
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Document"
// @Param fileName formData string false "Logical name (defaults to the uploaded name)"
// @Param categoryId formData int false "Category"
// @Param isPublic formData bool false "Public flag"
// @Param mirror formData bool false "Store on the cloud mirror"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /files [post]
func (h *FileHandler) Upload(c *gin.Context) {
	h.limitBody(c)
	fileHeader, err := c.FormFile(formFile)
	if err != nil {
		response.Error(c, multipartError(err, "file is required"))
		return
	}
	content, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Internal(err, "failed to read upload"))
		return
	}
	defer content.Close()

	req := dto.UploadFileRequest{
		FileName: strings.TrimSpace(c.PostForm(formFileName)),
		Size:     fileHeader.Size,
		Content:  content,
	}
	if req.FileName == "" {
		req.FileName = fileHeader.Filename
	}
	if req.CategoryID, err = formOptionalID(c, formCategoryID); err != nil {
		response.Error(c, err)
		return
	}
	if req.IsPublic, err = formBool(c, formIsPublic); err != nil {
		response.Error(c, err)
		return
	}
	mirror, err := formBool(c, formMirror)
	if err != nil {
		response.Error(c, err)
		return
	}
	if mirror {
		req.Backend = storage.KindCloud
	}

	file, err := h.service.Upload(c.Request.Context(), req, identityFromContext(c), requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, file)
}

// Update godoc
// @Summary Update file
// @Description Changes metadata and optionally replaces content. Send version to guard against concurrent edits
// @Tags Files
// @Accept multipart/form-data
// @Produce json
// @Param id path int true "File ID"
// @Param file formData file false "Replacement content"
// @Param fileName formData string false "New logical name (extension must not change)"
// @Param categoryId formData string false "Category id, empty to clear"
// @Param isPublic formData bool false "Public flag"
// @Param version formData int false "Expected version"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /files/{id} [put]
func (h *FileHandler) Update(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	h.limitBody(c)

	var req dto.UpdateFileRequest
	fileHeader, err := c.FormFile(formFile)
	switch {
	case err == nil:
		content, openErr := fileHeader.Open()
		if openErr != nil {
			response.Error(c, appErrors.Internal(openErr, "failed to read upload"))
			return
		}
		defer content.Close()
		req.Content = content
		req.ContentName = fileHeader.Filename
		req.Size = fileHeader.Size
	case !errors.Is(err, http.ErrMissingFile):
		response.Error(c, multipartError(err, "invalid multipart payload"))
		return
	}

	if name, ok := c.GetPostForm(formFileName); ok {
		name = strings.TrimSpace(name)
		req.FileName = &name
	}
	if raw, ok := c.GetPostForm(formCategoryID); ok {
		raw = strings.TrimSpace(raw)
		if raw == "" || raw == "null" {
			req.ClearCategory = true
		} else if req.CategoryID, err = formOptionalID(c, formCategoryID); err != nil {
			response.Error(c, err)
			return
		}
	}
	if _, ok := c.GetPostForm(formIsPublic); ok {
		public, err := formBool(c, formIsPublic)
		if err != nil {
			response.Error(c, err)
			return
		}
		req.IsPublic = &public
	}
	if raw := strings.TrimSpace(c.PostForm(formVersion)); raw != "" {
		version, err := strconv.Atoi(raw)
		if err != nil || version < 1 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "version must be a positive integer"))
			return
		}
		req.Version = &version
	}

	file, err := h.service.Update(c.Request.Context(), id, req, identityFromContext(c), requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, file, nil)
}

// Delete godoc
// @Summary Soft delete file
// @Tags Files
// @Param id path int true "File ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /files/{id} [delete]
func (h *FileHandler) Delete(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.service.Delete(c.Request.Context(), id, identityFromContext(c), requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Purge godoc
// @Summary Purge file
// @Description Permanently removes an inactive file and its stored bytes (SuperAdmin)
// @Tags Files
// @Param id path int true "File ID"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /files/{id}/purge [delete]
func (h *FileHandler) Purge(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.service.Purge(c.Request.Context(), id, identityFromContext(c), requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Download godoc
// @Summary Download file
// @Description Streams the file as an attachment. Missing bytes yield 404 STORAGE_INCONSISTENCY
// @Tags Files
// @Produce octet-stream
// @Param id path int true "File ID"
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Failure 410 {object} response.Envelope
// @Router /files/download/{id} [get]
func (h *FileHandler) Download(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	content, err := h.service.Download(c.Request.Context(), id, identityFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	writeContent(c, content)
}

// Serve godoc
// @Summary Serve file by stored name
// @Description Streams a locally stored file. Accepts either a bearer token or a signed link token. Inline only for viewable types when view=true
// @Tags Files
// @Produce octet-stream
// @Param name path string true "Stored name"
// @Param view query bool false "Render inline"
// @Param token query string false "Signed link token"
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Router /files/serve/{name} [get]
func (h *FileHandler) Serve(c *gin.Context) {
	view, err := queryBool(c, "view")
	if err != nil {
		response.Error(c, err)
		return
	}
	content, err := h.service.Serve(c.Request.Context(), c.Param("name"), c.Query("token"), view, identityFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	writeContent(c, content)
}

// Link godoc
// @Summary Download link
// @Description Returns a signed local URL or a cloud mirror link
// @Tags Files
// @Produce json
// @Param id path int true "File ID"
// @Success 200 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Failure 504 {object} response.Envelope
// @Router /files/{id}/link [get]
func (h *FileHandler) Link(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	link, err := h.service.DownloadLink(c.Request.Context(), id, identityFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// GetPermissions godoc
// @Summary File permissions
// @Description Returns a role id to view flag map plus the detailed grants
// @Tags Files
// @Produce json
// @Param id path int true "File ID"
// @Success 200 {object} response.Envelope
// @Router /files/{id}/permissions [get]
func (h *FileHandler) GetPermissions(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	view, err := h.service.GetPermissions(c.Request.Context(), id, identityFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// SetPermissions godoc
// @Summary Set file permissions
// @Description Replaces the per-role grants on a file
// @Tags Files
// @Accept json
// @Param id path int true "File ID"
// @Param payload body models.SetPermissionsRequest true "Grants"
// @Success 204 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /files/{id}/permissions [post]
func (h *FileHandler) SetPermissions(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req models.SetPermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindingError(err, "invalid permissions payload"))
		return
	}
	if err := h.service.SetPermissions(c.Request.Context(), id, req, identityFromContext(c), requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Convert godoc
// @Summary Convert file
// @Description Creates a converted copy of the file as a new record
// @Tags Files
// @Accept json
// @Produce json
// @Param id path int true "File ID"
// @Param payload body dto.ConvertFileRequest true "Target format"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /files/{id}/convert [post]
func (h *FileHandler) Convert(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.ConvertFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindingError(err, "invalid convert payload"))
		return
	}
	file, err := h.service.Convert(c.Request.Context(), id, req.Target, identityFromContext(c), requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, file)
}

// Mirror godoc
// @Summary Move file to cloud mirror
// @Description Queues a background move of a local file to the configured cloud mirror
// @Tags Files
// @Produce json
// @Param id path int true "File ID"
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /files/{id}/mirror [post]
func (h *FileHandler) Mirror(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	status, err := h.service.Mirror(c.Request.Context(), id, identityFromContext(c), requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, status)
}

func (h *FileHandler) limitBody(c *gin.Context) {
	if h.maxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	}
}

// writeContent streams an opened file. The body is always closed.
func writeContent(c *gin.Context, content *service.FileContent) {
	defer content.Body.Close()

	disposition := "attachment"
	if content.Inline {
		disposition = "inline"
	}
	headers := map[string]string{
		"Content-Disposition":    mime.FormatMediaType(disposition, map[string]string{"filename": content.FileName}),
		"Cache-Control":          "private, no-store",
		"X-Content-Type-Options": "nosniff",
	}
	if !content.ModifiedAt.IsZero() {
		headers["Last-Modified"] = content.ModifiedAt.UTC().Format(http.TimeFormat)
	}
	mimeType := content.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	size := content.Size
	if size <= 0 {
		size = -1
	}
	c.DataFromReader(http.StatusOK, size, mimeType, content.Body, headers)
}

func multipartError(err error, message string) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "upload exceeds the size limit")
	}
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, multipart.ErrMessageTooLarge) || errors.Is(err, http.ErrNotMultipart) {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message)
	}
	return bindingError(err, message)
}

func formOptionalID(c *gin.Context, key string) (*int64, error) {
	raw := strings.TrimSpace(c.PostForm(key))
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid "+key)
	}
	return &id, nil
}

func formBool(c *gin.Context, key string) (bool, error) {
	raw := strings.TrimSpace(c.PostForm(key))
	if raw == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, appErrors.Clone(appErrors.ErrValidation, key+" must be a boolean")
	}
	return value, nil
}
