package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/filevault-api/internal/models"
	"github.com/noah-isme/filevault-api/pkg/convert"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
	"github.com/noah-isme/filevault-api/pkg/storage"
)

type storedObject struct {
	backend   storage.Backend
	locator   string
	extension string
	mimeType  string
	size      int64
}

// store validates content for the target backend and writes it. The object is removed again when
// the stream turned out to exceed the size limit.
func (s *FileService) store(ctx context.Context, kind storage.Kind, name string, size int64, content io.Reader) (*storedObject, error) {
	backend, validator, err := s.target(kind)
	if err != nil {
		return nil, err
	}
	payload, err := validator.Prepare(name, size, content)
	if err != nil {
		return nil, validationFailure(err)
	}
	obj, err := backend.Write(ctx, payload, payload.Name)
	if perr := payload.Err(); perr != nil {
		if err == nil {
			s.discard(ctx, backend, obj.Locator)
		}
		return nil, validationFailure(perr)
	}
	if err != nil {
		return nil, s.writeFailure(kind, err)
	}
	if obj.Size == 0 {
		s.discard(ctx, backend, obj.Locator)
		return nil, validationFailure(storage.ErrEmptyContent)
	}
	return &storedObject{
		backend:   backend,
		locator:   obj.Locator,
		extension: payload.Extension,
		mimeType:  payload.MimeType,
		size:      obj.Size,
	}, nil
}

func (s *FileService) target(kind storage.Kind) (storage.Backend, *storage.Validator, error) {
	switch kind {
	case storage.KindLocal:
		return s.local, s.localCheck, nil
	case storage.KindCloud:
		if s.mirror == nil {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "cloud storage is not configured")
		}
		validator := s.mirrorCheck
		if validator == nil {
			validator = s.localCheck
		}
		return s.mirror, validator, nil
	default:
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "storage backend must be local or cloud")
	}
}

func (s *FileService) backendFor(kind storage.Kind) (storage.Backend, error) {
	backend, _, err := s.target(kind)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrStorageInconsistency, "file is stored on an unavailable backend")
	}
	return backend, nil
}

// discard removes an object that is no longer referenced. Failures leave an orphan for the
// consistency scan and are only logged.
func (s *FileService) discard(ctx context.Context, backend storage.Backend, locator string) {
	if backend == nil || locator == "" {
		return
	}
	if err := backend.Delete(context.WithoutCancel(ctx), locator); err != nil && !errors.Is(err, storage.ErrObjectMissing) {
		s.logger.Warn("failed to remove stored object",
			zap.String("backend", string(backend.Kind())),
			zap.String("locator", locator),
			zap.Error(err),
		)
	}
}

func (s *FileService) discardStored(ctx context.Context, obj *storedObject) {
	if obj != nil {
		s.discard(ctx, obj.backend, obj.locator)
	}
}

func validationFailure(err error) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
}

func (s *FileService) writeFailure(kind storage.Kind, err error) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	s.logger.Error("storage write failed", zap.String("backend", string(kind)), zap.Error(err))
	return appErrors.Internal(err, "failed to store file")
}

// storageFailure maps a read side backend error for file. A locator that no longer resolves means
// metadata and bytes have diverged.
func (s *FileService) storageFailure(file *models.FileRecord, err error) error {
	if errors.Is(err, storage.ErrObjectMissing) || errors.Is(err, storage.ErrInvalidLocator) {
		s.logger.Error("storage inconsistency",
			zap.Int64("file_id", file.ID),
			zap.String("backend", string(file.StorageBackend)),
			zap.String("locator", file.Locator()),
			zap.Error(err),
		)
		return appErrors.ErrStorageInconsistency
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	s.logger.Error("storage read failed", zap.Int64("file_id", file.ID), zap.Error(err))
	return appErrors.Internal(err, "failed to read file")
}

// Download opens the bytes of an active file for an authorised caller.
func (s *FileService) Download(ctx context.Context, fileID int64, actor *models.Identity) (*FileContent, error) {
	file, err := s.loadActive(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, models.CapabilityDownload, file, actor); err != nil {
		return nil, err
	}
	return s.open(ctx, file, false)
}

// DownloadLink returns a time limited link to the file bytes. Local files get a signed serve URL;
// cloud files get the provider link.
func (s *FileService) DownloadLink(ctx context.Context, fileID int64, actor *models.Identity) (*models.FileLink, error) {
	file, err := s.loadActive(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, models.CapabilityDownload, file, actor); err != nil {
		return nil, err
	}
	backend, err := s.backendFor(file.StorageBackend)
	if err != nil {
		return nil, err
	}
	url, err := backend.DownloadLink(ctx, file.Locator())
	if err != nil {
		return nil, s.storageFailure(file, err)
	}
	return &models.FileLink{FileID: file.ID, Backend: file.StorageBackend, URL: url}, nil
}

// Serve streams a local file by its physical name. A valid signed token grants access on its own;
// without one the caller must be authenticated and allowed to download. Inline disposition is used
// only when view is requested and the extension is browser viewable.
func (s *FileService) Serve(ctx context.Context, name, token string, view bool, actor *models.Identity) (*FileContent, error) {
	if name == "" || strings.ContainsAny(name, "/\\") {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
	}
	if token != "" {
		if s.serveTokens == nil || s.serveTokens.VerifyToken(token, name) != nil {
			return nil, appErrors.Clone(appErrors.ErrUnauthenticated, "invalid or expired link")
		}
	} else if actor == nil {
		return nil, appErrors.ErrUnauthenticated
	}

	file, err := s.files.FindByLocalPath(ctx, name)
	if err != nil {
		return nil, s.loadFailure(err)
	}
	if !file.IsActive {
		return nil, appErrors.ErrFileInactive
	}
	if token == "" {
		if err := s.authz.Authorize(ctx, models.CapabilityDownload, file, actor); err != nil {
			return nil, err
		}
	}
	return s.open(ctx, file, view && s.isViewable(file.Extension))
}

func (s *FileService) isViewable(ext string) bool {
	_, ok := s.viewable[strings.ToLower(ext)]
	return ok
}

func (s *FileService) open(ctx context.Context, file *models.FileRecord, inline bool) (*FileContent, error) {
	backend, err := s.backendFor(file.StorageBackend)
	if err != nil {
		return nil, err
	}
	body, err := backend.Open(ctx, file.Locator())
	if err != nil {
		return nil, s.storageFailure(file, err)
	}
	modified := file.UploadedAt
	if file.ModifiedAt != nil {
		modified = *file.ModifiedAt
	}
	return &FileContent{
		Body:       body,
		FileName:   file.FileName,
		MimeType:   file.MimeType,
		Size:       file.SizeBytes,
		Inline:     inline,
		ModifiedAt: modified,
	}, nil
}

func (s *FileService) loadFailure(err error) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "file not found")
	}
	return appErrors.Internal(err, "failed to load file")
}

// Convert renders a file as PDF and registers the result as a new file owned by the caller, in the
// same category and on the same backend as the source.
func (s *FileService) Convert(ctx context.Context, fileID int64, target string, actor *models.Identity, meta models.RequestMeta) (*models.FileRecord, error) {
	entry := newAuditEntry(models.AuditActionConvert, actor, &fileID, meta, "convert to "+target)
	converted, err := s.convert(ctx, fileID, target, actor)
	if converted != nil {
		entry.Detail = "converted to file " + optionalID(&converted.ID)
	}
	if err := auditOutcome(ctx, s.audit, s.logger, entry, err); err != nil {
		return nil, err
	}
	return converted, nil
}

func (s *FileService) convert(ctx context.Context, fileID int64, target string, actor *models.Identity) (*models.FileRecord, error) {
	if !strings.EqualFold(strings.TrimSpace(target), "pdf") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "target must be pdf")
	}
	file, err := s.loadActive(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, models.CapabilityDownload, file, actor); err != nil {
		return nil, err
	}
	if !actor.HasAnyRole(models.UploadRoles...) {
		s.metrics.RecordPermissionDenied(string(models.CapabilityUpload))
		return nil, appErrors.ErrPermissionDenied
	}
	if !s.converter.Supports(file.Extension) {
		return nil, appErrors.Clone(appErrors.ErrValidation, convert.ErrUnsupportedSource.Error())
	}

	content, err := s.open(ctx, file, false)
	if err != nil {
		return nil, err
	}
	defer content.Body.Close()

	pdf, err := s.converter.ToPDF(file.Extension, file.FileName, content.Body)
	if err != nil {
		if errors.Is(err, convert.ErrSourceTooLarge) || errors.Is(err, convert.ErrUnsupportedSource) {
			return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
		}
		return nil, appErrors.Internal(err, "failed to convert file")
	}

	name := strings.TrimSuffix(file.FileName, path.Ext(file.FileName)) + ".pdf"
	return s.create(ctx, file.StorageBackend, name, int64(len(pdf)), bytes.NewReader(pdf), file.CategoryID, file.IsPublic, actor)
}
