package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/filevault-api/internal/models"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
)

type permissionStore interface {
	ListByFile(ctx context.Context, fileID int64) ([]models.FilePermission, error)
	ListForRoles(ctx context.Context, fileIDs []int64, roles []models.RoleName) ([]models.FilePermission, error)
	Replace(ctx context.Context, fileID int64, perms []models.FilePermission) error
}

// PermissionEvaluator decides what an identity may do with a file. Grants are read from the store
// on every call; nothing is cached across requests.
type PermissionEvaluator struct {
	store   permissionStore
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewPermissionEvaluator constructs the evaluator.
func NewPermissionEvaluator(store permissionStore, metrics *MetricsService, logger *zap.Logger) *PermissionEvaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PermissionEvaluator{store: store, metrics: metrics, logger: logger, now: time.Now}
}

// CanPerform reports whether identity holds capability on file.
func (e *PermissionEvaluator) CanPerform(ctx context.Context, capability models.Capability, file *models.FileRecord, identity *models.Identity) (bool, error) {
	if identity == nil || file == nil {
		return false, nil
	}
	if decided, allowed := e.shortCircuit(capability, file, identity); decided {
		return allowed, nil
	}
	grants, err := e.grantsFor(ctx, []int64{file.ID}, identity)
	if err != nil {
		return false, err
	}
	return e.evaluate(capability, file, identity, grants[file.ID]), nil
}

// Authorize is CanPerform mapped onto the error contract: PERMISSION_DENIED on refusal.
func (e *PermissionEvaluator) Authorize(ctx context.Context, capability models.Capability, file *models.FileRecord, identity *models.Identity) error {
	if identity == nil {
		return appErrors.ErrUnauthenticated
	}
	allowed, err := e.CanPerform(ctx, capability, file, identity)
	if err != nil {
		return appErrors.Internal(err, "failed to evaluate permissions")
	}
	if !allowed {
		e.metrics.RecordPermissionDenied(string(capability))
		e.logger.Debug("permission denied",
			zap.Int64("file_id", file.ID),
			zap.Int64("user_id", identity.UserID),
			zap.String("capability", string(capability)),
		)
		return appErrors.ErrPermissionDenied
	}
	return nil
}

// EffectiveCapabilities returns every capability identity holds on file.
func (e *PermissionEvaluator) EffectiveCapabilities(ctx context.Context, file *models.FileRecord, identity *models.Identity) (models.Capabilities, error) {
	var caps models.Capabilities
	if identity == nil || file == nil {
		return caps, nil
	}
	if identity.IsSuperAdmin() {
		return models.AllCapabilitiesSet(), nil
	}
	grants, err := e.grantsFor(ctx, []int64{file.ID}, identity)
	if err != nil {
		return caps, appErrors.Internal(err, "failed to evaluate permissions")
	}
	for _, capability := range models.AllCapabilities {
		if e.evaluate(capability, file, identity, grants[file.ID]) {
			caps.Add(capability)
		}
	}
	return caps, nil
}

// FilterViewable keeps the files identity may view. Grants for the whole slice are loaded once
// and only live for this call.
func (e *PermissionEvaluator) FilterViewable(ctx context.Context, files []models.FileRecord, identity *models.Identity) ([]models.FileRecord, error) {
	if identity == nil {
		return nil, nil
	}
	if identity.IsSuperAdmin() {
		return files, nil
	}
	ids := make([]int64, 0, len(files))
	for i := range files {
		if !files[i].IsPublic {
			ids = append(ids, files[i].ID)
		}
	}
	grants, err := e.grantsFor(ctx, ids, identity)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to evaluate permissions")
	}
	visible := make([]models.FileRecord, 0, len(files))
	for i := range files {
		if e.evaluate(models.CapabilityView, &files[i], identity, grants[files[i].ID]) {
			visible = append(visible, files[i])
		}
	}
	return visible, nil
}

func (e *PermissionEvaluator) shortCircuit(capability models.Capability, file *models.FileRecord, identity *models.Identity) (bool, bool) {
	if identity.IsSuperAdmin() {
		return true, true
	}
	if file.IsPublic && (capability == models.CapabilityView || capability == models.CapabilityDownload) {
		return true, true
	}
	return false, false
}

// evaluate applies the decision order: SuperAdmin, public read, role grants inside their window,
// owner override, deny.
func (e *PermissionEvaluator) evaluate(capability models.Capability, file *models.FileRecord, identity *models.Identity, grants []models.FilePermission) bool {
	if decided, allowed := e.shortCircuit(capability, file, identity); decided {
		return allowed
	}
	now := e.now()
	for _, grant := range grants {
		if grant.Grants(capability) && grant.ActiveAt(now) {
			return true
		}
	}
	if capability == models.CapabilityEdit || capability == models.CapabilityDelete {
		if file.UploadedBy == identity.UserID && identity.HasAnyRole(models.OwnerOverrideRoles...) {
			return true
		}
	}
	return false
}

func (e *PermissionEvaluator) grantsFor(ctx context.Context, fileIDs []int64, identity *models.Identity) (map[int64][]models.FilePermission, error) {
	out := make(map[int64][]models.FilePermission, len(fileIDs))
	if len(fileIDs) == 0 || len(identity.Roles) == 0 {
		return out, nil
	}
	perms, err := e.store.ListForRoles(ctx, fileIDs, identity.Roles)
	if err != nil {
		return nil, err
	}
	for _, p := range perms {
		out[p.FileID] = append(out[p.FileID], p)
	}
	return out, nil
}
