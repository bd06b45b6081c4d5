package service

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/filevault-api/internal/models"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
)

type roleStore interface {
	List(ctx context.Context) ([]models.Role, error)
	FindByID(ctx context.Context, id int64) (*models.Role, error)
	ExistsByName(ctx context.Context, name models.RoleName, excludeID int64) (bool, error)
	Create(ctx context.Context, role *models.Role) error
	Update(ctx context.Context, role *models.Role) error
	Delete(ctx context.Context, id int64) error
	ListAssignments(ctx context.Context, userID int64) ([]models.UserRoleAssignment, error)
	Assign(ctx context.Context, userID, roleID int64, assignedBy *int64) error
	Unassign(ctx context.Context, userID, roleID int64) error
}

type userFinder interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
}

var seededRoles = map[models.RoleName]struct{}{
	models.RoleSuperAdmin: {}, models.RoleAdmin: {}, models.RoleEditor: {}, models.RoleViewer: {}, models.RoleUploader: {},
}

// RoleService manages the role directory and user role assignments. Changes reach a user's
// tokens at their next login.
type RoleService struct {
	repo      roleStore
	users     userFinder
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRoleService constructs the service.
func NewRoleService(repo roleStore, users userFinder, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *RoleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &RoleService{repo: repo, users: users, audit: audit, validator: validate, logger: logger}
}

// List returns every role.
func (s *RoleService) List(ctx context.Context) ([]models.Role, error) {
	roles, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list roles")
	}
	if roles == nil {
		roles = []models.Role{}
	}
	return roles, nil
}

// Get returns one role.
func (s *RoleService) Get(ctx context.Context, id int64) (*models.Role, error) {
	role, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "role not found")
		}
		return nil, appErrors.Internal(err, "failed to load role")
	}
	return role, nil
}

// Create adds a role.
func (s *RoleService) Create(ctx context.Context, req models.RoleRequest, actor *models.Identity, meta models.RequestMeta) (*models.Role, error) {
	entry := newAuditEntry(models.AuditActionRoleChange, actor, nil, meta, fmt.Sprintf("create role %q", req.Name))
	role, err := s.create(ctx, req, actor)
	if role != nil {
		entry.Detail = fmt.Sprintf("created role %d %q", role.ID, role.Name)
	}
	if err := auditOutcome(ctx, s.audit, s.logger, entry, err); err != nil {
		return nil, err
	}
	return role, nil
}

func (s *RoleService) create(ctx context.Context, req models.RoleRequest, actor *models.Identity) (*models.Role, error) {
	if err := requireSuperAdmin(actor); err != nil {
		return nil, err
	}
	name, err := s.parse(req)
	if err != nil {
		return nil, err
	}
	if err := s.checkNameFree(ctx, name, 0); err != nil {
		return nil, err
	}
	role := &models.Role{Name: name, Description: req.Description}
	if err := s.repo.Create(ctx, role); err != nil {
		return nil, appErrors.Internal(err, "failed to create role")
	}
	return role, nil
}

// Update renames a role or changes its description. Seeded roles keep their names.
func (s *RoleService) Update(ctx context.Context, id int64, req models.RoleRequest, actor *models.Identity, meta models.RequestMeta) (*models.Role, error) {
	entry := newAuditEntry(models.AuditActionRoleChange, actor, nil, meta, fmt.Sprintf("update role %d", id))
	role, err := s.update(ctx, id, req, actor)
	if role != nil {
		entry.Detail = fmt.Sprintf("updated role %d %q", role.ID, role.Name)
	}
	if err := auditOutcome(ctx, s.audit, s.logger, entry, err); err != nil {
		return nil, err
	}
	return role, nil
}

func (s *RoleService) update(ctx context.Context, id int64, req models.RoleRequest, actor *models.Identity) (*models.Role, error) {
	if err := requireSuperAdmin(actor); err != nil {
		return nil, err
	}
	name, err := s.parse(req)
	if err != nil {
		return nil, err
	}
	role, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, seeded := seededRoles[role.Name]; seeded && role.Name != name {
		return nil, appErrors.Clone(appErrors.ErrConflict, "built-in roles cannot be renamed")
	}
	if err := s.checkNameFree(ctx, name, id); err != nil {
		return nil, err
	}
	role.Name = name
	role.Description = req.Description
	if err := s.repo.Update(ctx, role); err != nil {
		if isNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "role not found")
		}
		return nil, appErrors.Internal(err, "failed to update role")
	}
	return role, nil
}

// Delete removes a custom role together with its grants and assignments.
func (s *RoleService) Delete(ctx context.Context, id int64, actor *models.Identity, meta models.RequestMeta) error {
	entry := newAuditEntry(models.AuditActionRoleChange, actor, nil, meta, fmt.Sprintf("delete role %d", id))
	return auditOutcome(ctx, s.audit, s.logger, entry, s.delete(ctx, id, actor))
}

func (s *RoleService) delete(ctx context.Context, id int64, actor *models.Identity) error {
	if err := requireSuperAdmin(actor); err != nil {
		return err
	}
	role, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, seeded := seededRoles[role.Name]; seeded {
		return appErrors.Clone(appErrors.ErrConflict, "built-in roles cannot be deleted")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if isNotFound(err) {
			return appErrors.Clone(appErrors.ErrNotFound, "role not found")
		}
		return appErrors.Internal(err, "failed to delete role")
	}
	return nil
}

// Assignments lists the roles held by a user.
func (s *RoleService) Assignments(ctx context.Context, userID int64) ([]models.UserRoleAssignment, error) {
	if err := s.checkUser(ctx, userID); err != nil {
		return nil, err
	}
	assignments, err := s.repo.ListAssignments(ctx, userID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list role assignments")
	}
	if assignments == nil {
		assignments = []models.UserRoleAssignment{}
	}
	return assignments, nil
}

// Assign grants a role to a user. Granting a held role succeeds without change.
func (s *RoleService) Assign(ctx context.Context, userID, roleID int64, actor *models.Identity, meta models.RequestMeta) error {
	entry := newAuditEntry(models.AuditActionRoleChange, actor, nil, meta, fmt.Sprintf("assign role %d to user %d", roleID, userID))
	return auditOutcome(ctx, s.audit, s.logger, entry, s.assign(ctx, userID, roleID, actor))
}

func (s *RoleService) assign(ctx context.Context, userID, roleID int64, actor *models.Identity) error {
	if err := requireSuperAdmin(actor); err != nil {
		return err
	}
	if err := s.checkUser(ctx, userID); err != nil {
		return err
	}
	if _, err := s.Get(ctx, roleID); err != nil {
		return err
	}
	by := actor.UserID
	if err := s.repo.Assign(ctx, userID, roleID, &by); err != nil {
		return appErrors.Internal(err, "failed to assign role")
	}
	return nil
}

// Unassign removes a role from a user. A SuperAdmin cannot drop their own SuperAdmin role.
func (s *RoleService) Unassign(ctx context.Context, userID, roleID int64, actor *models.Identity, meta models.RequestMeta) error {
	entry := newAuditEntry(models.AuditActionRoleChange, actor, nil, meta, fmt.Sprintf("unassign role %d from user %d", roleID, userID))
	return auditOutcome(ctx, s.audit, s.logger, entry, s.unassign(ctx, userID, roleID, actor))
}

func (s *RoleService) unassign(ctx context.Context, userID, roleID int64, actor *models.Identity) error {
	if err := requireSuperAdmin(actor); err != nil {
		return err
	}
	role, err := s.Get(ctx, roleID)
	if err != nil {
		return err
	}
	if role.Name == models.RoleSuperAdmin && userID == actor.UserID {
		return appErrors.Clone(appErrors.ErrConflict, "cannot remove your own SuperAdmin role")
	}
	if err := s.repo.Unassign(ctx, userID, roleID); err != nil {
		if isNotFound(err) {
			return appErrors.Clone(appErrors.ErrNotFound, "role assignment not found")
		}
		return appErrors.Internal(err, "failed to unassign role")
	}
	return nil
}

func (s *RoleService) parse(req models.RoleRequest) (models.RoleName, error) {
	if err := s.validator.Struct(req); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid role payload")
	}
	name, err := models.ParseRoleName(req.Name)
	if err != nil {
		return "", appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	return name, nil
}

func (s *RoleService) checkNameFree(ctx context.Context, name models.RoleName, excludeID int64) error {
	exists, err := s.repo.ExistsByName(ctx, name, excludeID)
	if err != nil {
		return appErrors.Internal(err, "failed to check role name")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrConflict, "role name already exists")
	}
	return nil
}

func (s *RoleService) checkUser(ctx context.Context, userID int64) error {
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		if isNotFound(err) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Internal(err, "failed to load user")
	}
	return nil
}

func requireSuperAdmin(actor *models.Identity) error {
	if actor == nil {
		return appErrors.ErrUnauthenticated
	}
	if !actor.IsSuperAdmin() {
		return appErrors.ErrPermissionDenied
	}
	return nil
}
