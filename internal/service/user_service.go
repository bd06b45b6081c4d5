package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/filevault-api/internal/models"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
)

type userStore interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id int64) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	SetActive(ctx context.Context, id int64, active bool) error
}

type userRoleStore interface {
	List(ctx context.Context) ([]models.Role, error)
	ListNamesByUser(ctx context.Context, userID int64) ([]models.RoleName, error)
	Assign(ctx context.Context, userID, roleID int64, assignedBy *int64) error
}

// UserService provisions accounts. Only SuperAdmin manages users.
type UserService struct {
	repo      userStore
	roles     userRoleStore
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
	cost      int
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userStore, roles userRoleStore, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, roles: roles, audit: audit, validator: validate, logger: logger, cost: bcrypt.DefaultCost}
}

// List returns paginated users.
func (s *UserService) List(ctx context.Context, filter models.UserFilter, actor *models.Identity) ([]models.User, *models.Pagination, error) {
	if err := requireSuperAdmin(actor); err != nil {
		return nil, nil, err
	}
	page, size, err := normalizePage(filter.Page, filter.PageSize)
	if err != nil {
		return nil, nil, err
	}
	filter.Page, filter.PageSize = page, size
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list users")
	}
	if users == nil {
		users = []models.User{}
	}
	return users, models.NewPagination(page, size, total), nil
}

// Get returns a user with role names.
func (s *UserService) Get(ctx context.Context, id int64, actor *models.Identity) (*models.User, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthenticated
	}
	if actor.UserID != id && !actor.IsSuperAdmin() {
		return nil, appErrors.ErrPermissionDenied
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}
	names, err := s.roles.ListNamesByUser(ctx, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load user roles")
	}
	user.Roles = names
	return user, nil
}

// Create adds a new user and assigns the requested roles.
func (s *UserService) Create(ctx context.Context, req models.CreateUserRequest, actor *models.Identity, meta models.RequestMeta) (*models.User, error) {
	entry := newAuditEntry(models.AuditActionRoleChange, actor, nil, meta, fmt.Sprintf("create user %q", req.Email))
	user, err := s.create(ctx, req, actor)
	if user != nil {
		entry.Detail = fmt.Sprintf("created user %d with roles %v", user.ID, user.Roles)
	}
	if err := auditOutcome(ctx, s.audit, s.logger, entry, err); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserService) create(ctx context.Context, req models.CreateUserRequest, actor *models.Identity) (*models.User, error) {
	if err := requireSuperAdmin(actor); err != nil {
		return nil, err
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid create user payload")
	}

	roleIDs, err := s.resolveRoles(ctx, req.Roles)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.FindByEmail(ctx, req.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
	} else if !isNotFound(err) {
		return nil, appErrors.Internal(err, "failed to check email uniqueness")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to hash password")
	}
	user := &models.User{
		Email:        req.Email,
		FullName:     strings.TrimSpace(req.FullName),
		PasswordHash: string(hash),
		IsActive:     true,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Internal(err, "failed to create user")
	}

	by := actor.UserID
	for i, roleID := range roleIDs {
		if err := s.roles.Assign(ctx, user.ID, roleID, &by); err != nil {
			return nil, appErrors.Internal(err, "failed to assign role")
		}
		user.Roles = append(user.Roles, req.Roles[i])
	}
	return user, nil
}

func (s *UserService) resolveRoles(ctx context.Context, names []models.RoleName) ([]int64, error) {
	if len(names) == 0 {
		return nil, nil
	}
	roles, err := s.roles.List(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load roles")
	}
	byName := make(map[models.RoleName]int64, len(roles))
	for _, r := range roles {
		byName[r.Name] = r.ID
	}
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		id, ok := byName[name]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown role %q", name))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SetActive enables or disables sign-in for a user. Existing tokens stay valid until they expire
// or are revoked.
func (s *UserService) SetActive(ctx context.Context, id int64, active bool, actor *models.Identity, meta models.RequestMeta) error {
	entry := newAuditEntry(models.AuditActionRoleChange, actor, nil, meta, fmt.Sprintf("set user %d active=%t", id, active))
	return auditOutcome(ctx, s.audit, s.logger, entry, s.setActive(ctx, id, active, actor))
}

func (s *UserService) setActive(ctx context.Context, id int64, active bool, actor *models.Identity) error {
	if err := requireSuperAdmin(actor); err != nil {
		return err
	}
	if !active && id == actor.UserID {
		return appErrors.Clone(appErrors.ErrConflict, "cannot deactivate your own account")
	}
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		if isNotFound(err) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Internal(err, "failed to update user")
	}
	return nil
}
