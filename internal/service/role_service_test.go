package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/filevault-api/internal/models"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
)

type roleStoreStub struct {
	roles       map[int64]models.Role
	nextID      int64
	assignments map[int64]map[int64]bool
}

func newRoleStoreStub() *roleStoreStub {
	s := &roleStoreStub{roles: map[int64]models.Role{}, assignments: map[int64]map[int64]bool{}}
	for _, name := range []models.RoleName{models.RoleSuperAdmin, models.RoleAdmin, models.RoleEditor, models.RoleViewer, models.RoleUploader} {
		s.nextID++
		s.roles[s.nextID] = models.Role{ID: s.nextID, Name: name}
	}
	return s
}

func (s *roleStoreStub) List(context.Context) ([]models.Role, error) {
	var out []models.Role
	for id := int64(1); id <= s.nextID; id++ {
		if r, ok := s.roles[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *roleStoreStub) FindByID(_ context.Context, id int64) (*models.Role, error) {
	r, ok := s.roles[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &r, nil
}

func (s *roleStoreStub) ExistsByName(_ context.Context, name models.RoleName, excludeID int64) (bool, error) {
	for id, r := range s.roles {
		if id != excludeID && strings.EqualFold(string(r.Name), string(name)) {
			return true, nil
		}
	}
	return false, nil
}

func (s *roleStoreStub) Create(_ context.Context, role *models.Role) error {
	s.nextID++
	role.ID = s.nextID
	s.roles[role.ID] = *role
	return nil
}

func (s *roleStoreStub) Update(_ context.Context, role *models.Role) error {
	s.roles[role.ID] = *role
	return nil
}

func (s *roleStoreStub) Delete(_ context.Context, id int64) error {
	delete(s.roles, id)
	return nil
}

func (s *roleStoreStub) ListNamesByUser(_ context.Context, userID int64) ([]models.RoleName, error) {
	var out []models.RoleName
	for roleID := range s.assignments[userID] {
		out = append(out, s.roles[roleID].Name)
	}
	return out, nil
}

func (s *roleStoreStub) ListAssignments(_ context.Context, userID int64) ([]models.UserRoleAssignment, error) {
	var out []models.UserRoleAssignment
	for roleID := range s.assignments[userID] {
		out = append(out, models.UserRoleAssignment{UserID: userID, RoleID: roleID, RoleName: s.roles[roleID].Name})
	}
	return out, nil
}

func (s *roleStoreStub) Assign(_ context.Context, userID, roleID int64, _ *int64) error {
	if s.assignments[userID] == nil {
		s.assignments[userID] = map[int64]bool{}
	}
	s.assignments[userID][roleID] = true
	return nil
}

func (s *roleStoreStub) Unassign(_ context.Context, userID, roleID int64) error {
	if !s.assignments[userID][roleID] {
		return sql.ErrNoRows
	}
	delete(s.assignments[userID], roleID)
	return nil
}

type userFinderStub map[int64]models.User

func (u userFinderStub) FindByID(_ context.Context, id int64) (*models.User, error) {
	user, ok := u[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &user, nil
}

func TestRoleCreateValidatesName(t *testing.T) {
	store := newRoleStoreStub()
	audit := &auditStub{}
	svc := NewRoleService(store, userFinderStub{}, audit, nil, nil)
	ctx := context.Background()
	root := identity(1, models.RoleSuperAdmin)

	role, err := svc.Create(ctx, models.RoleRequest{Name: "Auditor"}, root, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.RoleName("Auditor"), role.Name)

	_, err = svc.Create(ctx, models.RoleRequest{Name: "9lives"}, root, models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))

	_, err = svc.Create(ctx, models.RoleRequest{Name: "editor"}, root, models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrConflict.Code))

	_, err = svc.Create(ctx, models.RoleRequest{Name: "Reviewer"}, identity(2, models.RoleAdmin), models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrPermissionDenied.Code))
	assert.Equal(t, models.AuditActionRoleChange, audit.last().Action)
}

func TestRoleSeededRolesAreProtected(t *testing.T) {
	store := newRoleStoreStub()
	svc := NewRoleService(store, userFinderStub{}, &auditStub{}, nil, nil)
	ctx := context.Background()
	root := identity(1, models.RoleSuperAdmin)

	err := svc.Delete(ctx, 3, root, models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrConflict.Code))

	_, err = svc.Update(ctx, 3, models.RoleRequest{Name: "Writer"}, root, models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrConflict.Code))

	updated, err := svc.Update(ctx, 3, models.RoleRequest{Name: "Editor", Description: "edits files"}, root, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "edits files", updated.Description)
}

func TestRoleAssignAndUnassign(t *testing.T) {
	store := newRoleStoreStub()
	svc := NewRoleService(store, userFinderStub{1: {ID: 1}, 7: {ID: 7}}, &auditStub{}, nil, nil)
	ctx := context.Background()
	root := identity(1, models.RoleSuperAdmin)

	require.NoError(t, svc.Assign(ctx, 7, 3, root, models.RequestMeta{}))
	require.NoError(t, svc.Assign(ctx, 7, 3, root, models.RequestMeta{}))
	assignments, err := svc.Assignments(ctx, 7)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, models.RoleEditor, assignments[0].RoleName)

	err = svc.Assign(ctx, 99, 3, root, models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrNotFound.Code))

	require.NoError(t, svc.Unassign(ctx, 7, 3, root, models.RequestMeta{}))
	err = svc.Unassign(ctx, 7, 3, root, models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrNotFound.Code))

	err = svc.Unassign(ctx, 1, 1, root, models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrConflict.Code))
}
