package models

import (
	"fmt"
	"strings"
	"time"
)

// RoleName is a validated role identifier. Roles are open data; the constants below are the
// seeded set the authorization policy refers to.
type RoleName string

const (
	RoleSuperAdmin RoleName = "SuperAdmin"
	RoleAdmin      RoleName = "Admin"
	RoleEditor     RoleName = "Editor"
	RoleViewer     RoleName = "Viewer"
	RoleUploader   RoleName = "Uploader"
)

// OwnerOverrideRoles may edit or delete files they uploaded without an explicit grant.
var OwnerOverrideRoles = []RoleName{RoleEditor, RoleAdmin}

// UploadRoles may create new files.
var UploadRoles = []RoleName{RoleSuperAdmin, RoleAdmin, RoleEditor, RoleUploader}

// PermissionManagerRoles may change per-file grants and reference data.
var PermissionManagerRoles = []RoleName{RoleSuperAdmin, RoleAdmin}

// ParseRoleName validates a role name: 2-64 characters, letters first, then letters, digits,
// dash or underscore.
func ParseRoleName(raw string) (RoleName, error) {
	name := strings.TrimSpace(raw)
	if len(name) < 2 || len(name) > 64 {
		return "", fmt.Errorf("role name must be 2-64 characters")
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '-' || r == '_'):
		default:
			return "", fmt.Errorf("role name contains invalid character %q", r)
		}
	}
	return RoleName(name), nil
}

// Role is a row of the roles table.
type Role struct {
	ID          int64     `db:"id" json:"id"`
	Name        RoleName  `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// UserRoleAssignment links a user to a role.
type UserRoleAssignment struct {
	UserID     int64     `db:"user_id" json:"user_id"`
	RoleID     int64     `db:"role_id" json:"role_id"`
	RoleName   RoleName  `db:"role_name" json:"role_name"`
	AssignedAt time.Time `db:"assigned_at" json:"assigned_at"`
	AssignedBy *int64    `db:"assigned_by" json:"assigned_by,omitempty"`
}

// RoleRequest creates or updates a role.
type RoleRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=64"`
	Description string `json:"description" validate:"max=1000"`
}

// AssignRoleRequest grants a role to a user.
type AssignRoleRequest struct {
	RoleID int64 `json:"role_id" validate:"required,gt=0"`
}
