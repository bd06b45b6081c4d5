package models

import "time"

// AuditAction is the closed set of security relevant actions.
type AuditAction string

const (
	AuditActionUpload           AuditAction = "UPLOAD"
	AuditActionUpdate           AuditAction = "UPDATE"
	AuditActionDelete           AuditAction = "DELETE"
	AuditActionPurge            AuditAction = "PURGE"
	AuditActionConvert          AuditAction = "CONVERT"
	AuditActionPermissionChange AuditAction = "PERMISSION_CHANGE"
	AuditActionMirror           AuditAction = "MIRROR"
	AuditActionCategoryChange   AuditAction = "CATEGORY_CHANGE"
	AuditActionRoleChange       AuditAction = "ROLE_CHANGE"
	AuditActionLogin            AuditAction = "LOGIN"
	AuditActionLogout           AuditAction = "LOGOUT"
)

var auditActions = map[AuditAction]struct{}{
	AuditActionUpload: {}, AuditActionUpdate: {}, AuditActionDelete: {}, AuditActionPurge: {},
	AuditActionConvert: {}, AuditActionPermissionChange: {}, AuditActionMirror: {},
	AuditActionCategoryChange: {}, AuditActionRoleChange: {}, AuditActionLogin: {}, AuditActionLogout: {},
}

// Valid reports whether a is a known action.
func (a AuditAction) Valid() bool {
	_, ok := auditActions[a]
	return ok
}

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID        int64       `db:"id" json:"id"`
	UserID    *int64      `db:"user_id" json:"user_id,omitempty"`
	Action    AuditAction `db:"action" json:"action"`
	FileID    *int64      `db:"file_id" json:"file_id,omitempty"`
	IPAddress string      `db:"ip_address" json:"ip_address"`
	UserAgent string      `db:"user_agent" json:"user_agent"`
	Detail    string      `db:"detail" json:"detail"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// AuditFilter narrows audit log listings.
type AuditFilter struct {
	UserID *int64
	FileID *int64
	Action AuditAction
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// RequestMeta is the client metadata copied into audit entries.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// AuditQuery is the paginated audit listing request.
type AuditQuery struct {
	UserID   *int64
	FileID   *int64
	Action   AuditAction
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}
