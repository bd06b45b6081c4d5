package models

import (
	"strings"
	"time"
)

// Capability is an action that can be performed on a file.
type Capability string

const (
	CapabilityView     Capability = "view"
	CapabilityEdit     Capability = "edit"
	CapabilityUpload   Capability = "upload"
	CapabilityDownload Capability = "download"
	CapabilityDelete   Capability = "delete"
)

// AllCapabilities lists capabilities in display order.
var AllCapabilities = []Capability{CapabilityView, CapabilityEdit, CapabilityUpload, CapabilityDownload, CapabilityDelete}

// ParseCapability validates a capability name.
func ParseCapability(raw string) (Capability, bool) {
	c := Capability(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range AllCapabilities {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// Capabilities is the effective capability set of a caller on a file.
type Capabilities struct {
	View     bool `json:"view"`
	Edit     bool `json:"edit"`
	Upload   bool `json:"upload"`
	Download bool `json:"download"`
	Delete   bool `json:"delete"`
}

// Has reports whether the set contains c.
func (c Capabilities) Has(capability Capability) bool {
	switch capability {
	case CapabilityView:
		return c.View
	case CapabilityEdit:
		return c.Edit
	case CapabilityUpload:
		return c.Upload
	case CapabilityDownload:
		return c.Download
	case CapabilityDelete:
		return c.Delete
	}
	return false
}

// Add sets capability in the set.
func (c *Capabilities) Add(capability Capability) {
	switch capability {
	case CapabilityView:
		c.View = true
	case CapabilityEdit:
		c.Edit = true
	case CapabilityUpload:
		c.Upload = true
	case CapabilityDownload:
		c.Download = true
	case CapabilityDelete:
		c.Delete = true
	}
}

// AllCapabilitiesSet grants everything.
func AllCapabilitiesSet() Capabilities {
	return Capabilities{View: true, Edit: true, Upload: true, Download: true, Delete: true}
}

// FilePermission is a per (file, role) grant with an optional validity window.
type FilePermission struct {
	ID          int64      `db:"id" json:"id"`
	FileID      int64      `db:"file_id" json:"file_id"`
	RoleID      int64      `db:"role_id" json:"role_id"`
	RoleName    RoleName   `db:"role_name" json:"role_name"`
	CanView     bool       `db:"can_view" json:"can_view"`
	CanEdit     bool       `db:"can_edit" json:"can_edit"`
	CanUpload   bool       `db:"can_upload" json:"can_upload"`
	CanDownload bool       `db:"can_download" json:"can_download"`
	CanDelete   bool       `db:"can_delete" json:"can_delete"`
	StartDate   *time.Time `db:"start_date" json:"start_date,omitempty"`
	EndDate     *time.Time `db:"end_date" json:"end_date,omitempty"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Grants reports whether the row allows capability, ignoring the window.
func (p FilePermission) Grants(capability Capability) bool {
	switch capability {
	case CapabilityView:
		return p.CanView
	case CapabilityEdit:
		return p.CanEdit
	case CapabilityUpload:
		return p.CanUpload
	case CapabilityDownload:
		return p.CanDownload
	case CapabilityDelete:
		return p.CanDelete
	}
	return false
}

// ActiveAt reports whether t falls inside [StartDate, EndDate]. Nil bounds are open.
func (p FilePermission) ActiveAt(t time.Time) bool {
	if p.StartDate != nil && t.Before(*p.StartDate) {
		return false
	}
	if p.EndDate != nil && t.After(*p.EndDate) {
		return false
	}
	return true
}

// PermissionGrant describes the capabilities assigned to one role.
type PermissionGrant struct {
	CanView     bool       `json:"can_view"`
	CanEdit     bool       `json:"can_edit"`
	CanUpload   bool       `json:"can_upload"`
	CanDownload bool       `json:"can_download"`
	CanDelete   bool       `json:"can_delete"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
}

// SetPermissionsRequest replaces the grants on a file. Roles maps role id to a plain allow flag
// (view and download when true); Grants carries per-capability detail and wins over Roles.
type SetPermissionsRequest struct {
	Roles  map[int64]bool            `json:"roles"`
	Grants map[int64]PermissionGrant `json:"grants"`
}

// FilePermissionsView is returned by the permission listing endpoint. Roles maps role id to
// whether the role can view the file.
type FilePermissionsView struct {
	FileID int64            `json:"file_id"`
	Roles  map[int64]bool   `json:"roles"`
	Grants []FilePermission `json:"grants"`
}
