package dto

import (
	"io"

	"github.com/noah-isme/filevault-api/pkg/storage"
)

// UploadFileRequest is a new document submitted through multipart upload.
type UploadFileRequest struct {
	FileName   string
	Size       int64
	Content    io.Reader
	CategoryID *int64
	IsPublic   bool
	Backend    storage.Kind
}

// UpdateFileRequest changes metadata and optionally replaces content. Nil fields are left
// untouched. Version, when set, is the version the client last read.
type UpdateFileRequest struct {
	FileName      *string
	CategoryID    *int64
	ClearCategory bool
	IsPublic      *bool
	Version       *int

	Content     io.Reader
	ContentName string
	Size        int64
}

// HasContent reports whether the request replaces the stored bytes.
func (r UpdateFileRequest) HasContent() bool {
	return r.Content != nil
}

// FileListQuery captures list, search and filter parameters.
type FileListQuery struct {
	Query      string
	CategoryID *int64
	UploadedBy *int64
	Page       int
	PageSize   int
}

// ConvertFileRequest asks for a converted copy of a file.
type ConvertFileRequest struct {
	Target string `json:"target" validate:"required,oneof=pdf"`
}
