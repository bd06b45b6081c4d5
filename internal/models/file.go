package models

import (
	"time"

	"github.com/noah-isme/filevault-api/pkg/storage"
)

// FileRecord is the authoritative metadata row for an uploaded document. Exactly one of
// FilePath and CloudFileID is set, matching StorageBackend.
type FileRecord struct {
	ID              int64        `db:"id" json:"id"`
	FileName        string       `db:"file_name" json:"file_name"`
	Extension       string       `db:"extension" json:"extension"`
	MimeType        string       `db:"mime_type" json:"mime_type"`
	StorageBackend  storage.Kind `db:"storage_backend" json:"storage_backend"`
	FilePath        *string      `db:"file_path" json:"-"`
	CloudFileID     *string      `db:"cloud_file_id" json:"-"`
	SizeBytes       int64        `db:"size_bytes" json:"size_bytes"`
	CategoryID      *int64       `db:"category_id" json:"category_id,omitempty"`
	CategoryName    *string      `db:"category_name" json:"category_name,omitempty"`
	UploadedBy      int64        `db:"uploaded_by" json:"uploaded_by"`
	UploadedAt      time.Time    `db:"uploaded_at" json:"uploaded_at"`
	ModifiedBy      *int64       `db:"modified_by" json:"modified_by,omitempty"`
	ModifiedAt      *time.Time   `db:"modified_at" json:"modified_at,omitempty"`
	IsActive        bool         `db:"is_active" json:"is_active"`
	IsPublic        bool         `db:"is_public" json:"is_public"`
	IsSyncedToCloud bool         `db:"is_synced_to_cloud" json:"is_synced_to_cloud"`
	Version         int          `db:"version" json:"version"`
}

// Locator returns the backend specific object reference.
func (f *FileRecord) Locator() string {
	switch f.StorageBackend {
	case storage.KindCloud:
		if f.CloudFileID != nil {
			return *f.CloudFileID
		}
	default:
		if f.FilePath != nil {
			return *f.FilePath
		}
	}
	return ""
}

// SetLocator points the record at an object on the given backend, clearing the other locator.
func (f *FileRecord) SetLocator(kind storage.Kind, locator string) {
	f.StorageBackend = kind
	loc := locator
	if kind == storage.KindCloud {
		f.CloudFileID = &loc
		f.FilePath = nil
		return
	}
	f.FilePath = &loc
	f.CloudFileID = nil
}

// FileFilter narrows listing queries. Inactive rows are excluded unless IncludeInactive is set.
type FileFilter struct {
	Query           string
	CategoryID      *int64
	UploadedBy      *int64
	IncludeInactive bool
	// BeforeID restricts results to ids below it when positive.
	BeforeID int64
	Limit    int
	Offset   int
}

// FileLocatorRef is the minimal projection used by the storage consistency scan.
type FileLocatorRef struct {
	ID             int64        `db:"id"`
	StorageBackend storage.Kind `db:"storage_backend"`
	FilePath       *string      `db:"file_path"`
	CloudFileID    *string      `db:"cloud_file_id"`
	SizeBytes      int64        `db:"size_bytes"`
}

// Locator mirrors FileRecord.Locator.
func (r FileLocatorRef) Locator() string {
	rec := FileRecord{StorageBackend: r.StorageBackend, FilePath: r.FilePath, CloudFileID: r.CloudFileID}
	return rec.Locator()
}

// FileLink is returned by the download-link endpoint.
type FileLink struct {
	FileID  int64        `json:"file_id"`
	Backend storage.Kind `json:"storage_backend"`
	URL     string       `json:"url"`
}

// MirrorJobStatus is returned when a move to the cloud mirror is queued.
type MirrorJobStatus struct {
	JobID  string `json:"job_id"`
	FileID int64  `json:"file_id"`
	Status string `json:"status"`
}
