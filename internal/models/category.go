package models

import "time"

// Category groups files. Deleting one detaches its files.
type Category struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// CategoryRequest creates or updates a category.
type CategoryRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=128"`
	Description string `json:"description" validate:"max=2000"`
	IsActive    *bool  `json:"is_active"`
}

// CategoryDeleteResult reports how many files were detached by a delete.
type CategoryDeleteResult struct {
	CategoryID    int64 `json:"category_id"`
	DetachedFiles int64 `json:"detached_files"`
}
