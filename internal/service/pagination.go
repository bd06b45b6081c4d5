package service

import (
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// normalizePage applies defaults to unset values and rejects out of range ones. Zero means unset.
func normalizePage(page, pageSize int) (int, int, error) {
	if page == 0 {
		page = 1
	}
	if pageSize == 0 {
		pageSize = defaultPageSize
	}
	if page < 1 {
		return 0, 0, appErrors.Clone(appErrors.ErrValidation, "page must be at least 1")
	}
	if pageSize < 1 || pageSize > maxPageSize {
		return 0, 0, appErrors.Clone(appErrors.ErrValidation, "page_size must be between 1 and 100")
	}
	return page, pageSize, nil
}
