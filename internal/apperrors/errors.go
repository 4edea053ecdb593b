// Package apperrors provides common static errors used throughout the application.
package apperrors

import (
	"errors"
	"fmt"
)

// HTTPError represents an HTTP error with a status code.
type HTTPError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// NewHTTPError creates a new HTTPError.
func NewHTTPError(statusCode int, body string) *HTTPError {
	return &HTTPError{StatusCode: statusCode, Body: body}
}

// Common static errors used throughout the application.
var (
	// ErrPageIDRequired is returned when a page ID is required but not provided.
	ErrPageIDRequired = errors.New("page ID required")

	// ErrPageNotFound is returned when no page carries the requested ID.
	ErrPageNotFound = errors.New("page not found")

	// ErrDuplicatePageID is returned when adding a page whose ID is already in the collection.
	ErrDuplicatePageID = errors.New("a page with this ID already exists")

	// ErrTitleRequired is returned when a page is submitted without a title.
	ErrTitleRequired = errors.New("page title required")

	// ErrContentRequired is returned when a page is submitted with neither content nor a file.
	ErrContentRequired = errors.New("page content or HTML file required")

	// ErrContentAndFile is returned when both inline content and a file are given.
	ErrContentAndFile = errors.New("use either content or a file, not both")

	// ErrImportFileRequired is returned when import is run without a file argument.
	ErrImportFileRequired = errors.New("import file required (use - for stdin)")

	// ErrReadFailed is returned when an uploaded or imported file cannot be read.
	ErrReadFailed = errors.New("failed to read file")

	// ErrInvalidImport is returned when an import document cannot be used.
	ErrInvalidImport = errors.New("error importing data, please check the file format")

	// ErrKeyNotFound is returned by a key-value store when the key has no value.
	ErrKeyNotFound = errors.New("key not found")

	// ErrCorruptCollection is returned when the persisted collection is not valid JSON.
	ErrCorruptCollection = errors.New("stored page collection is corrupt")

	// ErrUnknownStorage is returned when the configured storage backend does not exist.
	ErrUnknownStorage = errors.New("unknown storage backend")

	// ErrStorageOptionRequired is returned when a storage backend misses a mandatory setting.
	ErrStorageOptionRequired = errors.New("storage option required")

	// ErrInvalidConfig is returned when a setting has an unusable value.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidKey is returned when a storage key cannot be mapped onto the backend.
	ErrInvalidKey = errors.New("invalid storage key")

	// ErrStoreClosed is returned when a closed store is used.
	ErrStoreClosed = errors.New("store is closed")

	// ErrRemoteNotConfigured is returned when a git remote operation is attempted but no remote is configured.
	ErrRemoteNotConfigured = errors.New("no remote configured (set PHUB_GIT_URL)")

	// ErrHTTPSPasswordRequired is returned when HTTPS git URL is used without PHUB_GIT_PASS.
	ErrHTTPSPasswordRequired = errors.New("PHUB_GIT_PASS required for HTTPS URLs")
)
