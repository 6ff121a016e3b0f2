package models

import (
	"errors"
	"fmt"
)

// Common errors for catalogue operations.
var (
	// Upload errors
	ErrUploadNotFound    = errors.New("upload not found")
	ErrChecksumMismatch  = errors.New("checksum mismatch")
	ErrMissingChunks     = errors.New("missing chunks")
	ErrChunkOutOfRange   = errors.New("chunk index out of range")
	ErrUploadNotComplete = errors.New("upload is not completed")

	// Image errors
	ErrImageNotFound  = errors.New("image not found")
	ErrDuplicateImage = errors.New("image variant already exists")

	// Product errors
	ErrProductNotFound  = errors.New("product not found")
	ErrDuplicateProduct = errors.New("product already exists")

	// Import errors
	ErrImportLogNotFound = errors.New("import log not found")
	ErrImportAborted     = errors.New("import aborted")
	ErrMissingColumns    = errors.New("missing required columns")
)

// StateError reports an operation applied to an upload whose status
// does not permit it, e.g. a chunk sent to a failed upload.
type StateError struct {
	UploadID string
	Status   UploadStatus
	Op       string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("upload %s: cannot %s in status %q", e.UploadID, e.Op, e.Status)
}

// NewStateError creates a StateError for the given upload and operation.
func NewStateError(uploadID string, status UploadStatus, op string) *StateError {
	return &StateError{UploadID: uploadID, Status: status, Op: op}
}

// IsStateError reports whether err is (or wraps) a StateError.
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}
