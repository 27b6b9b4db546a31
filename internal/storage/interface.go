// Package storage provides the abstraction over permanent storage for published uploads.
// Reassembly always happens in a local temp directory; a Backend takes the finished
// temp file and makes it durable under a key of the form "<folder>/<fileName>".
package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound is returned when a key has no stored object.
	ErrNotFound = errors.New("object not found")

	// ErrInvalidKey is returned when a key is empty, absolute or escapes the storage root.
	ErrInvalidKey = errors.New("invalid storage key")
)

// Backend defines the permanent storage operations used by the ingestion engine,
// the retrieval endpoint and the cleanup worker.
type Backend interface {
	// Publish moves the local file at srcPath to permanent storage under key.
	// On success the source file no longer exists. On failure the source file is
	// left in place so the caller can recover it.
	// Returns a backend-specific location (filesystem path or s3:// URI).
	Publish(ctx context.Context, srcPath, key string) (location string, err error)

	// Open returns a reader for the stored object.
	// The caller is responsible for closing the returned ReadCloser.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)

	// HealthCheck verifies the backend is reachable and writable.
	HealthCheck(ctx context.Context) error
}

// Pruner is implemented by backends with a directory hierarchy that can be
// compacted after deletes.
type Pruner interface {
	// PruneEmptyDirs removes empty directories below the storage root.
	PruneEmptyDirs(ctx context.Context) error
}

// StorageError represents errors from storage operations with additional context.
type StorageError struct {
	Op      string // Operation that failed (e.g., "Publish", "Open", "Delete")
	Path    string // Key or path involved
	Err     error  // Underlying error
	Message string // Human-readable message
}

func (e *StorageError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err == nil {
		return e.Op + " " + e.Path
	}
	if e.Path != "" {
		return e.Op + " " + e.Path + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError with the given details.
func NewStorageError(op, path string, err error) *StorageError {
	return &StorageError{
		Op:   op,
		Path: path,
		Err:  err,
	}
}

// NewStorageErrorWithMessage creates a new StorageError with a custom message.
func NewStorageErrorWithMessage(op, path string, err error, message string) *StorageError {
	return &StorageError{
		Op:      op,
		Path:    path,
		Err:     err,
		Message: message,
	}
}
