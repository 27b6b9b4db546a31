// Package repository defines interfaces for data access operations.
// Backend implementations (SQLite, PostgreSQL) live in subpackages and can be
// swapped without changing the ingestion engine or the HTTP handlers.
package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nimeninja/ingestd/internal/models"
)

// Common errors returned by repository operations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicateKey is returned when an insert violates a uniqueness constraint.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNilDatabase is returned when a nil database connection is provided.
	ErrNilDatabase = errors.New("nil database connection")
)

// ValidateFileRecord checks the fields every backend requires before an upsert.
func ValidateFileRecord(file *models.FileRecord) error {
	if file == nil {
		return fmt.Errorf("%w: file record is nil", ErrInvalidInput)
	}
	if strings.TrimSpace(file.UploadID) == "" {
		return fmt.Errorf("%w: upload id is required", ErrInvalidInput)
	}
	if file.FileName == "" || strings.ContainsAny(file.FileName, "/\\") {
		return fmt.Errorf("%w: invalid file name %q", ErrInvalidInput, file.FileName)
	}
	if file.Size < 0 || file.UploadedChunks < 0 {
		return fmt.Errorf("%w: negative size or chunk count", ErrInvalidInput)
	}
	return nil
}
