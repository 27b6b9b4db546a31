package repository

import (
	"context"

	"github.com/nimeninja/ingestd/internal/models"
)

// FileRepository defines the interface for FileRecord persistence.
// All methods accept a context for cancellation and timeout support.
type FileRepository interface {
	// Upsert inserts the record, or when a record with the same UploadID exists,
	// updates its UploadedChunks, Completed and FilePath in place.
	// On return file.ID, file.CreatedAt and file.UpdatedAt reflect the stored row.
	Upsert(ctx context.Context, file *models.FileRecord) error

	// GetByID retrieves a record by its ID.
	// Returns ErrNotFound if the record doesn't exist.
	GetByID(ctx context.Context, id string) (*models.FileRecord, error)

	// GetByUploadID retrieves a record by its upload identity.
	// Returns ErrNotFound if the record doesn't exist.
	GetByUploadID(ctx context.Context, uploadID string) (*models.FileRecord, error)

	// ListUnused returns every record with IsUsed = false, oldest first.
	ListUnused(ctx context.Context) ([]*models.FileRecord, error)

	// SetUsed flips the IsUsed flag.
	// Returns ErrNotFound if the record doesn't exist.
	SetUsed(ctx context.Context, id string, used bool) error

	// Delete removes a record by ID.
	// Returns ErrNotFound if the record doesn't exist.
	Delete(ctx context.Context, id string) error
}
