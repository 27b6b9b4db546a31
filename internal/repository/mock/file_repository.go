// Package mock provides mock implementations of repository interfaces for testing.
// These mocks allow tests to run without a real database and provide
// configurable behavior for testing error conditions.
//
// Error injection fields (e.g., UpsertError) should be set BEFORE any
// concurrent operations begin.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nimeninja/ingestd/internal/models"
	"github.com/nimeninja/ingestd/internal/repository"
)

// FileRepository is a mock implementation of repository.FileRepository for testing.
// It stores records in memory keyed by ID with a secondary upload ID index.
type FileRepository struct {
	mu sync.RWMutex

	files      map[string]*models.FileRecord
	byUploadID map[string]string // upload id -> id

	// Error injection for testing error handling
	UpsertError        error
	GetByIDError       error
	GetByUploadIDError error
	ListUnusedError    error
	SetUsedError       error
	DeleteError        error

	// OnUpsert, when set, is called before the default behavior.
	OnUpsert func(ctx context.Context, file *models.FileRecord) error

	upsertCalls int
}

// NewFileRepository creates a new mock FileRepository with default behavior.
func NewFileRepository() *FileRepository {
	return &FileRepository{
		files:      make(map[string]*models.FileRecord),
		byUploadID: make(map[string]string),
	}
}

var _ repository.FileRepository = (*FileRepository)(nil)

func copyRecord(src *models.FileRecord) *models.FileRecord {
	dst := *src
	return &dst
}

// AddFile stores a record directly, assigning an ID when missing.
func (r *FileRepository) AddFile(file *models.FileRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if file.ID == "" {
		file.ID = uuid.New().String()
	}
	r.files[file.ID] = copyRecord(file)
	r.byUploadID[file.UploadID] = file.ID
}

// Records returns copies of every stored record.
func (r *FileRepository) Records() []*models.FileRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.FileRecord, 0, len(r.files))
	for _, f := range r.files {
		out = append(out, copyRecord(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// UpsertCalls returns the number of Upsert calls that reached storage.
func (r *FileRepository) UpsertCalls() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.upsertCalls
}

// Upsert inserts or updates by UploadID.
func (r *FileRepository) Upsert(ctx context.Context, file *models.FileRecord) error {
	if r.OnUpsert != nil {
		if err := r.OnUpsert(ctx, file); err != nil {
			return err
		}
	}
	if r.UpsertError != nil {
		return r.UpsertError
	}
	if err := repository.ValidateFileRecord(file); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertCalls++

	now := time.Now()
	if id, ok := r.byUploadID[file.UploadID]; ok {
		existing := r.files[id]
		existing.UploadedChunks = file.UploadedChunks
		existing.Completed = file.Completed
		existing.FilePath = file.FilePath
		existing.UpdatedAt = now

		file.ID = existing.ID
		file.CreatedAt = existing.CreatedAt
		file.UpdatedAt = now
		return nil
	}

	file.ID = uuid.New().String()
	file.CreatedAt = now
	file.UpdatedAt = now
	r.files[file.ID] = copyRecord(file)
	r.byUploadID[file.UploadID] = file.ID
	return nil
}

// GetByID retrieves a record by ID.
func (r *FileRepository) GetByID(ctx context.Context, id string) (*models.FileRecord, error) {
	if r.GetByIDError != nil {
		return nil, r.GetByIDError
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.files[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyRecord(f), nil
}

// GetByUploadID retrieves a record by upload ID.
func (r *FileRepository) GetByUploadID(ctx context.Context, uploadID string) (*models.FileRecord, error) {
	if r.GetByUploadIDError != nil {
		return nil, r.GetByUploadIDError
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUploadID[uploadID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyRecord(r.files[id]), nil
}

// ListUnused returns records with IsUsed = false, oldest first.
func (r *FileRepository) ListUnused(ctx context.Context) ([]*models.FileRecord, error) {
	if r.ListUnusedError != nil {
		return nil, r.ListUnusedError
	}

	var out []*models.FileRecord
	for _, f := range r.Records() {
		if !f.IsUsed {
			out = append(out, f)
		}
	}
	return out, nil
}

// SetUsed flips IsUsed.
func (r *FileRepository) SetUsed(ctx context.Context, id string, used bool) error {
	if r.SetUsedError != nil {
		return r.SetUsedError
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[id]
	if !ok {
		return repository.ErrNotFound
	}
	f.IsUsed = used
	f.UpdatedAt = time.Now()
	return nil
}

// Delete removes a record by ID.
func (r *FileRepository) Delete(ctx context.Context, id string) error {
	if r.DeleteError != nil {
		return r.DeleteError
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[id]
	if !ok {
		return repository.ErrNotFound
	}
	delete(r.byUploadID, f.UploadID)
	delete(r.files, id)
	return nil
}
