package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nimeninja/ingestd/internal/models"
	"github.com/nimeninja/ingestd/internal/repository"
)

const fileColumns = `id, upload_id, folder, original_name, file_name, mime_type, size,
	uploaded_chunks, completed, file_path, is_used, created_at, updated_at`

// FileRepository implements repository.FileRepository for PostgreSQL.
type FileRepository struct {
	pool *Pool
}

// NewFileRepository creates a new PostgreSQL file repository.
func NewFileRepository(pool *Pool) *FileRepository {
	return &FileRepository{pool: pool}
}

var _ repository.FileRepository = (*FileRepository)(nil)

// Upsert inserts the record or updates the existing row with the same upload id.
// ON CONFLICT makes concurrent completions for one upload id converge on a single row.
func (r *FileRepository) Upsert(ctx context.Context, file *models.FileRecord) error {
	if err := repository.ValidateFileRecord(file); err != nil {
		return err
	}
	if err := validateStoredFilename(file.FileName); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrInvalidInput, err)
	}

	const query = `
		INSERT INTO files (id, upload_id, folder, original_name, file_name, mime_type, size,
			uploaded_chunks, completed, file_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (upload_id) DO UPDATE SET
			uploaded_chunks = EXCLUDED.uploaded_chunks,
			completed = EXCLUDED.completed,
			file_path = EXCLUDED.file_path,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id, created_at, updated_at`

	newID := uuid.New().String()

	_, err := withRetry(ctx, 3, func() (struct{}, error) {
		return struct{}{}, r.pool.QueryRow(ctx, query,
			newID,
			file.UploadID,
			file.Folder,
			file.OriginalName,
			file.FileName,
			file.MimeType,
			file.Size,
			file.UploadedChunks,
			file.Completed,
			file.FilePath,
		).Scan(&file.ID, &file.CreatedAt, &file.UpdatedAt)
	})
	if err != nil {
		if isUniqueViolation(err) {
			// Only the primary key can still collide here.
			return fmt.Errorf("%w: %v", repository.ErrDuplicateKey, err)
		}
		return fmt.Errorf("failed to upsert file record: %w", err)
	}

	return nil
}

// GetByID retrieves a record by its ID.
func (r *FileRepository) GetByID(ctx context.Context, id string) (*models.FileRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id)
	return scanFile(row)
}

// GetByUploadID retrieves a record by its upload identity.
func (r *FileRepository) GetByUploadID(ctx context.Context, uploadID string) (*models.FileRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE upload_id = $1`, uploadID)
	return scanFile(row)
}

// ListUnused returns every record not yet claimed by a catalog entity.
func (r *FileRepository) ListUnused(ctx context.Context) ([]*models.FileRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+fileColumns+` FROM files WHERE is_used = FALSE ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query unused files: %w", err)
	}
	defer rows.Close()

	var files []*models.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate unused files: %w", err)
	}

	return files, nil
}

// SetUsed flips the is_used flag.
func (r *FileRepository) SetUsed(ctx context.Context, id string, used bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE files SET is_used = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`, used, id)
	if err != nil {
		return fmt.Errorf("failed to update file usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete removes a record by ID.
func (r *FileRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanFile(row pgx.Row) (*models.FileRecord, error) {
	var f models.FileRecord
	err := row.Scan(
		&f.ID,
		&f.UploadID,
		&f.Folder,
		&f.OriginalName,
		&f.FileName,
		&f.MimeType,
		&f.Size,
		&f.UploadedChunks,
		&f.Completed,
		&f.FilePath,
		&f.IsUsed,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan file record: %w", err)
	}
	return &f, nil
}
