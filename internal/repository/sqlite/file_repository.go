package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nimeninja/ingestd/internal/models"
	"github.com/nimeninja/ingestd/internal/repository"
)

const fileColumns = `id, upload_id, folder, original_name, file_name, mime_type, size,
	uploaded_chunks, completed, file_path, is_used, created_at, updated_at`

// FileRepository implements repository.FileRepository for SQLite.
type FileRepository struct {
	db *sql.DB
}

// NewFileRepository creates a new SQLite file repository.
func NewFileRepository(db *sql.DB) *FileRepository {
	return &FileRepository{db: db}
}

var _ repository.FileRepository = (*FileRepository)(nil)

// Upsert inserts the record or updates the existing row with the same upload id.
func (r *FileRepository) Upsert(ctx context.Context, file *models.FileRecord) error {
	if err := repository.ValidateFileRecord(file); err != nil {
		return err
	}
	if err := validateStoredFilename(file.FileName); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrInvalidInput, err)
	}

	const query = `
		INSERT INTO files (id, upload_id, folder, original_name, file_name, mime_type, size,
			uploaded_chunks, completed, file_path, is_used, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(upload_id) DO UPDATE SET
			uploaded_chunks = excluded.uploaded_chunks,
			completed = excluded.completed,
			file_path = excluded.file_path,
			updated_at = excluded.updated_at
		RETURNING id`

	now := time.Now().UTC()
	newID := uuid.New().String()

	err := retryOnBusy(ctx, func() error {
		return r.db.QueryRowContext(ctx, query,
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
			now,
			now,
		).Scan(&file.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to upsert file record: %w", err)
	}

	file.UpdatedAt = now
	if file.ID == newID {
		file.CreatedAt = now
		return nil
	}

	// Existing row: report its original creation time.
	existing, err := r.GetByID(ctx, file.ID)
	if err != nil {
		return err
	}
	file.CreatedAt = existing.CreatedAt
	return nil
}

// GetByID retrieves a record by its ID.
func (r *FileRepository) GetByID(ctx context.Context, id string) (*models.FileRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id)
	return scanFile(row)
}

// GetByUploadID retrieves a record by its upload identity.
func (r *FileRepository) GetByUploadID(ctx context.Context, uploadID string) (*models.FileRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE upload_id = ?`, uploadID)
	return scanFile(row)
}

// ListUnused returns every record not yet claimed by a catalog entity.
func (r *FileRepository) ListUnused(ctx context.Context) ([]*models.FileRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE is_used = 0 ORDER BY created_at ASC`)
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
	var result sql.Result
	err := retryOnBusy(ctx, func() error {
		var err error
		result, err = r.db.ExecContext(ctx,
			`UPDATE files SET is_used = ?, updated_at = ? WHERE id = ?`,
			used, time.Now().UTC(), id)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update file usage: %w", err)
	}
	return requireOneRow(result)
}

// Delete removes a record by ID.
func (r *FileRepository) Delete(ctx context.Context, id string) error {
	var result sql.Result
	err := retryOnBusy(ctx, func() error {
		var err error
		result, err = r.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	return requireOneRow(result)
}

func requireOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*models.FileRecord, error) {
	var f models.FileRecord
	err := s.Scan(
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
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan file record: %w", err)
	}
	return &f, nil
}
