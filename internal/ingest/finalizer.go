package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/nimeninja/ingestd/internal/metrics"
	"github.com/nimeninja/ingestd/internal/models"
	"github.com/nimeninja/ingestd/internal/repository"
	"github.com/nimeninja/ingestd/internal/storage"
)

// DefaultBaseURL prefixes public file URLs when none is configured.
const DefaultBaseURL = "http://localhost:8080"

// Finalizer validates a finished temp file, publishes it and records it.
type Finalizer struct {
	validator *Validator
	backend   storage.Backend
	files     repository.FileRepository
	baseURL   string
}

// NewFinalizer creates a Finalizer. baseURL has any trailing slash removed.
func NewFinalizer(validator *Validator, backend storage.Backend, files repository.FileRepository, baseURL string) *Finalizer {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Finalizer{
		validator: validator,
		backend:   backend,
		files:     files,
		baseURL:   strings.TrimRight(baseURL, "/"),
	}
}

// Upload describes a fully written temp file.
type Upload struct {
	UploadID       string
	Folder         string
	OriginalName   string
	FileName       string
	TempPath       string
	Size           int64
	ReceivedChunks int
	TotalChunks    int
}

// Result is a published and recorded upload.
type Result struct {
	Record *models.FileRecord
	URL    string
}

// PublicURL returns the retrieval URL of folder/fileName.
func (f *Finalizer) PublicURL(folder, fileName string) string {
	return f.baseURL + "/api/files/" + folder + "/" + fileName
}

// Finalize runs validation, publish and upsert in that order.
// A rejected file is deleted. A failed publish keeps the temp file in place.
func (f *Finalizer) Finalize(ctx context.Context, up Upload) (*Result, error) {
	start := time.Now()
	defer func() {
		metrics.FinalizeDuration.Observe(time.Since(start).Seconds())
	}()

	mime, err := f.validator.Validate(up.TempPath, up.OriginalName)
	if err != nil {
		if rmErr := removeTemp(up.TempPath); rmErr != nil {
			slog.Warn("failed to remove rejected temp file", "upload_id", up.UploadID, "path", up.TempPath, "error", rmErr)
		}
		if mime != "" {
			metrics.ContentRejectedTotal.WithLabelValues(mime).Inc()
		}
		msg := "File type not allowed: unknown"
		if mime != "" {
			msg = "File type not allowed: " + mime
		}
		return nil, newError(ContentRejected, up.UploadID, msg, err)
	}

	key := up.Folder + "/" + up.FileName
	location, err := f.backend.Publish(ctx, up.TempPath, key)
	if err != nil {
		slog.Error("failed to publish upload, temp file kept",
			"upload_id", up.UploadID,
			"temp_path", up.TempPath,
			"key", key,
			"error", err,
		)
		return nil, newError(StorageMoveError, up.UploadID, "Failed to move file to storage", err)
	}

	superseded := f.supersededKey(ctx, up.UploadID, key)

	record := &models.FileRecord{
		UploadID:       up.UploadID,
		Folder:         up.Folder,
		OriginalName:   up.OriginalName,
		FileName:       up.FileName,
		MimeType:       mime,
		Size:           up.Size,
		UploadedChunks: up.ReceivedChunks,
		Completed:      up.ReceivedChunks == up.TotalChunks,
		FilePath:       location,
	}
	if err := f.files.Upsert(ctx, record); err != nil {
		slog.Error("failed to record published upload",
			"upload_id", up.UploadID,
			"location", location,
			"error", err,
		)
		return nil, newError(RecordError, up.UploadID, "Failed to save file record", err)
	}

	if superseded != "" {
		if err := f.backend.Delete(ctx, superseded); err != nil {
			slog.Warn("failed to delete superseded upload", "upload_id", up.UploadID, "key", superseded, "error", err)
		} else {
			slog.Debug("deleted superseded upload", "upload_id", up.UploadID, "key", superseded)
		}
	}

	metrics.UploadSizeBytes.Observe(float64(up.Size))

	return &Result{
		Record: record,
		URL:    f.PublicURL(up.Folder, up.FileName),
	}, nil
}

// supersededKey returns the key an earlier completion of uploadID published that
// the record stops referencing once its FilePath moves to key. The first FileName
// stays on the record and is never returned.
func (f *Finalizer) supersededKey(ctx context.Context, uploadID, key string) string {
	prev, err := f.files.GetByUploadID(ctx, uploadID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Warn("failed to load previous file record", "upload_id", uploadID, "error", err)
		}
		return ""
	}
	old := prev.LatestKey()
	if old == "" || old == key || old == prev.StorageKey() {
		return ""
	}
	return old
}

// removeTemp deletes path, tolerating a file that is already gone.
func removeTemp(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove temp file: %w", err)
	}
	return nil
}
