package testutil

import (
	"github.com/nimeninja/ingestd/internal/models"
)

// SampleFileName is a generated name in the "<millis>-<rand>-<uuid><ext>" form.
const SampleFileName = "1700000000000-abc123-6f1c2a8e-0e0b-4b8e-9d7e-3a3f0c6b2d11.png"

// FileRecordOption customizes SampleFileRecord.
type FileRecordOption func(*models.FileRecord)

// SampleFileRecord returns a completed PNG upload in the posters folder.
func SampleFileRecord(uploadID string, opts ...FileRecordOption) *models.FileRecord {
	rec := &models.FileRecord{
		UploadID:       uploadID,
		Folder:         "posters",
		OriginalName:   "poster.png",
		FileName:       SampleFileName,
		MimeType:       "image/png",
		Size:           4096,
		UploadedChunks: 3,
		Completed:      true,
		FilePath:       "/srv/files/posters/" + SampleFileName,
	}
	for _, opt := range opts {
		opt(rec)
	}
	return rec
}

// WithFolder sets the folder.
func WithFolder(folder string) FileRecordOption {
	return func(r *models.FileRecord) {
		r.Folder = folder
	}
}

// WithFileName sets the stored name and points FilePath at it.
func WithFileName(name string) FileRecordOption {
	return func(r *models.FileRecord) {
		r.FileName = name
		r.FilePath = "/srv/files/" + r.Folder + "/" + name
	}
}

// WithUsed marks the record as claimed by the catalog.
func WithUsed() FileRecordOption {
	return func(r *models.FileRecord) {
		r.IsUsed = true
	}
}
