package models

import (
	"strings"
	"time"
)

// FileRecord is the persisted record of a published upload.
// It is keyed by UploadID; repeated completions for the same upload update it in place.
type FileRecord struct {
	ID             string
	UploadID       string
	Folder         string
	OriginalName   string
	FileName       string // generated name, unique per session
	MimeType       string // detected, not declared
	Size           int64
	UploadedChunks int
	Completed      bool
	FilePath       string // backend location of the published object
	IsUsed         bool   // set only by downstream catalog owners
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StorageKey returns the permanent storage key "<folder>/<fileName>".
func (f *FileRecord) StorageKey() string {
	return f.Folder + "/" + f.FileName
}

// LatestKey returns the storage key FilePath points at, or "" when FilePath is unset.
func (f *FileRecord) LatestKey() string {
	latest := f.FilePath
	if i := strings.LastIndexAny(latest, "/\\"); i >= 0 {
		latest = latest[i+1:]
	}
	if latest == "" {
		return ""
	}
	return f.Folder + "/" + latest
}

// PublishedKeys returns every storage key the record may own. A repeated completion
// updates FilePath but keeps the first FileName, so both are returned when they differ.
// The finalizer deletes the object a replaced FilePath pointed to, so there are never more.
func (f *FileRecord) PublishedKeys() []string {
	keys := []string{f.StorageKey()}
	if latest := f.LatestKey(); latest != "" && latest != keys[0] {
		keys = append(keys, latest)
	}
	return keys
}

// FileRecordResponse is the JSON representation of a FileRecord.
type FileRecordResponse struct {
	ID             string    `json:"id"`
	UploadID       string    `json:"upload_id"`
	Folder         string    `json:"folder"`
	OriginalName   string    `json:"original_name"`
	FileName       string    `json:"file_name"`
	MimeType       string    `json:"mime_type"`
	Size           int64     `json:"size"`
	UploadedChunks int       `json:"uploaded_chunks"`
	Completed      bool      `json:"completed"`
	IsUsed         bool      `json:"is_used"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ToResponse converts a FileRecord to its JSON form.
func (f *FileRecord) ToResponse() FileRecordResponse {
	return FileRecordResponse{
		ID:             f.ID,
		UploadID:       f.UploadID,
		Folder:         f.Folder,
		OriginalName:   f.OriginalName,
		FileName:       f.FileName,
		MimeType:       f.MimeType,
		Size:           f.Size,
		UploadedChunks: f.UploadedChunks,
		Completed:      f.Completed,
		IsUsed:         f.IsUsed,
		CreatedAt:      f.CreatedAt,
		UpdatedAt:      f.UpdatedAt,
	}
}

// ErrorResponse is the JSON error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the JSON response for the health check endpoint
type HealthResponse struct {
	Status             string   `json:"status"`
	StatusDetails      []string `json:"status_details,omitempty"`
	UptimeSeconds      int64    `json:"uptime_seconds"`
	ActiveSessions     int      `json:"active_sessions"`
	Database           string   `json:"database"`
	Storage            string   `json:"storage"`
	DiskTotalBytes     uint64   `json:"disk_total_bytes,omitempty"`
	DiskFreeBytes      uint64   `json:"disk_free_bytes,omitempty"`
	DiskUsedPercent    float64  `json:"disk_used_percent,omitempty"`
	DiskAvailableBytes uint64   `json:"disk_available_bytes,omitempty"`
	TempDirBytes       int64    `json:"temp_dir_bytes"`
}

// CleanupEnqueueResponse is returned by the cleanup enqueue endpoint.
type CleanupEnqueueResponse struct {
	Message string   `json:"message"`
	Total   int      `json:"total"`
	IDs     []string `json:"ids,omitempty"`
}
