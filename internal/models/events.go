package models

import "encoding/json"

// Client → server event names.
const (
	EventUploadChunk  = "upload_chunk"
	EventCancelUpload = "cancel_upload"
)

// Server → client event names.
const (
	EventChunkReceived  = "chunk_received"
	EventUploadProgress = "upload_progress"
	EventUploadDone     = "upload_done"
	EventUploadError    = "upload_error"
)

// Frame is one message on the upload channel in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// UploadChunkRequest is the chunk envelope sent by clients.
// Folder, OriginalName, Size and MimeType describe the whole upload; they are read
// from the first envelope of a session and tolerated on later ones.
type UploadChunkRequest struct {
	UploadID     string `json:"uploadId"`
	Folder       string `json:"folder"`
	ChunkIndex   int    `json:"chunkIndex"`
	TotalChunks  int    `json:"totalChunks"`
	Data         []byte `json:"data"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mimeType"`
}

// CancelUploadRequest asks the server to abort a live upload.
type CancelUploadRequest struct {
	UploadID string `json:"uploadId"`
}

// ChunkReceivedEvent acknowledges an accepted chunk.
type ChunkReceivedEvent struct {
	UploadID   string `json:"uploadId"`
	ChunkIndex int    `json:"chunkIndex"`
}

// UploadProgressEvent reports received chunks as a percentage of the total.
type UploadProgressEvent struct {
	UploadID string  `json:"uploadId"`
	Progress float64 `json:"progress"`
}

// UploadDoneEvent is the terminal success event.
type UploadDoneEvent struct {
	Success  bool    `json:"success"`
	Message  string  `json:"message"`
	ID       string  `json:"id"`
	UploadID string  `json:"uploadId"`
	FileName string  `json:"fileName"`
	MimeType string  `json:"mimeType"`
	URL      string  `json:"url"`
	Stage    string  `json:"stage"`
	Progress float64 `json:"progress"`
}

// UploadErrorEvent is the terminal failure event.
type UploadErrorEvent struct {
	UploadID string `json:"uploadId"`
	Message  string `json:"message"`
}
