package ingest

import (
	"fmt"
	"strings"

	"github.com/nimeninja/ingestd/internal/models"
	"github.com/nimeninja/ingestd/internal/utils"
)

// Envelope is a validated chunk envelope.
type Envelope struct {
	UploadID     string
	Index        int
	TotalChunks  int
	Payload      []byte
	Folder       string
	OriginalName string
	DeclaredSize int64
	DeclaredMime string
}

// Last reports whether the envelope closes the stream.
func (e *Envelope) Last() bool {
	return e.Index+1 == e.TotalChunks
}

// NewEnvelope validates req. It rejects an envelope before any session state is touched.
// maxTotalChunks <= 0 disables the chunk count limit.
func NewEnvelope(req *models.UploadChunkRequest, maxTotalChunks int) (*Envelope, error) {
	if req == nil {
		return nil, newError(MalformedMetadata, "", "Invalid upload metadata", fmt.Errorf("empty envelope"))
	}

	uploadID := strings.TrimSpace(req.UploadID)
	if uploadID == "" {
		return nil, newError(MalformedMetadata, "", "Invalid upload metadata", fmt.Errorf("missing upload id"))
	}
	if req.TotalChunks <= 0 || req.ChunkIndex < 0 || req.ChunkIndex >= req.TotalChunks {
		return nil, newError(MalformedMetadata, uploadID, "Invalid upload metadata",
			fmt.Errorf("chunk %d of %d out of range", req.ChunkIndex, req.TotalChunks))
	}
	if maxTotalChunks > 0 && req.TotalChunks > maxTotalChunks {
		return nil, newError(MalformedMetadata, uploadID, "Invalid upload metadata",
			fmt.Errorf("total chunks %d exceeds limit %d", req.TotalChunks, maxTotalChunks))
	}
	if req.Size < 0 {
		return nil, newError(MalformedMetadata, uploadID, "Invalid upload metadata",
			fmt.Errorf("negative size %d", req.Size))
	}

	// Bootstrap metadata is required on the first chunk and checked whenever present.
	if req.ChunkIndex == 0 || req.Folder != "" {
		if err := utils.ValidateFolder(req.Folder); err != nil {
			return nil, newError(MalformedMetadata, uploadID, "Invalid upload folder", err)
		}
	}

	return &Envelope{
		UploadID:     uploadID,
		Index:        req.ChunkIndex,
		TotalChunks:  req.TotalChunks,
		Payload:      req.Data,
		Folder:       req.Folder,
		OriginalName: req.OriginalName,
		DeclaredSize: req.Size,
		DeclaredMime: req.MimeType,
	}, nil
}
