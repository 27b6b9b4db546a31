package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/nimeninja/ingestd/internal/repository"
)

// RecordsHandler lets the catalog claim and release uploaded files.
// Unused files are the ones the cleanup pipeline deletes.
type RecordsHandler struct {
	files repository.FileRepository
}

// NewRecordsHandler creates a RecordsHandler.
func NewRecordsHandler(files repository.FileRepository) *RecordsHandler {
	return &RecordsHandler{files: files}
}

// MarkUsed serves POST /api/file-records/{id}/used.
func (h *RecordsHandler) MarkUsed(w http.ResponseWriter, r *http.Request) {
	h.setUsed(w, r, true)
}

// MarkUnused serves POST /api/file-records/{id}/unused.
func (h *RecordsHandler) MarkUnused(w http.ResponseWriter, r *http.Request) {
	h.setUsed(w, r, false)
}

func (h *RecordsHandler) setUsed(w http.ResponseWriter, r *http.Request, used bool) {
	id := r.PathValue("id")
	if id == "" {
		sendError(w, "File record id is required", "INVALID_INPUT", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := h.files.SetUsed(ctx, id, used); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendError(w, "File record not found", "NOT_FOUND", http.StatusNotFound)
			return
		}
		slog.Error("failed to update file usage", "file_id", id, "used", used, "error", err)
		sendError(w, "Failed to update file record", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	rec, err := h.files.GetByID(ctx, id)
	if err != nil {
		slog.Error("failed to reload file record", "file_id", id, "error", err)
		sendError(w, "Failed to load file record", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	slog.Info("file usage updated", "file_id", id, "used", used)
	writeJSON(w, http.StatusOK, rec.ToResponse())
}
