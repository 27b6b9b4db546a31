package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nimeninja/ingestd/internal/cleanup"
	"github.com/nimeninja/ingestd/internal/models"
)

// CleanupEnqueuer queues deletion jobs for unused files.
type CleanupEnqueuer interface {
	EnqueueUnused(ctx context.Context) ([]string, error)
}

// CleanupEnqueueHandler serves POST /api/file-cleans/enqueue.
func CleanupEnqueueHandler(svc CleanupEnqueuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := svc.EnqueueUnused(r.Context())
		if errors.Is(err, cleanup.ErrAlreadyRunning) {
			sendError(w, "Cleanup already running", "CLEANUP_RUNNING", http.StatusConflict)
			return
		}
		if err != nil {
			slog.Error("failed to enqueue cleanup jobs", "error", err)
			sendError(w, "Failed to enqueue cleanup jobs", "INTERNAL_ERROR", http.StatusInternalServerError)
			return
		}

		message := "Delete jobs enqueued for unused files"
		if len(ids) == 0 {
			message = "No unused files found"
		}
		writeJSON(w, http.StatusOK, models.CleanupEnqueueResponse{
			Message: message,
			Total:   len(ids),
			IDs:     ids,
		})
	}
}
