package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nimeninja/ingestd/internal/metrics"
	"github.com/nimeninja/ingestd/internal/repository"
	"github.com/nimeninja/ingestd/internal/storage"
	"github.com/nimeninja/ingestd/internal/storage/filesystem"
)

const (
	// DefaultMaxAttempts is how often a failing job runs before it is dropped.
	DefaultMaxAttempts = 5
	// DefaultBackoff is the delay before the first retry; it doubles per attempt.
	DefaultBackoff = 5 * time.Second
)

// Processor deletes one FileRecord and everything it owns.
type Processor struct {
	files   repository.FileRepository
	backend storage.Backend
	tempDir string
}

// NewProcessor creates a Processor. tempDir is the root the ingestion engine
// reassembles uploads in.
func NewProcessor(files repository.FileRepository, backend storage.Backend, tempDir string) *Processor {
	return &Processor{files: files, backend: backend, tempDir: tempDir}
}

// Process deletes the published objects, the temp counterparts and finally the
// record, so a failed attempt can be retried from the record.
func (p *Processor) Process(ctx context.Context, job Job) error {
	rec, err := p.files.GetByID(ctx, job.FileID)
	if errors.Is(err, repository.ErrNotFound) {
		slog.Warn("cleanup target not found", "job_id", job.ID, "file_id", job.FileID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load file record: %w", err)
	}
	if rec.IsUsed {
		slog.Info("skipping cleanup of file claimed since enqueue", "job_id", job.ID, "file_id", rec.ID)
		return nil
	}

	for _, key := range rec.PublishedKeys() {
		exists, err := p.backend.Exists(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to check published file %s: %w", key, err)
		}
		if exists {
			if err := p.backend.Delete(ctx, key); err != nil {
				return fmt.Errorf("failed to delete published file %s: %w", key, err)
			}
			slog.Debug("deleted published file", "file_id", rec.ID, "key", key)
		} else {
			slog.Debug("published file already gone", "file_id", rec.ID, "key", key)
		}

		if p.tempDir != "" {
			tempPath := filepath.Join(p.tempDir, filepath.FromSlash(key))
			if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to delete temp file %s: %w", tempPath, err)
			}
		}
	}

	if err := p.files.Delete(ctx, rec.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to delete file record: %w", err)
	}

	if pruner, ok := p.backend.(storage.Pruner); ok {
		if err := pruner.PruneEmptyDirs(ctx); err != nil {
			slog.Warn("failed to prune storage folders", "error", err)
		}
	}
	if p.tempDir != "" {
		if err := filesystem.PruneEmptyDirs(ctx, p.tempDir); err != nil {
			slog.Warn("failed to prune temp folders", "error", err)
		}
	}

	slog.Info("file cleaned up", "job_id", job.ID, "file_id", rec.ID, "folder", rec.Folder, "file_name", rec.FileName)
	return nil
}

// Worker consumes a Queue with a Processor, retrying failed jobs with exponential backoff.
type Worker struct {
	queue       Queue
	processor   *Processor
	maxAttempts int
	backoff     time.Duration
}

// NewWorker creates a Worker with the default retry policy.
func NewWorker(queue Queue, processor *Processor) *Worker {
	return &Worker{
		queue:       queue,
		processor:   processor,
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
	}
}

// Run processes jobs until ctx ends or the queue is closed.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("cleanup worker started", "max_attempts", w.maxAttempts, "backoff", w.backoff)

	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				slog.Info("cleanup worker shutting down")
				return nil
			}
			slog.Error("failed to dequeue cleanup job", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.backoff):
			}
			continue
		}

		w.handle(ctx, job)
	}
}

func (w *Worker) handle(ctx context.Context, job Job) {
	job.Attempts++
	err := w.processor.Process(ctx, job)
	if err == nil {
		metrics.CleanupJobsTotal.WithLabelValues("completed").Inc()
		if cerr := w.queue.Complete(ctx, job); cerr != nil {
			slog.Warn("failed to complete cleanup job", "job_id", job.ID, "error", cerr)
		}
		return
	}

	if job.Attempts >= w.maxAttempts {
		metrics.CleanupJobsTotal.WithLabelValues("failed").Inc()
		slog.Error("cleanup job failed permanently",
			"job_id", job.ID,
			"file_id", job.FileID,
			"attempts", job.Attempts,
			"error", err,
		)
		if cerr := w.queue.Complete(ctx, job); cerr != nil {
			slog.Warn("failed to complete cleanup job", "job_id", job.ID, "error", cerr)
		}
		return
	}

	delay := w.backoff << (job.Attempts - 1)
	metrics.CleanupJobsTotal.WithLabelValues("retried").Inc()
	slog.Warn("cleanup job failed, retrying",
		"job_id", job.ID,
		"file_id", job.FileID,
		"attempts", job.Attempts,
		"retry_in", delay,
		"error", err,
	)
	if rerr := w.queue.Retry(ctx, job, delay); rerr != nil {
		slog.Error("failed to schedule cleanup retry", "job_id", job.ID, "error", rerr)
	}
}
