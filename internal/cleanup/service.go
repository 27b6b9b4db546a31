package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/nimeninja/ingestd/internal/metrics"
	"github.com/nimeninja/ingestd/internal/repository"
)

// ErrAlreadyRunning is returned while another enqueue call is in progress.
var ErrAlreadyRunning = errors.New("cleanup already running")

// Service enqueues deletion jobs for unused files.
type Service struct {
	files   repository.FileRepository
	queue   Queue
	running atomic.Bool
}

// NewService creates a Service.
func NewService(files repository.FileRepository, queue Queue) *Service {
	return &Service{files: files, queue: queue}
}

// EnqueueUnused queues one job per FileRecord with IsUsed = false and returns
// the ids of the records found. Files already queued are not queued twice.
func (s *Service) EnqueueUnused(ctx context.Context) ([]string, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer s.running.Store(false)

	unused, err := s.files.ListUnused(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list unused files: %w", err)
	}
	if len(unused) == 0 {
		slog.Info("no unused files found for cleanup")
		return nil, nil
	}

	ids := make([]string, 0, len(unused))
	jobs := make([]Job, 0, len(unused))
	for _, f := range unused {
		ids = append(ids, f.ID)
		jobs = append(jobs, NewJob(f.ID))
	}

	added, err := s.queue.Enqueue(ctx, jobs...)
	metrics.CleanupJobsTotal.WithLabelValues("enqueued").Add(float64(added))
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue cleanup jobs: %w", err)
	}

	slog.Info("cleanup jobs enqueued", "unused_files", len(ids), "new_jobs", added)
	return ids, nil
}
