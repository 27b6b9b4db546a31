// Package cleanup deletes FileRecords that no catalog entity claimed, together with
// their published objects and temp counterparts. Deletion runs as queued jobs so it
// can be retried with backoff.
package cleanup

import (
	"context"
	"errors"
	"time"
)

// JobName is the only job type on the cleanup queue.
const JobName = "delete_file"

// ErrQueueClosed is returned by Dequeue after Close.
var ErrQueueClosed = errors.New("cleanup queue closed")

// Job asks the worker to delete one FileRecord.
type Job struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	FileID    string    `json:"file_id"`
	Attempts  int       `json:"attempts"`
	NotBefore time.Time `json:"not_before,omitempty"`
}

// NewJob returns the deletion job for fileID. The id is derived from the file id
// so a file can only be queued once at a time.
func NewJob(fileID string) Job {
	return Job{ID: JobName + "_" + fileID, Name: JobName, FileID: fileID}
}

// Queue is a job queue with de-duplication by job id.
type Queue interface {
	// Enqueue adds jobs whose id is not already pending and returns how many were added.
	Enqueue(ctx context.Context, jobs ...Job) (int, error)

	// Dequeue blocks until a job is due or ctx ends.
	Dequeue(ctx context.Context) (Job, error)

	// Retry schedules job to run again after delay. The job stays pending.
	Retry(ctx context.Context, job Job, delay time.Duration) error

	// Complete releases the job id so the file can be queued again.
	Complete(ctx context.Context, job Job) error

	// Close releases queue resources.
	Close() error
}
