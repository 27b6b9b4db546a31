package cleanup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nimeninja/ingestd/internal/models"
	repomock "github.com/nimeninja/ingestd/internal/repository/mock"
	"github.com/nimeninja/ingestd/internal/storage/filesystem"
	storagemock "github.com/nimeninja/ingestd/internal/storage/mock"
)

func TestProcessor_DeletesEverythingOwned(t *testing.T) {
	filesDir := t.TempDir()
	tempDir := t.TempDir()
	backend, err := filesystem.NewFilesystemStorage(filesDir)
	if err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{
		filepath.Join(filesDir, "posters", "2024", "first.png"),
		filepath.Join(filesDir, "posters", "2024", "second.png"),
		filepath.Join(tempDir, "posters", "2024", "first.png"),
		filepath.Join(filesDir, "posters", "keep.png"),
	} {
		os.MkdirAll(filepath.Dir(p), 0755)
		os.WriteFile(p, []byte("x"), 0644)
	}

	files := repomock.NewFileRepository()
	rec := &models.FileRecord{
		UploadID: "u1",
		Folder:   "posters/2024",
		FileName: "first.png",
		FilePath: filepath.Join(filesDir, "posters", "2024", "second.png"),
	}
	files.AddFile(rec)

	p := NewProcessor(files, backend, tempDir)
	if err := p.Process(context.Background(), NewJob(rec.ID)); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	for _, gone := range []string{
		filepath.Join(filesDir, "posters", "2024"),
		filepath.Join(tempDir, "posters"),
	} {
		if _, err := os.Stat(gone); !os.IsNotExist(err) {
			t.Errorf("%s still exists", gone)
		}
	}
	if _, err := os.Stat(filepath.Join(filesDir, "posters", "keep.png")); err != nil {
		t.Errorf("unrelated file removed: %v", err)
	}
	if len(files.Records()) != 0 {
		t.Error("record not deleted")
	}
}

func TestProcessor_MissingAndClaimedRecords(t *testing.T) {
	files := repomock.NewFileRepository()
	backend := storagemock.NewBackend()
	backend.Put("posters/used.png", []byte("x"))

	used := &models.FileRecord{UploadID: "u", Folder: "posters", FileName: "used.png", IsUsed: true}
	files.AddFile(used)

	p := NewProcessor(files, backend, "")
	if err := p.Process(context.Background(), NewJob("missing")); err != nil {
		t.Errorf("Process() of missing record error: %v", err)
	}
	if err := p.Process(context.Background(), NewJob(used.ID)); err != nil {
		t.Errorf("Process() of claimed record error: %v", err)
	}
	if _, ok := backend.Get("posters/used.png"); !ok {
		t.Error("claimed file was deleted")
	}
	if len(files.Records()) != 1 {
		t.Error("claimed record was deleted")
	}
}

func TestProcessor_SkipsPublishedFilesAlreadyGone(t *testing.T) {
	files := repomock.NewFileRepository()
	rec := &models.FileRecord{UploadID: "u", Folder: "posters", FileName: "a.png", FilePath: "mem://posters/b.png"}
	files.AddFile(rec)

	backend := storagemock.NewBackend()
	backend.Put("posters/b.png", []byte("x"))

	p := NewProcessor(files, backend, "")
	if err := p.Process(context.Background(), NewJob(rec.ID)); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if keys := backend.Keys(); len(keys) != 0 {
		t.Errorf("keys left = %v", keys)
	}
	if len(files.Records()) != 0 {
		t.Error("record not deleted")
	}

	// Nothing left to delete, so a failing Delete is never reached
	files.AddFile(rec)
	backend.DeleteError = errors.New("bucket unavailable")
	if err := p.Process(context.Background(), NewJob(rec.ID)); err != nil {
		t.Fatalf("Process() of already deleted files error: %v", err)
	}

	files.AddFile(rec)
	backend.ExistsError = errors.New("timeout")
	if err := p.Process(context.Background(), NewJob(rec.ID)); err == nil {
		t.Fatal("Process() ignored an existence check failure")
	}
	if len(files.Records()) != 1 {
		t.Error("record deleted although its files could not be checked")
	}
}

// flakyQueue wraps MemoryQueue and counts retries.
type flakyQueue struct {
	*MemoryQueue
	retries   atomic.Int32
	completed chan Job
}

func (q *flakyQueue) Retry(ctx context.Context, job Job, delay time.Duration) error {
	q.retries.Add(1)
	return q.MemoryQueue.Retry(ctx, job, delay)
}

func (q *flakyQueue) Complete(ctx context.Context, job Job) error {
	q.completed <- job
	return q.MemoryQueue.Complete(ctx, job)
}

func TestWorker_RetriesThenGivesUp(t *testing.T) {
	files := repomock.NewFileRepository()
	rec := &models.FileRecord{UploadID: "u", Folder: "posters", FileName: "a.png"}
	files.AddFile(rec)

	backend := storagemock.NewBackend()
	backend.Put("posters/a.png", []byte("x"))
	backend.DeleteError = errors.New("bucket unavailable")

	q := &flakyQueue{MemoryQueue: NewMemoryQueue(), completed: make(chan Job, 1)}
	w := NewWorker(q, NewProcessor(files, backend, ""))
	w.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	q.Enqueue(ctx, NewJob(rec.ID))

	select {
	case job := <-q.completed:
		if job.Attempts != DefaultMaxAttempts {
			t.Errorf("Attempts = %d, want %d", job.Attempts, DefaultMaxAttempts)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job never finished")
	}
	if n := q.retries.Load(); n != DefaultMaxAttempts-1 {
		t.Errorf("retries = %d, want %d", n, DefaultMaxAttempts-1)
	}
	if len(files.Records()) != 1 {
		t.Error("record deleted although its file could not be")
	}
}

func TestWorker_CompletesJob(t *testing.T) {
	files := repomock.NewFileRepository()
	rec := &models.FileRecord{UploadID: "u", Folder: "posters", FileName: "a.png"}
	files.AddFile(rec)
	backend := storagemock.NewBackend()
	backend.Put("posters/a.png", []byte("x"))

	q := &flakyQueue{MemoryQueue: NewMemoryQueue(), completed: make(chan Job, 1)}
	w := NewWorker(q, NewProcessor(files, backend, ""))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(stopped)
	}()

	q.Enqueue(ctx, NewJob(rec.ID))
	select {
	case job := <-q.completed:
		if job.Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", job.Attempts)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job never finished")
	}
	if _, ok := backend.Get("posters/a.png"); ok {
		t.Error("published file not deleted")
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
