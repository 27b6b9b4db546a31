package ingest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nimeninja/ingestd/internal/models"
	"github.com/nimeninja/ingestd/internal/repository"
	"github.com/nimeninja/ingestd/internal/storage"
)

const testBaseURL = "http://files.test"

type recordedEvent struct {
	name    string
	payload any
}

// recorder is a Notifier that keeps every event and signals terminal ones.
type recorder struct {
	mu       sync.Mutex
	events   []recordedEvent
	terminal chan recordedEvent
}

func newRecorder() *recorder {
	return &recorder{terminal: make(chan recordedEvent, 16)}
}

func (r *recorder) Emit(event string, payload any) {
	ev := recordedEvent{name: event, payload: payload}

	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()

	if event == models.EventUploadDone || event == models.EventUploadError {
		r.terminal <- ev
	}
}

func (r *recorder) snapshot() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

func (r *recorder) names() []string {
	var out []string
	for _, ev := range r.snapshot() {
		out = append(out, ev.name)
	}
	return out
}

func (r *recorder) count(event string) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.name == event {
			n++
		}
	}
	return n
}

func (r *recorder) waitTerminal(t testing.TB) recordedEvent {
	t.Helper()
	select {
	case ev := <-r.terminal:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("no terminal event, got %v", r.names())
		return recordedEvent{}
	}
}

func (r *recorder) waitError(t *testing.T) models.UploadErrorEvent {
	t.Helper()
	ev := r.waitTerminal(t)
	if ev.name != models.EventUploadError {
		t.Fatalf("terminal event = %s, want %s", ev.name, models.EventUploadError)
	}
	return ev.payload.(models.UploadErrorEvent)
}

func (r *recorder) waitDone(t testing.TB) models.UploadDoneEvent {
	t.Helper()
	ev := r.waitTerminal(t)
	if ev.name != models.EventUploadDone {
		if e, ok := ev.payload.(models.UploadErrorEvent); ok {
			t.Fatalf("terminal event = upload_error %q, want upload_done", e.Message)
		}
		t.Fatalf("terminal event = %s, want %s", ev.name, models.EventUploadDone)
	}
	return ev.payload.(models.UploadDoneEvent)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// newTestEngine builds an engine over a fresh temp dir. The engine is shut down
// when the test ends.
func newTestEngine(t testing.TB, backend storage.Backend, files repository.FileRepository, mutate func(*Options)) (*Engine, string) {
	t.Helper()

	tempDir := t.TempDir()
	opts := Options{
		TempDir:        tempDir,
		SessionTimeout: 5 * time.Second,
		QueueDepth:     4,
		SinkBufferSize: 64,
	}
	if mutate != nil {
		mutate(&opts)
	}

	e := NewEngine(opts, NewFinalizer(NewValidator(nil), backend, files, testBaseURL))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.Shutdown(ctx)
	})
	return e, tempDir
}

func pngBytes(t testing.TB) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for x := 0; x < 16; x++ {
		for y := 0; y < 16; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error: %v", err)
	}
	return buf.Bytes()
}

func splitChunks(data []byte, n int) [][]byte {
	size := (len(data) + n - 1) / n
	parts := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		start := i * size
		end := start + size
		if start > len(data) {
			start = len(data)
		}
		if end > len(data) {
			end = len(data)
		}
		parts = append(parts, data[start:end])
	}
	return parts
}

func chunkRequest(uploadID, folder, name string, index, total int, data []byte) *models.UploadChunkRequest {
	return &models.UploadChunkRequest{
		UploadID:     uploadID,
		Folder:       folder,
		ChunkIndex:   index,
		TotalChunks:  total,
		Data:         data,
		OriginalName: name,
		MimeType:     "image/png",
	}
}

func sendAll(t testing.TB, e *Engine, n Notifier, uploadID, folder, name string, parts [][]byte) {
	t.Helper()
	for i, p := range parts {
		req := chunkRequest(uploadID, folder, name, i, len(parts), p)
		if err := e.HandleChunk(context.Background(), n, req); err != nil {
			t.Fatalf("HandleChunk(%d) error: %v", i, err)
		}
	}
}

func listFiles(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err == nil && d.Type().IsRegular() {
			out = append(out, path)
		}
		return nil
	})
	return out
}
