package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nimeninja/ingestd/internal/ingest"
	"github.com/nimeninja/ingestd/internal/models"
	repomock "github.com/nimeninja/ingestd/internal/repository/mock"
	storagemock "github.com/nimeninja/ingestd/internal/storage/mock"
)

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *ingest.Engine, *repomock.FileRepository) {
	t.Helper()

	files := repomock.NewFileRepository()
	finalizer := ingest.NewFinalizer(ingest.NewValidator(nil), storagemock.NewBackend(), files, "http://files.test")
	engine := ingest.NewEngine(ingest.Options{
		TempDir:        t.TempDir(),
		SessionTimeout: 5 * time.Second,
	}, finalizer)

	srv := httptest.NewServer(NewHandler(engine, opts))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		engine.Shutdown(ctx)
	})
	return srv, engine, files
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("Dial() error: %v (status %d)", err, status)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteJSON(models.Frame{Event: event, Data: raw}); err != nil {
		t.Fatalf("WriteJSON() error: %v", err)
	}
}

func readFrame(t *testing.T, ws *websocket.Conn) models.Frame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame models.Frame
	if err := ws.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON() error: %v", err)
	}
	return frame
}

func readUntil(t *testing.T, ws *websocket.Conn, events ...string) (models.Frame, []string) {
	t.Helper()
	var seen []string
	for {
		frame := readFrame(t, ws)
		seen = append(seen, frame.Event)
		for _, e := range events {
			if frame.Event == e {
				return frame, seen
			}
		}
	}
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 32, 32))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestHandler_UploadOverWebSocket(t *testing.T) {
	srv, engine, files := newTestServer(t, Options{AllowedOrigins: []string{"*"}})
	ws := dial(t, srv, nil)

	data := testPNG(t)
	half := len(data) / 2
	for i, part := range [][]byte{data[:half], data[half:]} {
		send(t, ws, models.EventUploadChunk, models.UploadChunkRequest{
			UploadID:     "ws1",
			Folder:       "posters",
			ChunkIndex:   i,
			TotalChunks:  2,
			Data:         part,
			OriginalName: "cover.png",
			Size:         int64(len(data)),
			MimeType:     "image/png",
		})
	}

	frame, seen := readUntil(t, ws, models.EventUploadDone, models.EventUploadError)
	if frame.Event != models.EventUploadDone {
		t.Fatalf("terminal event = %s (%s), events %v", frame.Event, frame.Data, seen)
	}

	var done models.UploadDoneEvent
	if err := json.Unmarshal(frame.Data, &done); err != nil {
		t.Fatal(err)
	}
	if !done.Success || done.Stage != "done" || done.MimeType != "image/png" {
		t.Errorf("upload_done = %+v", done)
	}
	if !strings.HasPrefix(done.URL, "http://files.test/api/files/posters/") {
		t.Errorf("URL = %q", done.URL)
	}

	acks := 0
	for _, e := range seen {
		if e == models.EventChunkReceived {
			acks++
		}
	}
	if acks != 2 {
		t.Errorf("chunk_received = %d, want 2 (%v)", acks, seen)
	}
	if len(files.Records()) != 1 {
		t.Errorf("records = %d, want 1", len(files.Records()))
	}
	if engine.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions() = %d, want 0", engine.ActiveSessions())
	}
}

func TestHandler_CancelUpload(t *testing.T) {
	srv, _, files := newTestServer(t, Options{})
	ws := dial(t, srv, nil)

	send(t, ws, models.EventUploadChunk, models.UploadChunkRequest{
		UploadID: "ws2", Folder: "videos", ChunkIndex: 0, TotalChunks: 4, Data: []byte("partial"), OriginalName: "a.mp4",
	})
	readUntil(t, ws, models.EventUploadProgress)

	send(t, ws, models.EventCancelUpload, models.CancelUploadRequest{UploadID: "ws2"})

	frame, _ := readUntil(t, ws, models.EventUploadError, models.EventUploadDone)
	var ev models.UploadErrorEvent
	if err := json.Unmarshal(frame.Data, &ev); err != nil {
		t.Fatal(err)
	}
	if frame.Event != models.EventUploadError || ev.Message != "Upload canceled by user" || ev.UploadID != "ws2" {
		t.Errorf("terminal = %s %+v", frame.Event, ev)
	}
	if len(files.Records()) != 0 {
		t.Error("cancelled upload produced a record")
	}
}

func TestHandler_BadFrames(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantID     string
		wantPrefix string
	}{
		{name: "not json", raw: "{nope", wantPrefix: "Invalid message"},
		{name: "unknown event", raw: `{"event":"rename","data":{"uploadId":"x1"}}`, wantID: "x1", wantPrefix: "Unknown event"},
		{name: "bad chunk payload", raw: `{"event":"upload_chunk","data":{"uploadId":"x2","chunkIndex":"zero"}}`, wantID: "x2", wantPrefix: "Invalid upload metadata"},
		{name: "invalid metadata", raw: `{"event":"upload_chunk","data":{"uploadId":"x3","chunkIndex":0,"totalChunks":0}}`, wantID: "x3", wantPrefix: "Invalid upload metadata"},
	}

	srv, engine, _ := newTestServer(t, Options{})
	ws := dial(t, srv, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(tt.raw)); err != nil {
				t.Fatal(err)
			}
			frame := readFrame(t, ws)
			if frame.Event != models.EventUploadError {
				t.Fatalf("event = %s, want upload_error", frame.Event)
			}
			var ev models.UploadErrorEvent
			json.Unmarshal(frame.Data, &ev)
			if ev.UploadID != tt.wantID || !strings.HasPrefix(ev.Message, tt.wantPrefix) {
				t.Errorf("upload_error = %+v", ev)
			}
		})
	}

	if engine.ActiveSessions() != 0 {
		t.Errorf("bad frames created %d sessions", engine.ActiveSessions())
	}
}

func TestHandler_RejectsDisallowedOrigin(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{AllowedOrigins: []string{"https://app.example.com"}})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	header := http.Header{"Origin": {"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("Dial() with disallowed origin succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}

	dial(t, srv, http.Header{"Origin": {"https://app.example.com"}})
}

// stubIngester records calls without running sessions.
type stubIngester struct {
	mu        sync.Mutex
	cancelled []string
}

func (s *stubIngester) HandleChunk(ctx context.Context, n ingest.Notifier, req *models.UploadChunkRequest) error {
	for i := 0; i < 10; i++ {
		n.Emit(models.EventUploadProgress, models.UploadProgressEvent{UploadID: req.UploadID, Progress: float64(i)})
	}
	return nil
}

func (s *stubIngester) Cancel(uploadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, uploadID)
	return true
}

func TestConn_EmitDropsWhenQueueFull(t *testing.T) {
	c := newConn("t", nil, 2)

	c.Emit(models.EventUploadProgress, models.UploadProgressEvent{UploadID: "a", Progress: 1})
	c.Emit(models.EventUploadProgress, models.UploadProgressEvent{UploadID: "a", Progress: 2})

	done := make(chan struct{})
	go func() {
		c.Emit(models.EventUploadProgress, models.UploadProgressEvent{UploadID: "a", Progress: 3})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit() blocked on a full queue")
	}
	if got := c.queued(); len(got) != 2 {
		t.Errorf("queued = %v, want 2 frames", got)
	}

	c.close()
	c.close()
	c.Emit(models.EventUploadDone, models.UploadDoneEvent{})

	frames, closed := c.take()
	if !closed || len(frames) != 2 {
		t.Fatalf("take() = %d frames, closed %v", len(frames), closed)
	}
	var frame models.Frame
	if err := json.Unmarshal(frames[0].data, &frame); err != nil || frame.Event != models.EventUploadProgress {
		t.Errorf("first queued frame = %+v, %v", frame, err)
	}
	var progress models.UploadProgressEvent
	if err := json.Unmarshal(frame.Data, &progress); err != nil || progress.Progress != 1 {
		t.Errorf("first queued progress = %+v, %v", progress, err)
	}
}

func TestConn_TerminalEventsSurviveFullQueue(t *testing.T) {
	c := newConn("t", nil, 4)

	for i := 1; i <= 4; i++ {
		c.Emit(models.EventUploadProgress, models.UploadProgressEvent{UploadID: "a", Progress: float64(i * 25)})
	}
	c.Emit(models.EventUploadDone, models.UploadDoneEvent{UploadID: "a", Success: true})

	want := []string{
		models.EventUploadProgress, models.EventUploadProgress, models.EventUploadProgress,
		models.EventUploadDone,
	}
	got := c.queued()
	if len(got) != len(want) {
		t.Fatalf("queued = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("queued = %v, want %v", got, want)
		}
	}

	// The oldest progress frame made room.
	frames, _ := c.take()
	var frame models.Frame
	var progress models.UploadProgressEvent
	if err := json.Unmarshal(frames[0].data, &frame); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(frame.Data, &progress); err != nil || progress.Progress != 50 {
		t.Errorf("first queued progress = %+v, %v; want 50", progress, err)
	}

	// With only terminal frames queued, another one still gets in.
	small := newConn("t", nil, 1)
	small.Emit(models.EventUploadError, models.UploadErrorEvent{UploadID: "a", Message: "x"})
	small.Emit(models.EventUploadError, models.UploadErrorEvent{UploadID: "b", Message: "y"})
	small.Emit(models.EventUploadProgress, models.UploadProgressEvent{UploadID: "c", Progress: 10})
	if got := small.queued(); len(got) != 2 || got[0] != models.EventUploadError || got[1] != models.EventUploadError {
		t.Errorf("queued = %v, want two upload_error frames", got)
	}
}

func TestHandler_DispatchesCancel(t *testing.T) {
	stub := &stubIngester{}
	srv := httptest.NewServer(NewHandler(stub, Options{OutboundQueueDepth: 4}))
	defer srv.Close()
	ws := dial(t, srv, nil)

	send(t, ws, models.EventUploadChunk, models.UploadChunkRequest{UploadID: "s1"})
	send(t, ws, models.EventCancelUpload, models.CancelUploadRequest{UploadID: "s1"})
	send(t, ws, models.EventCancelUpload, map[string]string{})

	// A burst larger than the outbound queue must not stall the read loop.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		stub.mu.Lock()
		n := len(stub.cancelled)
		stub.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("cancel_upload was not dispatched")
}
