package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/nimeninja/ingestd/internal/metrics"
	"github.com/nimeninja/ingestd/internal/models"
)

var errSessionClosed = errors.New("upload session closed")

// Session is one in-flight upload. A single worker goroutine consumes its chunk
// channel, so every field below the worker marker is touched by that goroutine only.
type Session struct {
	id       string
	engine   *Engine
	notifier Notifier
	chunks   chan *Envelope
	watchdog *Watchdog
	started  time.Time

	mu     sync.Mutex
	state  State
	reason *Error

	stop     chan struct{}
	stopOnce sync.Once
	released chan struct{}
	done     chan struct{}
	offers   sync.WaitGroup

	// worker
	totalChunks  int
	received     int
	next         int
	folder       string
	originalName string
	fileName     string
	declaredMime string
	declaredSize int64
	tempPath     string
	sink         *Sink
}

func newSession(e *Engine, uploadID string, n Notifier) *Session {
	if n == nil {
		n = discard
	}
	s := &Session{
		id:       uploadID,
		engine:   e,
		notifier: n,
		chunks:   make(chan *Envelope, e.opts.QueueDepth),
		started:  e.now(),
		state:    StateIdle,
		stop:     make(chan struct{}),
		released: make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.watchdog = NewWatchdog(e.opts.SessionTimeout, func() {
		if s.Cancel(newError(TimedOut, uploadID, "Upload canceled due to inactivity", nil)) {
			slog.Warn("upload session timed out", "upload_id", uploadID, "timeout", e.opts.SessionTimeout)
		}
	})
	return s
}

// ID returns the upload id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed after the terminal event has been emitted.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) transition(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.canTransition(next) {
		return false
	}
	s.state = next
	return true
}

// Cancel stops the session with reason at the next chunk boundary.
// It reports false once finalization has started or the session has ended.
func (s *Session) Cancel(reason *Error) bool {
	s.mu.Lock()
	if !s.state.canTransition(StateCancelled) {
		s.mu.Unlock()
		return false
	}
	s.state = StateCancelled
	s.reason = reason
	s.mu.Unlock()

	s.watchdog.Stop()
	s.closeStop()
	return true
}

func (s *Session) closeStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Session) cancelReason() *Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reason != nil {
		return s.reason
	}
	return newError(Cancelled, s.id, "Upload canceled", nil)
}

// offer hands env to the worker, blocking while the chunk queue is full.
// Once finalization has started the session takes no more chunks.
func (s *Session) offer(ctx context.Context, env *Envelope) error {
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateReceiving {
		s.mu.Unlock()
		return errSessionClosed
	}
	s.offers.Add(1)
	s.mu.Unlock()
	defer s.offers.Done()

	select {
	case <-s.stop:
		return errSessionClosed
	default:
	}

	select {
	case s.chunks <- env:
		return nil
	default:
	}

	metrics.ChunkQueueFullTotal.Inc()
	select {
	case s.chunks <- env:
		return nil
	case <-s.stop:
		return errSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) run() {
	defer func() {
		s.dropLate()
		close(s.done)
	}()

	for {
		select {
		case <-s.stop:
			s.finish(nil, s.cancelReason())
			return
		case env := <-s.chunks:
			// Cancellation is honoured at chunk boundaries
			select {
			case <-s.stop:
				s.finish(nil, s.cancelReason())
				return
			default:
			}

			last, err := s.apply(env)
			if err != nil {
				s.finish(nil, err)
				return
			}
			if last {
				res, err := s.finalize()
				s.finish(res, err)
				return
			}
		}
	}
}

// dropLate discards chunks that were queued behind the end of the stream.
// The session is terminal here, so no new offers can start.
func (s *Session) dropLate() {
	s.offers.Wait()
	for {
		select {
		case env := <-s.chunks:
			metrics.ChunksTotal.WithLabelValues("late").Inc()
			slog.Debug("dropped chunk queued after upload ended", "upload_id", s.id, "chunk_index", env.Index)
		default:
			return
		}
	}
}

// apply writes one envelope. It reports whether the stream has ended.
func (s *Session) apply(env *Envelope) (bool, error) {
	if s.totalChunks == 0 {
		if !s.transition(StateReceiving) {
			return false, s.cancelReason()
		}
		if err := s.bootstrap(env); err != nil {
			return false, err
		}
	}

	if env.TotalChunks != s.totalChunks {
		metrics.ChunksTotal.WithLabelValues("malformed").Inc()
		return false, newError(MalformedMetadata, s.id, "Invalid upload metadata",
			fmt.Errorf("total chunks changed from %d to %d", s.totalChunks, env.TotalChunks))
	}
	if env.Index < s.next {
		metrics.ChunksTotal.WithLabelValues("duplicate").Inc()
		slog.Debug("dropped duplicate chunk", "upload_id", s.id, "chunk_index", env.Index, "expected", s.next)
		return false, nil
	}
	if env.Index > s.next {
		metrics.ChunksTotal.WithLabelValues("malformed").Inc()
		return false, newError(MalformedMetadata, s.id, "Chunk out of order",
			fmt.Errorf("got chunk %d, expected %d", env.Index, s.next))
	}
	s.next++

	s.notifier.Emit(models.EventChunkReceived, models.ChunkReceivedEvent{
		UploadID:   s.id,
		ChunkIndex: env.Index,
	})

	if len(env.Payload) == 0 {
		metrics.ChunksTotal.WithLabelValues("empty").Inc()
		slog.Debug("skipped empty chunk", "upload_id", s.id, "chunk_index", env.Index)
		return env.Last(), nil
	}

	if s.engine.opts.MaxFileSize > 0 && s.written()+int64(len(env.Payload)) > s.engine.opts.MaxFileSize {
		metrics.ChunksTotal.WithLabelValues("malformed").Inc()
		return false, newError(MalformedMetadata, s.id, "File exceeds maximum size",
			fmt.Errorf("upload exceeds %d bytes", s.engine.opts.MaxFileSize))
	}

	if s.sink == nil {
		sink, err := OpenSink(s.tempPath, s.engine.opts.SinkBufferSize)
		if err != nil {
			return false, newError(SinkError, s.id, "Failed to write upload", err)
		}
		s.sink = sink
	}
	if _, err := s.sink.Write(env.Payload); err != nil {
		return false, newError(SinkError, s.id, "Failed to write upload", err)
	}

	s.received++
	metrics.ChunksTotal.WithLabelValues("accepted").Inc()

	s.notifier.Emit(models.EventUploadProgress, models.UploadProgressEvent{
		UploadID: s.id,
		Progress: float64(s.received) / float64(s.totalChunks) * 100,
	})
	s.watchdog.Reset()

	return env.Last(), nil
}

// bootstrap reads the upload metadata from the first envelope.
func (s *Session) bootstrap(env *Envelope) error {
	s.totalChunks = env.TotalChunks
	s.folder = env.Folder
	s.originalName = env.OriginalName
	s.declaredMime = env.DeclaredMime
	s.declaredSize = env.DeclaredSize
	s.fileName = GenerateFileName(env.OriginalName, s.engine.now())
	s.tempPath = filepath.Join(s.engine.opts.TempDir, filepath.FromSlash(s.folder), s.fileName)

	slog.Info("upload started",
		"upload_id", s.id,
		"folder", s.folder,
		"original_name", s.originalName,
		"file_name", s.fileName,
		"declared_mime", s.declaredMime,
		"declared_size", s.declaredSize,
		"total_chunks", s.totalChunks,
	)

	if check := s.engine.opts.SpaceCheck; check != nil && s.declaredSize > 0 {
		if err := check(s.engine.opts.TempDir, s.declaredSize); err != nil {
			return newError(SinkError, s.id, "Insufficient storage space", err)
		}
	}
	return nil
}

func (s *Session) written() int64 {
	if s.sink == nil {
		return 0
	}
	return s.sink.Written()
}

// finalize closes the stream and hands the temp file to the finalizer.
func (s *Session) finalize() (*Result, error) {
	if !s.transition(StateFinalizing) {
		return nil, s.cancelReason()
	}
	s.watchdog.Stop()

	if s.received == 0 {
		return nil, newError(NoChunksReceived, s.id, "No chunks received", nil)
	}
	if err := s.sink.Close(); err != nil {
		return nil, newError(SinkError, s.id, "Failed to write upload", err)
	}

	return s.engine.finalizer.Finalize(context.Background(), Upload{
		UploadID:       s.id,
		Folder:         s.folder,
		OriginalName:   s.originalName,
		FileName:       s.fileName,
		TempPath:       s.tempPath,
		Size:           s.sink.Written(),
		ReceivedChunks: s.received,
		TotalChunks:    s.totalChunks,
	})
}

// finish releases every session resource and emits the one terminal event.
func (s *Session) finish(res *Result, err error) {
	s.watchdog.Stop()
	s.closeStop()

	if err != nil {
		s.mu.Lock()
		if s.state == StateCancelled && s.reason != nil {
			err = s.reason
		} else if s.state.canTransition(StateFailed) {
			s.state = StateFailed
		}
		s.mu.Unlock()

		if s.sink != nil {
			s.sink.Abort()
		}
		if !KindOf(err).KeepsTempFile() {
			if rmErr := removeTemp(s.tempPath); rmErr != nil {
				slog.Warn("failed to remove temp file", "upload_id", s.id, "path", s.tempPath, "error", rmErr)
			}
		}
	} else {
		s.transition(StateCompleted)
	}

	s.engine.registry.Release(s.id, s)
	close(s.released)

	duration := s.engine.now().Sub(s.started)

	if err != nil {
		kind := KindOf(err)
		if kind == "" {
			kind = SinkError
		}
		metrics.UploadsTotal.WithLabelValues(string(kind)).Inc()
		slog.Warn("upload failed",
			"upload_id", s.id,
			"kind", kind,
			"state", s.State().String(),
			"received_chunks", s.received,
			"total_chunks", s.totalChunks,
			"duration", duration,
			"error", err,
		)
		emitError(s.notifier, s.id, err)
		return
	}

	metrics.UploadsTotal.WithLabelValues("completed").Inc()
	slog.Info("upload completed",
		"upload_id", s.id,
		"file_id", res.Record.ID,
		"file_name", res.Record.FileName,
		"mime_type", res.Record.MimeType,
		"size", res.Record.Size,
		"duration", duration,
	)
	s.notifier.Emit(models.EventUploadDone, models.UploadDoneEvent{
		Success:  true,
		Message:  "File uploaded successfully",
		ID:       res.Record.ID,
		UploadID: s.id,
		FileName: res.Record.FileName,
		MimeType: res.Record.MimeType,
		URL:      res.URL,
		Stage:    "done",
		Progress: 100,
	})
}
