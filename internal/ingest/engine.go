// Package ingest reassembles chunked uploads into temp files, validates their content
// and publishes them to permanent storage. Each upload is a Session with its own
// worker goroutine, bounded chunk queue and inactivity watchdog.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nimeninja/ingestd/internal/metrics"
	"github.com/nimeninja/ingestd/internal/models"
)

// DefaultQueueDepth is the number of chunks buffered per session.
const DefaultQueueDepth = 16

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	TempDir        string
	SessionTimeout time.Duration
	QueueDepth     int
	SinkBufferSize int
	MaxFileSize    int64 // <= 0 disables the limit
	MaxTotalChunks int   // <= 0 disables the limit

	// SpaceCheck, when set, is asked whether dir can hold size more bytes
	// before the first chunk of an upload is written.
	SpaceCheck func(dir string, size int64) error
}

var errLateChunk = errors.New("chunk for an upload that already ended")

// Engine routes chunk envelopes to upload sessions.
type Engine struct {
	opts      Options
	registry  *Registry
	finalizer *Finalizer
	now       func() time.Time
}

// NewEngine creates an Engine that publishes finished uploads through finalizer.
func NewEngine(opts Options, finalizer *Finalizer) *Engine {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = DefaultSessionTimeout
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	if opts.SinkBufferSize <= 0 {
		opts.SinkBufferSize = DefaultSinkBufferSize
	}

	registry := NewRegistry()
	registry.endedTTL = 2 * opts.SessionTimeout

	return &Engine{
		opts:      opts,
		registry:  registry,
		finalizer: finalizer,
		now:       time.Now,
	}
}

// HandleChunk validates req and queues it on its session, creating the session on
// chunk 0. It blocks while the session queue is full. Rejections are reported to n
// as upload_error and returned. Chunks that arrive shortly after their upload
// ended already had their terminal event and are dropped without one.
func (e *Engine) HandleChunk(ctx context.Context, n Notifier, req *models.UploadChunkRequest) error {
	if n == nil {
		n = discard
	}

	env, err := NewEnvelope(req, e.opts.MaxTotalChunks)
	if err != nil {
		uploadID := ""
		if req != nil {
			uploadID = req.UploadID
		}
		metrics.ChunksTotal.WithLabelValues("malformed").Inc()
		slog.Warn("rejected chunk envelope", "upload_id", uploadID, "error", err)
		emitError(n, uploadID, err)
		return err
	}

	// A session that is shutting down cannot take the chunk; wait until it is gone
	// so a restarted upload gets a fresh one.
	for attempt := 0; attempt < 2; attempt++ {
		s, err := e.session(env, n)
		if errors.Is(err, errLateChunk) {
			metrics.ChunksTotal.WithLabelValues("late").Inc()
			slog.Debug("dropped chunk for ended upload", "upload_id", env.UploadID, "chunk_index", env.Index)
			return nil
		}
		if err != nil {
			slog.Warn("rejected chunk", "upload_id", env.UploadID, "chunk_index", env.Index, "error", err)
			emitError(n, env.UploadID, err)
			return err
		}

		err = s.offer(ctx, env)
		if err == nil {
			s.watchdog.Reset()
			return nil
		}
		if !errors.Is(err, errSessionClosed) {
			return fmt.Errorf("failed to queue chunk %d of %s: %w", env.Index, env.UploadID, err)
		}

		select {
		case <-s.released:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	err = newError(MalformedMetadata, env.UploadID, "Upload session not found", errSessionClosed)
	emitError(n, env.UploadID, err)
	return err
}

func (e *Engine) session(env *Envelope, n Notifier) (*Session, error) {
	s, ended := e.registry.Lookup(env.UploadID)
	if s != nil {
		return s, nil
	}
	if env.Index != 0 {
		if ended {
			return nil, errLateChunk
		}
		return nil, newError(MalformedMetadata, env.UploadID, "Upload session not found",
			fmt.Errorf("chunk %d without a session", env.Index))
	}

	s, _, err := e.registry.Admit(env.UploadID, func() *Session {
		return newSession(e, env.UploadID, n)
	})
	if err != nil {
		return nil, newError(Cancelled, env.UploadID, "Server shutting down", err)
	}
	return s, nil
}

// Cancel cancels a live upload on behalf of the client.
// It reports false when the upload is unknown or already finalizing.
func (e *Engine) Cancel(uploadID string) bool {
	ok := e.registry.Cancel(uploadID, newError(Cancelled, uploadID, "Upload canceled by user", nil))
	if !ok {
		slog.Info("cancel ignored", "upload_id", uploadID)
	}
	return ok
}

// ActiveSessions returns the number of live sessions.
func (e *Engine) ActiveSessions() int {
	return e.registry.Len()
}

// Shutdown cancels every live session and waits for them to end.
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.registry.Shutdown(ctx)
}
