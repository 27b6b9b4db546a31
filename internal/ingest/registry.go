package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nimeninja/ingestd/internal/metrics"
)

// ErrShuttingDown is returned by Admit once Shutdown has started.
var ErrShuttingDown = errors.New("ingest engine is shutting down")

// Registry maps upload ids to live sessions and owns their worker goroutines.
// Ids of sessions that ended within the last endedTTL are remembered so chunks
// still in flight for them can be told apart from chunks for unknown uploads.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ended    map[string]time.Time
	endedTTL time.Duration
	closed   bool
	wg       sync.WaitGroup

	now func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		ended:    make(map[string]time.Time),
		endedTTL: DefaultSessionTimeout,
		now:      time.Now,
	}
}

// Admit returns the live session for uploadID, or creates one with newSession and
// starts its worker. created reports whether the session is new.
func (r *Registry) Admit(uploadID string, newSession func() *Session) (s *Session, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false, ErrShuttingDown
	}
	if s, ok := r.sessions[uploadID]; ok {
		return s, false, nil
	}

	s = newSession()
	r.sessions[uploadID] = s
	delete(r.ended, uploadID)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		s.run()
	}()

	metrics.SessionsStartedTotal.Inc()
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	slog.Debug("upload session created", "upload_id", uploadID, "active_sessions", len(r.sessions))

	return s, true, nil
}

// Release removes uploadID if it still maps to s. Safe to call more than once.
func (r *Registry) Release(uploadID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[uploadID]; ok && cur == s {
		delete(r.sessions, uploadID)
		metrics.ActiveSessions.Set(float64(len(r.sessions)))

		now := r.now()
		for id, at := range r.ended {
			if now.Sub(at) >= r.endedTTL {
				delete(r.ended, id)
			}
		}
		r.ended[uploadID] = now
	}
}

// Get returns the live session for uploadID, or nil.
func (r *Registry) Get(uploadID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[uploadID]
}

// Lookup returns the live session for uploadID. With no live session, ended
// reports whether one was released within the tombstone window.
func (r *Registry) Lookup(uploadID string) (s *Session, ended bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[uploadID]; ok {
		return s, false
	}
	at, ok := r.ended[uploadID]
	return nil, ok && r.now().Sub(at) < r.endedTTL
}

// Cancel cancels the live session for uploadID with reason.
// It reports false when there is no session or it can no longer be cancelled.
func (r *Registry) Cancel(uploadID string, reason *Error) bool {
	s := r.Get(uploadID)
	if s == nil {
		return false
	}
	return s.Cancel(reason)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown refuses new sessions, cancels every live one and waits for their
// workers to exit or ctx to end. Sessions already finalizing run to completion.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.Unlock()

	for _, s := range live {
		s.Cancel(newError(Cancelled, s.id, "Server shutting down", nil))
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("all upload sessions stopped", "cancelled", len(live))
		return nil
	case <-ctx.Done():
		slog.Warn("timed out waiting for upload sessions", "remaining", r.Len())
		return ctx.Err()
	}
}
