package ingest

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nimeninja/ingestd/internal/metrics"
)

// DefaultSinkBufferSize is the number of bytes buffered in front of the temp file.
const DefaultSinkBufferSize = 1 << 20

var errSinkClosed = errors.New("sink is closed")

// Sink is an append-only temp file behind a bounded buffer.
// When the buffer cannot take the next payload, Write drains it to disk first,
// so a fast producer is held at the speed of the disk.
type Sink struct {
	path    string
	f       *os.File
	w       *bufio.Writer
	written int64
	closed  bool
}

// OpenSink creates path (and its folder) exclusively for appending.
func OpenSink(path string, bufSize int) (*Sink, error) {
	if bufSize <= 0 {
		bufSize = DefaultSinkBufferSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp folder: %w", err)
	}

	// O_EXCL: two sessions must never address the same temp path
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open temp file: %w", err)
	}

	return &Sink{
		path: path,
		f:    f,
		w:    bufio.NewWriterSize(f, bufSize),
	}, nil
}

// Path returns the temp file location.
func (s *Sink) Path() string {
	return s.path
}

// Written returns the number of bytes accepted so far.
func (s *Sink) Written() int64 {
	return s.written
}

// Write appends p, suspending until the buffer has drained when it is full.
func (s *Sink) Write(p []byte) (int, error) {
	if s.closed {
		return 0, errSinkClosed
	}

	if len(p) > s.w.Available() && s.w.Buffered() > 0 {
		metrics.SinkBackpressureTotal.Inc()
		if err := s.w.Flush(); err != nil {
			return 0, fmt.Errorf("failed to drain sink buffer: %w", err)
		}
	}

	n, err := s.w.Write(p)
	s.written += int64(n)
	metrics.BytesWrittenTotal.Add(float64(n))
	if err != nil {
		return n, fmt.Errorf("failed to write temp file: %w", err)
	}
	return n, nil
}

// Close flushes buffered bytes, syncs and closes the file.
func (s *Sink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return fmt.Errorf("failed to flush temp file: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	return nil
}

// Abort closes the file without flushing. Safe after Close.
func (s *Sink) Abort() {
	if s.closed {
		return
	}
	s.closed = true
	s.f.Close()
}
