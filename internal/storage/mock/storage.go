// Package mock provides an in-memory implementation of storage.Backend for testing.
package mock

import (
	"bytes"
	"context"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/nimeninja/ingestd/internal/storage"
)

// Backend is a mock implementation of storage.Backend.
// Published objects are kept in memory; error fields inject failures.
type Backend struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// Error injection for testing
	PublishError error
	OpenError    error
	DeleteError  error
	ExistsError  error
	HealthError  error

	// OnPublish, when set, replaces the default publish behavior.
	OnPublish func(ctx context.Context, srcPath, key string) (string, error)
}

// NewBackend creates an empty mock Backend.
func NewBackend() *Backend {
	return &Backend{objects: make(map[string][]byte)}
}

var _ storage.Backend = (*Backend)(nil)

// Publish reads srcPath into memory and removes it.
func (b *Backend) Publish(ctx context.Context, srcPath, key string) (string, error) {
	if b.OnPublish != nil {
		return b.OnPublish(ctx, srcPath, key)
	}
	if b.PublishError != nil {
		return "", storage.NewStorageError("Publish", key, b.PublishError)
	}

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return "", storage.NewStorageError("Publish", srcPath, err)
	}
	if err := os.Remove(srcPath); err != nil {
		return "", storage.NewStorageError("Publish", srcPath, err)
	}

	b.mu.Lock()
	b.objects[key] = data
	b.mu.Unlock()

	return "mem://" + key, nil
}

// Open returns the stored bytes for key.
func (b *Backend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if b.OpenError != nil {
		return nil, storage.NewStorageError("Open", key, b.OpenError)
	}

	b.mu.RLock()
	data, ok := b.objects[key]
	b.mu.RUnlock()
	if !ok {
		return nil, storage.NewStorageErrorWithMessage("Open", key, storage.ErrNotFound, "file not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes key.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if b.DeleteError != nil {
		return storage.NewStorageError("Delete", key, b.DeleteError)
	}

	b.mu.Lock()
	delete(b.objects, key)
	b.mu.Unlock()
	return nil
}

// Exists reports whether key is stored.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	if b.ExistsError != nil {
		return false, storage.NewStorageError("Exists", key, b.ExistsError)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.objects[key]
	return ok, nil
}

// HealthCheck returns HealthError.
func (b *Backend) HealthCheck(ctx context.Context) error {
	return b.HealthError
}

// Put stores data under key directly.
func (b *Backend) Put(key string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), data...)
}

// Get returns the bytes stored under key.
func (b *Backend) Get(key string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.objects[key]
	return data, ok
}

// Keys returns all stored keys, sorted.
func (b *Backend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
