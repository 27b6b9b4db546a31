// Package filesystem implements storage.Backend on a local directory tree.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/nimeninja/ingestd/internal/storage"
)

// FilesystemStorage implements storage.Backend for local filesystem storage.
type FilesystemStorage struct {
	baseDir    string // Base directory for all storage operations
	absBaseDir string // Absolute path of baseDir for path validation

	// rename is os.Rename; tests replace it to simulate cross-device moves.
	rename func(oldpath, newpath string) error
}

// NewFilesystemStorage creates a new FilesystemStorage with the given base directory.
func NewFilesystemStorage(baseDir string) (*FilesystemStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, storage.NewStorageError("NewFilesystemStorage", baseDir, err)
	}

	absBaseDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, storage.NewStorageError("NewFilesystemStorage", baseDir, err)
	}

	return &FilesystemStorage{
		baseDir:    baseDir,
		absBaseDir: absBaseDir,
		rename:     os.Rename,
	}, nil
}

// Root returns the absolute storage root.
func (fs *FilesystemStorage) Root() string {
	return fs.absBaseDir
}

// ResolvePath maps key to a path beneath the storage root.
// Keys that are absolute or resolve outside the root are rejected with storage.ErrInvalidKey.
func (fs *FilesystemStorage) ResolvePath(key string) (string, error) {
	if key == "" || strings.ContainsRune(key, '\x00') {
		return "", fmt.Errorf("%w: %q", storage.ErrInvalidKey, key)
	}

	cleanKey := filepath.Clean(filepath.FromSlash(key))

	if filepath.IsAbs(cleanKey) {
		return "", fmt.Errorf("%w: absolute paths not allowed: %s", storage.ErrInvalidKey, key)
	}

	if cleanKey == ".." || strings.HasPrefix(cleanKey, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path traversal not allowed: %s", storage.ErrInvalidKey, key)
	}

	absPath, err := filepath.Abs(filepath.Join(fs.absBaseDir, cleanKey))
	if err != nil {
		return "", fmt.Errorf("%w: %v", storage.ErrInvalidKey, err)
	}

	// Must start with baseDir + separator; the root itself is not an object.
	if !strings.HasPrefix(absPath, fs.absBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path escape attempt: %s", storage.ErrInvalidKey, key)
	}

	return absPath, nil
}

// Publish moves srcPath to key. A plain rename is tried first; when source and
// destination live on different devices the file is copied, synced and the
// source removed.
func (fs *FilesystemStorage) Publish(ctx context.Context, srcPath, key string) (string, error) {
	dstPath, err := fs.ResolvePath(key)
	if err != nil {
		return "", storage.NewStorageErrorWithMessage("Publish", key, err, "path validation failed")
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return "", storage.NewStorageError("Publish", key, err)
	}

	err = fs.rename(srcPath, dstPath)
	if err == nil {
		slog.Debug("file published", "key", key, "method", "rename")
		return dstPath, nil
	}

	if !errors.Is(err, syscall.EXDEV) {
		return "", storage.NewStorageError("Publish", key, err)
	}

	slog.Debug("cross-device rename, copying instead",
		"src", srcPath,
		"dst", dstPath,
	)

	if err := copyFile(ctx, srcPath, dstPath); err != nil {
		os.Remove(dstPath)
		return "", storage.NewStorageError("Publish", key, err)
	}

	if err := os.Remove(srcPath); err != nil && !os.IsNotExist(err) {
		// Destination is complete; a leftover source is only wasted space.
		slog.Warn("failed to remove source after copy",
			"src", srcPath,
			"error", err,
		)
	}

	slog.Debug("file published", "key", key, "method", "copy")
	return dstPath, nil
}

// copyFile copies src to dst and fsyncs dst before returning.
func copyFile(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, &ctxReader{ctx: ctx, r: in}); err != nil {
		out.Close()
		return err
	}

	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Open returns a reader for the stored file.
func (fs *FilesystemStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	filePath, err := fs.ResolvePath(key)
	if err != nil {
		return nil, storage.NewStorageErrorWithMessage("Open", key, err, "path validation failed")
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.NewStorageErrorWithMessage("Open", key, storage.ErrNotFound, "file not found")
		}
		return nil, storage.NewStorageError("Open", key, err)
	}
	if info.IsDir() {
		return nil, storage.NewStorageErrorWithMessage("Open", key, storage.ErrNotFound, "file not found")
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, storage.NewStorageError("Open", key, err)
	}

	return file, nil
}

// Delete removes a file from storage.
func (fs *FilesystemStorage) Delete(ctx context.Context, key string) error {
	filePath, err := fs.ResolvePath(key)
	if err != nil {
		return storage.NewStorageErrorWithMessage("Delete", key, err, "path validation failed")
	}

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			// File already deleted, not an error
			return nil
		}
		return storage.NewStorageError("Delete", key, err)
	}

	slog.Debug("file deleted", "key", key)
	return nil
}

// Exists checks if a file exists in storage.
func (fs *FilesystemStorage) Exists(ctx context.Context, key string) (bool, error) {
	filePath, err := fs.ResolvePath(key)
	if err != nil {
		return false, storage.NewStorageErrorWithMessage("Exists", key, err, "path validation failed")
	}

	_, err = os.Stat(filePath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, storage.NewStorageError("Exists", key, err)
}

// HealthCheck verifies the storage root is writable.
func (fs *FilesystemStorage) HealthCheck(ctx context.Context) error {
	scratch, err := os.CreateTemp(fs.absBaseDir, ".health-*")
	if err != nil {
		return storage.NewStorageErrorWithMessage("HealthCheck", fs.absBaseDir, err, "storage directory not writable")
	}
	name := scratch.Name()
	scratch.Close()
	return os.Remove(name)
}

// PruneEmptyDirs removes every empty directory below the root, deepest first.
// The root itself is kept.
func (fs *FilesystemStorage) PruneEmptyDirs(ctx context.Context) error {
	return PruneEmptyDirs(ctx, fs.absBaseDir)
}

// PruneEmptyDirs removes every empty directory below root, deepest first.
func PruneEmptyDirs(ctx context.Context, root string) error {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", root, err)
	}

	// Longest paths first so children go before parents.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })

	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(dir); err == nil {
			slog.Debug("removed empty directory", "path", dir)
		}
	}
	return nil
}
