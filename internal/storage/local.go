package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage implements Storage on the local filesystem. Intended for
// development and tests; the returned URL is a file:// path.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage creates a LocalStorage rooted at baseDir. If baseDir is
// empty a directory under os.TempDir() is used. The directory is created if
// it does not exist.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "adforge-archive")
	}

	if err := os.MkdirAll(baseDir, 0750); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	return &LocalStorage{baseDir: baseDir}, nil
}

// BaseDir returns the archive root directory.
func (s *LocalStorage) BaseDir() string {
	return s.baseDir
}

// Store writes the asset under baseDir preserving the key's path structure.
func (s *LocalStorage) Store(ctx context.Context, key string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	cleaned := filepath.Clean(strings.TrimPrefix(key, "/"))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("invalid archive key %q", key)
	}

	path := filepath.Join(s.baseDir, cleaned)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return "", fmt.Errorf("create archive subdirectory: %w", err)
	}

	f, err := os.Create(path) // #nosec G304 - path is derived from a validated key
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}

	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write archive file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close archive file: %w", err)
	}

	return "file://" + path, nil
}

var _ Storage = (*LocalStorage)(nil)
