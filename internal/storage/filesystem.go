package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore writes assets under a local directory that the HTTP router also
// serves statically at BaseURL.
type FileStore struct {
	basePath string
	baseURL  string
}

// NewFileStore creates basePath if needed.
func NewFileStore(basePath, baseURL string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "/assets"
	}
	return &FileStore{basePath: basePath, baseURL: baseURL}, nil
}

// BasePath returns the root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Store implements ObjectStore.
func (s *FileStore) Store(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("storage: empty payload")
	}
	key, err := s.Write(ctx, KeyFor(data), data)
	if err != nil {
		return "", err
	}
	return JoinURL(s.baseURL, key), nil
}

// Write persists data at key and returns the cleaned key. Writes go through a
// temp file and a rename so readers never observe a partial image.
func (s *FileStore) Write(ctx context.Context, key string, data []byte) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("storage: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("storage: close file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("storage: chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return "", fmt.Errorf("storage: rename: %w", err)
	}
	return cleanKey, nil
}

var _ ObjectStore = (*FileStore)(nil)
