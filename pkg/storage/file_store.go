package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// FileStore saves objects on disk under a base directory. The HTTP API
// serves that directory so PublicURL resolves in local development.
type FileStore struct {
	basePath string
	baseURL  string
}

// NewFileStore creates the base directory if missing.
func NewFileStore(basePath, publicBaseURL string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	if strings.TrimSpace(publicBaseURL) == "" {
		publicBaseURL = "/uploads"
	}
	return &FileStore{basePath: basePath, baseURL: publicBaseURL}, nil
}

// Put writes the object through a temp file and rename so readers never see partial files.
func (f *FileStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	target, err := f.resolve(key)
	if err != nil {
		return storageErr("put", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return storageErr("put", key, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return storageErr("put", key, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return storageErr("put", key, err)
	}
	if err := tmp.Close(); err != nil {
		return storageErr("put", key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return storageErr("put", key, err)
	}
	return nil
}

// Get opens an object for reading.
func (f *FileStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	target, err := f.resolve(key)
	if err != nil {
		return nil, storageErr("get", key, err)
	}
	file, err := os.Open(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storageErr("get", key, ErrObjectNotFound)
		}
		return nil, storageErr("get", key, err)
	}
	return file, nil
}

// Delete removes an object; a missing file is not an error.
func (f *FileStore) Delete(_ context.Context, key string) error {
	target, err := f.resolve(key)
	if err != nil {
		return storageErr("delete", key, err)
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storageErr("delete", key, err)
	}
	return nil
}

// List returns keys under prefix in lexical order.
func (f *FileStore) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(f.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(f.basePath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("list", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// PublicURL returns the URL under which the API serves key.
func (f *FileStore) PublicURL(key string) string {
	return joinURL(f.baseURL, key)
}

func (f *FileStore) resolve(key string) (string, error) {
	key = strings.TrimSpace(key)
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || clean != "/"+strings.TrimLeft(key, "/") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(f.basePath, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}
