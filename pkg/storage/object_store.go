package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"flipbook/pkg/domain"
)

// ObjectStore provides path-addressed blob storage. Put overwrites any
// existing object at the same key on every backend.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	PublicURL(key string) string
}

// ErrObjectNotFound is wrapped by Get when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// DeletePrefix removes every object under prefix, fanning deletes out over
// at most concurrency goroutines. Missing objects are not errors.
func DeletePrefix(ctx context.Context, store ObjectStore, prefix string, concurrency int) error {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || prefix == "/" {
		return fmt.Errorf("%w: refusing to delete empty prefix", domain.ErrStorage)
	}
	keys, err := store.List(ctx, prefix)
	if err != nil {
		return err
	}
	return DeleteKeys(ctx, store, keys, concurrency)
}

// DeleteKeys removes the given keys concurrently and returns the first failure.
func DeleteKeys(ctx context.Context, store ObjectStore, keys []string, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 4
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, key := range keys {
		if strings.TrimSpace(key) == "" {
			continue
		}
		g.Go(func() error {
			return store.Delete(gctx, key)
		})
	}
	return g.Wait()
}

func storageErr(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", domain.ErrStorage, op, key, err)
}

func joinURL(base, key string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	parts := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return base + "/" + strings.Join(parts, "/")
}
