package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSConfig configures the Google Cloud Storage adapter.
type GCSConfig struct {
	Bucket          string
	CredentialsFile string
	PublicBaseURL   string
}

// GCSStore implements ObjectStore on a Cloud Storage bucket.
type GCSStore struct {
	client  *storage.Client
	bucket  *storage.BucketHandle
	baseURL string
}

// NewGCSStore creates a client using application default credentials, or
// the service account file when CredentialsFile is set.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("gcs bucket required")
	}
	var opts []option.ClientOption
	if path := strings.TrimSpace(cfg.CredentialsFile); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("init gcs client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	baseURL := strings.TrimSpace(cfg.PublicBaseURL)
	if baseURL == "" {
		baseURL = "https://storage.googleapis.com/" + cfg.Bucket
	}
	return &GCSStore{
		client:  client,
		bucket:  client.Bucket(cfg.Bucket),
		baseURL: baseURL,
	}, nil
}

// Put uploads an object, replacing any previous generation.
func (g *GCSStore) Put(ctx context.Context, key string, r io.Reader, _ int64, contentType string) error {
	w := g.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return storageErr("put", key, err)
	}
	if err := w.Close(); err != nil {
		return storageErr("put", key, err)
	}
	return nil
}

// Get opens an object for reading.
func (g *GCSStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := g.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, storageErr("get", key, ErrObjectNotFound)
		}
		return nil, storageErr("get", key, err)
	}
	return rc, nil
}

// Delete removes an object; a missing object is not an error.
func (g *GCSStore) Delete(ctx context.Context, key string) error {
	if err := g.bucket.Object(key).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return storageErr("delete", key, err)
	}
	return nil
}

// List returns all object names under prefix.
func (g *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	it := g.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, storageErr("list", prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

// PublicURL returns the URL readers use to fetch key.
func (g *GCSStore) PublicURL(key string) string {
	return joinURL(g.baseURL, key)
}

// Close releases the client.
func (g *GCSStore) Close() error {
	return g.client.Close()
}
