package storage

import (
	"context"
	"fmt"
	"strings"
)

const (
	BackendMinio = "minio"
	BackendGCS   = "gcs"
	BackendLocal = "local"
)

// Config selects and configures one ObjectStore backend.
type Config struct {
	Backend       string
	PublicBaseURL string
	Minio         MinioConfig
	GCS           GCSConfig
	LocalPath     string
}

// Open builds the configured ObjectStore.
func Open(ctx context.Context, cfg Config) (ObjectStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMinio:
		minioCfg := cfg.Minio
		if minioCfg.PublicBaseURL == "" {
			minioCfg.PublicBaseURL = cfg.PublicBaseURL
		}
		return NewMinioStore(minioCfg)
	case BackendGCS:
		gcsCfg := cfg.GCS
		if gcsCfg.PublicBaseURL == "" {
			gcsCfg.PublicBaseURL = cfg.PublicBaseURL
		}
		return NewGCSStore(ctx, gcsCfg)
	case BackendLocal:
		return NewFileStore(cfg.LocalPath, cfg.PublicBaseURL)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
