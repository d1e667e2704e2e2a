package app

import (
	"context"
	"errors"
	"fmt"

	"flipbook/pkg/domain"
	"flipbook/pkg/queue"
	"flipbook/pkg/storage"
	"flipbook/pkg/store"
)

// ErrJobNotFound marks lookups of unknown or expired queue jobs. It is
// wrapped together with domain.ErrNotFound.
var ErrJobNotFound = errors.New("job not found")

// JobQueue hands work to the processor service.
type JobQueue interface {
	Enqueue(ctx context.Context, documentID, kind string) (queue.JobStatus, error)
	GetJob(ctx context.Context, jobID string) (queue.JobStatus, bool, error)
}

// Config holds runtime dependencies for the core application.
type Config struct {
	Store          store.Store
	Objects        storage.ObjectStore
	Queue          JobQueue
	MaxUploadBytes int64
}

// App implements the flipbook API operations on top of the metadata store,
// object storage and the processing queue.
type App struct {
	store          store.Store
	objects        storage.ObjectStore
	queue          JobQueue
	maxUploadBytes int64
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("metadata store required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("job queue required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 << 20
	}
	return &App{
		store:          cfg.Store,
		objects:        cfg.Objects,
		queue:          cfg.Queue,
		maxUploadBytes: maxUploadBytes,
	}, nil
}

// MaxUploadBytes is the largest accepted PDF.
func (a *App) MaxUploadBytes() int64 {
	return a.maxUploadBytes
}

func documentNotFound(id string) error {
	return notFound("document", id)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, id)
}
