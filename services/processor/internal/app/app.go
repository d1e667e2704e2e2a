package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flipbook/pkg/queue"
	"flipbook/pkg/storage"
	"flipbook/pkg/store"
)

// JobQueue delivers processing jobs.
type JobQueue interface {
	Start(ctx context.Context, concurrency int, handler queue.Handler)
	Wait()
	GetJob(ctx context.Context, jobID string) (queue.JobStatus, bool, error)
}

// Config holds runtime dependencies for the processor.
type Config struct {
	Store       store.Store
	Objects     storage.ObjectStore
	Queue       JobQueue
	Rasterizer  Rasterizer
	Encoder     Encoder
	Concurrency int
	JobTimeout  time.Duration
}

// App consumes queue jobs and runs them through the pipeline.
type App struct {
	pipeline    *Pipeline
	queue       JobQueue
	concurrency int
	jobTimeout  time.Duration
}

// New constructs the processor.
func New(cfg Config) (*App, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("metadata store required")
	case cfg.Objects == nil:
		return nil, errors.New("object store required")
	case cfg.Queue == nil:
		return nil, errors.New("job queue required")
	case cfg.Rasterizer == nil:
		return nil, errors.New("rasterizer required")
	case cfg.Encoder == nil:
		return nil, errors.New("encoder required")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 300 * time.Second
	}
	return &App{
		pipeline:    NewPipeline(cfg.Store, cfg.Objects, cfg.Rasterizer, cfg.Encoder),
		queue:       cfg.Queue,
		concurrency: concurrency,
		jobTimeout:  jobTimeout,
	}, nil
}

// Start launches the queue consumers; they run until ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	a.queue.Start(ctx, a.concurrency, a.HandleJob)
}

// Wait blocks until in-flight jobs return after Start's context ends.
func (a *App) Wait() {
	a.queue.Wait()
}

// HandleJob runs one delivery under the per-job wall-clock budget.
func (a *App) HandleJob(ctx context.Context, job queue.JobStatus) error {
	ctx, cancel := context.WithTimeout(ctx, a.jobTimeout)
	defer cancel()
	switch job.Kind {
	case queue.KindProcess, "":
		return a.pipeline.Run(ctx, job.DocumentID)
	case queue.KindExtractText:
		return a.pipeline.ExtractText(ctx, job.DocumentID)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// GetJob reads a job's status from the queue.
func (a *App) GetJob(ctx context.Context, jobID string) (queue.JobStatus, bool, error) {
	return a.queue.GetJob(ctx, jobID)
}
