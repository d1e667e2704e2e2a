package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flipbook/internal/util"
	"flipbook/pkg/queue"
	"flipbook/pkg/render"
	"flipbook/pkg/storage"
	"flipbook/pkg/store"
	"flipbook/services/processor/internal/app"
	"flipbook/services/processor/internal/config"
	"flipbook/services/processor/internal/server"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metadata, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	defer metadata.Close()

	objects, err := storage.Open(ctx, storage.Config{
		Backend:       cfg.StorageBackend,
		PublicBaseURL: cfg.PublicBaseURL,
		Minio: storage.MinioConfig{
			Endpoint:   cfg.MinioEndpoint,
			AccessKey:  cfg.MinioAccessKey,
			SecretKey:  cfg.MinioSecretKey,
			Bucket:     cfg.MinioBucket,
			UseSSL:     cfg.MinioUseSSL,
			PublicRead: cfg.MinioPublicRead,
		},
		GCS: storage.GCSConfig{
			Bucket:          cfg.GCSBucket,
			CredentialsFile: cfg.GCSCredentialsFile,
		},
		LocalPath: cfg.LocalStoragePath,
	})
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}

	jobs, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		Stream:      cfg.QueueName,
		Group:       cfg.QueueGroup,
		Consumer:    cfg.QueueConsumer,
		MaxAttempts: cfg.QueueMaxAttempts,
		RetryDelay:  time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
		// a job holds its delivery for at most the job timeout
		ClaimIdle: time.Duration(cfg.JobTimeoutSeconds)*time.Second + time.Minute,
	})
	if err != nil {
		log.Fatalf("failed to init queue: %v", err)
	}
	defer jobs.Close()
	if err := jobs.Ping(ctx); err != nil {
		log.Fatalf("failed to reach redis: %v", err)
	}

	worker, err := app.New(app.Config{
		Store:   metadata,
		Objects: objects,
		Queue:   jobs,
		Rasterizer: render.NewFitzRasterizer(render.RasterOptions{
			Oversample: cfg.RenderOversample,
			MaxWidth:   cfg.RenderMaxWidth,
		}),
		Encoder: render.NewEncoder(render.EncoderOptions{
			Quality:         cfg.JPEGQuality,
			MaxWidth:        int(float64(cfg.RenderMaxWidth) * cfg.RenderOversample),
			ThumbWidth:      cfg.ThumbnailWidth,
			ThumbHeight:     cfg.ThumbnailHeight,
			ThumbQuality:    cfg.ThumbnailQuality,
			ThumbnailPolicy: cfg.ThumbnailPolicy,
		}),
		Concurrency: cfg.QueueConcurrency,
		JobTimeout:  time.Duration(cfg.JobTimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("failed to init processor: %v", err)
	}
	worker.Start(ctx)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.New(worker).Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("processor listening", "addr", addr, "concurrency", cfg.QueueConcurrency, "storage", cfg.StorageBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
	worker.Wait()
	slog.Info("processor stopped")
}
