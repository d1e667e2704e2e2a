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

	"flipbook/internal/ratelimit"
	"flipbook/internal/util"
	"flipbook/pkg/queue"
	"flipbook/pkg/storage"
	"flipbook/pkg/store"
	"flipbook/services/flipbook/internal/app"
	"flipbook/services/flipbook/internal/config"
	"flipbook/services/flipbook/internal/server"
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
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Stream:   cfg.QueueName,
		Group:    cfg.QueueGroup,
	})
	if err != nil {
		log.Fatalf("failed to init queue: %v", err)
	}
	defer jobs.Close()

	var uploadLimiter server.RateLimiter
	if cfg.UploadRateLimitPerMinute > 0 {
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "flipbook:ratelimit:upload", cfg.UploadRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init upload rate limiter: %v", err)
		}
		defer limiter.Close()
		uploadLimiter = limiter
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	appCore, err := app.New(app.Config{
		Store:          metadata,
		Objects:        objects,
		Queue:          jobs,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	localFiles := ""
	if cfg.StorageBackend == storage.BackendLocal {
		localFiles = cfg.LocalStoragePath
	}
	httpServer, err := server.New(server.Config{
		App:            appCore,
		UploadLimiter:  uploadLimiter,
		TrustedProxies: trusted,
		LocalFilesDir:  localFiles,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("flipbook server listening", "addr", addr, "storage", cfg.StorageBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
