package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default location of the worker config; PROCESSOR_CONFIG overrides it.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                   string  `yaml:"port"`
	LogLevel               string  `yaml:"logLevel"`
	DatabaseURL            string  `yaml:"databaseURL"`
	RedisAddr              string  `yaml:"redisAddr"`
	RedisPassword          string  `yaml:"redisPassword"`
	RedisDB                int     `yaml:"redisDB"`
	QueueName              string  `yaml:"queueName"`
	QueueGroup             string  `yaml:"queueGroup"`
	QueueConsumer          string  `yaml:"queueConsumer"`
	QueueConcurrency       int     `yaml:"queueConcurrency"`
	QueueMaxAttempts       int     `yaml:"queueMaxAttempts"`
	QueueRetryDelaySeconds int     `yaml:"queueRetryDelaySeconds"`
	JobTimeoutSeconds      int     `yaml:"jobTimeoutSeconds"`
	StorageBackend         string  `yaml:"storageBackend"`
	PublicBaseURL          string  `yaml:"publicBaseURL"`
	MinioEndpoint          string  `yaml:"minioEndpoint"`
	MinioAccessKey         string  `yaml:"minioAccessKey"`
	MinioSecretKey         string  `yaml:"minioSecretKey"`
	MinioBucket            string  `yaml:"minioBucket"`
	MinioUseSSL            bool    `yaml:"minioUseSSL"`
	MinioPublicRead        bool    `yaml:"minioPublicRead"`
	GCSBucket              string  `yaml:"gcsBucket"`
	GCSCredentialsFile     string  `yaml:"gcsCredentialsFile"`
	LocalStoragePath       string  `yaml:"localStoragePath"`
	RenderOversample       float64 `yaml:"renderOversample"`
	RenderMaxWidth         int     `yaml:"renderMaxWidth"`
	JPEGQuality            int     `yaml:"jpegQuality"`
	ThumbnailWidth         int     `yaml:"thumbnailWidth"`
	ThumbnailHeight        int     `yaml:"thumbnailHeight"`
	ThumbnailQuality       int     `yaml:"thumbnailQuality"`
	ThumbnailPolicy        string  `yaml:"thumbnailPolicy"`
}

// Path resolves the config file location from the environment.
func Path() string {
	if v := strings.TrimSpace(os.Getenv("PROCESSOR_CONFIG")); v != "" {
		return v
	}
	return ConfigPath
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.StorageBackend = v
	}
	if v := os.Getenv("PUBLIC_BASE_URL"); v != "" {
		cfg.PublicBaseURL = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("GCS_BUCKET"); v != "" {
		cfg.GCSBucket = v
	}
	if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" && cfg.GCSCredentialsFile == "" {
		cfg.GCSCredentialsFile = v
	}
	if v := os.Getenv("LOCAL_STORAGE_PATH"); v != "" {
		cfg.LocalStoragePath = v
	}
	setInt(&cfg.QueueConcurrency, "PROCESSOR_QUEUE_CONCURRENCY")
	setInt(&cfg.QueueMaxAttempts, "PROCESSOR_QUEUE_MAX_ATTEMPTS")
	setInt(&cfg.QueueRetryDelaySeconds, "PROCESSOR_QUEUE_RETRY_DELAY_SECONDS")
	setInt(&cfg.JobTimeoutSeconds, "PROCESSOR_JOB_TIMEOUT_SECONDS")
	setInt(&cfg.JPEGQuality, "PROCESSOR_JPEG_QUALITY")
	if v := os.Getenv("PROCESSOR_THUMBNAIL_POLICY"); v != "" {
		cfg.ThumbnailPolicy = v
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.StorageBackend)) {
	case "", "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint, minioAccessKey, minioSecretKey and minioBucket are required (set in config.yaml)")
		}
	case "gcs":
		if cfg.GCSBucket == "" {
			return errors.New("config: gcsBucket is required (set in config.yaml or GCS_BUCKET)")
		}
	case "local":
	default:
		return fmt.Errorf("config: storageBackend %q is not supported (minio, gcs, local)", cfg.StorageBackend)
	}
	if cfg.JPEGQuality < 0 || cfg.JPEGQuality > 100 {
		return errors.New("config: jpegQuality must be between 1 and 100")
	}
	if cfg.ThumbnailQuality < 0 || cfg.ThumbnailQuality > 100 {
		return errors.New("config: thumbnailQuality must be between 1 and 100")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.ThumbnailPolicy)) {
	case "", "fit", "cover":
	default:
		return fmt.Errorf("config: thumbnailPolicy %q is not supported (fit, cover)", cfg.ThumbnailPolicy)
	}
	return nil
}

func applyDefaults(cfg *FileConfig) {
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = "minio"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "flipbook:jobs"
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = "processor"
	}
	if cfg.QueueConcurrency <= 0 {
		cfg.QueueConcurrency = 2
	}
	if cfg.QueueMaxAttempts <= 0 {
		cfg.QueueMaxAttempts = 3
	}
	if cfg.QueueRetryDelaySeconds <= 0 {
		cfg.QueueRetryDelaySeconds = 5
	}
	if cfg.JobTimeoutSeconds <= 0 {
		cfg.JobTimeoutSeconds = 300
	}
	if cfg.LocalStoragePath == "" {
		cfg.LocalStoragePath = "./uploads"
	}
	// the API serves local blobs; the processor only writes them
	if cfg.StorageBackend == "local" && cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "http://localhost:8080/uploads"
	}
	if cfg.RenderOversample <= 0 {
		cfg.RenderOversample = 2
	}
	if cfg.RenderMaxWidth <= 0 {
		cfg.RenderMaxWidth = 1600
	}
	if cfg.JPEGQuality == 0 {
		cfg.JPEGQuality = 85
	}
	if cfg.ThumbnailWidth <= 0 {
		cfg.ThumbnailWidth = 300
	}
	if cfg.ThumbnailHeight <= 0 {
		cfg.ThumbnailHeight = 400
	}
	if cfg.ThumbnailQuality == 0 {
		cfg.ThumbnailQuality = 80
	}
	cfg.ThumbnailPolicy = strings.ToLower(strings.TrimSpace(cfg.ThumbnailPolicy))
	if cfg.ThumbnailPolicy == "" {
		cfg.ThumbnailPolicy = "fit"
	}
}
