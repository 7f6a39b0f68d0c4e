// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrInvalidJPEGQuality is returned when JPEG_QUALITY is outside 1..100.
	ErrInvalidJPEGQuality = errors.New("config: JPEG_QUALITY must be within 1..100")
	// ErrInvalidConcurrency is returned when BATCH_CONCURRENCY is below 1.
	ErrInvalidConcurrency = errors.New("config: BATCH_CONCURRENCY must be at least 1")
	// ErrMinIOBucketRequired is returned when MINIO_ENDPOINT is set without MINIO_BUCKET.
	ErrMinIOBucketRequired = errors.New("config: MINIO_BUCKET is required when MINIO_ENDPOINT is set")
	// ErrInvalidUploadLimit is returned when MAX_UPLOAD_MB is below 1.
	ErrInvalidUploadLimit = errors.New("config: MAX_UPLOAD_MB must be at least 1")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port        int `env:"PORT, default=8080" json:"port"`
	MaxUploadMB int `env:"MAX_UPLOAD_MB, default=512" json:"max_upload_mb"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/productshot" json:"temp_dir"`
	LogoDir string `env:"LOGO_DIR, default=logos" json:"logo_dir"`

	// Processing settings
	JPEGQuality      int    `env:"JPEG_QUALITY, default=95" json:"jpeg_quality"`
	BatchConcurrency int    `env:"BATCH_CONCURRENCY, default=4" json:"batch_concurrency"`
	FFmpegPath       string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath      string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Optional MinIO settings
	MinIOEndpoint  string `env:"MINIO_ENDPOINT" json:"minio_endpoint,omitempty"`
	MinIOBucket    string `env:"MINIO_BUCKET" json:"minio_bucket,omitempty"`
	MinIOAccessKey string `env:"MINIO_ACCESS_KEY" json:"-"`
	MinIOSecretKey string `env:"MINIO_SECRET_KEY" json:"-"`
	MinIOUseSSL    bool   `env:"MINIO_USE_SSL, default=false" json:"minio_use_ssl"`

	// Optional Redis job store
	RedisAddr     string `env:"REDIS_ADDR" json:"redis_addr,omitempty"`
	RedisPassword string `env:"REDIS_PASSWORD" json:"-"`
	RedisDB       int    `env:"REDIS_DB, default=0" json:"redis_db"`
	JobTTLHours   int    `env:"JOB_TTL_HOURS, default=24" json:"job_ttl_hours"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// MinIOEnabled returns true if a MinIO endpoint is configured.
func (c *Config) MinIOEnabled() bool {
	return c.MinIOEndpoint != ""
}

// RedisEnabled returns true if jobs should be persisted in Redis.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// JobTTL is how long finished job records are kept in Redis.
func (c *Config) JobTTL() time.Duration {
	return time.Duration(c.JobTTLHours) * time.Hour
}

// MaxUploadBytes is the request body limit for multipart uploads.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and dependent settings.
func (c *Config) Validate() error {
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("%w: got %d", ErrInvalidJPEGQuality, c.JPEGQuality)
	}
	if c.BatchConcurrency < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidConcurrency, c.BatchConcurrency)
	}
	if c.MaxUploadMB < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidUploadLimit, c.MaxUploadMB)
	}
	if c.MinIOEnabled() && c.MinIOBucket == "" {
		return ErrMinIOBucketRequired
	}
	return nil
}

// NewLogger creates a structured logger writing to stdout.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return c.NewLoggerTo(os.Stdout)
}

// NewLoggerTo is NewLogger with an explicit destination.
func (c *Config) NewLoggerTo(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, LogoDir: %s, JPEGQuality: %d, BatchConcurrency: %d, MaxUploadMB: %d, S3Bucket: %s, S3Region: %s, MinIOEndpoint: %s, MinIOBucket: %s, RedisAddr: %s, JobTTLHours: %d, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.LogoDir,
		c.JPEGQuality,
		c.BatchConcurrency,
		c.MaxUploadMB,
		c.S3Bucket,
		c.S3Region,
		c.MinIOEndpoint,
		c.MinIOBucket,
		c.RedisAddr,
		c.JobTTLHours,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
