// Package bootstrap provides dependency initialization for the productshot API.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/maauso/productshot-api/internal/audio"
	"github.com/maauso/productshot-api/internal/compose"
	"github.com/maauso/productshot-api/internal/config"
	"github.com/maauso/productshot-api/internal/job"
	"github.com/maauso/productshot-api/internal/media"
	"github.com/maauso/productshot-api/internal/server"
	"github.com/maauso/productshot-api/internal/storage"
	"github.com/maauso/productshot-api/internal/video"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Service *job.Service
	Router  http.Handler

	closers []func() error
}

// Close releases connections opened by NewDependencies.
func (d *Dependencies) Close() error {
	var errs []error
	for _, c := range d.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}

	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	repo, closeRepo, err := initRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if closeRepo != nil {
		deps.closers = append(deps.closers, closeRepo)
	}

	processor := media.NewFFmpegProcessor(cfg.FFmpegPath, media.WithFFprobePath(cfg.FFprobePath))
	extractor := audio.NewFFmpegExtractor(cfg.FFmpegPath)
	remover := video.NewFrameRemover(processor, extractor, cfg.TempDir, logger)

	composer := compose.NewBatchComposer(
		compose.WithConcurrency(cfg.BatchConcurrency),
		compose.WithJPEGQuality(cfg.JPEGQuality),
		compose.WithLogger(logger),
	)
	logos := compose.NewLogoStore(cfg.LogoDir, logger)

	deps.Service = job.NewService(repo, store, composer, logos, remover, logger)

	handlers := server.NewHandlers(deps.Service, logger,
		server.WithMaxUploadBytes(cfg.MaxUploadBytes()),
	)
	deps.Router = server.NewRouter(handlers, logger, server.DefaultConfig())

	return deps, nil
}

// initStorage creates the appropriate storage backend based on configuration.
// S3 wins over MinIO when both are configured.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	if cfg.MinIOEnabled() {
		minioStore, err := storage.NewMinIOStorage(cfg.TempDir, storage.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			Bucket:    cfg.MinIOBucket,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("create MinIO storage: %w", err)
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("check MinIO bucket: %w", err)
		}
		logger.Info("MinIO storage configured",
			slog.String("endpoint", cfg.MinIOEndpoint),
			slog.String("bucket", cfg.MinIOBucket),
		)
		return minioStore, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}

// initRepository picks Redis when REDIS_ADDR is set and the in-memory
// repository otherwise.
func initRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (job.Repository, func() error, error) {
	if !cfg.RedisEnabled() {
		logger.Info("in-memory job repository configured")
		return job.NewMemoryRepository(), nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("redis job repository configured",
		slog.String("addr", cfg.RedisAddr),
		slog.Int("db", cfg.RedisDB),
		slog.Duration("ttl", cfg.JobTTL()),
	)
	return job.NewRedisRepository(client, cfg.JobTTL()), client.Close, nil
}
