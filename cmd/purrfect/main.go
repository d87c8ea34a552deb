package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/vbonduro/purrfect/internal/blobstore"
	"github.com/vbonduro/purrfect/internal/blobstore/local"
	"github.com/vbonduro/purrfect/internal/blobstore/s3"
	"github.com/vbonduro/purrfect/internal/config"
	"github.com/vbonduro/purrfect/internal/db"
	"github.com/vbonduro/purrfect/internal/displayref"
	"github.com/vbonduro/purrfect/internal/logging"
	"github.com/vbonduro/purrfect/internal/metastore"
	"github.com/vbonduro/purrfect/internal/metrics"
	"github.com/vbonduro/purrfect/internal/rediskv"
	"github.com/vbonduro/purrfect/internal/service"
	"github.com/vbonduro/purrfect/internal/session"
	"github.com/vbonduro/purrfect/internal/store"
	"github.com/vbonduro/purrfect/internal/web"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, cleanup, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		File:   cfg.LogFile,
		Format: cfg.LogFormat,
	})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("purrfect exited")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, err := openKV(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer kv.close()

	blobs, err := openBlobStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := blobs.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close blob store")
		}
	}()

	refs := displayref.NewRegistry()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	instrumented := metrics.InstrumentBlobStore(blobs, metrics.NewStoreMetrics(reg, refs.Outstanding))

	svc := service.NewMediaService(
		metastore.New(kv.store, logger),
		instrumented,
		refs,
		logger,
		service.WithRetainPayloads(cfg.RetainPayloads),
	)
	defer svc.Close()

	if err := svc.Load(ctx); err != nil {
		// The server still starts so the failure is visible through /api/state.
		logger.Error().Err(err).Msg("failed to load media library")
	} else if cfg.SweepOrphans {
		n, err := svc.SweepOrphans(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("orphan sweep failed")
		} else {
			logger.Info().Int("removed", n).Msg("orphan sweep complete")
		}
	}

	server := web.NewServer(svc, session.New(kv.store), logger, web.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		Gatherer:       reg,
		HealthCheck:    kv.ping,
	})
	httpServer := server.HTTPServer(cfg.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("starting server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// kvBackend is the key-value store shared by metadata and session state.
type kvBackend struct {
	store metastore.KV
	ping  func(ctx context.Context) error
	close func()
}

func openKV(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*kvBackend, error) {
	switch cfg.MetaBackend {
	case config.BackendRedis:
		client, err := rediskv.New(ctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info().Str("prefix", cfg.RedisPrefix).Msg("using redis metadata backend")
		return &kvBackend{
			store: client,
			ping:  client.Ping,
			close: func() {
				if err := client.Close(); err != nil {
					logger.Error().Err(err).Msg("failed to close redis")
				}
			},
		}, nil
	default:
		database, err := db.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", cfg.DBPath).Msg("using sqlite metadata backend")
		return &kvBackend{
			store: store.NewKVStore(database),
			ping:  database.PingContext,
			close: func() {
				if err := database.Close(); err != nil {
					logger.Error().Err(err).Msg("failed to close database")
				}
			},
		}, nil
	}
}

func openBlobStore(cfg *config.Config, logger zerolog.Logger) (blobstore.BlobStore, error) {
	switch cfg.BlobBackend {
	case config.BackendLocal:
		logger.Info().Str("path", cfg.BlobLocalPath).Msg("using local blob backend")
		return local.New(cfg.BlobLocalPath, logger), nil
	case config.BackendS3:
		st, err := s3.New(s3Config(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to configure s3 blob store: %w", err)
		}
		logger.Info().Str("bucket", cfg.S3Bucket).Msg("using s3 blob backend")
		return st, nil
	default:
		logger.Info().Str("path", cfg.BlobDBPath).Msg("using sqlite blob backend")
		return store.NewBlobStoreAt(cfg.BlobDBPath), nil
	}
}

func s3Config(cfg *config.Config) s3.Config {
	return s3.Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		Prefix:          cfg.S3Prefix,
		UsePathStyle:    cfg.S3UsePathStyle,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	}
}
