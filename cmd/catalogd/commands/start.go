package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skuforge/catalogd/internal/api"
	"github.com/skuforge/catalogd/internal/logger"
	"github.com/skuforge/catalogd/pkg/blob"
	"github.com/skuforge/catalogd/pkg/catalog/store"
	"github.com/skuforge/catalogd/pkg/config"
	"github.com/skuforge/catalogd/pkg/imports"
	"github.com/skuforge/catalogd/pkg/metrics"
	"github.com/skuforge/catalogd/pkg/queue"
	"github.com/skuforge/catalogd/pkg/upload"
	"github.com/skuforge/catalogd/pkg/variant"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the catalogd server",
	Long: `Start the catalogd server with the specified configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/catalogd/config.yaml.

Examples:
  # Start with default config
  catalogd start

  # Start with custom config file
  catalogd start --config /etc/catalogd/config.yaml

  # Start with environment variable overrides
  CATALOGD_LOGGING_LEVEL=DEBUG catalogd start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Starting catalogd", "version", Version)
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Metrics are served on a dedicated port so the API surface stays clean
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Port); err != nil {
				logger.Error("Metrics server error", logger.KeyError, err.Error())
			}
		}()
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}

	catalogStore, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize catalogue store: %w", err)
	}
	defer func() {
		if err := catalogStore.Close(); err != nil {
			logger.Error("Store close error", logger.KeyError, err.Error())
		}
	}()
	logger.Info("Catalogue store initialized", "type", cfg.Database.Type)

	blobs, err := blob.NewFilesystemStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}
	logger.Info("Blob store initialized", "path", cfg.Storage.Path)

	catalogMetrics := metrics.NewCatalogMetrics()

	jobs := queue.New(queue.Config{
		Workers:  cfg.Queue.Workers,
		Capacity: cfg.Queue.Capacity,
		Metrics:  catalogMetrics,
	})

	uploads := upload.New(catalogStore, blobs, jobs, catalogMetrics, upload.Limits{
		MaxTotalSize: int64(cfg.Upload.MaxTotalSize),
		MaxChunks:    cfg.Upload.MaxChunks,
		MinChunkSize: int64(cfg.Upload.MinChunkSize),
		MaxChunkSize: int64(cfg.Upload.MaxChunkSize),
	}, cfg.Upload.SessionTTL)

	generator := variant.New(catalogStore, blobs, catalogMetrics)
	resolver := imports.NewResolver(catalogStore, uploads, jobs, cfg.Import.LocalFileRoot)

	s3Client, err := imports.NewS3Client(ctx, imports.S3Options{
		Endpoint:        cfg.Import.S3.Endpoint,
		Region:          cfg.Import.S3.Region,
		AccessKeyID:     cfg.Import.S3.AccessKeyID,
		SecretAccessKey: cfg.Import.S3.SecretAccessKey,
		ForcePathStyle:  cfg.Import.S3.ForcePathStyle,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize S3 client: %w", err)
	}
	fetcher := imports.NewFetcher(resolver, cfg.Import.FetchTimeout, s3Client)
	importEngine := imports.NewEngine(catalogStore,
		imports.NewProductHandler(catalogStore, resolver),
		catalogMetrics, cfg.Import.MaxErrorDetails)

	jobs.Register(queue.KindVariantGenerate, queue.VariantRetryPolicy(),
		func(ctx context.Context, job queue.Job) error {
			return generator.GenerateAll(ctx, job.Key)
		})
	jobs.Register(queue.KindImageFetch, queue.FetchRetryPolicy(), fetcher.Handle)
	jobs.Start(ctx)
	defer jobs.Stop()

	go uploads.RunSweeper(ctx, cfg.Upload.SweepInterval)

	apiServer := api.NewServer(cfg.API, api.Dependencies{
		Store:   catalogStore,
		Blobs:   blobs,
		Uploads: uploads,
		Imports: importEngine,
	})

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		select {
		case err := <-serverDone:
			if err != nil {
				logger.Error("Server shutdown error", logger.KeyError, err.Error())
				return err
			}
		case <-time.After(cfg.ShutdownTimeout):
			logger.Error("Graceful shutdown timed out")
			return fmt.Errorf("graceful shutdown timed out after %s", cfg.ShutdownTimeout)
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", logger.KeyError, err.Error())
			return err
		}
	}

	return nil
}
