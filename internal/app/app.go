// Package app wires configuration into the running components shared by the
// HTTP server and the CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docbatch/backend/internal/api"
	"github.com/docbatch/backend/internal/batch"
	"github.com/docbatch/backend/internal/config"
	"github.com/docbatch/backend/internal/dataset"
	"github.com/docbatch/backend/internal/grouping"
	"github.com/docbatch/backend/internal/job"
	"github.com/docbatch/backend/internal/logging"
	"github.com/docbatch/backend/internal/models"
	"github.com/docbatch/backend/internal/publish"
	"github.com/docbatch/backend/internal/render"
	"github.com/docbatch/backend/internal/storage"
	"github.com/docbatch/backend/internal/templates"
)

// App holds the wired components.
type App struct {
	Config      *config.AppConfig
	Logger      *slog.Logger
	Store       *storage.LocalStore
	Templates   *storage.TemplateStore
	Resolver    *templates.Resolver
	Datasets    *dataset.Registry
	Renderer    *render.Chain
	Jobs        *job.Registry
	Coordinator *batch.Coordinator
	TemplateSet *grouping.TemplateSet
	Naming      batch.Naming

	redis *redis.Client
}

// New builds every component from cfg. ctx bounds background job work.
func New(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("creating directories: %w", err)
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		Naming: batch.Naming{Field: cfg.Render.FilenameField, Prefix: cfg.Render.FilenamePrefix},
	}

	var err error
	if a.Store, err = storage.NewLocalStore(cfg.GetUploadDir()); err != nil {
		return nil, err
	}
	if a.Templates, err = storage.NewTemplateStore(cfg.Storage.TemplatesDirectory); err != nil {
		return nil, err
	}
	a.Resolver = templates.NewResolver(a.Templates, logger)
	a.Datasets = dataset.DefaultRegistry(dataset.DuckOptions{
		Threads:     cfg.Advanced.DuckDBThreads,
		MemoryLimit: cfg.Advanced.DuckDBMemoryLimit,
	})
	a.Renderer = render.NewChain(render.Options{
		OutputFormat:    cfg.Render.OutputFormat,
		DocxConverter:   cfg.Render.DocxConverter,
		SVGConverter:    cfg.Render.SVGConverter,
		TempDir:         cfg.Storage.TempDirectory,
		Fallbacks:       cfg.Render.Fallbacks,
		RequireTemplate: cfg.Render.RequireTemplate,
		Timeout:         cfg.RenderTimeout(),
	}, logger)

	if a.TemplateSet, err = loadTemplateSet(cfg.Grouping); err != nil {
		return nil, err
	}

	var pub *publish.S3Publisher
	if cfg.Publish.Enabled {
		if pub, err = publish.NewS3Publisher(ctx, cfg.Publish); err != nil {
			return nil, fmt.Errorf("configuring publisher: %w", err)
		}
	}

	a.Jobs = job.NewRegistry(
		job.WithLogger(logger),
		job.WithEvictHook(func(j models.Job) {
			if j.ArchivePath != "" {
				if err := os.Remove(j.ArchivePath); err != nil && !os.IsNotExist(err) {
					logger.Warn("failed to remove archive", slog.String("job", logging.ShortID(j.ID)), slog.Any("error", err))
				}
			}
			if pub != nil && j.ArchiveURL != "" {
				if err := pub.Delete(ctx, batch.ArchiveName(j.ID)); err != nil {
					logger.Warn("failed to delete published archive", slog.String("job", logging.ShortID(j.ID)), slog.Any("error", err))
				}
			}
		}),
	)

	opts := []batch.Option{batch.WithBaseContext(ctx), batch.WithLogger(logger)}
	if pub != nil {
		opts = append(opts, batch.WithPublisher(pub))
	}

	worker := batch.NewChunkWorker(a.Resolver, a.Renderer, cfg.Storage.TempDirectory, logger)
	a.Coordinator = batch.NewCoordinator(a.Jobs, worker, batch.Config{
		MaxWorkers:       cfg.Processing.MaxWorkers,
		ChunkSize:        cfg.Processing.ChunkSize,
		ArchiveDir:       cfg.Storage.ArchivesDirectory,
		CompressionLevel: cfg.Processing.ArchiveCompression,
		Retention:        cfg.JobRetention(),
	}, opts...)

	return a, nil
}

// loadTemplateSet reads the grouping rules file if configured. A rules file
// replaces key_field and max_slots from config entirely.
func loadTemplateSet(cfg config.GroupingConfig) (*grouping.TemplateSet, error) {
	set := grouping.DefaultTemplateSet()
	set.KeyField = cfg.KeyField
	set.MaxSlots = cfg.MaxSlots
	if cfg.RulesFile == "" {
		return set, nil
	}

	loaded, err := grouping.LoadTemplateSet(cfg.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("loading grouping rules: %w", err)
	}
	return loaded, nil
}

// RateLimiter returns the /generate limiter, or nil when disabled.
func (a *App) RateLimiter() *api.RateLimiter {
	rl := a.Config.RateLimit
	if !rl.Enabled {
		return nil
	}
	if a.redis == nil {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     rl.RedisAddr,
			Password: rl.RedisPassword,
			DB:       rl.RedisDB,
		})
	}
	return api.NewRateLimiter(a.redis, rl.Limit, time.Duration(rl.WindowSeconds)*time.Second, a.Logger)
}

// Dependencies returns the HTTP handler dependencies.
func (a *App) Dependencies(version string) *api.Dependencies {
	return &api.Dependencies{
		Store:     a.Store,
		Loader:    a.Datasets,
		Templates: a.Templates,
		Resolver:  a.Resolver,
		Jobs:      a.Jobs,
		Batch:     a.Coordinator,
		Generate: api.GenerateOptions{
			RequireTemplate: a.Config.Render.RequireTemplate,
			Naming:          a.Naming,
			TemplateSet:     a.TemplateSet,
		},
		RateLimiter: a.RateLimiter(),
		Logger:      a.Logger,
		Version:     version,
	}
}

// Close waits for running jobs and releases connections.
func (a *App) Close() error {
	a.Coordinator.Wait()
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}
