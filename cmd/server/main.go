package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/docbatch/backend/internal/api"
	"github.com/docbatch/backend/internal/app"
	"github.com/docbatch/backend/internal/config"
	"github.com/docbatch/backend/internal/logging"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := os.Getenv(config.EnvPrefix + "_CONFIG")
	if configPath == "" {
		// Resolve next to the executable
		exePath, err := os.Executable()
		if err != nil {
			fmt.Printf("Failed to get executable path: %v\n", err)
			os.Exit(1)
		}
		configPath = filepath.Join(filepath.Dir(exePath), "docbatch.yaml")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Advanced.LogLevel, cfg.Advanced.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Jobs outlive the request that started them but not the process.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	a, err := app.New(jobCtx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", slog.Any("error", err))
		os.Exit(1)
	}

	// Background eviction of finished jobs, their archives and stale uploads
	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ids := a.Coordinator.EvictExpired(); len(ids) > 0 {
					logger.Info("evicted expired jobs", slog.Int("count", len(ids)))
				}
				if keep := cfg.UploadRetention(); keep > 0 {
					if ids := a.Store.Prune(keep); len(ids) > 0 {
						logger.Info("pruned stale uploads", slog.Int("count", len(ids)))
					}
				}
			}
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	origins := strings.Split(cfg.Server.AllowOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	if len(origins) == 1 && origins[0] == "" {
		origins = nil
	}

	api.SetupMiddleware(e, api.MiddlewareOptions{
		Debug:          cfg.Advanced.LogLevel == "debug",
		EnableCORS:     cfg.Server.EnableCORS,
		AllowOrigins:   origins,
		RequestLogging: cfg.Advanced.EnableRequestLogging,
		BodyLimit:      cfg.Server.BodyLimit,
		Gzip:           cfg.Processing.EnableCompression,
		GzipLevel:      cfg.Processing.CompressionLevel,
		Logger:         logger,
	})
	api.RegisterRoutes(e, api.NewHandlers(a.Dependencies(Version)))

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	logger.Info("docbatch server starting",
		slog.String("version", Version),
		slog.String("build_time", BuildTime),
		slog.String("config", configPath),
		slog.String("listen", cfg.GetServerAddr()),
		slog.String("data_dir", cfg.GetDataDir()),
		slog.Int("workers", cfg.Processing.MaxWorkers),
		slog.String("output_format", cfg.Render.OutputFormat))

	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.Any("error", err))
	}

	cancelJobs()
	if err := a.Close(); err != nil {
		logger.Warn("close", slog.Any("error", err))
	}
}
