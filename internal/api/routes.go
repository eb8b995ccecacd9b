// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/docbatch/backend/internal/logging"
	"github.com/docbatch/backend/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store       storage.Store
	Loader      DatasetLoader
	Templates   TemplateFiles
	Resolver    TemplateResolver
	Jobs        JobSource
	Batch       BatchService
	Validator   *validator.Validate
	Generate    GenerateOptions
	RateLimiter *RateLimiter // nil disables limiting
	Logger      *slog.Logger
	Version     string
}

// Handlers holds all handler instances
type Handlers struct {
	Health   HealthHandler
	Upload   UploadHandler
	Generate GenerateHandler
	Job      JobHandler
	limiter  *RateLimiter
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With(slog.String("component", "api"))
	v := deps.Validator
	if v == nil {
		v = validator.New()
	}
	return &Handlers{
		Health:   NewHealthHandler(deps.Version, deps.Jobs, deps.Batch.Workers()),
		Upload:   NewUploadHandler(deps.Store, deps.Loader, deps.Templates, deps.Resolver, logger),
		Generate: NewGenerateHandler(deps.Store, deps.Loader, deps.Resolver, deps.Batch, v, deps.Generate, logger),
		Job:      NewJobHandler(deps.Jobs, deps.Batch),
		limiter:  deps.RateLimiter,
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	g := e.Group("/api")

	g.GET("/health", handlers.Health.HandleHealth)

	// Uploads
	g.POST("/upload", handlers.Upload.HandleUploadDataset)
	g.GET("/datasets", handlers.Upload.HandleListDatasets)
	g.POST("/upload-template", handlers.Upload.HandleUploadTemplate)
	g.GET("/templates", handlers.Upload.HandleListTemplates)

	// Generation
	var mw []echo.MiddlewareFunc
	if handlers.limiter != nil {
		mw = append(mw, handlers.limiter.Middleware())
	}
	g.POST("/generate", handlers.Generate.HandleGenerate, mw...)

	// Jobs
	g.GET("/progress/:jobId", handlers.Job.HandleProgress)
	g.GET("/progress/:jobId/stream", handlers.Job.HandleProgressStream)
	g.GET("/download/:jobId", handlers.Job.HandleDownload)
}

// MiddlewareOptions configures SetupMiddleware.
type MiddlewareOptions struct {
	Debug          bool
	EnableCORS     bool
	AllowOrigins   []string
	RequestLogging bool
	BodyLimit      string
	Gzip           bool
	GzipLevel      int
	Logger         *slog.Logger
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, opts MiddlewareOptions) {
	e.HTTPErrorHandler = ErrorHandler(opts.Debug)

	e.Use(middleware.Recover())

	if opts.BodyLimit != "" {
		e.Use(middleware.BodyLimit(opts.BodyLimit))
	}

	if opts.EnableCORS {
		origins := opts.AllowOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:  origins,
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			ExposeHeaders: []string{echo.HeaderContentDisposition, "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		}))
	}

	if opts.Gzip {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level: opts.GzipLevel,
			// archives are already compressed and SSE must not be buffered
			Skipper: func(c echo.Context) bool {
				p := c.Path()
				return p == "/api/download/:jobId" || p == "/api/progress/:jobId/stream"
			},
		}))
	}

	if opts.RequestLogging && opts.Logger != nil {
		logger := opts.Logger.With(slog.String("component", "http"))
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			// polling would drown everything else
			Skipper: func(c echo.Context) bool {
				p := c.Path()
				return p == "/api/health" || strings.HasPrefix(p, "/api/progress/")
			},
			LogMethod:   true,
			LogURI:      true,
			LogStatus:   true,
			LogLatency:  true,
			LogRemoteIP: true,
			LogError:    true,
			HandleError: true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				attrs := []slog.Attr{
					slog.String("method", v.Method),
					slog.String("uri", v.URI),
					slog.Int("status", v.Status),
					slog.Duration("latency", v.Latency),
					slog.String("remote_ip", v.RemoteIP),
				}
				level := slog.LevelInfo
				if v.Error != nil {
					level = slog.LevelWarn
					attrs = append(attrs, slog.String("error", v.Error.Error()))
				}
				logger.LogAttrs(c.Request().Context(), level, "request", attrs...)
				return nil
			},
		}))
	}
}
