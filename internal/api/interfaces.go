// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"
	"io"

	"github.com/labstack/echo/v4"

	"github.com/docbatch/backend/internal/batch"
	"github.com/docbatch/backend/internal/dataset"
	"github.com/docbatch/backend/internal/models"
	"github.com/docbatch/backend/internal/render"
	"github.com/docbatch/backend/internal/templates"
)

// UploadHandler handles dataset and template uploads
type UploadHandler interface {
	HandleUploadDataset(c echo.Context) error
	HandleUploadTemplate(c echo.Context) error
	HandleListTemplates(c echo.Context) error
	HandleListDatasets(c echo.Context) error
}

// GenerateHandler starts document generation
type GenerateHandler interface {
	HandleGenerate(c echo.Context) error
}

// JobHandler reports job progress and serves archives
type JobHandler interface {
	HandleProgress(c echo.Context) error
	HandleProgressStream(c echo.Context) error
	HandleDownload(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// DatasetLoader parses uploaded spreadsheets
type DatasetLoader interface {
	Supported(name string) bool
	Load(ctx context.Context, path string) (*dataset.Dataset, error)
}

// TemplateFiles stores uploaded templates
type TemplateFiles interface {
	Save(name string, r io.Reader) (*models.FileInfo, error)
	List() ([]*models.FileInfo, error)
}

// TemplateResolver resolves and invalidates cached templates
type TemplateResolver interface {
	Resolve(name string) (*templates.Handle, error)
	Invalidate(name string)
}

// JobSource reads job state
type JobSource interface {
	Get(id string) (models.Job, error)
	ActiveCount() int
}

// BatchService runs generation work
type BatchService interface {
	Submit(ctx context.Context, items []batch.Item) (models.Job, error)
	RenderOne(ctx context.Context, it batch.Item) (*render.Document, error)
	EvictExpired() []string
	Workers() int
}
