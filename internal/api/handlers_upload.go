// handlers_upload.go - Dataset and template upload handlers
package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/docbatch/backend/internal/models"
	"github.com/docbatch/backend/internal/storage"
)

// UploadHandlerImpl implements the UploadHandler interface
type UploadHandlerImpl struct {
	store     storage.Store
	loader    DatasetLoader
	templates TemplateFiles
	resolver  TemplateResolver
	logger    *slog.Logger
}

// NewUploadHandler creates a new upload handler instance
func NewUploadHandler(store storage.Store, loader DatasetLoader, files TemplateFiles, resolver TemplateResolver, logger *slog.Logger) UploadHandler {
	return &UploadHandlerImpl{
		store:     store,
		loader:    loader,
		templates: files,
		resolver:  resolver,
		logger:    logger,
	}
}

type uploadDatasetResponse struct {
	FileID   string   `json:"file_id"`
	Filename string   `json:"filename"`
	Columns  []string `json:"columns"`
	Records  int      `json:"records"`
}

// HandleUploadDataset stores a spreadsheet (multipart field "file") and
// reports its columns and row count. Files that cannot be read are rejected
// and not kept.
func (h *UploadHandlerImpl) HandleUploadDataset(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}
	if file.Filename == "" {
		return NewValidationError("file")
	}
	if !h.loader.Supported(file.Filename) {
		return NewBadRequestError("file type not allowed, use .xlsx or .csv", nil)
	}

	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	info, err := h.store.Save(file.Filename, src)
	if err != nil {
		return NewInternalError("failed to save file", err)
	}

	path, err := h.store.GetFilePath(info.ID)
	if err != nil {
		return NewInternalError("failed to locate file", err)
	}
	ds, err := h.loader.Load(c.Request().Context(), path)
	if err != nil {
		_ = h.store.Delete(info.ID)
		return NewBadRequestError("could not read dataset", err)
	}

	h.logger.Info("dataset uploaded",
		slog.String("file_id", info.ID),
		slog.String("name", info.Name),
		slog.Int("records", len(ds.Records)))

	return c.JSON(http.StatusOK, uploadDatasetResponse{
		FileID:   info.ID,
		Filename: info.Name,
		Columns:  ds.Columns,
		Records:  len(ds.Records),
	})
}

// HandleUploadTemplate stores a .docx or .svg template (multipart field
// "template") under its sanitized name, replacing any previous version.
func (h *UploadHandlerImpl) HandleUploadTemplate(c echo.Context) error {
	file, err := c.FormFile("template")
	if err != nil {
		return NewBadRequestError("no template provided", err)
	}
	kind, ok := models.TemplateKindFor(file.Filename)
	if !ok {
		return NewBadRequestError("template type not allowed, use .docx or .svg", nil)
	}

	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded template", err)
	}
	defer src.Close()

	info, err := h.templates.Save(file.Filename, src)
	if err != nil {
		return NewBadRequestError("failed to save template", err)
	}
	h.resolver.Invalidate(info.Name)

	h.logger.Info("template uploaded", slog.String("name", info.Name), slog.String("kind", string(kind)))

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"template": info.Name,
		"kind":     kind,
		"size":     info.Size,
	})
}

// HandleListTemplates returns the uploaded templates
func (h *UploadHandlerImpl) HandleListTemplates(c echo.Context) error {
	list, err := h.templates.List()
	if err != nil {
		return NewInternalError("failed to list templates", err)
	}
	if list == nil {
		list = []*models.FileInfo{}
	}
	return c.JSON(http.StatusOK, list)
}

// HandleListDatasets returns the uploaded datasets, newest first. The
// optional "limit" query parameter caps the result.
func (h *UploadHandlerImpl) HandleListDatasets(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return NewBadRequestError("limit must be a non-negative integer", err)
		}
		limit = n
	}
	list, err := h.store.List(limit)
	if err != nil {
		return NewInternalError("failed to list datasets", err)
	}
	return c.JSON(http.StatusOK, list)
}
