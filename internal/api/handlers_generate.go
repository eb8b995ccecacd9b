// handlers_generate.go - Document generation handler
package api

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/docbatch/backend/internal/batch"
	"github.com/docbatch/backend/internal/grouping"
	"github.com/docbatch/backend/internal/logging"
	"github.com/docbatch/backend/internal/storage"
	"github.com/docbatch/backend/internal/templates"
)

// Generation modes.
const (
	ModeRecord  = "record"
	ModeGrouped = "grouped"
)

// GenerateOptions are the server-side defaults for generation requests.
type GenerateOptions struct {
	RequireTemplate bool
	Naming          batch.Naming
	TemplateSet     *grouping.TemplateSet
}

// GenerateHandlerImpl implements the GenerateHandler interface
type GenerateHandlerImpl struct {
	store     storage.Store
	loader    DatasetLoader
	resolver  TemplateResolver
	batch     BatchService
	opts      GenerateOptions
	validator *validator.Validate
	logger    *slog.Logger
}

// NewGenerateHandler creates a new generate handler
func NewGenerateHandler(store storage.Store, loader DatasetLoader, resolver TemplateResolver, svc BatchService, v *validator.Validate, opts GenerateOptions, logger *slog.Logger) GenerateHandler {
	if opts.TemplateSet == nil {
		opts.TemplateSet = grouping.DefaultTemplateSet()
	}
	return &GenerateHandlerImpl{
		store:     store,
		loader:    loader,
		resolver:  resolver,
		batch:     svc,
		opts:      opts,
		validator: v,
		logger:    logger,
	}
}

type generateRequest struct {
	DatasetID       string        `json:"dataset_id" validate:"required,max=64"`
	Template        string        `json:"template" validate:"omitempty,max=255"`
	UseTemplate     bool          `json:"use_template"`
	RequireTemplate *bool         `json:"require_template"`
	Mode            string        `json:"mode" validate:"omitempty,oneof=record grouped"`
	Group           *groupRequest `json:"group" validate:"omitempty"`
	FilenameField   string        `json:"filename_field" validate:"omitempty,max=128"`
}

type groupRequest struct {
	KeyField string `json:"key_field" validate:"omitempty,max=128"`
	MaxSlots int    `json:"max_slots" validate:"omitempty,min=1,max=50"`
}

type generateResponse struct {
	JobID        string `json:"job_id"`
	TotalRecords int    `json:"total_records"`
	Status       string `json:"status"`
}

// HandleGenerate renders one document per record (or per group). A single
// document is returned directly; anything larger becomes a background job.
func (h *GenerateHandlerImpl) HandleGenerate(c echo.Context) error {
	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := h.validator.Struct(&req); err != nil {
		return NewRequestValidationError(err)
	}

	strict := h.opts.RequireTemplate
	if req.RequireTemplate != nil {
		strict = *req.RequireTemplate
	}

	template := ""
	if req.UseTemplate {
		if req.Template == "" {
			return NewValidationError("template")
		}
		if _, err := h.resolver.Resolve(req.Template); err != nil {
			if errors.Is(err, templates.ErrTemplateNotFound) {
				return NewNotFoundError("template", req.Template)
			}
			return NewInternalError("failed to load template", err)
		}
		template = req.Template
	}
	if strict && template == "" && req.Mode != ModeGrouped {
		return NewBadRequestError("a template is required", nil)
	}

	info, err := h.store.Get(req.DatasetID)
	if err != nil {
		return NewNotFoundError("dataset", req.DatasetID)
	}
	path, err := h.store.GetFilePath(info.ID)
	if err != nil {
		return NewInternalError("failed to locate dataset", err)
	}
	ds, err := h.loader.Load(c.Request().Context(), path)
	if err != nil {
		return NewBadRequestError("could not read dataset", err)
	}

	var items []batch.Item
	if req.Mode == ModeGrouped {
		set := *h.opts.TemplateSet
		if req.Group != nil {
			if req.Group.KeyField != "" {
				set.KeyField = req.Group.KeyField
			}
			if req.Group.MaxSlots > 0 {
				set.MaxSlots = req.Group.MaxSlots
			}
		}
		items = batch.GroupItems(grouping.GroupAndAssign(ds.Records, set.KeyField, set.MaxSlots), &set, template)
	} else {
		naming := h.opts.Naming
		if req.FilenameField != "" {
			naming.Field = req.FilenameField
		}
		items = batch.RecordItems(ds.Records, template, naming)
	}
	for i := range items {
		items[i].Strict = strict
	}

	if len(items) == 1 {
		return h.renderSingle(c, items[0], strict)
	}

	j, err := h.batch.Submit(c.Request().Context(), items)
	if err != nil {
		return NewInternalError("failed to start generation", err)
	}

	h.logger.Info("generation started",
		slog.String("job", logging.ShortID(j.ID)),
		slog.String("dataset", info.Name),
		slog.String("template", template),
		slog.Int("documents", len(items)))

	return c.JSON(http.StatusAccepted, generateResponse{
		JobID:        j.ID,
		TotalRecords: j.Total,
		Status:       string(j.Status),
	})
}

func (h *GenerateHandlerImpl) renderSingle(c echo.Context, it batch.Item, strict bool) error {
	doc, err := h.batch.RenderOne(c.Request().Context(), it)
	if err != nil {
		h.logger.Warn("single render failed", slog.String("name", it.Name), slog.Any("error", err))
		if strict {
			return NewRenderFailedError(err)
		}
		return NewInternalError("failed to render document", err)
	}

	name := it.Name + doc.Ext
	c.Response().Header().Set(echo.HeaderContentDisposition,
		mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	return c.Blob(http.StatusOK, contentTypeFor(doc.Ext), doc.Data)
}

func contentTypeFor(ext string) string {
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".svg":
		return "image/svg+xml"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return echo.MIMEOctetStream
}
