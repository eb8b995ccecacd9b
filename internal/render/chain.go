package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/docbatch/backend/internal/logging"
	"github.com/docbatch/backend/internal/models"
	"github.com/docbatch/backend/internal/templates"
)

// Fallback names.
const (
	FallbackBuiltin = "builtin"
	FallbackNative  = "native"
)

// Options configures NewChain.
type Options struct {
	OutputFormat    string // pdf or native
	DocxConverter   string
	SVGConverter    string
	TempDir         string
	Fallbacks       []string
	RequireTemplate bool
	Timeout         time.Duration // 0 disables
}

// Chain picks the renderer for a handle and walks the fallback list when
// it fails. With RequireTemplate set only the primary renderer runs.
type Chain struct {
	primary   map[models.TemplateKind]Renderer
	native    map[models.TemplateKind]Renderer
	builtin   Renderer
	fallbacks []string
	required  bool
	timeout   time.Duration
	logger    *slog.Logger
}

type attempt struct {
	r Renderer
	h *templates.Handle
}

// NewChain builds the production renderer set from options.
func NewChain(opts Options, logger *slog.Logger) *Chain {
	native := []Renderer{NewDocxRenderer(nil), NewSVGRenderer(nil)}
	primary := native
	if opts.OutputFormat != FormatNative {
		primary = []Renderer{
			NewDocxRenderer(NewSofficeConverter(opts.DocxConverter, opts.TempDir)),
			NewSVGRenderer(NewRSVGConverter(opts.SVGConverter, opts.TempDir)),
		}
	}
	return NewChainWith(primary, native, NewBuiltinRenderer(), opts, logger)
}

// NewChainWith builds a chain from explicit renderers.
func NewChainWith(primary, native []Renderer, builtin Renderer, opts Options, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = logging.Discard()
	}
	c := &Chain{
		primary:   make(map[models.TemplateKind]Renderer),
		native:    make(map[models.TemplateKind]Renderer),
		builtin:   builtin,
		fallbacks: opts.Fallbacks,
		required:  opts.RequireTemplate,
		timeout:   opts.Timeout,
		logger:    logger.With(slog.String("component", "render")),
	}
	for _, r := range primary {
		c.primary[r.Kind()] = r
	}
	for _, r := range native {
		c.native[r.Kind()] = r
	}
	if builtin != nil {
		c.primary[models.TemplateKindBuiltin] = builtin
	}
	return c
}

// RequireTemplate reports whether fallbacks are disabled.
func (c *Chain) RequireTemplate() bool { return c.required }

type requireTemplateKey struct{}

// WithRequireTemplate marks renders under ctx as template-required,
// disabling fallbacks regardless of the chain's own setting.
func WithRequireTemplate(ctx context.Context) context.Context {
	return context.WithValue(ctx, requireTemplateKey{}, true)
}

func templateRequired(ctx context.Context) bool {
	v, _ := ctx.Value(requireTemplateKey{}).(bool)
	return v
}

// Render renders h with the first renderer that succeeds. The filler is
// reset before each attempt.
func (c *Chain) Render(ctx context.Context, h *templates.Handle, f Filler) (*Document, error) {
	required := c.required || templateRequired(ctx)
	plan := c.plan(h, required)
	if len(plan) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, h.Kind)
	}

	var errs []error
	for i, a := range plan {
		if i > 0 && ctx.Err() != nil {
			break
		}
		f.Reset()
		doc, err := c.renderOne(ctx, a, f)
		if err == nil {
			if i > 0 {
				c.logger.Debug("fallback renderer used",
					slog.String("template", h.Name),
					slog.String("renderer", a.r.Name()))
			}
			return doc, nil
		}
		if required {
			return nil, err
		}
		c.logger.Warn("renderer failed",
			slog.String("template", h.Name),
			slog.String("renderer", a.r.Name()),
			slog.Any("error", err))
		errs = append(errs, fmt.Errorf("%s: %w", a.r.Name(), err))
	}
	if len(errs) == 1 {
		return nil, errs[0]
	}
	return nil, fmt.Errorf("all renderers failed: %w", errors.Join(errs...))
}

func (c *Chain) renderOne(ctx context.Context, a attempt, f Filler) (*Document, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return a.r.Render(ctx, a.h, f)
}

func (c *Chain) plan(h *templates.Handle, required bool) []attempt {
	var plan []attempt
	primary, ok := c.primary[h.Kind]
	if ok {
		plan = append(plan, attempt{r: primary, h: h})
	}
	if required {
		return plan
	}
	for _, name := range c.fallbacks {
		switch name {
		case FallbackBuiltin:
			if h.Kind != models.TemplateKindBuiltin && c.builtin != nil {
				plan = append(plan, attempt{r: c.builtin, h: templates.Builtin()})
			}
		case FallbackNative:
			if r, ok := c.native[h.Kind]; ok && r != primary {
				plan = append(plan, attempt{r: r, h: h})
			}
		}
	}
	return plan
}
