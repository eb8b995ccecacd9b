package batch

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/docbatch/backend/internal/logging"
	"github.com/docbatch/backend/internal/render"
	"github.com/docbatch/backend/internal/templates"
)

// TemplateResolver looks up templates by name.
type TemplateResolver interface {
	Resolve(name string) (*templates.Handle, error)
}

// DocumentRenderer renders one document.
type DocumentRenderer interface {
	Render(ctx context.Context, h *templates.Handle, f render.Filler) (*render.Document, error)
}

// Output is one rendered document waiting to be archived.
type Output struct {
	Path string // temp file
	Name string // archive entry name with extension
}

// ChunkWorker renders a chunk of items into temp files.
type ChunkWorker struct {
	resolver TemplateResolver
	renderer DocumentRenderer
	tempDir  string
	logger   *slog.Logger
}

// NewChunkWorker creates a worker writing temp files into tempDir.
func NewChunkWorker(resolver TemplateResolver, renderer DocumentRenderer, tempDir string, logger *slog.Logger) *ChunkWorker {
	if logger == nil {
		logger = logging.Discard()
	}
	return &ChunkWorker{
		resolver: resolver,
		renderer: renderer,
		tempDir:  tempDir,
		logger:   logger.With(slog.String("component", "worker")),
	}
}

// Run renders items in order and returns the documents that succeeded.
// Failed items are logged and skipped. If rendering panics, files already
// written for the chunk are removed before the panic continues.
func (w *ChunkWorker) Run(ctx context.Context, chunk []Item) []Output {
	outputs := make([]Output, 0, len(chunk))
	defer func() {
		if r := recover(); r != nil {
			removeOutputs(outputs)
			panic(r)
		}
	}()
	for _, it := range chunk {
		out, err := w.RenderItem(ctx, it)
		if err != nil {
			w.logger.Warn("document skipped", slog.Any("error", &RecordRenderError{Index: it.Index, Name: it.Name, Err: err}))
			continue
		}
		outputs = append(outputs, out)
	}
	return outputs
}

// RenderItem renders a single item to a temp file.
func (w *ChunkWorker) RenderItem(ctx context.Context, it Item) (Output, error) {
	doc, err := w.Render(ctx, it)
	if err != nil {
		return Output{}, err
	}

	f, err := os.CreateTemp(w.tempDir, "doc-*"+doc.Ext)
	if err != nil {
		return Output{}, fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := f.Write(doc.Data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return Output{}, fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return Output{}, err
	}
	return Output{Path: f.Name(), Name: it.Name + doc.Ext}, nil
}

// Render resolves the item's template and renders it in memory.
func (w *ChunkWorker) Render(ctx context.Context, it Item) (*render.Document, error) {
	h, err := w.resolver.Resolve(it.Template)
	if err != nil {
		return nil, err
	}
	if it.Strict {
		ctx = render.WithRequireTemplate(ctx)
	}
	return w.renderer.Render(ctx, h, it.Filler())
}
