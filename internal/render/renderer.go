// Package render fills templates with record values and produces documents.
package render

import (
	"context"
	"errors"

	"github.com/docbatch/backend/internal/models"
	"github.com/docbatch/backend/internal/templates"
)

var (
	// ErrBackendUnavailable is returned when an external converter is not installed.
	ErrBackendUnavailable = errors.New("render backend unavailable")
	// ErrUnsupportedKind is returned when no renderer handles a template kind.
	ErrUnsupportedKind = errors.New("unsupported template kind")
)

// Document is one rendered output.
type Document struct {
	Data []byte
	Ext  string // with leading dot
}

// Renderer produces a document from a template handle and a filler.
type Renderer interface {
	Name() string
	Kind() models.TemplateKind
	Render(ctx context.Context, h *templates.Handle, f Filler) (*Document, error)
}

// Output formats.
const (
	FormatPDF    = "pdf"
	FormatNative = "native"
)
