package render

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/docbatch/backend/internal/models"
	"github.com/docbatch/backend/internal/templates"
)

// BuiltinRenderer lays out a plain-text letter as an A4 PDF.
type BuiltinRenderer struct {
	compress bool
}

// NewBuiltinRenderer creates the built-in PDF renderer.
func NewBuiltinRenderer() *BuiltinRenderer {
	return &BuiltinRenderer{compress: true}
}

func (r *BuiltinRenderer) Name() string { return "builtin" }

func (r *BuiltinRenderer) Kind() models.TemplateKind { return models.TemplateKindBuiltin }

func (r *BuiltinRenderer) Render(ctx context.Context, h *templates.Handle, f Filler) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := TextPDF(f.Fill(string(h.Content)), r.compress)
	if err != nil {
		return nil, err
	}
	return &Document{Data: data, Ext: ".pdf"}, nil
}

// TextPDF writes text as a single-column A4 page flow. Blank lines become
// paragraph gaps.
func TextPDF(text string, compress bool) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(compress)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "", 11)

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			pdf.Ln(5)
			continue
		}
		pdf.MultiCell(0, 5.5, tr(line), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("building pdf: %w", err)
	}
	return buf.Bytes(), nil
}
