package render

import (
	"bytes"
	"context"
	"encoding/xml"
	"html"
	"regexp"

	"github.com/docbatch/backend/internal/models"
	"github.com/docbatch/backend/internal/templates"
)

var textNodeRe = regexp.MustCompile(`>([^<]+)<`)

// SVGRenderer fills placeholders in the text nodes of an SVG template.
// Attributes are never touched.
type SVGRenderer struct {
	conv Converter
}

// NewSVGRenderer creates an SVG renderer. A nil converter emits .svg files.
func NewSVGRenderer(conv Converter) *SVGRenderer {
	return &SVGRenderer{conv: conv}
}

func (r *SVGRenderer) Name() string {
	if r.conv == nil {
		return "svg"
	}
	return "svg+" + r.conv.Name()
}

func (r *SVGRenderer) Kind() models.TemplateKind { return models.TemplateKindSVG }

func (r *SVGRenderer) Render(ctx context.Context, h *templates.Handle, f Filler) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := FillSVG(h.Content, f)
	if r.conv == nil {
		return &Document{Data: data, Ext: ".svg"}, nil
	}
	pdf, err := r.conv.Convert(ctx, data, ".svg")
	if err != nil {
		return nil, err
	}
	return &Document{Data: pdf, Ext: ".pdf"}, nil
}

// FillSVG substitutes placeholders in text content, escaping the values.
func FillSVG(content []byte, f Filler) []byte {
	return textNodeRe.ReplaceAllFunc(content, func(m []byte) []byte {
		raw := string(m[1 : len(m)-1])
		text := html.UnescapeString(raw)
		if !HasPlaceholder(text) {
			return m
		}
		filled := f.Fill(text)
		if filled == text {
			return m
		}
		var out bytes.Buffer
		out.WriteByte('>')
		_ = xml.EscapeText(&out, []byte(filled))
		out.WriteByte('<')
		return out.Bytes()
	})
}
