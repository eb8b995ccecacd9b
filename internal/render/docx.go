package render

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/docbatch/backend/internal/models"
	"github.com/docbatch/backend/internal/templates"
)

var (
	paragraphTagRe = regexp.MustCompile(`<w:p(?:\s[^>]*)?/?>|</w:p>`)
	textRunRe      = regexp.MustCompile(`(?s)<w:t(?:\s[^>]*)?>(.*?)</w:t>`)
)

// DocxRenderer fills a Word document. Placeholders are matched against the
// whole paragraph text, so a key split over several runs is still found.
// A paragraph that changes keeps the formatting of its first run.
type DocxRenderer struct {
	conv Converter // nil keeps the .docx
}

// NewDocxRenderer creates a docx renderer. A nil converter emits .docx files.
func NewDocxRenderer(conv Converter) *DocxRenderer {
	return &DocxRenderer{conv: conv}
}

func (r *DocxRenderer) Name() string {
	if r.conv == nil {
		return "docx"
	}
	return "docx+" + r.conv.Name()
}

func (r *DocxRenderer) Kind() models.TemplateKind { return models.TemplateKindDOCX }

func (r *DocxRenderer) Render(ctx context.Context, h *templates.Handle, f Filler) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := FillDocx(h.Content, f)
	if err != nil {
		return nil, err
	}
	if r.conv == nil {
		return &Document{Data: data, Ext: ".docx"}, nil
	}
	pdf, err := r.conv.Convert(ctx, data, ".docx")
	if err != nil {
		return nil, err
	}
	return &Document{Data: pdf, Ext: ".pdf"}, nil
}

// FillDocx substitutes placeholders in the body, headers and footers of a
// .docx archive. The body is filled first, then headers and footers in name
// order.
func FillDocx(content []byte, f Filler) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("invalid docx: %w", err)
	}

	var parts []*zip.File
	for _, zf := range zr.File {
		if isTextPart(zf.Name) {
			parts = append(parts, zf)
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("invalid docx: word/document.xml missing")
	}
	sort.SliceStable(parts, func(i, j int) bool {
		return partOrder(parts[i].Name) < partOrder(parts[j].Name) ||
			(partOrder(parts[i].Name) == partOrder(parts[j].Name) && parts[i].Name < parts[j].Name)
	})

	filled := make(map[string][]byte, len(parts))
	for _, zf := range parts {
		raw, err := readZipFile(zf)
		if err != nil {
			return nil, err
		}
		out := fillParagraphs(raw, f)
		if !bytes.Equal(out, raw) {
			filled[zf.Name] = out
		}
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, zf := range zr.File {
		data, changed := filled[zf.Name]
		if !changed {
			if err := zw.Copy(zf); err != nil {
				return nil, fmt.Errorf("copying %s: %w", zf.Name, err)
			}
			continue
		}
		hdr := zf.FileHeader
		hdr.Method = zip.Deflate
		w, err := zw.CreateHeader(&hdr)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DocxText returns the paragraph text of the document body, one line per
// paragraph.
func DocxText(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("invalid docx: %w", err)
	}
	for _, zf := range zr.File {
		if zf.Name != "word/document.xml" {
			continue
		}
		raw, err := readZipFile(zf)
		if err != nil {
			return "", err
		}
		var lines []string
		for _, p := range paragraphRuns(raw) {
			lines = append(lines, paragraphText(raw, p))
		}
		return strings.Join(lines, "\n"), nil
	}
	return "", fmt.Errorf("invalid docx: word/document.xml missing")
}

func isTextPart(name string) bool {
	if name == "word/document.xml" {
		return true
	}
	if !strings.HasPrefix(name, "word/") || !strings.HasSuffix(name, ".xml") {
		return false
	}
	base := strings.TrimPrefix(name, "word/")
	return strings.HasPrefix(base, "header") || strings.HasPrefix(base, "footer")
}

func partOrder(name string) int {
	switch {
	case name == "word/document.xml":
		return 0
	case strings.HasPrefix(name, "word/header"):
		return 1
	default:
		return 2
	}
}

func readZipFile(zf *zip.File) ([]byte, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", zf.Name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// paragraphRuns returns the <w:t> runs of each paragraph in document order
// of the paragraph start. Runs of a nested paragraph (text boxes) belong to
// the nested paragraph only.
func paragraphRuns(raw []byte) [][][]int {
	runs := textRunRe.FindAllSubmatchIndex(raw, -1)

	type para struct {
		start int
		runs  [][]int
	}
	var (
		paras []*para
		stack []*para
	)
	ri := 0
	// assign runs before pos to the innermost open paragraph
	flush := func(pos int) {
		for ; ri < len(runs) && runs[ri][0] < pos; ri++ {
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				top.runs = append(top.runs, runs[ri])
			}
		}
	}
	for _, tag := range paragraphTagRe.FindAllIndex(raw, -1) {
		flush(tag[0])
		t := raw[tag[0]:tag[1]]
		switch {
		case bytes.HasPrefix(t, []byte("</")):
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case bytes.HasSuffix(t, []byte("/>")):
			// empty paragraph
		default:
			p := &para{start: tag[0]}
			paras = append(paras, p)
			stack = append(stack, p)
		}
	}

	out := make([][][]int, 0, len(paras))
	for _, p := range paras {
		if len(p.runs) > 0 {
			out = append(out, p.runs)
		}
	}
	return out
}

type runEdit struct {
	start, end int
	text       []byte
}

func fillParagraphs(raw []byte, f Filler) []byte {
	var edits []runEdit
	for _, locs := range paragraphRuns(raw) {
		edits = append(edits, fillParagraph(raw, locs, f)...)
	}
	if len(edits) == 0 {
		return raw
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].start < edits[j].start })

	var out bytes.Buffer
	last := 0
	for _, e := range edits {
		out.Write(raw[last:e.start])
		out.Write(e.text)
		last = e.end
	}
	out.Write(raw[last:])
	return out.Bytes()
}

// fillParagraph returns the run replacements for one paragraph, or nil when
// nothing changes.
func fillParagraph(raw []byte, locs [][]int, f Filler) []runEdit {
	text := paragraphText(raw, locs)
	if !HasPlaceholder(text) {
		return nil
	}
	filled := f.Fill(text)
	if filled == text {
		return nil
	}

	edits := make([]runEdit, len(locs))
	for i, loc := range locs {
		var b bytes.Buffer
		if i == 0 {
			b.WriteString(`<w:t xml:space="preserve">`)
			_ = xml.EscapeText(&b, []byte(filled))
		} else {
			b.WriteString(`<w:t>`)
		}
		b.WriteString(`</w:t>`)
		edits[i] = runEdit{start: loc[0], end: loc[1], text: b.Bytes()}
	}
	return edits
}

func paragraphText(p []byte, locs [][]int) string {
	var sb strings.Builder
	for _, loc := range locs {
		sb.WriteString(html.UnescapeString(string(p[loc[2]:loc[3]])))
	}
	return sb.String()
}
