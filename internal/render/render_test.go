package render

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbatch/backend/internal/models"
	"github.com/docbatch/backend/internal/templates"
)

const testDocument = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
	`<w:p><w:pPr><w:jc w:val="left"/></w:pPr><w:r><w:rPr><w:b/></w:rPr><w:t>Caro [NO</w:t></w:r><w:r><w:t>ME]</w:t></w:r></w:p>` +
	`<w:p><w:r><w:t xml:space="preserve">Cidade: [CIDADE] </w:t></w:r></w:p>` +
	`<w:tbl><w:tr><w:tc><w:p><w:r><w:t>[NUMERO]</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>[NUMERO]</w:t></w:r></w:p></w:tc></w:tr></w:tbl>` +
	`<w:p><w:r><w:t>sem marcadores &amp; nada</w:t></w:r></w:p>` +
	`</w:body></w:document>`

const testHeader = `<w:hdr xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:p><w:r><w:t>[NUMERO]</w:t></w:r></w:p></w:hdr>`

func buildDocx(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"[Content_Types].xml": `<Types/>`,
		"word/document.xml":   testDocument,
		"word/header1.xml":    testHeader,
		"word/styles.xml":     `<w:styles/>`,
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func readPart(t *testing.T, docx []byte, name string) string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(docx), int64(len(docx)))
	require.NoError(t, err)
	for _, f := range zr.File {
		if f.Name == name {
			data, err := readZipFile(f)
			require.NoError(t, err)
			return string(data)
		}
	}
	t.Fatalf("part %s not found", name)
	return ""
}

func TestFillDocx_Record(t *testing.T) {
	rec := models.NewRecord([]string{"Nome", "Cidade", "NUMERO"}, []any{"Ana & Rui", "Porto", int64(7)})

	out, err := FillDocx(buildDocx(t), NewRecordFiller(rec))
	require.NoError(t, err)

	text, err := DocxText(out)
	require.NoError(t, err)
	assert.Equal(t, "Caro Ana & Rui\nCidade: Porto \n7\n7\nsem marcadores & nada", text)

	body := readPart(t, out, "word/document.xml")
	assert.Contains(t, body, "Ana &amp; Rui", "values are escaped")
	assert.Contains(t, body, "<w:b/>", "run formatting survives")
	assert.Equal(t, "<w:styles/>", readPart(t, out, "word/styles.xml"))
	assert.Contains(t, readPart(t, out, "word/header1.xml"), ">7<")

	again, err := FillDocx(out, NewRecordFiller(rec))
	require.NoError(t, err)
	againText, err := DocxText(again)
	require.NoError(t, err)
	assert.Equal(t, text, againText)
}

func TestFillDocx_SlotsInDocumentOrder(t *testing.T) {
	f := NewSlotFiller(
		map[string]string{"NOME": "ACME", "CIDADE": "Lisboa"},
		map[string][]string{"NUMERO": {"911", "912"}},
	)

	out, err := FillDocx(buildDocx(t), f)
	require.NoError(t, err)

	text, err := DocxText(out)
	require.NoError(t, err)
	assert.Contains(t, text, "911\n912")
	// the body consumed both slots, the header gets the cleared third one
	assert.NotContains(t, readPart(t, out, "word/header1.xml"), "[NUMERO]")
}

func TestFillParagraphs_TextBox(t *testing.T) {
	raw := `<w:body><w:p/><w:p><w:r><w:t>Outer</w:t></w:r><w:r><w:pict><w:txbxContent>` +
		`<w:p><w:r><w:t>[NOME]</w:t></w:r></w:p>` +
		`</w:txbxContent></w:pict></w:r><w:r><w:t> tail [CIDADE]</w:t></w:r></w:p></w:body>`
	rec := models.NewRecord([]string{"NOME", "CIDADE"}, []any{"Ana", "Porto"})

	out := string(fillParagraphs([]byte(raw), NewRecordFiller(rec)))

	assert.Contains(t, out, `<w:txbxContent><w:p><w:r><w:t xml:space="preserve">Ana</w:t>`, "text box filled in place")
	assert.Contains(t, out, `<w:t xml:space="preserve">Outer tail Porto</w:t>`)
	assert.NotContains(t, out, "OuterAna")
	assert.Contains(t, out, "<w:p/>")

	var lines []string
	for _, locs := range paragraphRuns([]byte(out)) {
		lines = append(lines, paragraphText([]byte(out), locs))
	}
	assert.Equal(t, []string{"Outer tail Porto", "Ana"}, lines)
}

func TestFillDocx_Invalid(t *testing.T) {
	_, err := FillDocx([]byte("not a zip"), NewSlotFiller(nil, nil))
	assert.Error(t, err)
}

func TestFillSVG(t *testing.T) {
	svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg"><text id="[NOME]">[NOME]</text><text><tspan>[CIDADE]</tspan> &amp; co</text></svg>`)
	rec := models.NewRecord([]string{"NOME", "CIDADE"}, []any{"<Ana>", "Porto"})

	out := FillSVG(svg, NewRecordFiller(rec))

	assert.Equal(t,
		`<svg xmlns="http://www.w3.org/2000/svg"><text id="[NOME]">&lt;Ana&gt;</text><text><tspan>Porto</tspan> &amp; co</text></svg>`,
		string(out))
	assert.Equal(t, out, FillSVG(out, NewRecordFiller(rec)))
}

func TestBuiltinRenderer(t *testing.T) {
	r := &BuiltinRenderer{}
	rec := models.NewRecord([]string{"NOME", "CIDADE", "DEPARTAMENTO"}, []any{"Ana", "Évora", "vendas"})

	doc, err := r.Render(context.Background(), templates.Builtin(), NewRecordFiller(rec))
	require.NoError(t, err)

	assert.Equal(t, ".pdf", doc.Ext)
	assert.True(t, bytes.HasPrefix(doc.Data, []byte("%PDF-")))
	assert.Contains(t, string(doc.Data), "(Ana)")
	assert.Contains(t, string(doc.Data), "vendas")
}

type stubRenderer struct {
	name  string
	kind  models.TemplateKind
	err   error
	calls int
}

func (s *stubRenderer) Name() string              { return s.name }
func (s *stubRenderer) Kind() models.TemplateKind { return s.kind }
func (s *stubRenderer) Render(ctx context.Context, h *templates.Handle, f Filler) (*Document, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Document{Data: []byte(s.name + ":" + f.Fill(string(h.Content))), Ext: ".txt"}, nil
}

func TestChain(t *testing.T) {
	svgHandle := &templates.Handle{Name: "t.svg", Kind: models.TemplateKindSVG, Content: []byte("[NOME]")}
	rec := models.NewRecord([]string{"NOME"}, []any{"Ana"})
	boom := errors.New("boom")

	t.Run("primary succeeds", func(t *testing.T) {
		primary := &stubRenderer{name: "svg+pdf", kind: models.TemplateKindSVG}
		builtin := &stubRenderer{name: "builtin", kind: models.TemplateKindBuiltin}
		c := NewChainWith([]Renderer{primary}, nil, builtin, Options{Fallbacks: []string{FallbackBuiltin}}, nil)

		doc, err := c.Render(context.Background(), svgHandle, NewRecordFiller(rec))
		require.NoError(t, err)
		assert.Equal(t, "svg+pdf:Ana", string(doc.Data))
		assert.Equal(t, 0, builtin.calls)
	})

	t.Run("falls back in order", func(t *testing.T) {
		primary := &stubRenderer{name: "svg+pdf", kind: models.TemplateKindSVG, err: ErrBackendUnavailable}
		native := &stubRenderer{name: "svg", kind: models.TemplateKindSVG, err: boom}
		builtin := &stubRenderer{name: "builtin", kind: models.TemplateKindBuiltin}
		c := NewChainWith([]Renderer{primary}, []Renderer{native}, builtin,
			Options{Fallbacks: []string{FallbackNative, FallbackBuiltin}}, nil)

		doc, err := c.Render(context.Background(), svgHandle, NewRecordFiller(rec))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(doc.Data), "builtin:Ana"), "builtin letter gets the same record")
		assert.Equal(t, 1, primary.calls)
		assert.Equal(t, 1, native.calls)
	})

	t.Run("template required returns primary error", func(t *testing.T) {
		primary := &stubRenderer{name: "svg+pdf", kind: models.TemplateKindSVG, err: boom}
		builtin := &stubRenderer{name: "builtin", kind: models.TemplateKindBuiltin}
		c := NewChainWith([]Renderer{primary}, nil, builtin,
			Options{Fallbacks: []string{FallbackBuiltin}, RequireTemplate: true}, nil)

		_, err := c.Render(context.Background(), svgHandle, NewRecordFiller(rec))
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 0, builtin.calls)
	})

	t.Run("template required per call", func(t *testing.T) {
		primary := &stubRenderer{name: "svg+pdf", kind: models.TemplateKindSVG, err: boom}
		builtin := &stubRenderer{name: "builtin", kind: models.TemplateKindBuiltin}
		c := NewChainWith([]Renderer{primary}, nil, builtin, Options{Fallbacks: []string{FallbackBuiltin}}, nil)

		_, err := c.Render(WithRequireTemplate(context.Background()), svgHandle, NewRecordFiller(rec))
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 0, builtin.calls)
	})

	t.Run("all fail", func(t *testing.T) {
		primary := &stubRenderer{name: "svg+pdf", kind: models.TemplateKindSVG, err: boom}
		builtin := &stubRenderer{name: "builtin", kind: models.TemplateKindBuiltin, err: ErrBackendUnavailable}
		c := NewChainWith([]Renderer{primary}, nil, builtin, Options{Fallbacks: []string{FallbackBuiltin}}, nil)

		_, err := c.Render(context.Background(), svgHandle, NewRecordFiller(rec))
		assert.ErrorIs(t, err, boom)
		assert.ErrorIs(t, err, ErrBackendUnavailable)
	})

	t.Run("unknown kind", func(t *testing.T) {
		c := NewChainWith(nil, nil, nil, Options{}, nil)
		_, err := c.Render(context.Background(), svgHandle, NewRecordFiller(rec))
		assert.ErrorIs(t, err, ErrUnsupportedKind)
	})
}

func TestChain_NativeOutput(t *testing.T) {
	c := NewChain(Options{OutputFormat: FormatNative, Timeout: time.Second}, nil)
	h := &templates.Handle{Name: "t.svg", Kind: models.TemplateKindSVG, Content: []byte("<svg><text>[NOME]</text></svg>")}

	doc, err := c.Render(context.Background(), h, NewRecordFiller(models.NewRecord([]string{"NOME"}, []any{"Ana"})))
	require.NoError(t, err)
	assert.Equal(t, ".svg", doc.Ext)
	assert.Equal(t, "<svg><text>Ana</text></svg>", string(doc.Data))
}

func TestExecConverter_MissingBinary(t *testing.T) {
	conv := NewRSVGConverter("definitely-not-installed-converter", t.TempDir())
	assert.False(t, conv.Available())

	_, err := conv.Convert(context.Background(), []byte("<svg/>"), ".svg")
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}
