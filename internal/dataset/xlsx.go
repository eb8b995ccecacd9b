package dataset

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXReader reads the first sheet of an Office Open XML workbook.
type XLSXReader struct{}

// NewXLSXReader creates an XLSXReader.
func NewXLSXReader() *XLSXReader { return &XLSXReader{} }

func (r *XLSXReader) Name() string { return "xlsx" }

func (r *XLSXReader) CanRead(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return true
	}
	return false
}

func (r *XLSXReader) Read(ctx context.Context, path string) (*Dataset, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}
	defer rows.Close()

	var b *builder
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cells, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		if b == nil {
			if isBlank(cells) {
				continue
			}
			b = newBuilder(cells)
			continue
		}
		b.addRow(cells)
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("reading rows: %w", err)
	}
	if b == nil {
		return &Dataset{}, nil
	}
	return b.dataset(), nil
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
