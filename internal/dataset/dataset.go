// Package dataset turns uploaded spreadsheets into ordered row records.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docbatch/backend/internal/models"
)

var (
	// ErrEmptyDataset is returned when a file has a header but no data rows.
	ErrEmptyDataset = errors.New("no records found in dataset")
	// ErrUnsupportedFormat is returned when no reader accepts the file.
	ErrUnsupportedFormat = errors.New("unsupported dataset format")
)

// Dataset is the ordered result of reading one file.
type Dataset struct {
	Columns []string
	Records []models.Record
}

// Reader reads one file format.
type Reader interface {
	Name() string
	CanRead(path string) bool
	Read(ctx context.Context, path string) (*Dataset, error)
}

// Registry holds the readers in priority order; the first match wins.
type Registry struct {
	readers []Reader
}

// NewRegistry returns a registry with the given readers.
func NewRegistry(readers ...Reader) *Registry {
	return &Registry{readers: readers}
}

// DefaultRegistry reads xlsx/xlsm with excelize and csv with DuckDB.
func DefaultRegistry(duck DuckOptions) *Registry {
	return NewRegistry(NewXLSXReader(), NewCSVReader(duck))
}

// Supported reports whether some reader accepts the file name.
func (r *Registry) Supported(name string) bool {
	_, err := r.find(name)
	return err == nil
}

func (r *Registry) find(path string) (Reader, error) {
	for _, rd := range r.readers {
		if rd.CanRead(path) {
			return rd, nil
		}
	}
	if strings.EqualFold(filepath.Ext(path), ".xls") {
		return nil, fmt.Errorf("%w: legacy .xls files are not supported, save the sheet as .xlsx", ErrUnsupportedFormat)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
}

// Load reads the file and fails with ErrEmptyDataset when there are no rows.
func (r *Registry) Load(ctx context.Context, path string) (*Dataset, error) {
	rd, err := r.find(path)
	if err != nil {
		return nil, err
	}
	ds, err := rd.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%s reader: %w", rd.Name(), err)
	}
	if len(ds.Records) == 0 {
		return nil, ErrEmptyDataset
	}
	return ds, nil
}

// builder accumulates rows with a shared header.
type builder struct {
	columns []string
	records []models.Record
}

func newBuilder(header []string) *builder {
	cols := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		if n, dup := seen[name]; dup {
			seen[name] = n + 1
			name = fmt.Sprintf("%s.%d", name, n)
		} else {
			seen[name] = 1
		}
		cols[i] = name
	}
	return &builder{columns: cols}
}

// addRow appends a row of raw cell text, skipping rows with no content.
func (b *builder) addRow(cells []string) {
	values := make([]any, len(b.columns))
	empty := true
	for i := range b.columns {
		if i >= len(cells) {
			break
		}
		v := inferValue(cells[i])
		if v != nil {
			empty = false
		}
		values[i] = v
	}
	if empty {
		return
	}
	b.records = append(b.records, models.NewRecord(b.columns, values))
}

func (b *builder) dataset() *Dataset {
	return &Dataset{Columns: b.columns, Records: b.records}
}

// inferValue converts cell text to int64 or float64 only when the number
// prints back to exactly the same text, so codes like "007" stay strings.
func inferValue(raw string) any {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && strconv.FormatInt(n, 10) == s {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && strconv.FormatFloat(f, 'f', -1, 64) == s {
		return f
	}
	return s
}
