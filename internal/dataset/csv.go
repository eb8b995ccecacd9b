package dataset

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/marcboeker/go-duckdb"
)

// DuckOptions tunes the in-memory DuckDB instance used for CSV sniffing.
type DuckOptions struct {
	Threads     int
	MemoryLimit string
}

// CSVReader reads delimited text through DuckDB's read_csv_auto, which
// detects the delimiter, quoting and header row. Every column is read as
// text and typed with the same rule as spreadsheet cells.
type CSVReader struct {
	opts DuckOptions
}

// NewCSVReader creates a CSVReader.
func NewCSVReader(opts DuckOptions) *CSVReader {
	if opts.Threads <= 0 {
		opts.Threads = 1
	}
	if opts.MemoryLimit == "" {
		opts.MemoryLimit = "256MB"
	}
	return &CSVReader{opts: opts}
}

func (r *CSVReader) Name() string { return "csv" }

func (r *CSVReader) CanRead(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv":
		return true
	}
	return false
}

func (r *CSVReader) Read(ctx context.Context, path string) (*Dataset, error) {
	connector, err := duckdb.NewConnector("", func(execer driver.ExecerContext) error {
		pragmas := []string{
			fmt.Sprintf("PRAGMA threads=%d", r.opts.Threads),
			fmt.Sprintf("PRAGMA memory_limit='%s'", sqlQuote(r.opts.MemoryLimit)),
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(ctx, pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	defer db.Close()

	query := fmt.Sprintf("SELECT * FROM read_csv_auto('%s', header = true, all_varchar = true)", sqlQuote(path))
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	defer rows.Close()

	header, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	b := newBuilder(header)

	raw := make([]sql.NullString, len(header))
	ptrs := make([]any, len(header))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	cells := make([]string, len(header))

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning csv row: %w", err)
		}
		for i, v := range raw {
			cells[i] = v.String // "" when NULL
		}
		b.addRow(cells)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	return b.dataset(), nil
}

func sqlQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
